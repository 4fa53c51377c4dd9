package link

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const readBufferSize = 256

// readResult is one step of the byte pipe: a chunk or the error that ended
// the stream.
type readResult struct {
	data []byte
	err  error
}

// session is everything that lives exactly as long as one open port: the
// handle, the byte pipe feeding the read loop, the loop itself and the
// callbacks registered by Connect. The manager owns it; both goroutines only
// borrow the port and read the keepReading flag.
type session struct {
	id       string
	device   string
	baudRate int
	openedAt time.Time
	port     Port
	log      *zap.Logger

	keepReading atomic.Bool

	cancelOnce sync.Once
	cancel     chan struct{} // closed to unblock the read loop and stop the pipe
	chunks     chan readResult
	pipeDone   chan struct{}
	loopDone   chan struct{}
	pipeErr    error // set by the pipe before pipeDone is closed

	onUpdate func(HardwareUpdate)

	mu           sync.Mutex
	onDisconnect func(message string)

	// ended is called from the read loop after an unexpected failure has
	// been reported. The manager uses it to schedule cleanup.
	ended func(s *session, message string)
}

func newSession(id, device string, baudRate int, port Port, log *zap.Logger) *session {
	return &session{
		id:       id,
		device:   device,
		baudRate: baudRate,
		openedAt: time.Now(),
		port:     port,
		log:      log,
		cancel:   make(chan struct{}),
		chunks:   make(chan readResult),
		pipeDone: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
}

// start launches the byte pipe and the read loop.
func (s *session) start() {
	s.keepReading.Store(true)
	go s.pipe()
	go s.readLoop()
}

// pipe moves bytes from the port to the read loop until the stream fails
// or the session is cancelled. Reads return at least once per read timeout,
// which is when a pending cancellation is noticed.
func (s *session) pipe() {
	defer close(s.pipeDone)

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-s.cancel:
			return
		default:
		}

		n, err := s.port.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.deliver(readResult{data: chunk}) {
				return
			}
		}
		if err != nil {
			s.pipeErr = err
			s.deliver(readResult{err: err})
			return
		}
	}
}

func (s *session) deliver(r readResult) bool {
	select {
	case s.chunks <- r:
		return true
	case <-s.cancel:
		return false
	}
}

// readLoop decodes lines and dispatches updates in wire order. It never
// tears anything down itself.
func (s *session) readLoop() {
	defer close(s.loopDone)

	var dec LineDecoder
	for s.keepReading.Load() {
		var res readResult
		select {
		case <-s.cancel:
			s.log.Debug("Read cancelled", zap.Int("discarded_bytes", dec.Buffered()))
			return
		case res = <-s.chunks:
		}

		if res.err != nil {
			s.readFailed(res.err)
			return
		}

		dec.Write(res.data)
		for s.keepReading.Load() {
			line, ok := dec.Next()
			if !ok {
				break
			}
			s.handleLine(line)
		}
	}
}

func (s *session) handleLine(raw string) {
	line := strings.TrimSpace(raw)
	if line == "" {
		return
	}
	update, ok := ParseLine(line)
	if !ok {
		s.log.Debug("Ignoring unparseable line", zap.String("line", line))
		return
	}
	s.onUpdate(update)
}

// readFailed handles the end of the stream. With keepReading cleared the
// error is a by-product of cleanup and is dropped.
func (s *session) readFailed(err error) {
	if !s.keepReading.Load() {
		s.log.Debug("Read ended during disconnect", zap.Error(err))
		return
	}

	message := disconnectMessage(err)
	if message == BaudMismatchMessage {
		s.log.Warn("Serial read failed, baud rate mismatch likely", zap.Error(err))
	} else {
		s.log.Warn("Serial read failed, unexpected disconnect", zap.Error(err))
	}

	if cb := s.takeDisconnect(); cb != nil {
		cb(message)
	}
	if s.ended != nil {
		s.ended(s, message)
	}
}

// cancelRead unblocks the read loop and stops the pipe at its next check.
func (s *session) cancelRead() {
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *session) setDisconnect(cb func(message string)) {
	s.mu.Lock()
	s.onDisconnect = cb
	s.mu.Unlock()
}

// takeDisconnect returns the disconnect callback and clears it, so it fires
// at most once.
func (s *session) takeDisconnect() func(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb := s.onDisconnect
	s.onDisconnect = nil
	return cb
}
