package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultBaudRate matches the usual Arduino sketch default.
	DefaultBaudRate = 9600
	// DefaultReadTimeout bounds a single port read, and with it how long
	// cleanup waits for the byte pipe to notice cancellation.
	DefaultReadTimeout = 200 * time.Millisecond
)

// Status is a point-in-time view of the link for status endpoints.
type Status struct {
	State       ConnectionState `json:"state"`
	Device      string          `json:"device,omitempty"`
	BaudRate    int             `json:"baudRate"`
	SessionID   string          `json:"sessionId,omitempty"`
	ConnectedAt *time.Time      `json:"connectedAt,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
}

// Manager owns the single hardware link.
//
// Connect, Disconnect and cleanups scheduled after a failed read are
// serialised, so a new session never starts before the previous one has been
// torn down completely. Callbacks run on the session's read goroutine: they
// must not call Connect or Disconnect synchronously, since both wait for that
// goroutine to exit.
type Manager struct {
	acq         Acquirer
	log         *zap.Logger
	readTimeout time.Duration

	opMu     sync.Mutex
	sess     *session // guarded by opMu
	state    atomic.Int32
	cleaning atomic.Bool

	// observeState, when set, sees every state transition. Tests only.
	observeState func(ConnectionState)

	mu        sync.RWMutex
	baudRate  int
	current   *session
	lastError string
}

// Option configures a Manager.
type Option func(*Manager)

// WithReadTimeout sets the per-read timeout applied to every opened port.
func WithReadTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// WithBaudRate sets the initial configured baud rate.
func WithBaudRate(rate int) Option {
	return func(m *Manager) {
		if rate > 0 {
			m.baudRate = rate
		}
	}
}

// NewManager creates an idle manager that takes devices from acq.
func NewManager(acq Acquirer, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		acq:         acq,
		log:         logger.With(zap.String("component", "link")),
		readTimeout: DefaultReadTimeout,
		baudRate:    DefaultBaudRate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() ConnectionState {
	return ConnectionState(m.state.Load())
}

func (m *Manager) setState(s ConnectionState) {
	m.state.Store(int32(s))
	if m.observeState != nil {
		m.observeState(s)
	}
}

// BaudRate returns the configured baud rate used by callers that do not
// pick one explicitly.
func (m *Manager) BaudRate() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.baudRate
}

// SetBaudRate changes the configured baud rate. It is rejected while a
// session is connecting or open.
func (m *Manager) SetBaudRate(rate int) error {
	if rate <= 0 {
		return ErrInvalidBaudRate
	}
	switch m.State() {
	case Connecting, Open:
		return ErrBaudRateLocked
	}
	m.mu.Lock()
	m.baudRate = rate
	m.mu.Unlock()
	return nil
}

// Status reports the link state without waiting for in-flight operations.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{
		State:     m.State(),
		BaudRate:  m.baudRate,
		LastError: m.lastError,
	}
	if s := m.current; s != nil {
		openedAt := s.openedAt
		st.Device = s.device
		st.BaudRate = s.baudRate
		st.SessionID = s.id
		st.ConnectedAt = &openedAt
	}
	return st
}

// Connect requests a device, opens it at baudRate and starts reading.
//
// It returns (false, nil) when no device was selected, and a
// *ConnectionError when the device could not be acquired or opened. On
// success updates are passed to onUpdate in the order their lines arrived;
// if the session later ends for any reason other than Disconnect,
// onDisconnect is called exactly once, with an empty message for a generic
// disconnect or BaudMismatchMessage.
func (m *Manager) Connect(ctx context.Context, onUpdate func(HardwareUpdate), onDisconnect func(message string), baudRate int) (bool, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.sess != nil || m.State() != Idle {
		m.log.Warn("Connection state exists, forcing cleanup before reconnecting",
			zap.Stringer("state", m.State()),
		)
		m.cleanup()
	}

	m.setState(Connecting)

	dev, err := m.acq.Request(ctx)
	if err != nil {
		if isSelectionCancelled(err) {
			m.log.Info("Device selection cancelled", zap.Error(err))
			m.cleanup()
			return false, nil
		}
		m.log.Error("Failed to acquire device", zap.Error(err))
		m.cleanup()
		return false, m.connectFailed(&ConnectionError{Err: fmt.Errorf("request device: %w", err)})
	}

	log := m.log.With(zap.String("device", dev.Name()), zap.Int("baud_rate", baudRate))

	port, err := dev.Open(baudRate)
	if err != nil {
		log.Error("Failed to open device", zap.Error(err))
		m.cleanup()
		return false, m.connectFailed(newConnectionError(dev.Name(), err))
	}
	if err := port.SetReadTimeout(m.readTimeout); err != nil {
		log.Error("Failed to set read timeout", zap.Error(err))
		if cerr := port.Close(); cerr != nil {
			log.Warn("Failed to close device after setup error", zap.Error(cerr))
		}
		m.cleanup()
		return false, m.connectFailed(newConnectionError(dev.Name(), err))
	}

	if onUpdate == nil {
		onUpdate = func(HardwareUpdate) {}
	}

	id := uuid.NewString()
	s := newSession(id, dev.Name(), baudRate, port, log.With(zap.String("session_id", id)))
	s.onUpdate = onUpdate
	s.setDisconnect(onDisconnect)
	s.ended = m.sessionEnded

	m.sess = s
	m.mu.Lock()
	m.current = s
	m.lastError = ""
	m.mu.Unlock()
	m.setState(Open)

	s.start()
	s.log.Info("Link connected")
	return true, nil
}

// Disconnect tears down the current session, if any, and returns once
// cleanup has finished. It is safe to call at any time.
func (m *Manager) Disconnect() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.cleanup()
}

func (m *Manager) connectFailed(err *ConnectionError) error {
	m.mu.Lock()
	m.lastError = err.Err.Error()
	m.mu.Unlock()
	return err
}

// sessionEnded runs on the read goroutine after an unexpected failure has
// been reported to the consumer.
func (m *Manager) sessionEnded(s *session, message string) {
	if message == "" {
		message = DefaultDisconnectMessage
	}
	m.mu.Lock()
	m.lastError = message
	m.mu.Unlock()

	go m.teardown(s)
}

// teardown cleans up s unless it has already been replaced or removed.
func (m *Manager) teardown(s *session) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.sess != s {
		return
	}
	m.cleanup()
}

// cleanup releases everything the current session holds. The caller must
// hold opMu. Each step tolerates its own failure; the state always ends up
// Idle.
func (m *Manager) cleanup() {
	if !m.cleaning.CompareAndSwap(false, true) {
		m.log.Debug("Cleanup already in progress")
		return
	}
	defer m.cleaning.Store(false)

	s := m.sess
	if s == nil {
		// Idle is only ever reached through Closing.
		if m.State() != Idle {
			m.setState(Closing)
			m.setState(Idle)
		}
		return
	}
	m.setState(Closing)

	// Stop the loop at its next check, then unblock it if it is parked
	// waiting for a chunk. Order matters: closing a port that is still being
	// read is not safe on every platform.
	s.keepReading.Store(false)
	s.cancelRead()
	<-s.loopDone

	// The pipe notices the cancellation when its current read returns.
	<-s.pipeDone
	if err := s.pipeErr; err != nil && !errors.Is(err, io.EOF) {
		s.log.Debug("Byte pipe ended with error", zap.Error(err))
	}

	if err := s.port.Close(); err != nil {
		if isAlreadyClosed(err) {
			s.log.Debug("Port was already closed", zap.Error(err))
		} else {
			s.log.Warn("Failed to close port, it might have been disconnected already", zap.Error(err))
		}
	}

	s.setDisconnect(nil)
	m.sess = nil
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.setState(Idle)

	s.log.Info("Link closed")
}
