package link

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// DemoBaudRate is the rate the simulated firmware talks at. Opening the
// demo device at any other rate produces a framing error on the first read.
const DemoBaudRate = 9600

// DemoConfig tunes the simulated firmware.
type DemoConfig struct {
	Lights        int
	Interval      time.Duration // time between faults
	FaultDuration time.Duration // time until a fault clears
}

// DemoAcquirer hands out a simulated light controller for development and
// testing without hardware.
type DemoAcquirer struct {
	Config DemoConfig
}

func NewDemoAcquirer(cfg DemoConfig) *DemoAcquirer {
	if cfg.Lights <= 0 {
		cfg.Lights = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 8 * time.Second
	}
	if cfg.FaultDuration <= 0 {
		cfg.FaultDuration = 3 * time.Second
	}
	return &DemoAcquirer{Config: cfg}
}

func (a *DemoAcquirer) Request(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &demoDevice{cfg: a.Config}, nil
}

type demoDevice struct {
	cfg DemoConfig
}

func (d *demoDevice) Name() string { return "demo" }

func (d *demoDevice) Open(baudRate int) (Port, error) {
	now := time.Now()
	p := &demoPort{
		cfg:       d.cfg,
		mismatch:  baudRate != DemoBaudRate,
		faulted:   make(map[int]time.Time),
		nextFault: now.Add(d.cfg.Interval),
		closed:    make(chan struct{}),
		timeout:   DefaultReadTimeout,
		rng:       rand.New(rand.NewSource(now.UnixNano())),
	}
	p.emit("# light controller v1.2 ready")
	return p, nil
}

// demoPort emits protocol lines on a schedule and hands them out in small
// random fragments, the way a USB serial adapter delivers them.
type demoPort struct {
	mu        sync.Mutex
	cfg       DemoConfig
	mismatch  bool
	pending   []byte
	faulted   map[int]time.Time // light id -> clear time
	nextFault time.Time
	timeout   time.Duration
	rng       *rand.Rand

	closeOnce sync.Once
	closed    chan struct{}
}

var (
	faultPhrases = []string{"light %d fault", "FAULT detected on light %d", "Light %d: FAULT"}
	clearPhrases = []string{"light %d clear", "Light %d: OK", "clear light %d", "ok - light %d restored"}
)

func (p *demoPort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = t
	return nil
}

func (p *demoPort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	default:
	}

	p.mu.Lock()
	if p.mismatch {
		p.mu.Unlock()
		return 0, fmt.Errorf("demo: %w (line speed is %d baud)", ErrFraming, DemoBaudRate)
	}
	if n := p.fragment(b); n > 0 {
		p.mu.Unlock()
		return n, nil
	}
	wait := time.Until(p.nextEvent())
	if wait > p.timeout {
		wait = p.timeout
	}
	p.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-p.closed:
			return 0, ErrPortClosed
		case <-t.C:
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.tick(time.Now())
	return p.fragment(b), nil
}

func (p *demoPort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// fragment copies up to 8 pending bytes into b.
func (p *demoPort) fragment(b []byte) int {
	if len(p.pending) == 0 {
		return 0
	}
	n := 1 + p.rng.Intn(8)
	if n > len(p.pending) {
		n = len(p.pending)
	}
	n = copy(b, p.pending[:n])
	p.pending = p.pending[n:]
	return n
}

func (p *demoPort) nextEvent() time.Time {
	next := p.nextFault
	for _, at := range p.faulted {
		if at.Before(next) {
			next = at
		}
	}
	return next
}

// tick generates every line that is due at now.
func (p *demoPort) tick(now time.Time) {
	for id, at := range p.faulted {
		if !now.Before(at) {
			delete(p.faulted, id)
			p.emit(fmt.Sprintf(clearPhrases[p.rng.Intn(len(clearPhrases))], id))
		}
	}

	if now.Before(p.nextFault) {
		return
	}
	p.nextFault = now.Add(p.cfg.Interval)

	var healthy []int
	for id := 1; id <= p.cfg.Lights; id++ {
		if _, down := p.faulted[id]; !down {
			healthy = append(healthy, id)
		}
	}
	if len(healthy) == 0 {
		return
	}
	if p.rng.Intn(4) == 0 {
		p.emit(fmt.Sprintf("# uptime %ds", p.rng.Intn(100000)))
	}
	id := healthy[p.rng.Intn(len(healthy))]
	p.faulted[id] = now.Add(p.cfg.FaultDuration)
	p.emit(fmt.Sprintf(faultPhrases[p.rng.Intn(len(faultPhrases))], id))
}

func (p *demoPort) emit(line string) {
	p.pending = append(p.pending, line...)
	p.pending = append(p.pending, '\r', '\n')
}
