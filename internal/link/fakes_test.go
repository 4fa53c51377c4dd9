package link

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// recorder collects lifecycle events across fakes in the order they happen.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type readStep struct {
	data []byte
	err  error
}

// fakePort behaves like a serial port with a read timeout: Read returns
// (0, nil) when nothing arrives in time.
type fakePort struct {
	name string
	rec  *recorder

	steps     chan readStep
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error

	mu      sync.Mutex
	timeout time.Duration

	closeCount      atomic.Int32
	readsAfterClose atomic.Int32
}

func newFakePort(name string, rec *recorder) *fakePort {
	return &fakePort{
		name:    name,
		rec:     rec,
		steps:   make(chan readStep),
		closed:  make(chan struct{}),
		timeout: 10 * time.Millisecond,
	}
}

func (p *fakePort) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	p.timeout = t
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case <-p.closed:
		p.readsAfterClose.Inc()
		return 0, ErrPortClosed
	default:
	}

	p.mu.Lock()
	timeout := p.timeout
	p.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-p.closed:
		return 0, ErrPortClosed
	case step := <-p.steps:
		if step.err != nil {
			return 0, step.err
		}
		return copy(b, step.data), nil
	case <-t.C:
		return 0, nil
	}
}

func (p *fakePort) Close() error {
	p.closeCount.Inc()
	p.rec.add("close:" + p.name)
	p.closeOnce.Do(func() { close(p.closed) })
	return p.closeErr
}

// send blocks until the byte pipe has read s.
func (p *fakePort) send(s string) {
	p.steps <- readStep{data: []byte(s)}
}

func (p *fakePort) fail(err error) {
	p.steps <- readStep{err: err}
}

type fakeDevice struct {
	name    string
	port    *fakePort
	openErr error
	rec     *recorder

	mu    sync.Mutex
	bauds []int
}

func (d *fakeDevice) Name() string { return d.name }

func (d *fakeDevice) Open(baudRate int) (Port, error) {
	d.mu.Lock()
	d.bauds = append(d.bauds, baudRate)
	d.mu.Unlock()
	d.rec.add("open:" + d.name)
	if d.openErr != nil {
		return nil, d.openErr
	}
	return d.port, nil
}

// fakeAcquirer hands out devices in order. With block set it waits for the
// context instead, like a selection dialog nobody answers.
type fakeAcquirer struct {
	mu      sync.Mutex
	devices []Device
	err     error
	block   bool
}

func (a *fakeAcquirer) Request(ctx context.Context) (Device, error) {
	if a.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	if len(a.devices) == 0 {
		return nil, ErrNoDeviceSelected
	}
	d := a.devices[0]
	a.devices = a.devices[1:]
	return d, nil
}
