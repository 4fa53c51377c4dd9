package link

import (
	"context"
	"io"
	"time"
)

// Port is an open device handle. Read must honour the timeout set through
// SetReadTimeout by returning (0, nil) when it elapses, which is what
// go.bug.st/serial ports do; the session relies on this to notice
// cancellation without closing a port that is still being read.
type Port interface {
	io.Reader
	io.Closer
	SetReadTimeout(t time.Duration) error
}

// Device is a selected but not yet opened device.
type Device interface {
	// Name identifies the device in logs and status output.
	Name() string
	// Open opens the device at the given baud rate.
	Open(baudRate int) (Port, error)
}

// Acquirer hands out the device a session should use. It returns
// ErrNoDeviceSelected when no device was chosen; a cancelled ctx is treated
// the same way.
type Acquirer interface {
	Request(ctx context.Context) (Device, error)
}
