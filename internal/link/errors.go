package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strings"
	"syscall"

	"go.bug.st/serial"
)

var (
	// ErrNoDeviceSelected means device selection was declined or found
	// nothing to pick. Connect reports it as (false, nil).
	ErrNoDeviceSelected = errors.New("link: no device selected")

	// ErrBaudRateLocked is returned when the baud rate is changed while a
	// session is connecting or open.
	ErrBaudRateLocked = errors.New("link: baud rate cannot change while connected")

	// ErrInvalidBaudRate is returned for a baud rate of zero or less.
	ErrInvalidBaudRate = errors.New("link: baud rate must be positive")

	// ErrFraming is the read error of a link running at the wrong baud rate.
	ErrFraming = errors.New("link: framing error")

	// ErrPortClosed is the read error of a port that has been closed.
	ErrPortClosed = errors.New("link: port closed")
)

const connectFailureMessage = `Could not connect to the hardware.

This is often because:
- The device is in use by another program (like the Arduino IDE's Serial Monitor).
- The device was disconnected during the connection attempt.
- There's a driver issue with your device.

Please close any other programs using the port, check your connection, and try again.`

// BaudMismatchMessage is sent to onDisconnect when a read fails with a
// framing, parity, overrun or break condition.
const BaudMismatchMessage = "A hardware communication error occurred (Framing Error). " +
	"This usually means the selected baud rate is incorrect. " +
	"Please select the correct baud rate for your device and try connecting again."

// DefaultDisconnectMessage is what consumers show when onDisconnect is
// called with an empty message.
const DefaultDisconnectMessage = "Hardware disconnected unexpectedly. Please check the connection and reconnect."

// ConnectionError is returned by Connect when a device could not be
// acquired or opened.
type ConnectionError struct {
	Device string
	Err    error
}

func (e *ConnectionError) Error() string {
	var b strings.Builder
	b.WriteString(connectFailureMessage)
	if hint := e.Hint(); hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	if e.Err != nil {
		b.WriteString("\n\n(")
		if e.Device != "" {
			b.WriteString(e.Device)
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
		b.WriteString(")")
	}
	return b.String()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

const (
	hintBusy       = "The port is busy: another program has it open."
	hintNotFound   = "The port was not found: check the cable and that the device is plugged in."
	hintPermission = "Permission denied: make sure your user may access serial devices (e.g. the dialout group)."
	hintSpeed      = "The driver rejected the baud rate."
)

// Hint returns a cause-specific line when the open failure is recognisable.
// go.bug.st/serial only wraps some open errors in a PortError; the rest
// arrive as plain OS errors.
func (e *ConnectionError) Hint() string {
	var pe *serial.PortError
	if errors.As(e.Err, &pe) {
		switch pe.Code() {
		case serial.PortBusy:
			return hintBusy
		case serial.PortNotFound:
			return hintNotFound
		case serial.PermissionDenied:
			return hintPermission
		case serial.InvalidSpeed:
			return hintSpeed
		}
	}
	switch {
	case e.Err == nil:
		return ""
	case errors.Is(e.Err, fs.ErrNotExist):
		return hintNotFound
	case errors.Is(e.Err, fs.ErrPermission):
		return hintPermission
	case errors.Is(e.Err, syscall.EBUSY):
		return hintBusy
	}
	return ""
}

// isFramingError reports whether a read error looks like a baud mismatch.
func isFramingError(err error) bool {
	if errors.Is(err, ErrFraming) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{"framing", "parity", "overrun", "break"} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// disconnectMessage classifies an unexpected read failure. An empty result
// means a generic unexpected disconnect.
func disconnectMessage(err error) string {
	if err == nil || errors.Is(err, io.EOF) {
		return ""
	}
	if isFramingError(err) {
		return BaudMismatchMessage
	}
	return ""
}

// isAlreadyClosed reports whether a Close error only says the handle was
// already released.
func isAlreadyClosed(err error) bool {
	if errors.Is(err, ErrPortClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var pe *serial.PortError
	return errors.As(err, &pe) && pe.Code() == serial.PortClosed
}

// isSelectionCancelled reports whether an acquisition error means the user
// declined to pick a device.
func isSelectionCancelled(err error) bool {
	return errors.Is(err, ErrNoDeviceSelected) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func newConnectionError(device string, err error) *ConnectionError {
	return &ConnectionError{Device: device, Err: fmt.Errorf("open: %w", err)}
}
