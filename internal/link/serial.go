package link

import (
	"context"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// SerialAcquirer selects a serial port by path. An empty path or "auto"
// picks the first port the system reports.
type SerialAcquirer struct {
	PortPath string
}

// serialDevice is a port chosen by SerialAcquirer, opened on demand.
type serialDevice struct {
	path string
}

// listPorts is replaced in tests.
var listPorts = serial.GetPortsList

func (a *SerialAcquirer) Request(ctx context.Context) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(a.PortPath)
	if path == "" || strings.EqualFold(path, "auto") {
		ports, err := listPorts()
		if err != nil {
			return nil, fmt.Errorf("list serial ports: %w", err)
		}
		if len(ports) == 0 {
			return nil, ErrNoDeviceSelected
		}
		path = ports[0]
	}
	return &serialDevice{path: path}, nil
}

func (d *serialDevice) Name() string { return d.path }

func (d *serialDevice) Open(baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(d.path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.path, err)
	}
	return port, nil
}
