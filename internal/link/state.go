package link

import "fmt"

// ConnectionState is the lifecycle position of a Manager.
type ConnectionState int32

const (
	Idle ConnectionState = iota
	Connecting
	Open
	Closing
)

func (s ConnectionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// MarshalText renders the state as its lowercase name for JSON payloads.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ConnectionState) UnmarshalText(b []byte) error {
	for _, st := range []ConnectionState{Idle, Connecting, Open, Closing} {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("link: unknown connection state %q", b)
}
