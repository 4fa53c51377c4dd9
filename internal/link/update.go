package link

import "fmt"

// LightState is the reported condition of a single status light.
type LightState string

const (
	LightOK    LightState = "OK"
	LightFault LightState = "FAULT"
)

// HardwareUpdate is one status report decoded from the device.
type HardwareUpdate struct {
	LightID int        `json:"lightId"`
	State   LightState `json:"state"`
}

func (u HardwareUpdate) String() string {
	return fmt.Sprintf("light %d %s", u.LightID, u.State)
}
