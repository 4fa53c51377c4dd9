package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line string
		want HardwareUpdate
		ok   bool
	}{
		{"light 2 fault", HardwareUpdate{2, LightFault}, true},
		{"light 1 ok", HardwareUpdate{1, LightOK}, true},
		{"light 7 clear", HardwareUpdate{7, LightOK}, true},
		{"fault detected on light 2", HardwareUpdate{2, LightFault}, true},
		{"LIGHT 3: CLEAR", HardwareUpdate{3, LightOK}, true},
		{"Light12: cleared", HardwareUpdate{12, LightOK}, true},
		{"light\t5   FAULT!!", HardwareUpdate{5, LightFault}, true},
		{"ok - light 4 restored", HardwareUpdate{4, LightOK}, true},
		{"the light 5 has a fault", HardwareUpdate{5, LightFault}, true},
		{"light 007 fault", HardwareUpdate{7, LightFault}, true},
		// the last keyword after the light wins
		{"light 1 ok, was fault", HardwareUpdate{1, LightFault}, true},
		{"light 1 fault light 2 ok", HardwareUpdate{1, LightOK}, true},
		// the last light after the keyword wins
		{"fault on light 2, light 3", HardwareUpdate{3, LightFault}, true},

		{"", HardwareUpdate{}, false},
		{"light fault", HardwareUpdate{}, false},
		{"status ok", HardwareUpdate{}, false},
		{"light 3", HardwareUpdate{}, false},
		{"lights 2 fault", HardwareUpdate{}, false},
		{"light 0 fault", HardwareUpdate{}, false},
		{"light 99999999999999999999 fault", HardwareUpdate{}, false},
		{"# uptime 1234s", HardwareUpdate{}, false},
		{"l i g h t 1 fault", HardwareUpdate{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineKeepsNonASCII(t *testing.T) {
	got, ok := ParseLine("Lämpe light 9 FAULT ✗")
	assert.True(t, ok)
	assert.Equal(t, HardwareUpdate{LightID: 9, State: LightFault}, got)
}
