package link

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestNewDemoAcquirerDefaults(t *testing.T) {
	a := NewDemoAcquirer(DemoConfig{})
	assert.Equal(t, DemoConfig{Lights: 3, Interval: 8 * time.Second, FaultDuration: 3 * time.Second}, a.Config)
}

func TestDemoDeviceFaultsAndClears(t *testing.T) {
	acq := NewDemoAcquirer(DemoConfig{Lights: 2, Interval: 20 * time.Millisecond, FaultDuration: 30 * time.Millisecond})
	m := NewManager(acq, zaptest.NewLogger(t), WithReadTimeout(10*time.Millisecond))
	t.Cleanup(m.Disconnect)
	c := newConsumer()

	ok, err := m.Connect(context.Background(), c.onUpdate, c.onDisconnect, DemoBaudRate)
	require.NoError(t, err)
	require.True(t, ok)

	seen := map[LightState]bool{}
	deadline := time.After(waitFor)
	for !seen[LightFault] || !seen[LightOK] {
		select {
		case u := <-c.updates:
			assert.GreaterOrEqual(t, u.LightID, 1)
			assert.LessOrEqual(t, u.LightID, 2)
			seen[u.State] = true
		case <-deadline:
			t.Fatalf("demo device did not fault and clear, saw %v", seen)
		}
	}

	m.Disconnect()
	assert.Equal(t, Idle, m.State())
	assert.Zero(t, c.disconnects.Load())
}

func TestDemoDeviceWrongBaudRate(t *testing.T) {
	m := NewManager(NewDemoAcquirer(DemoConfig{}), zaptest.NewLogger(t), WithReadTimeout(10*time.Millisecond))
	t.Cleanup(m.Disconnect)
	c := newConsumer()

	ok, err := m.Connect(context.Background(), c.onUpdate, c.onDisconnect, 115200)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, BaudMismatchMessage, c.nextMessage(t))
	require.Eventually(t, func() bool { return m.State() == Idle }, waitFor, 5*time.Millisecond)
}

func TestDemoPortReadAfterClose(t *testing.T) {
	dev, err := NewDemoAcquirer(DemoConfig{}).Request(context.Background())
	require.NoError(t, err)
	port, err := dev.Open(DemoBaudRate)
	require.NoError(t, err)

	require.NoError(t, port.Close())
	require.NoError(t, port.Close())

	_, err = port.Read(make([]byte, 8))
	assert.ErrorIs(t, err, ErrPortClosed)
}
