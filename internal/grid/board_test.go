package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/gridlink/internal/link"
)

func fault(id int) link.HardwareUpdate { return link.HardwareUpdate{LightID: id, State: link.LightFault} }
func cleared(id int) link.HardwareUpdate { return link.HardwareUpdate{LightID: id, State: link.LightOK} }

func TestNewBoardDefaults(t *testing.T) {
	b := NewBoard(0, 0)

	assert.Equal(t, []Light{
		{ID: 1, State: link.LightOK},
		{ID: 2, State: link.LightOK},
		{ID: 3, State: link.LightOK},
	}, b.Lights())
	assert.Empty(t, b.Events())
	assert.Equal(t, Counts{}, b.Counts())
}

func TestApplyRecordsStateChangesOnly(t *testing.T) {
	b := NewBoard(3, 10)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return at }

	_, ok := b.Apply(cleared(1))
	assert.False(t, ok, "OK over the default OK is not an event")

	ev, ok := b.Apply(fault(2))
	require.True(t, ok)
	assert.Equal(t, EventFault, ev.Type)
	assert.Equal(t, "Light 2 is FAULTING", ev.Message)
	assert.Equal(t, 2, ev.LightID)
	assert.Equal(t, at, ev.Timestamp)
	assert.NotEmpty(t, ev.ID)

	_, ok = b.Apply(fault(2))
	assert.False(t, ok, "repeated fault")

	ev, ok = b.Apply(cleared(2))
	require.True(t, ok)
	assert.Equal(t, EventClear, ev.Type)
	assert.Equal(t, "Light 2 fault CLEARED", ev.Message)

	events := b.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventClear, events[0].Type, "newest first")
	assert.Equal(t, EventFault, events[1].Type)
	assert.Equal(t, Counts{Faults: 1, Clears: 1}, b.Counts())
}

func TestApplyCapsHistory(t *testing.T) {
	b := NewBoard(1, 3)
	for i := 0; i < 5; i++ {
		b.Apply(fault(1))
		b.Apply(cleared(1))
	}

	events := b.Events()
	assert.Len(t, events, 3)
	assert.Equal(t, EventClear, events[0].Type)
	assert.Equal(t, Counts{Faults: 5, Clears: 5}, b.Counts())
}

func TestApplyTracksUnknownLights(t *testing.T) {
	b := NewBoard(2, 10)

	_, ok := b.Apply(fault(7))
	require.True(t, ok)

	snap := b.Snapshot()
	assert.Equal(t, []Light{
		{ID: 1, State: link.LightOK},
		{ID: 2, State: link.LightOK},
		{ID: 7, State: link.LightFault},
	}, snap.Lights)
	assert.Equal(t, []int{7}, snap.Faulty)
}

func TestResetKeepsHistory(t *testing.T) {
	b := NewBoard(3, 10)
	b.Apply(fault(1))
	b.Apply(fault(9))

	b.Reset()

	snap := b.Snapshot()
	assert.Len(t, snap.Lights, 3)
	assert.Empty(t, snap.Faulty)
	assert.Len(t, snap.Events, 2)
	assert.Equal(t, Counts{Faults: 2}, snap.Counts)

	// last known state is forgotten, so the same fault is news again
	_, ok := b.Apply(fault(1))
	assert.True(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	b := NewBoard(1, 10)
	b.Apply(fault(1))

	snap := b.Snapshot()
	snap.Events[0].Message = "changed"
	snap.Lights[0].State = link.LightOK

	assert.Equal(t, "Light 1 is FAULTING", b.Events()[0].Message)
	assert.Equal(t, link.LightFault, b.Lights()[0].State)
}
