// Package grid tracks the status lights reported by the hardware link and
// the history of fault and clear events derived from them.
package grid

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaunagostinho/gridlink/internal/link"
)

const (
	DefaultLights    = 3
	DefaultMaxEvents = 50
)

// EventType classifies a grid event.
type EventType string

const (
	EventFault EventType = "fault"
	EventClear EventType = "clear"
)

// Event is one state change of a light.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	LightID   int       `json:"lightId"`
	Type      EventType `json:"type"`
}

// Light is the displayed state of one light.
type Light struct {
	ID    int             `json:"id"`
	State link.LightState `json:"state"`
}

// Counts tallies events since the board was created.
type Counts struct {
	Faults int `json:"faults"`
	Clears int `json:"clears"`
}

// Snapshot is a consistent copy of the board.
type Snapshot struct {
	Lights []Light `json:"lights"`
	Events []Event `json:"events"`
	Counts Counts  `json:"counts"`
	Faulty []int   `json:"faulty"`
}

// Board holds the lights 1..N plus any other id the device has reported.
type Board struct {
	mu        sync.RWMutex
	numLights int
	maxEvents int

	lights    map[int]link.LightState
	lastKnown map[int]link.LightState // absent means OK
	events    []Event                 // newest first
	counts    Counts

	now func() time.Time
}

// NewBoard creates a board with numLights lights, all OK, keeping at most
// maxEvents events. Non-positive arguments select the defaults.
func NewBoard(numLights, maxEvents int) *Board {
	if numLights <= 0 {
		numLights = DefaultLights
	}
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	b := &Board{
		numLights: numLights,
		maxEvents: maxEvents,
		now:       time.Now,
	}
	b.resetLights()
	return b
}

// Apply folds an update into the board. An event is produced only when the
// light's state differs from its last known state.
func (b *Board) Apply(u link.HardwareUpdate) (Event, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, ok := b.lastKnown[u.LightID]
	if !ok {
		prev = link.LightOK
	}
	if u.State == prev {
		return Event{}, false
	}
	b.lastKnown[u.LightID] = u.State
	b.lights[u.LightID] = u.State

	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: b.now(),
		LightID:   u.LightID,
	}
	switch u.State {
	case link.LightFault:
		ev.Type = EventFault
		ev.Message = fmt.Sprintf("Light %d is FAULTING", u.LightID)
		b.counts.Faults++
	default:
		ev.Type = EventClear
		ev.Message = fmt.Sprintf("Light %d fault CLEARED", u.LightID)
		b.counts.Clears++
	}

	b.events = append([]Event{ev}, b.events...)
	if len(b.events) > b.maxEvents {
		b.events = b.events[:b.maxEvents]
	}
	return ev, true
}

// Reset turns every light back to OK and forgets last known states. The
// event history and counts are kept.
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLights()
}

func (b *Board) resetLights() {
	b.lights = make(map[int]link.LightState, b.numLights)
	for id := 1; id <= b.numLights; id++ {
		b.lights[id] = link.LightOK
	}
	b.lastKnown = make(map[int]link.LightState)
}

// Lights returns all lights ordered by id.
func (b *Board) Lights() []Light {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lightsLocked()
}

func (b *Board) lightsLocked() []Light {
	out := make([]Light, 0, len(b.lights))
	for id, st := range b.lights {
		out = append(out, Light{ID: id, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns the history, newest first.
func (b *Board) Events() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Event(nil), b.events...)
}

func (b *Board) Counts() Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.counts
}

func (b *Board) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	lights := b.lightsLocked()
	faulty := []int{}
	for _, l := range lights {
		if l.State == link.LightFault {
			faulty = append(faulty, l.ID)
		}
	}
	return Snapshot{
		Lights: lights,
		Events: append([]Event{}, b.events...),
		Counts: b.counts,
		Faulty: faulty,
	}
}
