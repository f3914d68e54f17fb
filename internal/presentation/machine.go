package presentation

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-ai/nexus-chat/internal/eventloop"
)

// Timings are the automatic transition delays.
type Timings struct {
	Wave            time.Duration
	Sent            time.Duration
	ThinkingTimeout time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Wave:            4200 * time.Millisecond,
		Sent:            320 * time.Millisecond,
		ThinkingTimeout: 30 * time.Second,
	}
}

// Change describes one applied transition.
type Change struct {
	From  State
	To    State
	Event Event
}

// Machine applies Transition on an event loop and owns the timers that feed
// it. Fire must run on the loop; Post may be called from anywhere. State is
// safe to read from any goroutine.
type Machine struct {
	loop    *eventloop.Loop
	timings Timings
	state   atomic.Int32

	// Loop-only fields.
	epoch    uint64
	timer    *eventloop.Timer
	turn     uint64
	deadline *eventloop.Timer

	mu        sync.Mutex
	observers []func(Change)
}

func NewMachine(loop *eventloop.Loop, timings Timings) *Machine {
	def := DefaultTimings()
	if timings.Wave <= 0 {
		timings.Wave = def.Wave
	}
	if timings.Sent <= 0 {
		timings.Sent = def.Sent
	}
	if timings.ThinkingTimeout <= 0 {
		timings.ThinkingTimeout = def.ThinkingTimeout
	}

	m := &Machine{loop: loop, timings: timings}
	m.state.Store(int32(StateWave))
	return m
}

// Start arms the greeting timer. Call once, on first render.
func (m *Machine) Start() {
	m.loop.Post(func() {
		m.arm(m.timings.Wave, EventWaveElapsed)
	})
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

// OnChange registers fn to run on the loop after every state change.
func (m *Machine) OnChange(fn func(Change)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Machine) Post(e Event) {
	m.loop.Post(func() { m.Fire(e) })
}

// Fire applies e and reports whether it was accepted.
func (m *Machine) Fire(e Event) bool {
	from := m.State()
	to, ok := Transition(from, e)
	if !ok {
		return false
	}

	switch e {
	case EventSubmit:
		m.turn++
		turn := m.turn
		m.deadline.Stop()
		m.deadline = m.loop.AfterFunc(m.timings.ThinkingTimeout, func() {
			if m.turn == turn {
				m.Fire(EventThinkingTimeout)
			}
		})
	case EventAssistantDelivered, EventAssistantFailed, EventThinkingTimeout, EventCleared:
		m.turn++
		m.deadline.Stop()
		m.deadline = nil
	}

	if to == from && e != EventSubmit {
		return true
	}

	m.epoch++
	m.timer.Stop()
	m.timer = nil
	m.state.Store(int32(to))

	if to == StateSent {
		m.arm(m.timings.Sent, EventSentElapsed)
	}

	if to != from {
		m.notify(Change{From: from, To: to, Event: e})
	}
	return true
}

// Intro shows thinking for d, then returns to idle unless something else
// happened first. Like Fire it must run on the loop.
func (m *Machine) Intro(d time.Duration) bool {
	if !m.Fire(EventIntro) {
		return false
	}
	m.arm(d, EventIntroElapsed)
	return true
}

// arm schedules e for the current epoch. A later transition bumps the epoch
// and the stale timer becomes a no-op even if it already queued.
func (m *Machine) arm(d time.Duration, e Event) {
	epoch := m.epoch
	m.timer.Stop()
	m.timer = m.loop.AfterFunc(d, func() {
		if m.epoch == epoch {
			m.Fire(e)
		}
	})
}

func (m *Machine) notify(c Change) {
	m.mu.Lock()
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(c)
	}
}
