// Package presentation drives the avatar's visual and voice mode.
package presentation

import "fmt"

// State is the label handed to the renderer every frame.
type State int32

const (
	// StateWave - greeting shown once on first render.
	StateWave State = iota
	// StateIdle - resting.
	StateIdle
	// StateSent - short acknowledgement beat after a submission.
	StateSent
	// StateThinking - waiting for the assistant. New submissions are rejected.
	StateThinking
)

func (s State) String() string {
	switch s {
	case StateWave:
		return "wave"
	case StateIdle:
		return "idle"
	case StateSent:
		return "sent"
	case StateThinking:
		return "thinking"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Event is an input to the state machine.
type Event int

const (
	EventWaveElapsed Event = iota
	EventSubmit
	EventSentElapsed
	EventAssistantDelivered
	EventAssistantFailed
	EventThinkingTimeout
	EventCleared
	EventIntro
	EventIntroElapsed
)

func (e Event) String() string {
	switch e {
	case EventWaveElapsed:
		return "wave_elapsed"
	case EventSubmit:
		return "submit"
	case EventSentElapsed:
		return "sent_elapsed"
	case EventAssistantDelivered:
		return "assistant_delivered"
	case EventAssistantFailed:
		return "assistant_failed"
	case EventThinkingTimeout:
		return "thinking_timeout"
	case EventCleared:
		return "cleared"
	case EventIntro:
		return "intro"
	case EventIntroElapsed:
		return "intro_elapsed"
	default:
		return fmt.Sprintf("unknown(%d)", e)
	}
}

// Transition is the whole state machine. It returns the next state and
// whether the event applies in the current state; an event that does not
// apply leaves the state unchanged.
//
// Transitions:
//
//	wave     --wave_elapsed-->   idle
//	*        --submit-->         sent      (rejected in thinking)
//	sent     --sent_elapsed-->   thinking
//	*        --assistant_delivered / assistant_failed / cleared--> idle
//	sent|thinking --thinking_timeout--> idle
//	*        --intro-->          thinking  (rejected in thinking)
//	thinking --intro_elapsed-->  idle
func Transition(s State, e Event) (State, bool) {
	switch e {
	case EventWaveElapsed:
		if s == StateWave {
			return StateIdle, true
		}
	case EventSubmit:
		if s != StateThinking {
			return StateSent, true
		}
	case EventSentElapsed:
		if s == StateSent {
			return StateThinking, true
		}
	case EventAssistantDelivered, EventAssistantFailed, EventCleared:
		return StateIdle, true
	case EventThinkingTimeout:
		if s == StateSent || s == StateThinking {
			return StateIdle, true
		}
	case EventIntro:
		if s == StateWave || s == StateIdle {
			return StateThinking, true
		}
	case EventIntroElapsed:
		if s == StateThinking {
			return StateIdle, true
		}
	}
	return s, false
}
