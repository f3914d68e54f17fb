// Package channel defines the session channel wire protocol: JSON events
// exchanged over a websocket between one client and the server.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const EventVersion = 1

const (
	TypeSubmitUserTurn       = "submit_user_turn"
	TypeDeliverAssistantTurn = "deliver_assistant_turn"
	TypeAssistantTurnFailed  = "assistant_turn_failed"
	TypeConnection           = "connection"
	TypeServerShutdown       = "server_shutdown"
)

// Failure kinds carried by AssistantTurnFailedEvent in addition to the
// completion provider kinds (network, auth, malformed).
const (
	FailureBusy        = "busy"
	FailureRateLimited = "rate_limited"
)

var (
	// ErrChannelClosed is returned when sending on a connection that is gone.
	ErrChannelClosed = errors.New("session channel closed")
	ErrUnknownEvent  = errors.New("unknown event type")
	ErrVersion       = errors.New("unsupported event version")
)

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type SubmitUserTurnEvent struct {
	Event
	Text string `json:"text"`
}

type DeliverAssistantTurnEvent struct {
	Event
	Text string `json:"text"`
}

type AssistantTurnFailedEvent struct {
	Event
	Reason string `json:"reason"`
	Kind   string `json:"kind"`
}

type ConnectionEvent struct {
	Event
	Connected bool   `json:"connected"`
	SessionID string `json:"session_id,omitempty"`
}

type ServerShutdownEvent struct {
	Event
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func SubmitUserTurn(text string) SubmitUserTurnEvent {
	return SubmitUserTurnEvent{Event: newEvent(TypeSubmitUserTurn, time.Time{}), Text: text}
}

func DeliverAssistantTurn(text string) DeliverAssistantTurnEvent {
	return DeliverAssistantTurnEvent{Event: newEvent(TypeDeliverAssistantTurn, time.Time{}), Text: text}
}

func AssistantTurnFailed(kind, reason string) AssistantTurnFailedEvent {
	return AssistantTurnFailedEvent{
		Event:  newEvent(TypeAssistantTurnFailed, time.Time{}),
		Reason: reason,
		Kind:   kind,
	}
}

func Connected(sessionID string) ConnectionEvent {
	return ConnectionEvent{
		Event:     newEvent(TypeConnection, time.Time{}),
		Connected: true,
		SessionID: sessionID,
	}
}

func ServerShutdown() ServerShutdownEvent {
	return ServerShutdownEvent{Event: newEvent(TypeServerShutdown, time.Time{})}
}

func Encode(event any) ([]byte, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return payload, nil
}

// Decode parses a frame into one of the typed events above. Frames from a
// newer protocol version are rejected with ErrVersion.
func Decode(data []byte) (any, error) {
	var head Event
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if head.Version > EventVersion {
		return nil, fmt.Errorf("%w: %d", ErrVersion, head.Version)
	}

	var event any
	switch head.Type {
	case TypeSubmitUserTurn:
		event = &SubmitUserTurnEvent{}
	case TypeDeliverAssistantTurn:
		event = &DeliverAssistantTurnEvent{}
	case TypeAssistantTurnFailed:
		event = &AssistantTurnFailedEvent{}
	case TypeConnection:
		event = &ConnectionEvent{}
	case TypeServerShutdown:
		event = &ServerShutdownEvent{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}

	if err := json.Unmarshal(data, event); err != nil {
		return nil, fmt.Errorf("decode %s event: %w", head.Type, err)
	}
	return event, nil
}
