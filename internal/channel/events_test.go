package channel

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestEventEnvelope(t *testing.T) {
	events := []any{
		SubmitUserTurn("hi"),
		DeliverAssistantTurn("hello"),
		AssistantTurnFailed("network", "provider unreachable"),
		Connected("abc"),
		ServerShutdown(),
	}

	for _, event := range events {
		b, err := Encode(event)
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}

		var payload map[string]any
		if err := json.Unmarshal(b, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}

		if payload["type"] == nil {
			t.Fatalf("missing type in payload: %s", string(b))
		}
		if payload["version"] != float64(EventVersion) {
			t.Fatalf("missing version in payload: %s", string(b))
		}
		if payload["timestamp"] == nil {
			t.Fatalf("missing timestamp in payload: %s", string(b))
		}
	}
}

func TestDecodeTypedEvents(t *testing.T) {
	b, _ := Encode(SubmitUserTurn("2+2?"))
	event, err := Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	submit, ok := event.(*SubmitUserTurnEvent)
	if !ok {
		t.Fatalf("expected *SubmitUserTurnEvent, got %T", event)
	}
	if submit.Text != "2+2?" {
		t.Fatalf("expected text 2+2?, got %q", submit.Text)
	}

	b, _ = Encode(AssistantTurnFailed(FailureBusy, "too many pending turns"))
	event, err = Decode(b)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	failed, ok := event.(*AssistantTurnFailedEvent)
	if !ok {
		t.Fatalf("expected *AssistantTurnFailedEvent, got %T", event)
	}
	if failed.Kind != FailureBusy || failed.Reason == "" {
		t.Fatalf("unexpected failure payload: %+v", failed)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"ai-messages","version":1}`))
	if !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestDecodeRejectsNewerVersion(t *testing.T) {
	_, err := Decode([]byte(`{"type":"submit_user_turn","version":99,"text":"hi"}`))
	if !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for garbage frame")
	}
}
