package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type anthropicRequest struct {
	Model       string   `json:"model"`
	MaxTokens   int64    `json:"max_tokens"`
	Temperature *float64 `json:"temperature"`
	System      []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func anthropicReply(texts ...string) map[string]any {
	content := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"id":            "msg_01",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-3-5-haiku-latest",
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": "",
		"usage":         map[string]any{"input_tokens": 12, "output_tokens": len(texts)},
	}
}

// anthropicServer answers every request with reply and hands the decoded
// request to inspect.
func anthropicServer(t *testing.T, status int, reply any, inspect func(anthropicRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(reply)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestAnthropicConversation(t *testing.T) {
	var got anthropicRequest
	server := anthropicServer(t, http.StatusOK, anthropicReply(" It is ", "4. "), func(req anthropicRequest) { got = req })

	client, err := NewClient(ProviderAnthropic, "test-key", "claude-3-5-haiku-latest",
		WithBaseURL(server.URL), WithMaxTokens(300), WithTemperature(0.2))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	reply, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "You are Nexus."},
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "Hi!"},
		{Role: RoleUser, Content: "2+2?"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if reply != "It is 4." {
		t.Fatalf("expected joined text blocks, got %q", reply)
	}

	if got.Model != "claude-3-5-haiku-latest" || got.MaxTokens != 300 {
		t.Fatalf("unexpected model or max tokens: %q %d", got.Model, got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.2 {
		t.Fatalf("expected temperature 0.2, got %v", got.Temperature)
	}
	if len(got.System) != 1 || got.System[0].Text != "You are Nexus." {
		t.Fatalf("expected system prompt out of band, got %#v", got.System)
	}
	roles := []string{"user", "assistant", "user"}
	if len(got.Messages) != len(roles) {
		t.Fatalf("expected %d messages, got %d", len(roles), len(got.Messages))
	}
	for i, role := range roles {
		if got.Messages[i].Role != role {
			t.Fatalf("message %d: expected role %s, got %s", i, role, got.Messages[i].Role)
		}
	}
	if got.Messages[2].Content[0].Text != "2+2?" {
		t.Fatalf("expected latest turn last, got %#v", got.Messages[2])
	}
}

func TestAnthropicNoTextIsEmptyResponse(t *testing.T) {
	server := anthropicServer(t, http.StatusOK, anthropicReply(), nil)

	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestAnthropicSystemOnlyNeverCallsProvider(t *testing.T) {
	called := false
	server := anthropicServer(t, http.StatusOK, anthropicReply("unused"), func(anthropicRequest) { called = true })

	client, err := newAnthropicClient("test-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleSystem, Content: "You are Nexus."}})
	if !errors.Is(err, ErrNoConversation) {
		t.Fatalf("expected ErrNoConversation, got %v", err)
	}
	if called {
		t.Fatal("provider should not be contacted")
	}
}

func TestAnthropicRejectedKeyStatus(t *testing.T) {
	server := anthropicServer(t, http.StatusUnauthorized, map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "authentication_error", "message": "invalid x-api-key"},
	}, nil)

	client, err := newAnthropicClient("bad-key", "claude-3-5-haiku-latest", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient: %v", err)
	}
	_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "hello"}})
	if got := StatusCode(err); got != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (%v)", got, err)
	}
}
