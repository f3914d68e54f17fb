package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-ai/nexus-chat/internal/channel"
	"github.com/nexus-ai/nexus-chat/internal/storage"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

type gatewayFunc func(ctx context.Context, snapshot []transcript.Turn) (string, error)

func (f gatewayFunc) Complete(ctx context.Context, snapshot []transcript.Turn) (string, error) {
	return f(ctx, snapshot)
}

type ledgerStub struct {
	mu          sync.Mutex
	started     []string
	ended       map[string]int
	completions []storage.Completion
}

func newLedgerStub() *ledgerStub {
	return &ledgerStub{ended: make(map[string]int)}
}

func (l *ledgerStub) CreateSession(id, _ string, _ time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = append(l.started, id)
	return nil
}

func (l *ledgerStub) EndSession(id string, _ time.Time, turns int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ended[id] = turns
	return nil
}

func (l *ledgerStub) RecordCompletion(c storage.Completion) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completions = append(l.completions, c)
	return nil
}

func (l *ledgerStub) snapshot() ([]storage.Completion, map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ended := make(map[string]int, len(l.ended))
	for k, v := range l.ended {
		ended[k] = v
	}
	return append([]storage.Completion(nil), l.completions...), ended
}

func startTestServer(t *testing.T, gw Completer, opts Options) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(gw, transcript.NewRegistry(0), opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		ts.Close()
	})
	return srv, ts
}

func dialTestServer(t *testing.T, ts *httptest.Server) (*websocket.Conn, string) {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	connected, ok := readEvent(t, conn).(*channel.ConnectionEvent)
	if !ok {
		t.Fatal("expected connection event first")
	}
	if !connected.Connected || connected.SessionID == "" {
		t.Fatalf("unexpected connection event: %+v", connected)
	}
	return conn, connected.SessionID
}

func readEvent(t *testing.T, conn *websocket.Conn) any {
	t.Helper()

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	event, err := channel.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return event
}

func submit(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()

	payload, err := channel.Encode(channel.SubmitUserTurn(text))
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestWSRoundTrip(t *testing.T) {
	var mu sync.Mutex
	var seen []transcript.Turn
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		mu.Lock()
		seen = snapshot
		mu.Unlock()
		return "hello", nil
	})
	srv, ts := startTestServer(t, gw, Options{})
	conn, sessionID := dialTestServer(t, ts)

	submit(t, conn, "hi")

	deliver, ok := readEvent(t, conn).(*channel.DeliverAssistantTurnEvent)
	if !ok {
		t.Fatal("expected deliver_assistant_turn event")
	}
	if deliver.Text != "hello" {
		t.Fatalf("expected hello, got %q", deliver.Text)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].Role != transcript.RoleUser || seen[0].Content != "hi" {
		t.Fatalf("gateway saw unexpected snapshot: %#v", seen)
	}

	store, ok := srv.Transcripts().Get(sessionID)
	if !ok {
		t.Fatal("expected open transcript for session")
	}
	turns := store.Snapshot()
	if len(turns) != 2 {
		t.Fatalf("expected 2 server turns, got %d", len(turns))
	}
	if turns[0].Role != transcript.RoleUser || turns[0].Content != "hi" {
		t.Fatalf("unexpected first turn: %+v", turns[0])
	}
	if turns[1].Role != transcript.RoleAssistant || turns[1].Content != "hello" {
		t.Fatalf("unexpected second turn: %+v", turns[1])
	}
}

func TestWSRepliesOnlyToOriginatingConnection(t *testing.T) {
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		return "re:" + snapshot[len(snapshot)-1].Content, nil
	})
	_, ts := startTestServer(t, gw, Options{})
	a, _ := dialTestServer(t, ts)
	b, _ := dialTestServer(t, ts)

	submit(t, a, "from-a")
	if deliver, ok := readEvent(t, a).(*channel.DeliverAssistantTurnEvent); !ok || deliver.Text != "re:from-a" {
		t.Fatalf("expected reply on connection a")
	}

	_ = b.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := b.ReadMessage(); err == nil {
		t.Fatal("expected no event on connection b")
	}
}

func TestWSConnectionsHaveSeparateTranscripts(t *testing.T) {
	var mu sync.Mutex
	lengths := map[string]int{}
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		last := snapshot[len(snapshot)-1].Content
		lengths[last] = len(snapshot)
		return "ok", nil
	})
	_, ts := startTestServer(t, gw, Options{})
	a, _ := dialTestServer(t, ts)
	b, _ := dialTestServer(t, ts)

	submit(t, a, "a1")
	readEvent(t, a)
	submit(t, b, "b1")
	readEvent(t, b)

	mu.Lock()
	defer mu.Unlock()
	if lengths["b1"] != 1 {
		t.Fatalf("expected b's first snapshot to hold only its own turn, got %d", lengths["b1"])
	}
}

func TestWSSharedTranscriptInterleaves(t *testing.T) {
	var mu sync.Mutex
	var last []transcript.Turn
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		last = snapshot
		return "ok", nil
	})

	srv := New(gw, transcript.NewSharedRegistry(0), Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer func() { _ = srv.Shutdown(context.Background()) }()

	a, _ := dialTestServer(t, ts)
	b, _ := dialTestServer(t, ts)

	submit(t, a, "a1")
	readEvent(t, a)
	submit(t, b, "b1")
	readEvent(t, b)

	mu.Lock()
	defer mu.Unlock()
	if len(last) != 3 {
		t.Fatalf("expected shared snapshot of 3 turns, got %d", len(last))
	}
	if last[0].Content != "a1" || last[2].Content != "b1" {
		t.Fatalf("expected arrival-order interleaving, got %#v", last)
	}
}

func TestWSRejectsDisallowedOrigin(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) { return "", nil })
	_, ts := startTestServer(t, gw, Options{AllowedOrigins: []string{"http://localhost:5173"}})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"http://evil.test"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err == nil {
		t.Fatal("expected dial to fail for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %#v", resp)
	}

	header.Set("Origin", "http://localhost:5173")
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("expected allowed origin to connect: %v", err)
	}
	_ = conn.Close()
}

func TestWSShutdownNotifiesClients(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) { return "", nil })
	srv := New(gw, nil, Options{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _ := dialTestServer(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if _, ok := readEvent(t, conn).(*channel.ServerShutdownEvent); !ok {
		t.Fatal("expected server_shutdown event")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close after shutdown, got %v", err)
	}
}
