package server

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nexus-ai/nexus-chat/internal/channel"
	"github.com/nexus-ai/nexus-chat/internal/completion"
	"github.com/nexus-ai/nexus-chat/internal/metrics"
	"github.com/nexus-ai/nexus-chat/internal/storage"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

func TestSessionSerializesTurnsInOrder(t *testing.T) {
	var inflight, maxInflight atomic.Int32
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		n := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			m := maxInflight.Load()
			if n <= m || maxInflight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "re:" + snapshot[len(snapshot)-1].Content, nil
	})
	_, ts := startTestServer(t, gw, Options{})
	conn, _ := dialTestServer(t, ts)

	for i := 1; i <= 4; i++ {
		submit(t, conn, fmt.Sprintf("m%d", i))
	}

	for i := 1; i <= 4; i++ {
		deliver, ok := readEvent(t, conn).(*channel.DeliverAssistantTurnEvent)
		if !ok {
			t.Fatalf("expected delivery %d", i)
		}
		if want := fmt.Sprintf("re:m%d", i); deliver.Text != want {
			t.Fatalf("expected %q, got %q", want, deliver.Text)
		}
	}

	if got := maxInflight.Load(); got != 1 {
		t.Fatalf("expected no overlapping completions, saw %d in flight", got)
	}
}

func TestSessionTranscriptIncludesEarlierTurns(t *testing.T) {
	var lastLen atomic.Int32
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		lastLen.Store(int32(len(snapshot)))
		return "ok", nil
	})
	_, ts := startTestServer(t, gw, Options{})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "one")
	readEvent(t, conn)
	submit(t, conn, "two")
	readEvent(t, conn)

	if got := lastLen.Load(); got != 3 {
		t.Fatalf("expected snapshot [user, assistant, user], got %d turns", got)
	}
}

func TestSessionProviderErrorSendsFailure(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) {
		return "", &completion.ProviderError{Kind: completion.KindAuth, Err: errors.New("invalid key")}
	})
	ledger := newLedgerStub()
	srv, ts := startTestServer(t, gw, Options{Ledger: ledger})
	conn, sessionID := dialTestServer(t, ts)

	submit(t, conn, "hi")

	failed, ok := readEvent(t, conn).(*channel.AssistantTurnFailedEvent)
	if !ok {
		t.Fatal("expected assistant_turn_failed event")
	}
	if failed.Kind != string(completion.KindAuth) {
		t.Fatalf("expected auth kind, got %q", failed.Kind)
	}

	store, _ := srv.Transcripts().Get(sessionID)
	turns := store.Snapshot()
	if len(turns) != 1 || turns[0].Role != transcript.RoleUser {
		t.Fatalf("expected only the user turn after failure, got %#v", turns)
	}

	completions, _ := ledger.snapshot()
	if len(completions) != 1 || completions[0].Outcome != storage.OutcomeFailed || completions[0].ErrorKind != "auth" {
		t.Fatalf("expected failed completion record, got %#v", completions)
	}
}

func TestSessionUnclassifiedErrorIsNetwork(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) {
		return "", errors.New("boom")
	})
	_, ts := startTestServer(t, gw, Options{})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "hi")

	failed, ok := readEvent(t, conn).(*channel.AssistantTurnFailedEvent)
	if !ok || failed.Kind != string(completion.KindNetwork) {
		t.Fatalf("expected network failure, got %#v", failed)
	}
}

func TestSessionDropsBlankSubmission(t *testing.T) {
	var calls atomic.Int32
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) {
		calls.Add(1)
		return "ok", nil
	})
	_, ts := startTestServer(t, gw, Options{})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "   ")
	submit(t, conn, "real")

	if _, ok := readEvent(t, conn).(*channel.DeliverAssistantTurnEvent); !ok {
		t.Fatal("expected delivery for the non-blank turn")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected 1 completion call, got %d", got)
	}
}

func TestSessionQueueFullRepliesBusyInOrder(t *testing.T) {
	started := make(chan struct{}, 4)
	release := make(chan struct{})
	gw := gatewayFunc(func(_ context.Context, snapshot []transcript.Turn) (string, error) {
		started <- struct{}{}
		<-release
		return "re:" + snapshot[len(snapshot)-1].Content, nil
	})
	_, ts := startTestServer(t, gw, Options{MaxPendingTurns: 1})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "first")
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("first completion never started")
	}
	submit(t, conn, "second")
	submit(t, conn, "third")

	close(release)

	// The rejection must not overtake replies owed for earlier turns.
	for _, want := range []string{"re:first", "re:second"} {
		deliver, ok := readEvent(t, conn).(*channel.DeliverAssistantTurnEvent)
		if !ok || deliver.Text != want {
			t.Fatalf("expected delivery %q, got %#v", want, deliver)
		}
	}
	failed, ok := readEvent(t, conn).(*channel.AssistantTurnFailedEvent)
	if !ok || failed.Kind != channel.FailureBusy {
		t.Fatalf("expected busy rejection last, got %#v", failed)
	}
}

func TestSessionRateLimitedInOrder(t *testing.T) {
	release := make(chan struct{})
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) {
		<-release
		return "ok", nil
	})
	_, ts := startTestServer(t, gw, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "one")
	submit(t, conn, "two")
	time.Sleep(50 * time.Millisecond)
	close(release)

	if _, ok := readEvent(t, conn).(*channel.DeliverAssistantTurnEvent); !ok {
		t.Fatal("expected the first turn answered first")
	}
	failed, ok := readEvent(t, conn).(*channel.AssistantTurnFailedEvent)
	if !ok || failed.Kind != channel.FailureRateLimited {
		t.Fatalf("expected rate limit rejection second, got %#v", failed)
	}
}

func TestSessionDisconnectMidRequest(t *testing.T) {
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var finished atomic.Bool
	gw := gatewayFunc(func(ctx context.Context, _ []transcript.Turn) (string, error) {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
		finished.Store(true)
		return "late reply", nil
	})
	ledger := newLedgerStub()
	m := metrics.New()
	srv, ts := startTestServer(t, gw, Options{Ledger: ledger, Metrics: m})
	conn, sessionID := dialTestServer(t, ts)

	submit(t, conn, "slow")
	<-started
	_ = conn.Close()

	waitFor(t, "disconnect", func() bool { return srv.Hub().Len() == 0 })
	close(release)

	waitFor(t, "session teardown", func() bool {
		_, ended := ledger.snapshot()
		_, ok := ended[sessionID]
		return ok
	})

	if !finished.Load() {
		t.Fatal("expected the in-flight completion to run to completion")
	}
	completions, ended := ledger.snapshot()
	if len(completions) != 1 || completions[0].Outcome != storage.OutcomeUndelivered {
		t.Fatalf("expected undelivered completion, got %#v", completions)
	}
	if ended[sessionID] != 2 {
		t.Fatalf("expected 2 turns recorded at teardown, got %d", ended[sessionID])
	}
	if got := testutil.ToFloat64(m.UndeliveredReplies); got != 1 {
		t.Fatalf("expected 1 undelivered reply, got %v", got)
	}
	if _, ok := srv.Transcripts().Get(sessionID); ok {
		t.Fatal("expected transcript discarded after disconnect")
	}
}

func TestSessionMetrics(t *testing.T) {
	gw := gatewayFunc(func(context.Context, []transcript.Turn) (string, error) { return "ok", nil })
	m := metrics.New()
	_, ts := startTestServer(t, gw, Options{Metrics: m})
	conn, _ := dialTestServer(t, ts)

	submit(t, conn, "hi")
	readEvent(t, conn)

	if got := testutil.ToFloat64(m.ConnectionsActive); got != 1 {
		t.Fatalf("expected 1 active connection, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsSubmitted); got != 1 {
		t.Fatalf("expected 1 submitted turn, got %v", got)
	}
	if got := testutil.ToFloat64(m.CompletionsTotal.WithLabelValues("ok")); got != 1 {
		t.Fatalf("expected 1 ok completion, got %v", got)
	}
}
