package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}

func TestSQLitePragmas(t *testing.T) {
	store := newTestSQLiteStore(t)

	var mode string
	if err := store.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode failed: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected journal_mode wal, got %q", mode)
	}

	var timeout int
	if err := store.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout failed: %v", err)
	}
	if timeout < 5000 {
		t.Fatalf("expected busy_timeout >= 5000, got %d", timeout)
	}
}

func TestSQLiteSessionLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	if err := store.CreateSession("s1", "127.0.0.1:5000", startedAt); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	session, err := store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != StatusActive || session.EndedAt != nil {
		t.Fatalf("expected active session, got %+v", session)
	}
	if session.RemoteAddr != "127.0.0.1:5000" {
		t.Fatalf("expected remote addr, got %q", session.RemoteAddr)
	}

	if err := store.EndSession("s1", startedAt.Add(30*time.Second), 4); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	session, err = store.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.Status != StatusClosed {
		t.Fatalf("expected status closed, got %q", session.Status)
	}
	if session.Turns != 4 {
		t.Fatalf("expected 4 turns, got %d", session.Turns)
	}
	if session.EndedAt == nil || !session.EndedAt.Equal(startedAt.Add(30*time.Second)) {
		t.Fatalf("unexpected ended_at: %v", session.EndedAt)
	}

	byDate, err := store.GetSessionsByDate("2026-02-26")
	if err != nil {
		t.Fatalf("GetSessionsByDate failed: %v", err)
	}
	if len(byDate) != 1 {
		t.Fatalf("expected 1 session for date, got %d", len(byDate))
	}
}

func TestSQLiteEndUnknownSession(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.EndSession("missing", time.Now(), 0)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows, got %v", err)
	}

	_, err = store.GetSession("missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows from GetSession, got %v", err)
	}
}

func TestSQLiteRecordCompletion(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	if err := store.CreateSession("s1", "", startedAt); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	records := []Completion{
		{SessionID: "s1", StartedAt: startedAt.Add(time.Second), Latency: 1500 * time.Millisecond, Outcome: OutcomeDelivered},
		{SessionID: "s1", StartedAt: startedAt.Add(5 * time.Second), Latency: 200 * time.Millisecond, Outcome: OutcomeFailed, ErrorKind: "auth"},
	}
	for _, r := range records {
		if err := store.RecordCompletion(r); err != nil {
			t.Fatalf("RecordCompletion failed: %v", err)
		}
	}

	got, err := store.GetCompletions("s1")
	if err != nil {
		t.Fatalf("GetCompletions failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 completions, got %d", len(got))
	}
	if got[0].Outcome != OutcomeDelivered || got[0].Latency != 1500*time.Millisecond {
		t.Fatalf("unexpected first completion: %+v", got[0])
	}
	if got[1].Outcome != OutcomeFailed || got[1].ErrorKind != "auth" {
		t.Fatalf("unexpected second completion: %+v", got[1])
	}
}

func TestSQLiteRecentSessionsNewestFirst(t *testing.T) {
	store := newTestSQLiteStore(t)

	base := time.Date(2026, 2, 26, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := store.CreateSession(fmt.Sprintf("s%d", i), "", base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	sessions, err := store.RecentSessions(2)
	if err != nil {
		t.Fatalf("RecentSessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s2" || sessions[1].ID != "s1" {
		t.Fatalf("expected newest first, got %s, %s", sessions[0].ID, sessions[1].ID)
	}
}

func TestSQLiteCloseDangling(t *testing.T) {
	store := newTestSQLiteStore(t)

	now := time.Now().UTC()
	_ = store.CreateSession("a", "", now)
	_ = store.CreateSession("b", "", now)
	if err := store.EndSession("b", now, 2); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}

	n, err := store.CloseDangling(now.Add(time.Minute))
	if err != nil {
		t.Fatalf("CloseDangling failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 dangling session closed, got %d", n)
	}

	session, _ := store.GetSession("a")
	if session.Status != StatusClosed {
		t.Fatalf("expected dangling session closed, got %q", session.Status)
	}
}

func TestSQLiteConcurrentAccess(t *testing.T) {
	store := newTestSQLiteStore(t)

	startedAt := time.Now().UTC()
	if err := store.CreateSession("s1", "", startedAt); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = store.RecordCompletion(Completion{
				SessionID: "s1",
				StartedAt: startedAt.Add(time.Duration(idx) * time.Second),
				Latency:   time.Duration(idx) * time.Millisecond,
				Outcome:   OutcomeDelivered,
			})
			_, _ = store.GetSession("s1")
		}(i)
	}
	wg.Wait()

	completions, err := store.GetCompletions("s1")
	if err != nil {
		t.Fatalf("GetCompletions failed: %v", err)
	}
	if len(completions) != 20 {
		t.Fatalf("expected 20 completions, got %d", len(completions))
	}
}
