package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"

	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

var sessionIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		scope := "connection"
		if s.transcripts.Shared() {
			scope = "process"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"connections":      s.hub.Len(),
			"pending_turns":    s.pendingTurns(),
			"transcript_scope": scope,
			"warnings":         s.warnings(),
		})
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		if s.opts.Sessions == nil {
			writeJSON(w, http.StatusOK, []any{})
			return
		}

		if date := r.URL.Query().Get("date"); date != "" {
			sessions, err := s.opts.Sessions.GetSessionsByDate(date)
			if err != nil {
				writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
				return
			}
			writeJSON(w, http.StatusOK, sessions)
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSONError(w, http.StatusBadRequest, "invalid limit")
				return
			}
			limit = n
		}

		sessions, err := s.opts.Sessions.RecentSessions(limit)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /api/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}
		if s.opts.Sessions == nil {
			writeJSONError(w, http.StatusNotFound, "session not found")
			return
		}

		sessionData, err := s.opts.Sessions.GetSession(sessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, os.ErrNotExist) || errors.Is(err, sql.ErrNoRows) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get session: %v", err))
			return
		}

		completions, err := s.opts.Sessions.GetCompletions(sessionID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get session completions: %v", err))
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"session":     sessionData,
			"completions": completions,
		})
	})

	// Live server-side transcript of an open session.
	mux.HandleFunc("GET /api/sessions/{id}/transcript", func(w http.ResponseWriter, r *http.Request) {
		sessionID := r.PathValue("id")
		if !validSessionID(sessionID) {
			writeJSONError(w, http.StatusForbidden, "invalid session id")
			return
		}

		store, ok := s.transcripts.Get(sessionID)
		if !ok {
			writeJSONError(w, http.StatusNotFound, "session not open")
			return
		}

		turns := store.Snapshot()
		if turns == nil {
			turns = []transcript.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_id": sessionID,
			"turns":      turns,
		})
	})
}

func validSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
