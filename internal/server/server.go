// Package server is the server half of the session channel: the websocket
// route, the per-connection turn worker and the HTTP API.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexus-ai/nexus-chat/internal/channel"
	"github.com/nexus-ai/nexus-chat/internal/logging"
	"github.com/nexus-ai/nexus-chat/internal/metrics"
	"github.com/nexus-ai/nexus-chat/internal/storage"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

const defaultMaxPendingTurns = 8

// Completer produces the assistant reply for a transcript snapshot.
type Completer interface {
	Complete(ctx context.Context, snapshot []transcript.Turn) (string, error)
}

// Ledger records session and completion metadata.
type Ledger interface {
	CreateSession(id, remoteAddr string, startedAt time.Time) error
	EndSession(id string, endedAt time.Time, turns int) error
	RecordCompletion(c storage.Completion) error
}

// SessionStore serves recorded session metadata to the API.
type SessionStore interface {
	RecentSessions(limit int) ([]storage.Session, error)
	GetSessionsByDate(date string) ([]storage.Session, error)
	GetSession(id string) (storage.Session, error)
	GetCompletions(sessionID string) ([]storage.Completion, error)
}

type Options struct {
	AllowedOrigins  []string
	MaxPendingTurns int
	RateLimitRPS    float64
	RateLimitBurst  int

	Ledger   Ledger
	Sessions SessionStore
	Metrics  *metrics.Metrics
	Warnings func() []string
}

type Server struct {
	gateway     Completer
	transcripts *transcript.Registry
	hub         *Hub
	limiters    *limiterPool
	metrics     *metrics.Metrics
	upgrader    websocket.Upgrader
	opts        Options
	log         zerolog.Logger

	// ctx outlives individual connections so a disconnect never cancels an
	// in-flight completion.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Session
	workers  sync.WaitGroup
}

func New(gateway Completer, transcripts *transcript.Registry, opts Options) *Server {
	if opts.MaxPendingTurns <= 0 {
		opts.MaxPendingTurns = defaultMaxPendingTurns
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if transcripts == nil {
		transcripts = transcript.NewRegistry(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		gateway:     gateway,
		transcripts: transcripts,
		hub:         NewHub(),
		limiters:    newLimiterPool(opts.RateLimitRPS, opts.RateLimitBurst),
		metrics:     opts.Metrics,
		opts:        opts,
		log:         logging.WithComponent("server"),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.registerWSRoute(mux)
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return mux
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown")
	}
	return s.Shutdown(shutdownCtx)
}

// Shutdown notifies every connection, closes them and waits for in-flight
// turns to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if payload, err := channel.Encode(channel.ServerShutdown()); err == nil {
		s.hub.Broadcast(payload)
	}
	s.hub.CloseAll()

	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Transcripts() *transcript.Registry {
	return s.transcripts
}

func (s *Server) warnings() []string {
	if s.opts.Warnings == nil {
		return []string{}
	}
	w := s.opts.Warnings()
	if w == nil {
		return []string{}
	}
	return w
}
