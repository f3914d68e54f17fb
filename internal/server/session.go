package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nexus-ai/nexus-chat/internal/channel"
	"github.com/nexus-ai/nexus-chat/internal/completion"
	"github.com/nexus-ai/nexus-chat/internal/logging"
	"github.com/nexus-ai/nexus-chat/internal/storage"
	"github.com/nexus-ai/nexus-chat/internal/transcript"
)

// Session is one open connection. Its worker drains queue in order, so at
// most one completion per connection is in flight and every submission is
// answered in the order it arrived, rejections included.
type Session struct {
	ID         string
	RemoteAddr string
	StartedAt  time.Time

	store   *transcript.Store
	queue   chan queued
	pending atomic.Int32 // turns queued but not started
	log     zerolog.Logger

	goneOnce sync.Once
	gone     chan struct{}
}

// queued is either a user turn or a rejection owed to the client.
type queued struct {
	text   string
	kind   string
	reason string
}

func (q queued) rejected() bool { return q.kind != "" }

func (sess *Session) closed() bool {
	select {
	case <-sess.gone:
		return true
	default:
		return false
	}
}

func (s *Server) openSession(remoteAddr string) *Session {
	sess := &Session{
		ID:         uuid.NewString(),
		RemoteAddr: remoteAddr,
		StartedAt:  time.Now().UTC(),
		queue:      make(chan queued, 2*s.opts.MaxPendingTurns),
		gone:       make(chan struct{}),
	}
	sess.store = s.transcripts.Open(sess.ID)
	sess.log = logging.WithSession("server", sess.ID)

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	s.metrics.ConnectionsActive.Inc()
	s.metrics.ConnectionsTotal.Inc()

	if s.opts.Ledger != nil {
		if err := s.opts.Ledger.CreateSession(sess.ID, remoteAddr, sess.StartedAt); err != nil {
			sess.log.Warn().Err(err).Msg("record session start")
		}
	}

	s.workers.Add(1)
	go s.work(sess)

	sess.log.Info().Str("remote", remoteAddr).Msg("session opened")
	return sess
}

// closeSession runs on the connection's read goroutine once the socket is
// gone. Queued turns that have not started are dropped; the in-flight one
// completes and its reply is discarded.
func (s *Server) closeSession(sess *Session) {
	sess.goneOnce.Do(func() {
		close(sess.gone)
		close(sess.queue)
	})
	s.hub.Unsubscribe(sess.ID)
	s.limiters.forget(sess.ID)
	s.metrics.ConnectionsActive.Dec()
	sess.log.Info().Msg("session disconnected")
}

func (s *Server) enqueue(sess *Session, text string) {
	if strings.TrimSpace(text) == "" {
		s.metrics.TurnsRejected.WithLabelValues("empty").Inc()
		return
	}
	if !s.limiters.Allow(sess.ID) {
		s.metrics.TurnsRejected.WithLabelValues(channel.FailureRateLimited).Inc()
		s.queueRejection(sess, channel.FailureRateLimited, "too many messages, slow down")
		return
	}
	if int(sess.pending.Load()) >= s.opts.MaxPendingTurns {
		s.metrics.TurnsRejected.WithLabelValues(channel.FailureBusy).Inc()
		s.queueRejection(sess, channel.FailureBusy, fmt.Sprintf("more than %d messages waiting for a reply", s.opts.MaxPendingTurns))
		return
	}

	sess.pending.Add(1)
	select {
	case sess.queue <- queued{text: text}:
		s.metrics.TurnsSubmitted.Inc()
	default:
		sess.pending.Add(-1)
		s.metrics.TurnsRejected.WithLabelValues(channel.FailureBusy).Inc()
		s.queueRejection(sess, channel.FailureBusy, "too many messages waiting for a reply")
	}
}

// queueRejection puts a failure behind the replies still owed, so the client
// can match answers to submissions in order. When even that slot is gone the
// notice is dropped.
func (s *Server) queueRejection(sess *Session, kind, reason string) {
	select {
	case sess.queue <- queued{kind: kind, reason: reason}:
	default:
		sess.log.Warn().Str("kind", kind).Msg("rejection dropped, queue full")
	}
}

func (s *Server) reject(sess *Session, kind, reason string) {
	if err := s.send(sess, channel.AssistantTurnFailed(kind, reason)); err != nil {
		sess.log.Debug().Err(err).Str("kind", kind).Msg("rejection not delivered")
	}
}

func (s *Server) work(sess *Session) {
	defer s.workers.Done()
	defer s.finishSession(sess)

	for item := range sess.queue {
		if item.rejected() {
			if !sess.closed() {
				s.reject(sess, item.kind, item.reason)
			}
			continue
		}
		sess.pending.Add(-1)
		if sess.closed() {
			s.metrics.TurnsRejected.WithLabelValues("disconnected").Inc()
			continue
		}
		s.handleTurn(sess, item.text)
	}
}

func (s *Server) handleTurn(sess *Session, text string) {
	sess.store.Append(transcript.UserTurn(text))
	snapshot := sess.store.Snapshot()

	started := time.Now()
	reply, err := s.gateway.Complete(s.ctx, snapshot)
	latency := time.Since(started)
	s.metrics.CompletionDuration.Observe(latency.Seconds())

	record := storage.Completion{
		SessionID: sess.ID,
		StartedAt: started,
		Latency:   latency,
	}

	if err != nil {
		kind := completion.KindOf(err)
		if kind == "" {
			kind = completion.KindNetwork
		}
		s.metrics.CompletionsTotal.WithLabelValues(string(kind)).Inc()
		sess.log.Warn().Err(err).Str("kind", string(kind)).Dur("latency", latency).Msg("completion failed")

		record.Outcome = storage.OutcomeFailed
		record.ErrorKind = string(kind)
		s.record(sess, record)

		s.reject(sess, string(kind), fmt.Sprintf("the assistant could not reply (%s error)", kind))
		return
	}

	sess.store.Append(transcript.AssistantTurn(reply))
	s.metrics.CompletionsTotal.WithLabelValues("ok").Inc()

	record.Outcome = storage.OutcomeDelivered
	if err := s.send(sess, channel.DeliverAssistantTurn(reply)); err != nil {
		record.Outcome = storage.OutcomeUndelivered
		s.metrics.UndeliveredReplies.Inc()
		if errors.Is(err, channel.ErrChannelClosed) {
			sess.log.Info().Msg("reply dropped, connection closed")
		} else {
			sess.log.Warn().Err(err).Msg("reply dropped")
		}
	}
	s.record(sess, record)
}

func (s *Server) finishSession(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.ID)
	s.mu.Unlock()

	turns := sess.store.Len()
	s.transcripts.Close(sess.ID)

	if s.opts.Ledger != nil {
		if err := s.opts.Ledger.EndSession(sess.ID, time.Now().UTC(), turns); err != nil {
			sess.log.Warn().Err(err).Msg("record session end")
		}
	}
}

func (s *Server) record(sess *Session, c storage.Completion) {
	if s.opts.Ledger == nil {
		return
	}
	if err := s.opts.Ledger.RecordCompletion(c); err != nil {
		sess.log.Warn().Err(err).Msg("record completion")
	}
}

func (s *Server) send(sess *Session, event any) error {
	payload, err := channel.Encode(event)
	if err != nil {
		return err
	}
	return s.hub.Send(sess.ID, payload)
}

func (s *Server) pendingTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		n += int(sess.pending.Load())
	}
	return n
}
