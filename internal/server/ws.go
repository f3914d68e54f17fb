package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nexus-ai/nexus-chat/internal/channel"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
)

func (s *Server) registerWSRoute(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("origin", r.Header.Get("Origin")).Msg("ws upgrade error")
			return
		}

		sess := s.openSession(r.RemoteAddr)
		outbox := s.hub.Subscribe(sess.ID)
		if err := s.send(sess, channel.Connected(sess.ID)); err != nil {
			sess.log.Debug().Err(err).Msg("connection event not queued")
		}

		go writePump(conn, outbox, sess.log)
		s.readPump(conn, sess)
		s.closeSession(sess)
	})
}

// checkOrigin allows requests without an Origin header (non-browser clients)
// and browser requests whose origin is listed. An empty list allows all.
func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

func (s *Server) readPump(conn *websocket.Conn, sess *Session) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				sess.log.Debug().Err(err).Msg("ws read")
			}
			return
		}

		event, err := channel.Decode(data)
		if err != nil {
			sess.log.Warn().Err(err).Msg("ignoring frame")
			continue
		}

		switch e := event.(type) {
		case *channel.SubmitUserTurnEvent:
			s.enqueue(sess, e.Text)
		default:
			sess.log.Debug().Msgf("ignoring client event %T", e)
		}
	}
}

// writePump is the only writer on conn. It exits when outbox is closed,
// after flushing what was already queued.
func writePump(conn *websocket.Conn, outbox <-chan []byte, log zerolog.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-outbox:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug().Err(err).Msg("ws write")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
