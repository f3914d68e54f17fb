package client

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexus-ai/nexus-chat/internal/channel"
)

const (
	handshakeTimeout  = 10 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	maxMessageSize    = 64 * 1024
	outboxSize        = 16
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 10 * time.Second
)

var errOutboxFull = errors.New("client outbox full")

// connectLoop keeps one connection open at a time, redialing with capped
// exponential backoff until ctx ends.
func (c *Client) connectLoop(ctx context.Context) {
	defer close(c.done)

	backoff := c.opts.MinBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, c.opts.Header)
		if err == nil {
			backoff = c.opts.MinBackoff
			c.serve(ctx, conn)
		} else if ctx.Err() == nil {
			c.log.Debug().Err(err).Dur("retry_in", backoff).Msg("dial failed")
		}

		if !sleepCtx(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff, c.opts.MaxBackoff)
	}
}

func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	out := make(chan []byte, outboxSize)
	c.attach(out)
	c.log.Info().Str("url", c.opts.URL).Msg("connected")

	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(conn, out, stop)
	}()

	c.readPump(conn)

	c.detach()
	close(stop)
	<-writerDone
	conn.Close()
	c.log.Info().Msg("disconnected")
}

func (c *Client) attach(out chan []byte) {
	c.connMu.Lock()
	c.out = out
	c.connMu.Unlock()

	c.connected.Store(true)
	c.loop.Post(c.onConnect)
}

func (c *Client) detach() {
	c.connMu.Lock()
	c.out = nil
	c.connMu.Unlock()

	c.connected.Store(false)
	c.sessionID.Store("")
	c.loop.Post(c.update)
}

// send queues an event for the current connection. Without one it fails with
// channel.ErrChannelClosed; delivery is at most once.
func (c *Client) send(event any) error {
	payload, err := channel.Encode(event)
	if err != nil {
		return err
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.out == nil {
		return channel.ErrChannelClosed
	}
	select {
	case c.out <- payload:
		return nil
	default:
		return errOutboxFull
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		event, err := channel.Decode(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping server event")
			continue
		}

		switch e := event.(type) {
		case *channel.DeliverAssistantTurnEvent:
			c.loop.Post(func() { c.onDelivered(e.Text) })
		case *channel.AssistantTurnFailedEvent:
			c.loop.Post(func() { c.onFailed(e.Kind, e.Reason) })
		case *channel.ConnectionEvent:
			c.sessionID.Store(e.SessionID)
			c.log.Debug().Str("session_id", e.SessionID).Msg("session opened")
		case *channel.ServerShutdownEvent:
			c.log.Info().Msg("server shutting down")
		default:
			c.log.Debug().Msgf("ignoring server event %T", e)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, out <-chan []byte, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				conn.Close()
				return
			}
		}
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
