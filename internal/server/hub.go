package server

import (
	"errors"
	"sync"

	"github.com/nexus-ai/nexus-chat/internal/channel"
)

const outboxSize = 64

var errOutboxFull = errors.New("outbox full")

// Hub tracks the outbound queue of every open connection. Replies are routed
// to the originating session only; Broadcast is reserved for process-wide
// notices such as shutdown.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]chan []byte)}
}

func (h *Hub) Subscribe(sessionID string) chan []byte {
	ch := make(chan []byte, outboxSize)
	h.mu.Lock()
	if old, ok := h.clients[sessionID]; ok {
		close(old)
	}
	h.clients[sessionID] = ch
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(sessionID string) {
	h.mu.Lock()
	if ch, ok := h.clients[sessionID]; ok {
		delete(h.clients, sessionID)
		close(ch)
	}
	h.mu.Unlock()
}

// Send queues msg for sessionID. It returns channel.ErrChannelClosed when
// the session has disconnected.
func (h *Hub) Send(sessionID string, msg []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, ok := h.clients[sessionID]
	if !ok {
		return channel.ErrChannelClosed
	}
	select {
	case ch <- msg:
		return nil
	default:
		return errOutboxFull
	}
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// CloseAll closes every outbox. Writers flush what is already queued and
// then close their connection.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	for id, ch := range h.clients {
		delete(h.clients, id)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
