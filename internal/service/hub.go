package service

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/crewtalk-io/crewtalk-api/internal/dto"
	"github.com/crewtalk-io/crewtalk-api/internal/observability"
)

const clientSendBufferSize = 32

// Client is one live websocket connection bound to an authenticated user. All of
// a user's simultaneously open connections share the same hub key, so a push
// addressed to the user reaches every tab once.
type Client struct {
	UserID string
	send   chan dto.EventEnvelope
	closed chan struct{}
	once   sync.Once
}

// NewClient allocates the send queue for one connection.
func NewClient(userID string) *Client {
	return &Client{
		UserID: userID,
		send:   make(chan dto.EventEnvelope, clientSendBufferSize),
		closed: make(chan struct{}),
	}
}

// Outbox exposes the send queue to the connection writer loop.
func (c *Client) Outbox() <-chan dto.EventEnvelope {
	return c.send
}

// Closed is closed once the connection goes away.
func (c *Client) Closed() <-chan struct{} {
	return c.closed
}

// Push enqueues an envelope, dropping it when the consumer is too slow.
func (c *Client) Push(envelope dto.EventEnvelope) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- envelope:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

// Hub is the per-user delivery channel registry. It is keyed by user id, not by
// room: room fan-out resolves member ids from the store and addresses users here,
// so the sender never needs transport-level socket identities.
type Hub struct {
	mu    sync.RWMutex
	users map[string]map[*Client]struct{}
	log   zerolog.Logger
}

// NewHub creates an empty connection registry.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		users: make(map[string]map[*Client]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}
}

// Register subscribes a connection to its user's private channel.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.users[client.UserID]; !exists {
		h.users[client.UserID] = make(map[*Client]struct{})
	}
	h.users[client.UserID][client] = struct{}{}

	observability.ChatConnectionsActive().Inc()
	h.log.Debug().Str("user_id", client.UserID).Msg("chat client connected")
}

// Unregister detaches a connection and closes its send queue semantics.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.users[client.UserID]; ok {
		if _, registered := clients[client]; !registered {
			return
		}
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.users, client.UserID)
		}
		client.close()
		observability.ChatConnectionsActive().Dec()
		h.log.Debug().Str("user_id", client.UserID).Msg("chat client disconnected")
	}
}

// PushToUser delivers an envelope to every connection of one user. Returns the
// number of connections the envelope was enqueued to.
func (h *Hub) PushToUser(userID string, envelope dto.EventEnvelope) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.users[userID] {
		if client.Push(envelope) {
			delivered++
		} else {
			h.log.Warn().Str("user_id", userID).Str("event", envelope.Event).Msg("dropping chat event for slow client")
		}
	}
	return delivered
}

// BroadcastExcept delivers an envelope to every registered connection except the
// given one; presence announcements use it to reach "all other connections".
func (h *Hub) BroadcastExcept(except *Client, envelope dto.EventEnvelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.users {
		for client := range clients {
			if client == except {
				continue
			}
			if !client.Push(envelope) {
				h.log.Warn().Str("user_id", client.UserID).Str("event", envelope.Event).Msg("dropping chat event for slow client")
			}
		}
	}
}

// ConnectionCount reports how many connections a user currently has.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}
