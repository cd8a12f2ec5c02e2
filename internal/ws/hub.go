package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/lunaria-live/lunaria/internal/model"
)

// Availability receives provider connection and availability changes.
// Implemented by session.Presence.
type Availability interface {
	SetOnline(ctx context.Context, providerID string, online bool) error
	SetAvailability(ctx context.Context, providerID string, available bool) error
}

// ─────────────────────────────────────────────
// Hub: manages all connected providers
// ─────────────────────────────────────────────

// Hub maintains the set of connected provider sockets and pushes session
// and gift notices to them. It is the session package's Notifier.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client // accountID → Client
	presence Availability
}

// NewHub creates a new Hub.
func NewHub(presence Availability) *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		presence: presence,
	}
}

// Register adds a provider connection and marks the provider online. A
// reconnect replaces the previous socket.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	old := h.clients[c.AccountID]
	h.clients[c.AccountID] = c
	h.mu.Unlock()
	if old != nil {
		close(old.send)
	}

	// Background context: presence must flip even when the request
	// context is already gone.
	if err := h.presence.SetOnline(context.Background(), c.AccountID, true); err != nil {
		log.Printf("[hub] provider %s: set online: %v", c.AccountID, err)
	}
	log.Printf("[hub] provider %s connected (total: %d)", c.AccountID, h.ClientCount())
}

// Unregister removes a provider connection and marks the provider
// offline, unless a newer socket already took its place.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.AccountID] == c
	if current {
		delete(h.clients, c.AccountID)
	}
	h.mu.Unlock()
	if !current {
		return
	}

	if err := h.presence.SetOnline(context.Background(), c.AccountID, false); err != nil {
		log.Printf("[hub] provider %s: set offline: %v", c.AccountID, err)
	}
	log.Printf("[hub] provider %s disconnected (total: %d)", c.AccountID, h.ClientCount())
}

// ClientCount returns the number of connected providers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// NotifyProvider pushes one protocol frame to a provider. Frames for
// offline providers are dropped.
func (h *Hub) NotifyProvider(providerID string, env model.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("[hub] marshal %s: %v", env.Type, err)
		return
	}

	h.mu.RLock()
	c, ok := h.clients[providerID]
	h.mu.RUnlock()
	if !ok {
		log.Printf("[hub] provider %s offline, dropping %s", providerID, env.Type)
		return
	}

	select {
	case c.send <- data:
	default:
		log.Printf("[hub] send buffer full for provider %s, dropping %s", providerID, env.Type)
	}
}

// HandleSetAvailability processes a SET_AVAILABILITY request from a
// provider socket.
func (h *Hub) HandleSetAvailability(ctx context.Context, c *Client, req *model.AvailabilityUpdate) {
	if err := h.presence.SetAvailability(ctx, c.AccountID, req.Available); err != nil {
		log.Printf("[hub] provider %s: set availability %v refused: %v", c.AccountID, req.Available, err)
		return
	}
	log.Printf("[hub] provider %s availability=%v", c.AccountID, req.Available)
}
