package core

import (
	"sync"

	"github.com/consultly/rtc-server/internal/identity"
)

// Hub tracks live connections and delivers events to them. It is the
// presence layer: an identity is reachable while it has at least one
// registered connection.
type Hub struct {
	mu         sync.RWMutex
	conns      map[string]*Client
	byIdentity map[string]map[string]*Client
}

// NewHub creates an empty connection registry.
func NewHub() *Hub {
	return &Hub{
		conns:      make(map[string]*Client),
		byIdentity: make(map[string]map[string]*Client),
	}
}

// Register adds a connection to the registry.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.conns[c.ID] = c
	key := c.Identity.Key()
	if h.byIdentity[key] == nil {
		h.byIdentity[key] = make(map[string]*Client)
	}
	h.byIdentity[key][c.ID] = c
}

// Unregister removes a connection from the registry.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c.ID)
	key := c.Identity.Key()
	if set := h.byIdentity[key]; set != nil {
		delete(set, c.ID)
		if len(set) == 0 {
			delete(h.byIdentity, key)
		}
	}
}

// Reachable reports whether the identity has at least one live connection.
func (h *Hub) Reachable(who identity.Identity) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byIdentity[who.Key()]) > 0
}

// SendToConn delivers an event to a single connection if it is live.
func (h *Hub) SendToConn(connID string, ev *Event) {
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c != nil {
		c.Send(ev)
	}
}

// SendToIdentity delivers an event to every connection of an identity,
// covering all of its devices. This is the personal/presence channel.
func (h *Hub) SendToIdentity(who identity.Identity, ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.byIdentity[who.Key()] {
		c.Send(ev)
	}
}

// SendToConns delivers an event to the listed connections, skipping
// every connection that belongs to the excluded identity. Exclusion is
// by identity, not by connection, so a sender with several devices in
// the room never sees an echo on any of them.
func (h *Hub) SendToConns(connIDs []string, ev *Event, except identity.Identity) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		c := h.conns[id]
		if c == nil || c.Identity.Same(except) {
			continue
		}
		c.Send(ev)
	}
}

// Broadcast delivers an event to every listed connection.
func (h *Hub) Broadcast(connIDs []string, ev *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		if c := h.conns[id]; c != nil {
			c.Send(ev)
		}
	}
}
