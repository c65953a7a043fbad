package core

import "github.com/consultly/rtc-server/internal/identity"

// Client is one live connection. An actor with several devices holds
// several clients sharing one Identity.
type Client struct {
	ID       string
	Identity identity.Identity
	Events   chan *Event
}

// NewClient constructs a client with a buffered event channel.
func NewClient(id string, who identity.Identity) *Client {
	return &Client{
		ID:       id,
		Identity: who,
		Events:   make(chan *Event, 32),
	}
}

// Send queues an event for the client, dropping it if the consumer is
// too slow to keep up. Delivery never blocks a handler.
func (c *Client) Send(ev *Event) {
	select {
	case c.Events <- ev:
	default:
	}
}
