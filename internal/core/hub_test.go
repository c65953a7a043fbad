package core

import (
	"testing"

	"github.com/consultly/rtc-server/internal/identity"
)

func drain(c *Client) []*Event {
	var events []*Event
	for {
		select {
		case ev := <-c.Events:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestHubSendToConnsExcludesEveryConnectionOfIdentity(t *testing.T) {
	hub := NewHub()
	alice := ident(identity.KindCustomer, "alice")

	// Alice holds two devices in the same room.
	phone := NewClient("phone", alice)
	laptop := NewClient("laptop", alice)
	bob := NewClient("bobconn", ident(identity.KindProvider, "bob"))

	hub.Register(phone)
	hub.Register(laptop)
	hub.Register(bob)

	hub.SendToConns([]string{"phone", "laptop", "bobconn"}, &Event{Type: EventMessageNew}, alice)

	if got := drain(phone); len(got) != 0 {
		t.Fatalf("phone must not receive an echo, got %d events", len(got))
	}
	if got := drain(laptop); len(got) != 0 {
		t.Fatalf("laptop must not receive an echo, got %d events", len(got))
	}
	if got := drain(bob); len(got) != 1 {
		t.Fatalf("bob should receive exactly one event, got %d", len(got))
	}
}

func TestHubSendToIdentityReachesAllDevices(t *testing.T) {
	hub := NewHub()
	alice := ident(identity.KindCustomer, "alice")

	phone := NewClient("phone", alice)
	laptop := NewClient("laptop", alice)
	hub.Register(phone)
	hub.Register(laptop)

	hub.SendToIdentity(alice, &Event{Type: EventMessagePreview})

	if len(drain(phone)) != 1 || len(drain(laptop)) != 1 {
		t.Fatal("both devices should receive the presence event")
	}
}

func TestHubReachability(t *testing.T) {
	hub := NewHub()
	alice := ident(identity.KindCustomer, "alice")

	c := NewClient("c1", alice)
	hub.Register(c)
	if !hub.Reachable(alice) {
		t.Fatal("alice should be reachable while connected")
	}

	hub.Unregister(c)
	if hub.Reachable(alice) {
		t.Fatal("alice should be unreachable after disconnect")
	}
}

func TestClientSendDropsWhenSlow(t *testing.T) {
	c := NewClient("c1", ident(identity.KindCustomer, "u1"))

	// Overfill the buffer; Send must never block.
	for i := 0; i < cap(c.Events)+10; i++ {
		c.Send(&Event{Type: EventMessageNew})
	}
	if len(c.Events) != cap(c.Events) {
		t.Fatalf("expected full buffer, got %d", len(c.Events))
	}
}
