package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/notify"
	"github.com/consultly/rtc-server/internal/store/sqlite"
)

func newTestRelay(t *testing.T) (*Relay, *core.Rooms, *core.Hub) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	rooms := core.NewRooms()
	hub := core.NewHub()
	esc := notify.NewEscalator(nil, &logger)
	return NewRelay(st, rooms, hub, esc, &logger), rooms, hub
}

func join(rooms *core.Rooms, hub *core.Hub, connID, roomID string, who identity.Identity) *core.Client {
	c := core.NewClient(connID, who)
	hub.Register(c)
	rooms.GetOrCreate(roomID, core.RoomConversation, core.RoomMeta{})
	rooms.Join(connID, roomID, who)
	return c
}

func mustEvent(t *testing.T, c *core.Client, typ string) *core.Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event %q not received", typ)
			return nil
		}
	}
}

func mustNoEvent(t *testing.T, c *core.Client, typ string) {
	t.Helper()

	for {
		select {
		case ev := <-c.Events:
			if ev.Type == typ {
				t.Fatalf("unexpected event %q: %+v", typ, ev.Data)
			}
		default:
			return
		}
	}
}

func TestSendMessageScenarioAdminToProvider(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	admin := identity.Identity{Kind: identity.KindAdmin, ID: "a1", Name: "Admin"}
	provider := identity.Identity{Kind: identity.KindProvider, ID: "p123", Name: "Provider"}

	providerConn := join(rooms, hub, "pc", "admin_123", provider)
	adminConn := join(rooms, hub, "ac", "admin_123", admin)

	err := relay.SendMessage(context.Background(), adminConn, SendInput{
		ConversationID: "admin_123",
		RecipientID:    provider.ID,
		RecipientType:  string(provider.Kind),
		Content:        "Hello",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	incoming := mustEvent(t, providerConn, core.EventMessageNew)
	msg, ok := incoming.Data.(MessagePayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", incoming.Data)
	}
	if msg.SenderType != "admin" || msg.Content != "Hello" {
		t.Fatalf("unexpected message payload: %+v", msg)
	}

	// The admin's own connection receives only the sent ack.
	mustEvent(t, adminConn, core.EventMessageSent)
	mustNoEvent(t, adminConn, core.EventMessageNew)
}

func TestSendMessageMultiDeviceEchoSuppression(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	alice := identity.Identity{Kind: identity.KindCustomer, ID: "alice"}
	bob := identity.Identity{Kind: identity.KindProvider, ID: "bob"}

	phone := join(rooms, hub, "phone", "conv1", alice)
	laptop := join(rooms, hub, "laptop", "conv1", alice)
	bobConn := join(rooms, hub, "bc", "conv1", bob)

	err := relay.SendMessage(context.Background(), phone, SendInput{
		ConversationID: "conv1",
		RecipientID:    bob.ID,
		RecipientType:  string(bob.Kind),
		Content:        "hi",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}

	mustEvent(t, bobConn, core.EventMessageNew)

	// Neither of Alice's devices sees an incoming copy; exactly one
	// ack lands on the originating connection.
	mustNoEvent(t, laptop, core.EventMessageNew)
	var got []string
drain:
	for {
		select {
		case ev := <-phone.Events:
			got = append(got, ev.Type)
		default:
			break drain
		}
	}
	if len(got) != 1 || got[0] != core.EventMessageSent {
		t.Fatalf("phone should receive exactly one ack, got %v", got)
	}
}

func TestSendMessageSelfConversationRejected(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	alice := identity.Identity{Kind: identity.KindCustomer, ID: "alice"}
	conn := join(rooms, hub, "c1", "conv1", alice)

	err := relay.SendMessage(context.Background(), conn, SendInput{
		ConversationID: "conv1",
		RecipientID:    "alice",
		RecipientType:  "customer",
		Content:        "note to self",
	})
	if err == nil || core.AsError(err).Code != core.CodeUnauthorized {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestSendMessageToSupportAlwaysPermitted(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	provider := identity.Identity{Kind: identity.KindProvider, ID: "p1"}
	conn := join(rooms, hub, "c1", "conv_support", provider)

	err := relay.SendMessage(context.Background(), conn, SendInput{
		ConversationID: "conv_support",
		RecipientID:    "support",
		RecipientType:  "admin",
		Content:        "need help",
	})
	if err != nil {
		t.Fatalf("messaging support must always succeed, got %v", err)
	}
}

func TestSendMessageAnonymousRejected(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	guest := identity.Identity{Kind: identity.KindAnonymous, ID: "g1"}
	conn := join(rooms, hub, "c1", "conv1", guest)

	err := relay.SendMessage(context.Background(), conn, SendInput{
		ConversationID: "conv1",
		RecipientID:    "p1",
		RecipientType:  "provider",
		Content:        "hi",
	})
	if err == nil || core.AsError(err).Code != core.CodeUnauthorized {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestTypingNotPersistedAndExcludesSender(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	alice := identity.Identity{Kind: identity.KindCustomer, ID: "alice"}
	bob := identity.Identity{Kind: identity.KindProvider, ID: "bob"}
	aliceConn := join(rooms, hub, "ac", "conv1", alice)
	bobConn := join(rooms, hub, "bc", "conv1", bob)

	if err := relay.Typing(aliceConn, "conv1", true); err != nil {
		t.Fatalf("typing failed: %v", err)
	}

	ev := mustEvent(t, bobConn, core.EventTyping)
	payload := ev.Data.(TypingPayload)
	if !payload.Typing || payload.SenderID != "alice" {
		t.Fatalf("unexpected typing payload: %+v", payload)
	}
	mustNoEvent(t, aliceConn, core.EventTyping)
}

func TestMarkReadOnlyOnce(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	alice := identity.Identity{Kind: identity.KindCustomer, ID: "alice"}
	bob := identity.Identity{Kind: identity.KindProvider, ID: "bob"}
	aliceConn := join(rooms, hub, "ac", "conv1", alice)
	bobConn := join(rooms, hub, "bc", "conv1", bob)

	err := relay.SendMessage(context.Background(), aliceConn, SendInput{
		ConversationID: "conv1",
		RecipientID:    bob.ID,
		RecipientType:  string(bob.Kind),
		Content:        "read me",
	})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	ack := mustEvent(t, aliceConn, core.EventMessageSent).Data.(AckPayload)

	if err := relay.MarkRead(context.Background(), bobConn, "conv1", []int64{ack.MessageID}); err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	read := mustEvent(t, aliceConn, core.EventMessageRead).Data.(ReadPayload)
	if len(read.MessageIDs) != 1 || read.MessageIDs[0] != ack.MessageID {
		t.Fatalf("unexpected read payload: %+v", read)
	}

	// Second mark-read observes the already-read message and stays silent.
	if err := relay.MarkRead(context.Background(), bobConn, "conv1", []int64{ack.MessageID}); err != nil {
		t.Fatalf("second mark read failed: %v", err)
	}
	mustNoEvent(t, aliceConn, core.EventMessageRead)
}

func TestHistoryPagination(t *testing.T) {
	relay, rooms, hub := newTestRelay(t)

	alice := identity.Identity{Kind: identity.KindCustomer, ID: "alice"}
	bob := identity.Identity{Kind: identity.KindProvider, ID: "bob"}
	aliceConn := join(rooms, hub, "ac", "conv1", alice)

	for i := 0; i < 5; i++ {
		err := relay.SendMessage(context.Background(), aliceConn, SendInput{
			ConversationID: "conv1",
			RecipientID:    bob.ID,
			RecipientType:  string(bob.Kind),
			Content:        fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}

	if err := relay.History(context.Background(), aliceConn, "conv1", 1, 3); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	page := mustEvent(t, aliceConn, core.EventHistory).Data.(HistoryPayload)
	if len(page.Messages) != 3 || !page.HasMore {
		t.Fatalf("unexpected first page: %+v", page)
	}
	// Newest page, returned oldest-first.
	if page.Messages[0].Content != "msg 2" || page.Messages[2].Content != "msg 4" {
		t.Fatalf("wrong ordering: %q .. %q", page.Messages[0].Content, page.Messages[2].Content)
	}

	if err := relay.History(context.Background(), aliceConn, "conv1", 2, 3); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	page = mustEvent(t, aliceConn, core.EventHistory).Data.(HistoryPayload)
	if len(page.Messages) != 2 || page.HasMore {
		t.Fatalf("unexpected second page: %+v", page)
	}
}

func TestHistoryUnknownConversation(t *testing.T) {
	relay, _, hub := newTestRelay(t)

	conn := core.NewClient("c1", identity.Identity{Kind: identity.KindCustomer, ID: "u1"})
	hub.Register(conn)

	err := relay.History(context.Background(), conn, "ghost", 1, 10)
	if err == nil || core.AsError(err).Code != core.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
