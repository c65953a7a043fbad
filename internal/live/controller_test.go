package live

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/store/sqlite"
)

func newTestController(t *testing.T, opts ...Option) (*Controller, *core.Rooms, *core.Hub) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	rooms := core.NewRooms()
	hub := core.NewHub()
	return NewController(st, rooms, hub, &logger, opts...), rooms, hub
}

func connect(hub *core.Hub, connID string, who identity.Identity) *core.Client {
	c := core.NewClient(connID, who)
	hub.Register(c)
	return c
}

func lastViewerCount(t *testing.T, c *core.Client) int {
	t.Helper()

	count := -1
	for {
		select {
		case ev := <-c.Events:
			if ev.Type == core.EventLiveViewerCount {
				count = ev.Data.(ViewerCountPayload).Count
			}
		default:
			if count < 0 {
				t.Fatal("no viewer count event received")
			}
			return count
		}
	}
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

var (
	broadcaster = identity.Identity{Kind: identity.KindProvider, ID: "host", Name: "Host"}
	viewerA     = identity.Identity{Kind: identity.KindCustomer, ID: "va"}
	viewerB     = identity.Identity{Kind: identity.KindCustomer, ID: "vb"}
)

func startStream(t *testing.T, ctl *Controller, hub *core.Hub, streamID string) *core.Client {
	t.Helper()

	host := connect(hub, "host-conn", broadcaster)
	if err := ctl.Join(host, streamID, true); err != nil {
		t.Fatalf("broadcaster join failed: %v", err)
	}
	return host
}

func TestViewerCountExcludesBroadcaster(t *testing.T) {
	ctl, _, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")

	if got := lastViewerCount(t, host); got != 0 {
		t.Fatalf("viewer count with only broadcaster = %d, want 0", got)
	}

	a := connect(hub, "a", viewerA)
	b := connect(hub, "b", viewerB)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("viewer join failed: %v", err)
	}
	if err := ctl.Join(b, "s1", false); err != nil {
		t.Fatalf("viewer join failed: %v", err)
	}
	if got := lastViewerCount(t, host); got != 2 {
		t.Fatalf("viewer count = %d, want 2", got)
	}

	if err := ctl.Leave(a, "s1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if got := lastViewerCount(t, host); got != 1 {
		t.Fatalf("viewer count after leave = %d, want 1", got)
	}
}

func TestViewerJoinUnknownStream(t *testing.T) {
	ctl, _, hub := newTestController(t)
	a := connect(hub, "a", viewerA)

	err := ctl.Join(a, "ghost", false)
	if err == nil || core.AsError(err).Code != core.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStreamSurvivesEmpty(t *testing.T) {
	ctl, rooms, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")

	if err := ctl.Leave(host, "s1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if _, ok := rooms.Get("s1"); !ok {
		t.Fatal("live room must persist while empty")
	}

	// The broadcaster reconnects into the still-existing stream.
	back := connect(hub, "host-conn-2", broadcaster)
	if err := ctl.Join(back, "s1", true); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
}

func TestCommentRateLimit(t *testing.T) {
	ctl, _, hub := newTestController(t, WithCommentLimit(3, time.Minute))
	startStream(t, ctl, hub, "s1")
	a := connect(hub, "a", viewerA)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := ctl.Comment(context.Background(), a, "s1", "hello"); err != nil {
			t.Fatalf("comment %d failed: %v", i, err)
		}
	}
	err := ctl.Comment(context.Background(), a, "s1", "one too many")
	if err == nil || core.AsError(err).Code != core.CodeRateLimited {
		t.Fatalf("expected rate limit on fourth comment, got %v", err)
	}

	// Another identity still has its own budget.
	b := connect(hub, "b", viewerB)
	if err := ctl.Join(b, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := ctl.Comment(context.Background(), b, "s1", "hi"); err != nil {
		t.Fatalf("other viewer's comment failed: %v", err)
	}
}

func TestCommentSanitization(t *testing.T) {
	ctl, _, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")
	a := connect(hub, "a", viewerA)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := ctl.Comment(context.Background(), a, "s1", "  <b>bold</b> text  "); err != nil {
		t.Fatalf("comment failed: %v", err)
	}
	ev := mustEvent(t, host, core.EventLiveComment)
	if got := ev.Data.(CommentPayload).Message; got != "bold text" {
		t.Fatalf("sanitized message = %q, want %q", got, "bold text")
	}

	// Empty after sanitization: silently dropped, nothing broadcast.
	if err := ctl.Comment(context.Background(), a, "s1", "<script></script>"); err != nil {
		t.Fatalf("empty comment must not error: %v", err)
	}
	for {
		select {
		case ev := <-host.Events:
			if ev.Type == core.EventLiveComment {
				t.Fatal("empty comment was broadcast")
			}
		default:
			return
		}
	}
}

func TestLikeIdempotence(t *testing.T) {
	ctl, _, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")

	// Same identity on two devices.
	phone := connect(hub, "phone", viewerA)
	laptop := connect(hub, "laptop", viewerA)
	for _, c := range []*core.Client{phone, laptop} {
		if err := ctl.Join(c, "s1", false); err != nil {
			t.Fatalf("join failed: %v", err)
		}
	}

	if err := ctl.Like(phone, "s1"); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	ev := mustEvent(t, host, core.EventLiveLikeCount)
	if got := ev.Data.(LikeCountPayload).Count; got != 1 {
		t.Fatalf("like count = %d, want 1", got)
	}

	// A second like from the same identity, even another device, is a
	// conflict and does not change the aggregate.
	err := ctl.Like(laptop, "s1")
	if err == nil || core.AsError(err).Code != core.CodeConflict {
		t.Fatalf("expected conflict on duplicate like, got %v", err)
	}

	if err := ctl.Unlike(phone, "s1"); err != nil {
		t.Fatalf("unlike failed: %v", err)
	}
	ev = mustEvent(t, host, core.EventLiveLikeCount)
	if got := ev.Data.(LikeCountPayload).Count; got != 0 {
		t.Fatalf("like count after unlike = %d, want 0", got)
	}

	// Unlike without a like is a silent no-op.
	if err := ctl.Unlike(phone, "s1"); err != nil {
		t.Fatalf("redundant unlike must not error: %v", err)
	}
}

func TestLikeSurvivesRejoin(t *testing.T) {
	ctl, _, hub := newTestController(t)
	startStream(t, ctl, hub, "s1")

	a := connect(hub, "a", viewerA)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := ctl.Like(a, "s1"); err != nil {
		t.Fatalf("like failed: %v", err)
	}
	if err := ctl.Leave(a, "s1"); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	// The like is keyed by identity, not connection, so a rejoin sees
	// the prior like still counted and still held.
	back := connect(hub, "a2", viewerA)
	if err := ctl.Join(back, "s1", false); err != nil {
		t.Fatalf("rejoin failed: %v", err)
	}
	ev := mustEvent(t, back, core.EventLiveLikeCount)
	if got := ev.Data.(LikeCountPayload).Count; got != 1 {
		t.Fatalf("like count after rejoin = %d, want 1", got)
	}
	err := ctl.Like(back, "s1")
	if err == nil || core.AsError(err).Code != core.CodeConflict {
		t.Fatalf("prior like must still block a duplicate, got %v", err)
	}
}

func TestGiftBroadcastsDistinctEvent(t *testing.T) {
	ctl, _, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")
	a := connect(hub, "a", viewerA)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := ctl.Gift(context.Background(), a, "s1", "", "rose", 5); err != nil {
		t.Fatalf("gift failed: %v", err)
	}
	ev := mustEvent(t, host, core.EventLiveGift)
	gift := ev.Data.(CommentPayload)
	if !gift.IsGift || gift.GiftType != "rose" || gift.GiftValue != 5 {
		t.Fatalf("unexpected gift payload: %+v", gift)
	}

	err := ctl.Gift(context.Background(), a, "s1", "", "", 0)
	if err == nil || core.AsError(err).Code != core.CodeValidation {
		t.Fatalf("gift without type must fail validation, got %v", err)
	}
}

func TestEndBroadcasterOnly(t *testing.T) {
	ctl, rooms, hub := newTestController(t)
	host := startStream(t, ctl, hub, "s1")
	a := connect(hub, "a", viewerA)
	if err := ctl.Join(a, "s1", false); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	err := ctl.End(a, "s1")
	if err == nil || core.AsError(err).Code != core.CodeUnauthorized {
		t.Fatalf("viewer must not end the stream, got %v", err)
	}

	if err := ctl.End(host, "s1"); err != nil {
		t.Fatalf("broadcaster end failed: %v", err)
	}
	mustEvent(t, a, core.EventLiveEnded)
	if _, ok := rooms.Get("s1"); ok {
		t.Fatal("room must be deleted when the stream ends")
	}
	if got := ctl.likes.count("s1"); got != 0 {
		t.Fatalf("like set must be dropped with the stream, count = %d", got)
	}
}

func TestCommentFromNonParticipant(t *testing.T) {
	ctl, _, hub := newTestController(t)
	startStream(t, ctl, hub, "s1")
	outsider := connect(hub, "o", viewerA)

	err := ctl.Comment(context.Background(), outsider, "s1", "hi")
	if err == nil || core.AsError(err).Code != core.CodeUnauthorized {
		t.Fatalf("expected authorization error, got %v", err)
	}
}
