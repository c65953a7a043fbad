// Package live is the broadcast controller: one room per stream, a
// broadcaster plus any number of viewers, layered with rate-limited
// comments, gifts and idempotent likes.
package live

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/store"
)

const (
	// DefaultCommentLimit allows this many comments per identity per
	// rolling window.
	DefaultCommentLimit = 3
	// DefaultCommentWindow is the rolling rate-limit window.
	DefaultCommentWindow = 10 * time.Second
	// defaultJanitorInterval paces ledger garbage collection.
	defaultJanitorInterval = time.Minute
)

// Controller owns live-stream state: like sets and the comment
// rate-limit ledger, layered over the generic room registry.
type Controller struct {
	store store.StreamStore
	rooms *core.Rooms
	hub   *core.Hub
	log   *zerolog.Logger

	likes   *likeSet
	limiter *limiter

	idleTTL time.Duration
}

// Option tweaks controller construction.
type Option func(*Controller)

// WithCommentLimit overrides the comment rate limit.
func WithCommentLimit(max int, window time.Duration) Option {
	return func(c *Controller) {
		c.limiter = newLimiter(max, window)
	}
}

// WithIdleTTL enables the idle-stream reaper: live rooms empty for
// longer than ttl are deleted. Zero disables reaping.
func WithIdleTTL(ttl time.Duration) Option {
	return func(c *Controller) {
		c.idleTTL = ttl
	}
}

// NewController builds a live broadcast controller.
func NewController(st store.StreamStore, rooms *core.Rooms, hub *core.Hub, logger *zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		store:   st,
		rooms:   rooms,
		hub:     hub,
		log:     logger,
		likes:   newLikeSet(),
		limiter: newLimiter(DefaultCommentLimit, DefaultCommentWindow),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the background janitors: rate-limit ledger GC and,
// when configured, the idle-stream reaper.
func (c *Controller) Start(ctx context.Context) {
	c.limiter.startJanitor(ctx, defaultJanitorInterval)
	if c.idleTTL > 0 {
		go c.reapIdle(ctx)
	}
}

// ViewerCountPayload carries the recomputed viewer count.
type ViewerCountPayload struct {
	StreamID string `json:"stream_id"`
	Count    int    `json:"count"`
}

// CommentPayload is a broadcast comment or gift.
type CommentPayload struct {
	StreamID   string `json:"stream_id"`
	SenderID   string `json:"sender_id"`
	SenderType string `json:"sender_type"`
	SenderName string `json:"sender_name,omitempty"`
	Message    string `json:"message"`
	IsGift     bool   `json:"is_gift,omitempty"`
	GiftType   string `json:"gift_type,omitempty"`
	GiftValue  int64  `json:"gift_value,omitempty"`
	At         int64  `json:"at"`
}

// LikeCountPayload carries the aggregate like count.
type LikeCountPayload struct {
	StreamID string `json:"stream_id"`
	Count    int    `json:"count"`
}

// EndedPayload announces the terminal stream event.
type EndedPayload struct {
	StreamID string `json:"stream_id"`
}

// Join adds a connection to the stream. A broadcaster creates the room;
// a viewer joining an unknown stream is rejected. The joiner is
// immediately sent the current like aggregate, and the viewer count is
// recomputed and broadcast.
func (c *Controller) Join(cl *core.Client, streamID string, isBroadcaster bool) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}

	if isBroadcaster {
		c.rooms.GetOrCreate(streamID, core.RoomLive, core.RoomMeta{
			Broadcaster: cl.Identity,
			StartedAt:   time.Now(),
		})
	} else if _, ok := c.rooms.Get(streamID); !ok {
		return core.NotFound("unknown stream")
	}

	c.rooms.Join(cl.ID, streamID, cl.Identity)

	// The joiner need not wait for the next toggle to learn the
	// aggregate.
	cl.Send(&core.Event{
		Type: core.EventLiveLikeCount,
		Room: streamID,
		Data: LikeCountPayload{StreamID: streamID, Count: c.likes.count(streamID)},
	})

	c.BroadcastViewerCount(streamID)
	return nil
}

// Leave removes the connection from the stream and recomputes the
// viewer count.
func (c *Controller) Leave(cl *core.Client, streamID string) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}
	if _, was := c.rooms.Leave(cl.ID, streamID); !was {
		return nil
	}
	c.BroadcastViewerCount(streamID)
	return nil
}

// Comment sanitizes, rate-limits, persists and broadcasts a comment.
// Empty-after-sanitization is dropped silently; a rate-limit violation
// is an error to the sender only.
func (c *Controller) Comment(ctx context.Context, cl *core.Client, streamID, message string) error {
	return c.publish(ctx, cl, streamID, message, false, "", 0)
}

// Gift reuses the comment path with gift metadata and a distinct
// broadcast event type.
func (c *Controller) Gift(ctx context.Context, cl *core.Client, streamID, message, giftType string, giftValue int64) error {
	if giftType == "" {
		return core.Validation("gift type is required")
	}
	return c.publish(ctx, cl, streamID, message, true, giftType, giftValue)
}

func (c *Controller) publish(ctx context.Context, cl *core.Client, streamID, message string, isGift bool, giftType string, giftValue int64) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}
	if !c.rooms.IsParticipant(cl.ID, streamID) {
		return core.Unauthorized("not a participant in this stream")
	}

	body := sanitizeComment(message)
	if body == "" && !isGift {
		// Nothing survived sanitization; drop without error.
		return nil
	}

	if !c.limiter.allow(cl.Identity.Key(), time.Now()) {
		return core.RateLimited("too many comments, slow down")
	}

	comment := &store.StreamComment{
		StreamID:   streamID,
		SenderID:   cl.Identity.ID,
		SenderType: string(cl.Identity.Kind),
		SenderName: cl.Identity.Name,
		Body:       body,
		IsGift:     isGift,
		GiftType:   giftType,
		GiftValue:  giftValue,
		CreatedAt:  time.Now(),
	}
	if err := c.store.SaveStreamComment(ctx, comment); err != nil {
		return core.Upstream("comment could not be saved", err)
	}

	eventType := core.EventLiveComment
	if isGift {
		eventType = core.EventLiveGift
	}
	c.hub.Broadcast(c.rooms.ConnIDs(streamID), &core.Event{
		Type: eventType,
		Room: streamID,
		Data: CommentPayload{
			StreamID:   streamID,
			SenderID:   comment.SenderID,
			SenderType: comment.SenderType,
			SenderName: comment.SenderName,
			Message:    body,
			IsGift:     isGift,
			GiftType:   giftType,
			GiftValue:  giftValue,
			At:         comment.CreatedAt.Unix(),
		},
	})
	return nil
}

// Like records a like for the identity. Duplicates and non-participants
// are rejected; every successful toggle re-broadcasts the aggregate.
func (c *Controller) Like(cl *core.Client, streamID string) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}
	if !c.rooms.IsParticipant(cl.ID, streamID) {
		return core.Unauthorized("not a participant in this stream")
	}
	if !c.likes.add(streamID, cl.Identity.Key()) {
		return core.Conflict("already liked")
	}
	c.broadcastLikeCount(streamID)
	return nil
}

// Unlike removes the identity's like. Unliking without a prior like is
// a silent no-op; non-participants are rejected.
func (c *Controller) Unlike(cl *core.Client, streamID string) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}
	if !c.rooms.IsParticipant(cl.ID, streamID) {
		return core.Unauthorized("not a participant in this stream")
	}
	if !c.likes.remove(streamID, cl.Identity.Key()) {
		return nil
	}
	c.broadcastLikeCount(streamID)
	return nil
}

// End terminates the stream. Only the identity recorded as broadcaster
// at room creation may end it; the room and its like set are deleted
// regardless of remaining viewers.
func (c *Controller) End(cl *core.Client, streamID string) error {
	if streamID == "" {
		return core.Validation("stream id is required")
	}
	info, ok := c.rooms.Get(streamID)
	if !ok {
		return core.NotFound("unknown stream")
	}
	if !info.Broadcaster.Same(cl.Identity) {
		return core.Unauthorized("only the broadcaster may end the stream")
	}

	c.hub.Broadcast(c.rooms.ConnIDs(streamID), &core.Event{
		Type: core.EventLiveEnded,
		Room: streamID,
		Data: EndedPayload{StreamID: streamID},
	})

	c.rooms.Delete(streamID)
	c.likes.drop(streamID)

	c.log.Info().Str("stream_id", streamID).Msg("stream ended")
	return nil
}

// BroadcastViewerCount recomputes and broadcasts the viewer count.
// Called on every join, leave and disconnect affecting the stream.
func (c *Controller) BroadcastViewerCount(streamID string) {
	info, ok := c.rooms.Get(streamID)
	if !ok {
		return
	}
	c.hub.Broadcast(c.rooms.ConnIDs(streamID), &core.Event{
		Type: core.EventLiveViewerCount,
		Room: streamID,
		Data: ViewerCountPayload{StreamID: streamID, Count: c.viewerCount(streamID, info)},
	})
}

// viewerCount excludes the broadcaster from the participant count.
func (c *Controller) viewerCount(streamID string, info core.RoomInfo) int {
	count := 0
	for _, p := range c.rooms.Participants(streamID) {
		if p.Identity.Same(info.Broadcaster) {
			continue
		}
		count++
	}
	return count
}

// reapIdle deletes live rooms that have sat empty longer than the TTL.
func (c *Controller) reapIdle(ctx context.Context) {
	ticker := time.NewTicker(c.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, id := range c.rooms.IdleLiveRooms(time.Now().Add(-c.idleTTL)) {
				c.rooms.Delete(id)
				c.likes.drop(id)
				c.log.Info().Str("stream_id", id).Msg("idle stream reaped")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Controller) broadcastLikeCount(streamID string) {
	c.hub.Broadcast(c.rooms.ConnIDs(streamID), &core.Event{
		Type: core.EventLiveLikeCount,
		Room: streamID,
		Data: LikeCountPayload{StreamID: streamID, Count: c.likes.count(streamID)},
	})
}
