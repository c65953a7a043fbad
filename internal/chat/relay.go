// Package chat is the direct conversation relay: it mediates 1:1
// messaging among customers, providers and support, persisting every
// message and guaranteeing a sender never receives an echo of its own
// message on any of its devices.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/notify"
	"github.com/consultly/rtc-server/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	previewLength       = 120
)

// Store is the persistence surface the relay consumes.
type Store interface {
	store.ConversationStore
	store.MessageStore
}

// Relay coordinates conversation rooms, persistence and fan-out.
type Relay struct {
	store Store
	rooms *core.Rooms
	hub   *core.Hub
	esc   *notify.Escalator
	log   *zerolog.Logger
}

// NewRelay builds a conversation relay.
func NewRelay(st Store, rooms *core.Rooms, hub *core.Hub, esc *notify.Escalator, logger *zerolog.Logger) *Relay {
	return &Relay{store: st, rooms: rooms, hub: hub, esc: esc, log: logger}
}

// SendInput is one send-message request.
type SendInput struct {
	ConversationID string
	RecipientID    string
	RecipientType  string
	Content        string
	Type           store.MessageType
	MediaURL       string
}

// MessagePayload is the wire shape of a delivered message.
type MessagePayload struct {
	ID             int64  `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderType     string `json:"sender_type"`
	SenderName     string `json:"sender_name,omitempty"`
	Content        string `json:"content"`
	Type           string `json:"type"`
	MediaURL       string `json:"media_url,omitempty"`
	Status         string `json:"status"`
	SentAt         int64  `json:"sent_at"`
}

// AckPayload confirms persistence to the originating connection only.
type AckPayload struct {
	MessageID      int64  `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	SentAt         int64  `json:"sent_at"`
}

// PreviewPayload is the best-effort presence-channel preview for
// recipients not currently in the room.
type PreviewPayload struct {
	ConversationID string `json:"conversation_id"`
	Preview        string `json:"preview"`
	SenderKey      string `json:"sender_key"`
	SenderName     string `json:"sender_name,omitempty"`
	At             int64  `json:"at"`
}

// TypingPayload is a transient typing indicator; never persisted.
type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderType     string `json:"sender_type"`
	Typing         bool   `json:"typing"`
}

// ReadPayload announces read receipts to the room.
type ReadPayload struct {
	ConversationID string  `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
	ReaderID       string  `json:"reader_id"`
	ReaderType     string  `json:"reader_type"`
	At             int64   `json:"at"`
}

// HistoryPayload is one page of messages, oldest-first.
type HistoryPayload struct {
	ConversationID string           `json:"conversation_id"`
	Page           int              `json:"page"`
	Limit          int              `json:"limit"`
	HasMore        bool             `json:"has_more"`
	Messages       []MessagePayload `json:"messages"`
}

// SendMessage validates, persists and fans out one message. A
// persistence failure aborts before any fan-out; validation failures
// are reported to the sender with no side effects.
func (r *Relay) SendMessage(ctx context.Context, c *core.Client, in SendInput) error {
	sender := c.Identity
	if sender.IsAnonymous() {
		return core.Unauthorized("anonymous connections cannot send messages")
	}
	if in.ConversationID == "" {
		return core.Validation("conversation id is required")
	}
	if in.Content == "" && in.MediaURL == "" {
		return core.Validation("message content is required")
	}
	if in.RecipientID == "" || in.RecipientType == "" {
		return core.Validation("recipient is required")
	}
	msgType := in.Type
	if msgType == "" {
		msgType = store.MessageText
	}

	recipient := identity.Identity{Kind: identity.Kind(in.RecipientType), ID: in.RecipientID}
	if recipient.IsSupport() {
		recipient = identity.Support()
	}

	// Self-messaging is blocked, except toward the support singleton.
	if sender.Same(recipient) && !(recipient.IsSupport() && !sender.IsSupport()) {
		return core.Unauthorized("cannot start a conversation with yourself")
	}

	if err := r.ensureConversation(ctx, in.ConversationID, sender, recipient); err != nil {
		return err
	}

	msg := &store.Message{
		ConversationID: in.ConversationID,
		SenderID:       sender.ID,
		SenderType:     string(sender.Kind),
		SenderName:     sender.Name,
		RecipientID:    recipient.ID,
		RecipientType:  string(recipient.Kind),
		Content:        in.Content,
		Type:           msgType,
		MediaURL:       in.MediaURL,
		Status:         store.MessageSent,
		SentAt:         time.Now(),
	}
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		return core.Upstream("message could not be saved", err)
	}

	preview := msg.Content
	if len(preview) > previewLength {
		preview = preview[:previewLength]
	}
	if err := r.store.UpdateLastMessage(ctx, msg.ConversationID, preview, sender.Key(), msg.SentAt); err != nil {
		r.log.Warn().Err(err).Str("conversation", msg.ConversationID).Msg("update last message failed")
	}
	if err := r.store.IncrementUnread(ctx, msg.ConversationID, recipient.ID, string(recipient.Kind)); err != nil {
		r.log.Warn().Err(err).Str("conversation", msg.ConversationID).Msg("increment unread failed")
	}

	payload := toPayload(msg)

	// Deliver to every room connection except all connections of the
	// sending identity: multi-device without duplicate echo.
	conns := r.rooms.ConnIDs(msg.ConversationID)
	r.hub.SendToConns(conns, &core.Event{
		Type: core.EventMessageNew,
		Room: msg.ConversationID,
		Data: payload,
	}, sender)

	if r.hub.Reachable(recipient) {
		if err := r.store.MarkMessageDelivered(ctx, msg.ID, time.Now()); err != nil {
			r.log.Warn().Err(err).Int64("message", msg.ID).Msg("mark delivered failed")
		}
	}

	// Ack only the originating connection.
	c.Send(&core.Event{
		Type: core.EventMessageSent,
		Room: msg.ConversationID,
		Data: AckPayload{
			MessageID:      msg.ID,
			ConversationID: msg.ConversationID,
			Status:         string(store.MessageSent),
			SentAt:         msg.SentAt.Unix(),
		},
	})

	// Best-effort presence preview for recipients not in the room.
	r.hub.SendToIdentity(recipient, &core.Event{
		Type: core.EventMessagePreview,
		Data: PreviewPayload{
			ConversationID: msg.ConversationID,
			Preview:        preview,
			SenderKey:      sender.Key(),
			SenderName:     sender.Name,
			At:             msg.SentAt.Unix(),
		},
	})

	r.esc.Escalate(recipient, notify.Payload{
		Kind:  notify.KindMessage,
		Title: sender.Name,
		Body:  preview,
		Data: map[string]string{
			"conversation_id": msg.ConversationID,
			"sender_id":       sender.ID,
			"sender_type":     string(sender.Kind),
		},
	})

	return nil
}

// Typing fans a transient typing indicator out to every participant
// except the sender. Nothing is persisted.
func (r *Relay) Typing(c *core.Client, conversationID string, typing bool) error {
	if conversationID == "" {
		return core.Validation("conversation id is required")
	}
	if !r.rooms.IsParticipant(c.ID, conversationID) {
		return core.Unauthorized("not a participant in this conversation")
	}

	conns := r.rooms.ConnIDs(conversationID)
	r.hub.SendToConns(conns, &core.Event{
		Type: core.EventTyping,
		Room: conversationID,
		Data: TypingPayload{
			ConversationID: conversationID,
			SenderID:       c.Identity.ID,
			SenderType:     string(c.Identity.Kind),
			Typing:         typing,
		},
	}, c.Identity)
	return nil
}

// MarkRead stamps the listed messages read (skipping ones already
// read), resets the reader's unread counter and broadcasts the receipt
// to the room.
func (r *Relay) MarkRead(ctx context.Context, c *core.Client, conversationID string, messageIDs []int64) error {
	if conversationID == "" || len(messageIDs) == 0 {
		return core.Validation("conversation id and message ids are required")
	}
	if _, err := r.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound("unknown conversation")
		}
		return core.Upstream("conversation lookup failed", err)
	}

	now := time.Now()
	read := make([]int64, 0, len(messageIDs))
	for _, id := range messageIDs {
		updated, err := r.store.MarkMessageRead(ctx, id, now)
		if err != nil {
			return core.Upstream("read receipt could not be saved", err)
		}
		if updated {
			read = append(read, id)
		}
	}
	if len(read) == 0 {
		return nil
	}

	reader := c.Identity
	if err := r.store.ResetUnread(ctx, conversationID, reader.ID, string(reader.Kind)); err != nil {
		r.log.Warn().Err(err).Str("conversation", conversationID).Msg("reset unread failed")
	}

	conns := r.rooms.ConnIDs(conversationID)
	r.hub.Broadcast(conns, &core.Event{
		Type: core.EventMessageRead,
		Room: conversationID,
		Data: ReadPayload{
			ConversationID: conversationID,
			MessageIDs:     read,
			ReaderID:       reader.ID,
			ReaderType:     string(reader.Kind),
			At:             now.Unix(),
		},
	})
	return nil
}

// History sends one page of messages to the requesting connection.
// Storage is newest-first; the page is returned oldest-first.
func (r *Relay) History(ctx context.Context, c *core.Client, conversationID string, page, limit int) error {
	if conversationID == "" {
		return core.Validation("conversation id is required")
	}
	if _, err := r.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return core.NotFound("unknown conversation")
		}
		return core.Upstream("conversation lookup failed", err)
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	// Probe one past the page to learn whether more pages exist.
	msgs, err := r.store.ListMessages(ctx, conversationID, limit+1, (page-1)*limit)
	if err != nil {
		return core.Upstream("history could not be loaded", err)
	}
	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	// Reverse newest-first storage order into oldest-first.
	payloads := make([]MessagePayload, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		payloads = append(payloads, toPayload(msgs[i]))
	}

	c.Send(&core.Event{
		Type: core.EventHistory,
		Room: conversationID,
		Data: HistoryPayload{
			ConversationID: conversationID,
			Page:           page,
			Limit:          limit,
			HasMore:        hasMore,
			Messages:       payloads,
		},
	})
	return nil
}

// ensureConversation validates the client-supplied conversation id:
// the conversation must already exist or be creatable with at least two
// distinct participants.
func (r *Relay) ensureConversation(ctx context.Context, id string, sender, recipient identity.Identity) error {
	_, err := r.store.GetConversation(ctx, id)
	if err == nil {
		// Conversations may gain participants later.
		if addErr := r.store.AddConversationParticipant(ctx, id, ref(sender)); addErr != nil {
			r.log.Warn().Err(addErr).Str("conversation", id).Msg("add participant failed")
		}
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return core.Upstream("conversation lookup failed", err)
	}

	conv := &store.Conversation{
		ID:           id,
		Participants: []store.ParticipantRef{ref(sender), ref(recipient)},
		CreatedAt:    time.Now(),
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return core.Upstream("conversation could not be created", err)
	}
	return nil
}

func ref(who identity.Identity) store.ParticipantRef {
	return store.ParticipantRef{
		ID:     who.ID,
		Type:   string(who.Kind),
		Name:   who.Name,
		Avatar: who.Avatar,
	}
}

func toPayload(msg *store.Message) MessagePayload {
	return MessagePayload{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		SenderType:     msg.SenderType,
		SenderName:     msg.SenderName,
		Content:        msg.Content,
		Type:           string(msg.Type),
		MediaURL:       msg.MediaURL,
		Status:         string(msg.Status),
		SentAt:         msg.SentAt.Unix(),
	}
}
