package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ParticipantRef identifies an actor on a durable record.
type ParticipantRef struct {
	ID     string
	Type   string
	Name   string
	Avatar string
}

// Conversation is a durable 1:1 messaging thread, independent of any
// room's ephemeral membership.
type Conversation struct {
	ID            string
	Participants  []ParticipantRef
	LastMessage   string
	LastSenderKey string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// MessageType enumerates message payload kinds.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
)

// MessageStatus tracks delivery progression: sent -> delivered -> read,
// or failed.
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// Message is a durable chat message belonging to exactly one conversation.
type Message struct {
	ID             int64
	ConversationID string
	SenderID       string
	SenderType     string
	SenderName     string
	RecipientID    string
	RecipientType  string
	Content        string
	Type           MessageType
	MediaURL       string
	Status         MessageStatus
	SentAt         time.Time
	DeliveredAt    *time.Time
	ReadAt         *time.Time
}

// CallMedium is the requested call media.
type CallMedium string

const (
	CallVoice CallMedium = "voice"
	CallVideo CallMedium = "video"
)

// CallStatus enumerates signaling states. Terminal states are rejected,
// missed, failed, cancelled and ended.
type CallStatus string

const (
	CallInitiated CallStatus = "initiated"
	CallRinging   CallStatus = "ringing"
	CallAccepted  CallStatus = "accepted"
	CallConnected CallStatus = "connected"
	CallRejected  CallStatus = "rejected"
	CallMissed    CallStatus = "missed"
	CallFailed    CallStatus = "failed"
	CallCancelled CallStatus = "cancelled"
	CallEnded     CallStatus = "ended"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	switch s {
	case CallRejected, CallMissed, CallFailed, CallCancelled, CallEnded:
		return true
	}
	return false
}

// EndReason explains how a call ended.
type EndReason string

const (
	EndCompleted    EndReason = "completed"
	EndDeclined     EndReason = "declined"
	EndMissed       EndReason = "missed"
	EndCancelled    EndReason = "cancelled"
	EndNetworkError EndReason = "network_error"
	EndTimeout      EndReason = "timeout"
)

// Call is one signaling attempt with per-transition timestamps.
type Call struct {
	ID            string
	CallerID      string
	CallerType    string
	CallerName    string
	RecipientID   string
	RecipientType string
	Medium        CallMedium
	Channel       string
	Status        CallStatus
	EndReason     EndReason
	Duration      int64
	InitiatedAt   time.Time
	RingingAt     *time.Time
	AcceptedAt    *time.Time
	ConnectedAt   *time.Time
	EndedAt       *time.Time
}

// StreamComment is a persisted live-stream comment or gift.
type StreamComment struct {
	ID         int64
	StreamID   string
	SenderID   string
	SenderType string
	SenderName string
	Body       string
	IsGift     bool
	GiftType   string
	GiftValue  int64
	CreatedAt  time.Time
}

// ConversationStore handles conversation persistence.
type ConversationStore interface {
	// CreateConversation durably creates a conversation with its
	// initial participants.
	CreateConversation(ctx context.Context, conv *Conversation) error

	// GetConversation retrieves a conversation with participants.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// AddConversationParticipant adds a participant if absent.
	AddConversationParticipant(ctx context.Context, convID string, p ParticipantRef) error

	// UpdateLastMessage updates the denormalized preview fields.
	UpdateLastMessage(ctx context.Context, convID, preview, senderKey string, at time.Time) error

	// IncrementUnread bumps a participant's unread counter.
	IncrementUnread(ctx context.Context, convID, participantID, participantType string) error

	// ResetUnread zeroes a participant's unread counter.
	ResetUnread(ctx context.Context, convID, participantID, participantType string) error
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its id.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message by id.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListMessages retrieves a page of messages newest-first.
	// offset/limit paginate; callers probe limit+1 to detect more pages.
	ListMessages(ctx context.Context, convID string, limit, offset int) ([]*Message, error)

	// MarkMessageDelivered stamps the message delivered unless it has
	// already progressed further.
	MarkMessageDelivered(ctx context.Context, id int64, at time.Time) error

	// MarkMessageRead stamps the message read if not already read.
	// Returns false when the message was already read.
	MarkMessageRead(ctx context.Context, id int64, at time.Time) (bool, error)
}

// CallStore handles call persistence.
type CallStore interface {
	// CreateCall persists a new call record.
	CreateCall(ctx context.Context, call *Call) error

	// GetCall retrieves a call by id.
	GetCall(ctx context.Context, id string) (*Call, error)

	// UpdateCall writes back the mutable call fields.
	UpdateCall(ctx context.Context, call *Call) error
}

// StreamStore handles live-stream comment persistence.
type StreamStore interface {
	// SaveStreamComment persists a comment or gift and fills in its id.
	SaveStreamComment(ctx context.Context, c *StreamComment) error
}

// Store aggregates all storage interfaces.
type Store interface {
	ConversationStore
	MessageStore
	CallStore
	StreamStore

	// Close closes the underlying database connection.
	Close() error
}
