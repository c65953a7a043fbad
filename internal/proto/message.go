// Package proto defines the wire envelopes exchanged over a
// connection. Inbound operations are transport-agnostic signaling
// names; outbound events mirror them with delivered, acknowledged and
// broadcast variants.
package proto

import "encoding/json"

// Inbound is the envelope for client requests.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Inbound operation names.
const (
	InJoinRoom    = "join-room"
	InLeaveRoom   = "leave-room"
	InSendMessage = "send-message"
	InTypingStart = "typing-start"
	InTypingStop  = "typing-stop"
	InMarkRead    = "mark-read"
	InHistory     = "request-history"

	InCallInitiate  = "call-initiate"
	InCallAccept    = "call-accept"
	InCallReject    = "call-reject"
	InCallConnected = "call-connected"
	InCallEnd       = "call-end"
	InCallToken     = "call-request-token"

	InLiveJoin    = "live-join"
	InLiveLeave   = "live-leave"
	InLiveComment = "live-comment"
	InLiveGift    = "live-gift"
	InLiveLike    = "live-like"
	InLiveUnlike  = "live-unlike"
	InLiveEnd     = "live-end"
)

// JoinRoomData joins a named room of a given kind.
type JoinRoomData struct {
	RoomID string `json:"room_id"`
	Kind   string `json:"kind"`
}

// LeaveRoomData leaves a named room.
type LeaveRoomData struct {
	RoomID string `json:"room_id"`
}

// SendMessageData sends a direct message within a conversation.
type SendMessageData struct {
	ConversationID string `json:"conversation_id"`
	RecipientID    string `json:"recipient_id"`
	RecipientType  string `json:"recipient_type"`
	Content        string `json:"content"`
	Type           string `json:"type,omitempty"`
	MediaURL       string `json:"media_url,omitempty"`
}

// TypingData signals a transient typing indicator.
type TypingData struct {
	ConversationID string `json:"conversation_id"`
}

// MarkReadData stamps messages read.
type MarkReadData struct {
	ConversationID string  `json:"conversation_id"`
	MessageIDs     []int64 `json:"message_ids"`
}

// HistoryData requests one page of conversation history.
type HistoryData struct {
	ConversationID string `json:"conversation_id"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
}

// CallInitiateData starts a call toward a recipient.
type CallInitiateData struct {
	RecipientID   string `json:"recipient_id"`
	RecipientType string `json:"recipient_type"`
	Medium        string `json:"medium"`
}

// CallActionData addresses an existing call.
type CallActionData struct {
	CallID   string `json:"call_id"`
	Reason   string `json:"reason,omitempty"`
	Duration int64  `json:"duration,omitempty"`
}

// LiveJoinData joins a live stream.
type LiveJoinData struct {
	StreamID      string `json:"stream_id"`
	IsBroadcaster bool   `json:"is_broadcaster,omitempty"`
}

// LiveActionData addresses a live stream.
type LiveActionData struct {
	StreamID string `json:"stream_id"`
}

// LiveCommentData posts a comment on a live stream.
type LiveCommentData struct {
	StreamID string `json:"stream_id"`
	Message  string `json:"message"`
}

// LiveGiftData sends a gift on a live stream.
type LiveGiftData struct {
	StreamID  string `json:"stream_id"`
	Message   string `json:"message,omitempty"`
	GiftType  string `json:"gift_type"`
	GiftValue int64  `json:"gift_value"`
}

// Outbound is the envelope for events sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Room  string `json:"room,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Error describes a wire-level error response, delivered only to the
// originating connection.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
