package core

// Outbound event types. Names mirror the inbound operations they answer
// with delivered/acknowledged/broadcast variants.
const (
	EventMessageNew     = "message:new"
	EventMessageSent    = "message:sent"
	EventMessagePreview = "message:preview"
	EventMessageRead    = "message:read"
	EventTyping         = "typing"
	EventHistory        = "history"

	EventCallIncoming = "call:incoming"
	EventCallRinging  = "call:ringing"
	EventCallAccepted = "call:accepted"
	EventCallRejected = "call:rejected"
	EventCallMissed   = "call:missed"
	EventCallEnded    = "call:ended"
	EventCallToken    = "call:token"

	EventLiveViewerCount = "live:viewer_count"
	EventLiveComment     = "live:comment"
	EventLiveGift        = "live:gift"
	EventLiveLikeCount   = "live:like_count"
	EventLiveEnded       = "live:ended"

	EventRoomJoined = "room:joined"
	EventRoomLeft   = "room:left"
	EventError      = "error"
)

// Event is delivered to clients to describe what happened.
type Event struct {
	Type string
	Room string
	Data any
	Err  *Error
}

// ErrorEvent wraps a coded error for delivery to the originating
// connection only.
func ErrorEvent(err *Error) *Event {
	return &Event{Type: EventError, Err: err}
}
