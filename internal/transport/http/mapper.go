package http

import (
	"context"
	"encoding/json"

	"github.com/consultly/rtc-server/internal/calls"
	"github.com/consultly/rtc-server/internal/chat"
	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/proto"
	"github.com/consultly/rtc-server/internal/store"
)

// dispatch routes one inbound operation to the owning service. Errors
// return to the caller for delivery to the originating connection only.
func (g *Gateway) dispatch(ctx context.Context, client *core.Client, in proto.Inbound) error {
	switch in.Type {
	case proto.InJoinRoom:
		var data proto.JoinRoomData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.joinRoom(client, data)

	case proto.InLeaveRoom:
		var data proto.LeaveRoomData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.leaveRoom(client, data.RoomID)

	case proto.InSendMessage:
		var data proto.SendMessageData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.chat.SendMessage(ctx, client, chat.SendInput{
			ConversationID: data.ConversationID,
			RecipientID:    data.RecipientID,
			RecipientType:  data.RecipientType,
			Content:        data.Content,
			Type:           store.MessageType(data.Type),
			MediaURL:       data.MediaURL,
		})

	case proto.InTypingStart, proto.InTypingStop:
		var data proto.TypingData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.chat.Typing(client, data.ConversationID, in.Type == proto.InTypingStart)

	case proto.InMarkRead:
		var data proto.MarkReadData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.chat.MarkRead(ctx, client, data.ConversationID, data.MessageIDs)

	case proto.InHistory:
		var data proto.HistoryData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.chat.History(ctx, client, data.ConversationID, data.Page, data.Limit)

	case proto.InCallInitiate:
		var data proto.CallInitiateData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.Initiate(ctx, client, calls.InitiateInput{
			RecipientID:   data.RecipientID,
			RecipientType: data.RecipientType,
			Medium:        store.CallMedium(data.Medium),
		})

	case proto.InCallAccept:
		var data proto.CallActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.Accept(ctx, client, data.CallID)

	case proto.InCallReject:
		var data proto.CallActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.Reject(ctx, client, data.CallID, data.Reason)

	case proto.InCallConnected:
		var data proto.CallActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.Connected(ctx, client, data.CallID)

	case proto.InCallEnd:
		var data proto.CallActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.End(ctx, client, data.CallID, data.Duration, data.Reason)

	case proto.InCallToken:
		var data proto.CallActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.calls.RefreshToken(ctx, client, data.CallID)

	case proto.InLiveJoin:
		var data proto.LiveJoinData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Join(client, data.StreamID, data.IsBroadcaster)

	case proto.InLiveLeave:
		var data proto.LiveActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Leave(client, data.StreamID)

	case proto.InLiveComment:
		var data proto.LiveCommentData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Comment(ctx, client, data.StreamID, data.Message)

	case proto.InLiveGift:
		var data proto.LiveGiftData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Gift(ctx, client, data.StreamID, data.Message, data.GiftType, data.GiftValue)

	case proto.InLiveLike:
		var data proto.LiveActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Like(client, data.StreamID)

	case proto.InLiveUnlike:
		var data proto.LiveActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.Unlike(client, data.StreamID)

	case proto.InLiveEnd:
		var data proto.LiveActionData
		if err := decode(in.Data, &data); err != nil {
			return err
		}
		return g.live.End(client, data.StreamID)

	default:
		return core.Validation("unknown operation: " + in.Type)
	}
}

// joinRoom handles the generic room join. Live streams go through
// live-join; every other kind is created lazily here.
func (g *Gateway) joinRoom(client *core.Client, data proto.JoinRoomData) error {
	if data.RoomID == "" {
		return core.Validation("room id is required")
	}

	kind := core.RoomKind(data.Kind)
	switch kind {
	case core.RoomLive:
		return g.live.Join(client, data.RoomID, false)
	case core.RoomConversation, core.RoomChannel:
	case "":
		kind = core.RoomConversation
	default:
		return core.Validation("unknown room kind: " + data.Kind)
	}

	g.rooms.GetOrCreate(data.RoomID, kind, core.RoomMeta{})
	g.rooms.Join(client.ID, data.RoomID, client.Identity)

	client.Send(&core.Event{
		Type: core.EventRoomJoined,
		Room: data.RoomID,
		Data: map[string]string{"room_id": data.RoomID, "kind": string(kind)},
	})
	return nil
}

func (g *Gateway) leaveRoom(client *core.Client, roomID string) error {
	if roomID == "" {
		return core.Validation("room id is required")
	}

	info, known := g.rooms.Get(roomID)
	if _, was := g.rooms.Leave(client.ID, roomID); !was {
		return nil
	}
	if known && info.Kind == core.RoomLive {
		g.live.BroadcastViewerCount(roomID)
	}

	client.Send(&core.Event{
		Type: core.EventRoomLeft,
		Room: roomID,
		Data: map[string]string{"room_id": roomID},
	})
	return nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return core.Validation("missing payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return core.Validation("malformed payload")
	}
	return nil
}
