package http

import (
	"context"
	"errors"
	"io"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/calls"
	"github.com/consultly/rtc-server/internal/chat"
	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/live"
	"github.com/consultly/rtc-server/internal/proto"
	"github.com/consultly/rtc-server/internal/utils"
)

// Gateway upgrades HTTP connections, resolves identities and bridges
// sockets to the relay services.
type Gateway struct {
	resolver identity.Resolver
	hub      *core.Hub
	rooms    *core.Rooms
	chat     *chat.Relay
	calls    *calls.Service
	live     *live.Controller
	log      *zerolog.Logger
}

// NewGateway builds the websocket gateway.
func NewGateway(resolver identity.Resolver, hub *core.Hub, rooms *core.Rooms, chatRelay *chat.Relay, callSvc *calls.Service, liveCtl *live.Controller, logger *zerolog.Logger) *Gateway {
	return &Gateway{
		resolver: resolver,
		hub:      hub,
		rooms:    rooms,
		chat:     chatRelay,
		calls:    callSvc,
		live:     liveCtl,
		log:      logger,
	}
}

// HandleWS is the websocket endpoint. The handshake credential comes
// from the "token" query parameter; an invalid or missing credential
// degrades to an anonymous identity instead of rejecting the socket.
func (g *Gateway) HandleWS(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	who := g.resolver.Resolve(c.Request.Context(), c.Query("token"))
	client := core.NewClient(utils.NewID(), who)

	g.hub.Register(client)
	defer g.disconnect(client)

	g.log.Info().
		Str("conn_id", client.ID).
		Str("identity", who.Key()).
		Msg("connection established")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- g.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- g.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != 0 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			g.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// disconnect cascades one socket teardown into room cleanup, then
// recomputes viewer counts for every affected live room.
func (g *Gateway) disconnect(client *core.Client) {
	g.hub.Unregister(client)
	for _, dep := range g.rooms.LeaveAll(client.ID) {
		if dep.Kind == core.RoomLive {
			g.live.BroadcastViewerCount(dep.RoomID)
		}
	}
	g.log.Info().Str("conn_id", client.ID).Msg("connection closed")
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if err := g.dispatch(ctx, client, inbound); err != nil {
			coded := core.AsError(err)
			if writeErr := wsjson.Write(ctx, conn, proto.Outbound{
				Type:  core.EventError,
				Error: &proto.Error{Code: coded.Code, Msg: coded.Message},
			}); writeErr != nil {
				return writeErr
			}
		}
	}
}

func (g *Gateway) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(ev)); err != nil {
				g.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func outboundFromEvent(ev *core.Event) proto.Outbound {
	out := proto.Outbound{
		Type: ev.Type,
		Room: ev.Room,
		Data: ev.Data,
	}
	if ev.Err != nil {
		out.Error = &proto.Error{Code: ev.Err.Code, Msg: ev.Err.Message}
	}
	return out
}
