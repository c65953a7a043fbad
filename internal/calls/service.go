// Package calls implements voice/video call signaling as a state
// machine over durable call records:
//
//	initiated -> ringing -> {accepted -> connected -> ended}
//	                      | rejected | missed | failed | cancelled
//
// Transitions are serialized under one mutex so the ringing timer and
// explicit accept/reject/end can race without ever producing two
// terminal states.
package calls

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/core"
	"github.com/consultly/rtc-server/internal/identity"
	"github.com/consultly/rtc-server/internal/mediatoken"
	"github.com/consultly/rtc-server/internal/notify"
	"github.com/consultly/rtc-server/internal/store"
)

// DefaultRingTimeout is how long a call may stay ringing before it is
// marked missed.
const DefaultRingTimeout = 60 * time.Second

// Service coordinates call signaling between two identities.
type Service struct {
	store       store.CallStore
	issuer      mediatoken.Issuer
	hub         *core.Hub
	esc         *notify.Escalator
	log         *zerolog.Logger
	ringTimeout time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New builds a call service. issuer may be nil when the media provider
// is not configured; initiation then fails before any record exists.
func New(st store.CallStore, issuer mediatoken.Issuer, hub *core.Hub, esc *notify.Escalator, logger *zerolog.Logger) *Service {
	return &Service{
		store:       st,
		issuer:      issuer,
		hub:         hub,
		esc:         esc,
		log:         logger,
		ringTimeout: DefaultRingTimeout,
		timers:      make(map[string]*time.Timer),
	}
}

// SetRingTimeout overrides the ringing window. Zero keeps the default.
func (s *Service) SetRingTimeout(d time.Duration) {
	if d > 0 {
		s.ringTimeout = d
	}
}

// Close cancels all outstanding ring timers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// InitiateInput is one call-initiate request.
type InitiateInput struct {
	RecipientID   string
	RecipientType string
	Medium        store.CallMedium
}

// Payload is the wire shape of a call signaling event.
type Payload struct {
	CallID        string                 `json:"call_id"`
	CallerID      string                 `json:"caller_id"`
	CallerType    string                 `json:"caller_type"`
	CallerName    string                 `json:"caller_name,omitempty"`
	RecipientID   string                 `json:"recipient_id"`
	RecipientType string                 `json:"recipient_type"`
	Medium        string                 `json:"medium"`
	Channel       string                 `json:"channel"`
	Status        string                 `json:"status"`
	Reason        string                 `json:"reason,omitempty"`
	Duration      int64                  `json:"duration,omitempty"`
	Credential    *mediatoken.Credential `json:"credential,omitempty"`
}

// Initiate validates both identities, mints a channel credential,
// persists the call and moves it to ringing. The credential is returned
// to the caller so it can join the channel before acceptance; the
// recipient is signalled in-room if reachable and escalated to push
// regardless.
func (s *Service) Initiate(ctx context.Context, c *core.Client, in InitiateInput) error {
	caller := c.Identity
	if caller.IsAnonymous() {
		return core.Unauthorized("anonymous connections cannot place calls")
	}
	if s.issuer == nil {
		return core.Upstream("media credential issuer is not configured", nil)
	}
	if in.RecipientID == "" || in.RecipientType == "" {
		return core.Validation("recipient is required")
	}
	if in.Medium != store.CallVoice && in.Medium != store.CallVideo {
		return core.Validation("medium must be voice or video")
	}
	recipient := identity.Identity{Kind: identity.Kind(in.RecipientType), ID: in.RecipientID}
	if caller.Same(recipient) {
		return core.Unauthorized("cannot call yourself")
	}

	callID := uuid.New().String()
	channel := "call_" + uuid.New().String()

	cred, err := s.issuer.Token(ctx, channel, caller.MediaUID(), caller.Name)
	if err != nil {
		return core.Upstream("media credential could not be issued", err)
	}

	now := time.Now()
	call := &store.Call{
		ID:            callID,
		CallerID:      caller.ID,
		CallerType:    string(caller.Kind),
		CallerName:    caller.Name,
		RecipientID:   recipient.ID,
		RecipientType: string(recipient.Kind),
		Medium:        in.Medium,
		Channel:       channel,
		Status:        store.CallInitiated,
		InitiatedAt:   now,
	}
	if err := s.store.CreateCall(ctx, call); err != nil {
		return core.Upstream("call could not be saved", err)
	}

	// Immediately move to ringing.
	ringingAt := time.Now()
	call.Status = store.CallRinging
	call.RingingAt = &ringingAt
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return core.Upstream("call could not be updated", err)
	}

	s.mu.Lock()
	s.timers[callID] = time.AfterFunc(s.ringTimeout, func() {
		s.onRingTimeout(callID)
	})
	s.mu.Unlock()

	incoming := s.payload(call, nil)
	s.hub.SendToIdentity(recipient, &core.Event{Type: core.EventCallIncoming, Data: incoming})

	c.Send(&core.Event{Type: core.EventCallRinging, Data: s.payload(call, cred)})

	s.esc.Escalate(recipient, notify.Payload{
		Kind:  notify.KindCall,
		Title: caller.Name,
		Body:  "Incoming " + string(in.Medium) + " call",
		Data: map[string]string{
			"call_id":     call.ID,
			"channel":     call.Channel,
			"medium":      string(call.Medium),
			"caller_id":   caller.ID,
			"caller_type": string(caller.Kind),
			"caller_name": caller.Name,
		},
	})

	s.log.Info().
		Str("call_id", call.ID).
		Str("caller", caller.Key()).
		Str("recipient", recipient.Key()).
		Str("medium", string(in.Medium)).
		Msg("call initiated")
	return nil
}

// Accept moves a ringing call to accepted. Only the recipient may
// accept. The acceptor receives its own credential for the same channel
// so both parties join one channel; the caller is notified.
func (s *Service) Accept(ctx context.Context, c *core.Client, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(ctx, callID)
	if err != nil {
		return err
	}
	who := c.Identity
	if !isRecipient(call, who) {
		return core.Unauthorized("only the call recipient may accept")
	}
	if call.Status != store.CallRinging {
		return core.Conflict("call is not ringing")
	}
	if s.issuer == nil {
		return core.Upstream("media credential issuer is not configured", nil)
	}

	cred, err := s.issuer.Token(ctx, call.Channel, who.MediaUID(), who.Name)
	if err != nil {
		return core.Upstream("media credential could not be issued", err)
	}

	now := time.Now()
	call.Status = store.CallAccepted
	call.AcceptedAt = &now
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return core.Upstream("call could not be updated", err)
	}
	s.stopTimerLocked(callID)

	c.Send(&core.Event{Type: core.EventCallAccepted, Data: s.payload(call, cred)})
	s.hub.SendToIdentity(callerOf(call), &core.Event{Type: core.EventCallAccepted, Data: s.payload(call, nil)})

	s.log.Info().Str("call_id", callID).Msg("call accepted")
	return nil
}

// Reject moves a ringing call to rejected and notifies the caller.
func (s *Service) Reject(ctx context.Context, c *core.Client, callID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(ctx, callID)
	if err != nil {
		return err
	}
	if !isRecipient(call, c.Identity) {
		return core.Unauthorized("only the call recipient may reject")
	}
	if call.Status != store.CallRinging {
		return core.Conflict("call is not ringing")
	}
	if reason == "" {
		reason = string(store.EndDeclined)
	}

	now := time.Now()
	call.Status = store.CallRejected
	call.EndReason = store.EndReason(reason)
	call.EndedAt = &now
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return core.Upstream("call could not be updated", err)
	}
	s.stopTimerLocked(callID)

	s.hub.SendToIdentity(callerOf(call), &core.Event{Type: core.EventCallRejected, Data: s.payload(call, nil)})

	s.log.Info().Str("call_id", callID).Str("reason", reason).Msg("call rejected")
	return nil
}

// Connected records the client-reported media connection. Informational
// only: it gates no other transition.
func (s *Service) Connected(ctx context.Context, c *core.Client, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(ctx, callID)
	if err != nil {
		return err
	}
	if !isParty(call, c.Identity) {
		return core.Unauthorized("not a participant in this call")
	}
	if call.Status != store.CallAccepted && call.Status != store.CallConnected {
		return nil
	}

	now := time.Now()
	call.Status = store.CallConnected
	if call.ConnectedAt == nil {
		call.ConnectedAt = &now
	}
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return core.Upstream("call could not be updated", err)
	}
	return nil
}

// End moves any non-terminal call to ended, recording duration and
// reason, and notifies the other party if reachable. Ending an already
// terminal call is an idempotent no-op.
func (s *Service) End(ctx context.Context, c *core.Client, callID string, duration int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(ctx, callID)
	if err != nil {
		return err
	}
	who := c.Identity
	if !isParty(call, who) {
		return core.Unauthorized("not a participant in this call")
	}
	if call.Status.Terminal() {
		// Second end observes the already-terminal record.
		c.Send(&core.Event{Type: core.EventCallEnded, Data: s.payload(call, nil)})
		return nil
	}
	if reason == "" {
		reason = string(store.EndCompleted)
	}

	now := time.Now()
	call.Status = store.CallEnded
	call.EndReason = store.EndReason(reason)
	call.Duration = duration
	call.EndedAt = &now
	if err := s.store.UpdateCall(ctx, call); err != nil {
		return core.Upstream("call could not be updated", err)
	}
	s.stopTimerLocked(callID)

	ended := &core.Event{Type: core.EventCallEnded, Data: s.payload(call, nil)}
	c.Send(ended)
	s.hub.SendToIdentity(otherParty(call, who), ended)

	s.log.Info().
		Str("call_id", callID).
		Str("reason", reason).
		Int64("duration", duration).
		Msg("call ended")
	return nil
}

// RefreshToken issues a fresh credential for an active call's channel
// to either party without changing call status.
func (s *Service) RefreshToken(ctx context.Context, c *core.Client, callID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	call, err := s.getLocked(ctx, callID)
	if err != nil {
		return err
	}
	who := c.Identity
	if !isParty(call, who) {
		return core.Unauthorized("not a participant in this call")
	}
	if call.Status.Terminal() {
		return core.Conflict("call has ended")
	}
	if s.issuer == nil {
		return core.Upstream("media credential issuer is not configured", nil)
	}

	cred, err := s.issuer.Token(ctx, call.Channel, who.MediaUID(), who.Name)
	if err != nil {
		return core.Upstream("media credential could not be issued", err)
	}

	c.Send(&core.Event{Type: core.EventCallToken, Data: s.payload(call, cred)})
	return nil
}

// onRingTimeout fires when the ringing window elapses. It is a no-op if
// a terminal transition already happened.
func (s *Service) onRingTimeout(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, callID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		s.log.Warn().Err(err).Str("call_id", callID).Msg("ring timeout lookup failed")
		return
	}
	if call.Status != store.CallRinging {
		return
	}

	now := time.Now()
	call.Status = store.CallMissed
	call.EndReason = store.EndTimeout
	call.EndedAt = &now
	if err := s.store.UpdateCall(ctx, call); err != nil {
		s.log.Warn().Err(err).Str("call_id", callID).Msg("ring timeout update failed")
		return
	}

	s.hub.SendToIdentity(callerOf(call), &core.Event{Type: core.EventCallMissed, Data: s.payload(call, nil)})
	s.hub.SendToIdentity(recipientOf(call), &core.Event{Type: core.EventCallMissed, Data: s.payload(call, nil)})

	s.log.Info().Str("call_id", callID).Msg("call missed on ring timeout")
}

func (s *Service) getLocked(ctx context.Context, callID string) (*store.Call, error) {
	if callID == "" {
		return nil, core.Validation("call id is required")
	}
	call, err := s.store.GetCall(ctx, callID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, core.NotFound("unknown call")
		}
		return nil, core.Upstream("call lookup failed", err)
	}
	return call, nil
}

func (s *Service) stopTimerLocked(callID string) {
	if t, ok := s.timers[callID]; ok {
		t.Stop()
		delete(s.timers, callID)
	}
}

func (s *Service) payload(call *store.Call, cred *mediatoken.Credential) Payload {
	return Payload{
		CallID:        call.ID,
		CallerID:      call.CallerID,
		CallerType:    call.CallerType,
		CallerName:    call.CallerName,
		RecipientID:   call.RecipientID,
		RecipientType: call.RecipientType,
		Medium:        string(call.Medium),
		Channel:       call.Channel,
		Status:        string(call.Status),
		Reason:        string(call.EndReason),
		Duration:      call.Duration,
		Credential:    cred,
	}
}

func callerOf(call *store.Call) identity.Identity {
	return identity.Identity{Kind: identity.Kind(call.CallerType), ID: call.CallerID, Name: call.CallerName}
}

func recipientOf(call *store.Call) identity.Identity {
	return identity.Identity{Kind: identity.Kind(call.RecipientType), ID: call.RecipientID}
}

func isRecipient(call *store.Call, who identity.Identity) bool {
	return call.RecipientID == who.ID && call.RecipientType == string(who.Kind)
}

func isCaller(call *store.Call, who identity.Identity) bool {
	return call.CallerID == who.ID && call.CallerType == string(who.Kind)
}

func isParty(call *store.Call, who identity.Identity) bool {
	return isCaller(call, who) || isRecipient(call, who)
}

func otherParty(call *store.Call, who identity.Identity) identity.Identity {
	if isCaller(call, who) {
		return recipientOf(call)
	}
	return callerOf(call)
}
