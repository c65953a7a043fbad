// Package notify escalates realtime events to push delivery for
// offline or backgrounded recipients. The concrete push transport is an
// external collaborator consumed through the Sender interface.
package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/consultly/rtc-server/internal/identity"
)

// PayloadKind separates call payloads (no automatic OS banner; the
// client renders its own incoming-call UI from the data) from message
// payloads (user-visible banner).
type PayloadKind string

const (
	KindCall    PayloadKind = "call"
	KindMessage PayloadKind = "message"
)

// Payload is the escalated notification content.
type Payload struct {
	Kind  PayloadKind
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers one notification to one identity. Implementations
// wrap the push provider.
type Sender interface {
	Notify(ctx context.Context, target identity.Identity, p Payload) error
}

// Escalator wraps a Sender with the contract every relay relies on:
// fire-and-forget, never aborting an already-completed in-room
// delivery, and skipped entirely for identities with no push-capable
// device (the support singleton and anonymous guests).
type Escalator struct {
	sender  Sender
	timeout time.Duration
	log     *zerolog.Logger
}

// NewEscalator builds an escalator. sender may be nil, in which case
// escalation is a no-op.
func NewEscalator(sender Sender, logger *zerolog.Logger) *Escalator {
	return &Escalator{
		sender:  sender,
		timeout: 10 * time.Second,
		log:     logger,
	}
}

// Escalate dispatches the payload in the background. Failures are
// logged and dropped.
func (e *Escalator) Escalate(target identity.Identity, p Payload) {
	if e.sender == nil {
		return
	}
	if target.IsSupport() || target.IsAnonymous() {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
		defer cancel()

		if err := e.sender.Notify(ctx, target, p); err != nil {
			e.log.Warn().Err(err).
				Str("target", target.Key()).
				Str("kind", string(p.Kind)).
				Msg("notification escalation failed")
		}
	}()
}

// LogSender is a development Sender that only logs the payload.
type LogSender struct {
	log *zerolog.Logger
}

// NewLogSender builds a logging sender.
func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{log: logger}
}

// Notify logs the would-be push.
func (s *LogSender) Notify(_ context.Context, target identity.Identity, p Payload) error {
	s.log.Info().
		Str("target", target.Key()).
		Str("kind", string(p.Kind)).
		Str("title", p.Title).
		Msg("push notification")
	return nil
}

// Ensure LogSender implements Sender.
var _ Sender = (*LogSender)(nil)
