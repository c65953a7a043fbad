package livekit

import (
	"context"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/consultly/rtc-server/internal/mediatoken"
)

// DefaultTTL bounds how long an issued credential stays valid.
const DefaultTTL = time.Hour

// Issuer implements mediatoken.Issuer on top of LiveKit access tokens.
// LiveKit creates channels on demand when the first participant joins,
// so issuance is purely local.
type Issuer struct {
	apiKey    string
	apiSecret string
	wsURL     string
	ttl       time.Duration
}

// New creates a LiveKit-backed issuer.
func New(apiKey, apiSecret, wsURL string) *Issuer {
	return &Issuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		ttl:       DefaultTTL,
	}
}

// Token mints a join credential scoped to the channel.
func (i *Issuer) Token(_ context.Context, channel string, uid uint32, displayName string) (*mediatoken.Credential, error) {
	identity := fmt.Sprintf("uid-%d", uid)

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     channel,
	}
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetName(displayName).
		SetValidFor(i.ttl)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &mediatoken.Credential{
		Token:     token,
		Channel:   channel,
		UID:       uid,
		URL:       i.wsURL,
		ExpiresAt: time.Now().Add(i.ttl),
	}, nil
}

// Ensure Issuer implements mediatoken.Issuer.
var _ mediatoken.Issuer = (*Issuer)(nil)
