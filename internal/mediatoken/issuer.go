// Package mediatoken abstracts the third-party real-time-media
// credential issuer consumed by call signaling and live broadcast.
package mediatoken

import (
	"context"
	"time"
)

// Credential is a time-boxed authorization scoped to one channel.
type Credential struct {
	Token     string    `json:"token"`
	Channel   string    `json:"channel"`
	UID       uint32    `json:"uid"`
	URL       string    `json:"url,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints media-session credentials keyed by channel name and
// numeric uid. Implementations wrap a concrete provider.
type Issuer interface {
	Token(ctx context.Context, channel string, uid uint32, displayName string) (*Credential, error)
}
