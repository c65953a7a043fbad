package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/consultly/rtc-server/internal/utils"
)

// Resolver maps a handshake credential to an Identity. Resolution never
// fails the handshake: a missing or invalid credential yields an
// anonymous identity with an ephemeral id.
type Resolver interface {
	Resolve(ctx context.Context, credential string) Identity
}

// Claims are the token claims the gateway understands. Role lives in
// "role" on current tokens; "user_type" and "type" are kept for tokens
// minted by older issuers.
type Claims struct {
	Role     string `json:"role,omitempty"`
	UserType string `json:"user_type,omitempty"`
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	jwt.RegisteredClaims
}

// TokenConfig holds verification parameters for handshake tokens.
type TokenConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// TokenResolver resolves HS256 handshake tokens issued by the auth
// collaborator.
type TokenResolver struct {
	cfg TokenConfig
}

// NewTokenResolver builds a resolver for the given verification config.
func NewTokenResolver(cfg TokenConfig) *TokenResolver {
	return &TokenResolver{cfg: cfg}
}

// Resolve parses and validates the credential. Any failure degrades to
// an anonymous identity rather than rejecting the connection.
func (r *TokenResolver) Resolve(_ context.Context, credential string) Identity {
	if credential == "" {
		return anonymous()
	}

	claims, err := r.parse(credential)
	if err != nil {
		return anonymous()
	}

	kind := kindFromClaims(claims)
	if kind == KindAnonymous || claims.Subject == "" {
		return anonymous()
	}

	return Identity{
		Kind:   kind,
		ID:     claims.Subject,
		Name:   claims.Name,
		Avatar: claims.Avatar,
	}
}

func (r *TokenResolver) parse(credential string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(credential, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return r.cfg.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	if r.cfg.Issuer != "" && claims.Issuer != r.cfg.Issuer {
		return nil, fmt.Errorf("invalid issuer")
	}
	if r.cfg.Audience != "" {
		valid := false
		for _, aud := range claims.Audience {
			if aud == r.cfg.Audience {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("invalid audience")
		}
	}

	return claims, nil
}

// kindFromClaims reads the role claim with historical fallbacks.
func kindFromClaims(c *Claims) Kind {
	role := c.Role
	if role == "" {
		role = c.UserType
	}
	if role == "" {
		role = c.Type
	}

	switch strings.ToLower(role) {
	case "admin", "support":
		return KindAdmin
	case "provider":
		return KindProvider
	case "customer", "user":
		return KindCustomer
	default:
		return KindAnonymous
	}
}

func anonymous() Identity {
	id := utils.NewID()
	return Identity{Kind: KindAnonymous, ID: id, Name: "guest-" + id[:6]}
}
