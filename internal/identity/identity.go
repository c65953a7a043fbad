package identity

import "hash/fnv"

// Kind classifies a connected actor. The set is closed: every handler
// downstream of the gateway switches on Kind instead of re-deriving a
// role from raw token fields.
type Kind string

const (
	KindAdmin     Kind = "admin"
	KindProvider  Kind = "provider"
	KindCustomer  Kind = "customer"
	KindAnonymous Kind = "anonymous"
)

// supportID is the fixed pseudo-identity that staffs the support desk.
const supportID = "support"

// Identity is the resolved actor behind a connection.
type Identity struct {
	Kind   Kind
	ID     string
	Name   string
	Avatar string
}

// Support returns the fixed support singleton. Any non-support identity
// may always open a conversation with it.
func Support() Identity {
	return Identity{Kind: KindAdmin, ID: supportID, Name: "Support"}
}

// Key uniquely identifies an actor across connections (multi-device).
func (i Identity) Key() string {
	return string(i.Kind) + ":" + i.ID
}

// Same reports whether two identities refer to the same actor.
func (i Identity) Same(other Identity) bool {
	return i.Kind == other.Kind && i.ID == other.ID
}

// IsSupport reports whether this is the support singleton.
func (i Identity) IsSupport() bool {
	return i.Kind == KindAdmin && i.ID == supportID
}

// IsAnonymous reports whether the actor connected without a valid credential.
func (i Identity) IsAnonymous() bool {
	return i.Kind == KindAnonymous
}

// MediaUID derives the stable numeric uid used by the media-credential
// issuer for this actor.
func (i Identity) MediaUID() uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(i.Key()))
	return h.Sum32()
}
