// Package identity resolves who is calling. Resolution is strict: a request
// is either authenticated or rejected. Whether a rejected request may carry on
// anonymously is decided by the caller through Fallback.
package identity

import (
	"strings"

	"github.com/xxxsen/sharegate/internal/pkg/jwt"
)

type State int

const (
	StateRejected State = iota
	StateAnonymous
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateAnonymous:
		return "anonymous"
	default:
		return "rejected"
	}
}

type Identity struct {
	State  State
	UserID string
	Email  string
}

func Anonymous() Identity {
	return Identity{State: StateAnonymous}
}

func Rejected() Identity {
	return Identity{State: StateRejected}
}

func Authenticated(userID, email string) Identity {
	return Identity{State: StateAuthenticated, UserID: userID, Email: email}
}

func (i Identity) IsAuthenticated() bool {
	return i.State == StateAuthenticated && i.UserID != ""
}

func (i Identity) IsAnonymous() bool {
	return !i.IsAuthenticated()
}

type Resolver struct {
	secret []byte
}

func NewResolver(secret []byte) *Resolver {
	return &Resolver{secret: secret}
}

// Resolve checks a bearer credential, either a full Authorization header value
// or a raw token. Every failure collapses to Rejected; the cause is not kept.
func (r *Resolver) Resolve(credential string) Identity {
	token := strings.TrimSpace(credential)
	if token == "" {
		return Rejected()
	}
	if parts := strings.SplitN(token, " ", 2); len(parts) == 2 {
		if !strings.EqualFold(parts[0], "Bearer") {
			return Rejected()
		}
		token = strings.TrimSpace(parts[1])
	}
	claims, err := jwt.ParseToken(token, r.secret)
	if err != nil {
		return Rejected()
	}
	return Authenticated(claims.UserID, claims.Email)
}

// Fallback applies the allowUnauthenticatedShares policy to a strict
// resolution. It only ever downgrades Rejected to Anonymous.
func Fallback(id Identity, allowUnauthenticated bool) Identity {
	if id.IsAuthenticated() {
		return id
	}
	if allowUnauthenticated {
		return Anonymous()
	}
	return Rejected()
}

// Lenient treats any unauthenticated caller as anonymous. Used where public
// access is decided later by the share's own policy.
func Lenient(id Identity) Identity {
	return Fallback(id, true)
}
