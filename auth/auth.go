// Package auth defines the boundary to the surrounding identity system.
// The engine never performs OAuth itself; it consumes a session resolver
// that maps a request cookie to a user identity and role, and a credential
// exchanger that turns a durable identity token into short-lived provider
// credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"concierge/config"
)

// ErrUnauthenticated is returned when no valid session can be resolved
// from the request.
var ErrUnauthenticated = errors.New("no valid session")

// Session is the identity attached to an authenticated request.
type Session struct {
	UserID string
	Role   config.Role
}

// SessionResolver resolves a request into a session. Implementations wrap
// whatever identity provider the deployment uses (Cognito, Okta, or the
// static mock used in tests). A failure to resolve returns
// ErrUnauthenticated, possibly wrapped.
type SessionResolver interface {
	Resolve(r *http.Request) (Session, error)
}

// Credentials are short-lived provider credentials obtained by exchanging
// a session token.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// CredentialExchanger trades a durable identity token for temporary
// credentials.
type CredentialExchanger interface {
	Exchange(ctx context.Context, identityToken string) (Credentials, error)
}

// SessionResolverFunc adapts a function to the SessionResolver interface.
type SessionResolverFunc func(r *http.Request) (Session, error)

func (f SessionResolverFunc) Resolve(r *http.Request) (Session, error) {
	return f(r)
}

// StaticResolver resolves every request to a fixed session. Used in
// development and tests where no identity provider is running.
type StaticResolver struct {
	Session Session
}

func (s StaticResolver) Resolve(_ *http.Request) (Session, error) {
	if s.Session.UserID == "" {
		return Session{}, ErrUnauthenticated
	}
	return s.Session, nil
}

// HeaderResolver reads the user id and role from request headers. It
// exists for deployments where an upstream proxy has already authenticated
// the request and forwards identity downstream.
type HeaderResolver struct {
	UserHeader string
	RoleHeader string
}

func (h HeaderResolver) Resolve(r *http.Request) (Session, error) {
	userHeader := h.UserHeader
	if userHeader == "" {
		userHeader = "X-User-Id"
	}
	roleHeader := h.RoleHeader
	if roleHeader == "" {
		roleHeader = "X-User-Role"
	}

	userID := r.Header.Get(userHeader)
	role := config.Role(r.Header.Get(roleHeader))
	if userID == "" || !config.IsValidRole(role) {
		return Session{}, ErrUnauthenticated
	}
	return Session{UserID: userID, Role: role}, nil
}

// TokenVerifier maps a session token to a session. Implementations live at
// the identity-provider boundary.
type TokenVerifier func(token string) (Session, error)

// CookieResolver reads a session cookie and verifies its token. This is the
// production boundary: the cookie is issued by the surrounding auth system
// and the verifier checks it against that system's session state.
type CookieResolver struct {
	CookieName string
	Verify     TokenVerifier
}

func (c CookieResolver) Resolve(r *http.Request) (Session, error) {
	name := c.CookieName
	if name == "" {
		name = "session"
	}

	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return Session{}, ErrUnauthenticated
	}

	sess, err := c.Verify(cookie.Value)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if sess.UserID == "" || !config.IsValidRole(sess.Role) {
		return Session{}, ErrUnauthenticated
	}
	return sess, nil
}

// ExchangerFunc adapts a function to the CredentialExchanger interface.
type ExchangerFunc func(ctx context.Context, identityToken string) (Credentials, error)

func (f ExchangerFunc) Exchange(ctx context.Context, identityToken string) (Credentials, error) {
	return f(ctx, identityToken)
}

func wrapExchangeErr(attempts int, err error) error {
	return fmt.Errorf("credential exchange failed after %d attempts: %w", attempts, err)
}
