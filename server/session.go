package server

import (
	"context"

	"concierge/auth"
)

type sessionCtxKey struct{}

func contextWithSession(ctx context.Context, sess auth.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

// sessionFrom returns the session stored by withSession. Handlers behind
// the middleware can rely on it being present.
func sessionFrom(ctx context.Context) auth.Session {
	sess, _ := ctx.Value(sessionCtxKey{}).(auth.Session)
	return sess
}
