// Package authctx defines the identity shape shared by session owners and
// listeners. It exists so peerconn, session, and httpapi all speak the same
// user type without importing one another.
package authctx

import "context"

// UserContext identifies the human behind a request or a PeerConnection.
type UserContext struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// anonymousID marks a caller that never presented a bearer token. Listener
// endpoints accept it; control endpoints reject it.
const anonymousID = "-1"

func Anonymous() UserContext { return UserContext{ID: anonymousID} }

func (u UserContext) IsAnonymous() bool { return u.ID == "" || u.ID == anonymousID }

type ctxKey struct{}

// WithUser returns ctx carrying user, for the HTTP middleware to install
// the resolved identity once per request.
func WithUser(ctx context.Context, user UserContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// FromContext returns the UserContext installed by WithUser, or false if the
// middleware never ran on this request.
func FromContext(ctx context.Context) (UserContext, bool) {
	user, ok := ctx.Value(ctxKey{}).(UserContext)
	return user, ok
}
