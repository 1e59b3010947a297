package auth

import (
	"context"
	"net/http"
)

// User is the identity a request was authenticated as.
type User struct {
	ID string

	// Method names the engine that accepted the request.
	Method string
}

type AuthEngine interface {

	// AuthenticateRequest inspects the given HTTP request for valid
	// authentication credentials. If valid, it returns a User object; otherwise, it
	// returns nil. An error is returned if credentials were present but
	// could not be verified.
	AuthenticateRequest(ctx context.Context, rq *http.Request) (*User, error)
}

type userKey struct{}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user stored by WithUser, or nil.
func UserFromContext(ctx context.Context) *User {
	user, _ := ctx.Value(userKey{}).(*User)
	return user
}
