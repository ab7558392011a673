// Package session defines the boundary to the authentication/session
// store: credential lookup for binding the realtime connection, and the
// forced sign-out hook.
package session

import "context"

// TokenProvider supplies the current access token. Implementations live in
// the auth subsystem; the engine only reads through this interface so
// credential rotation is picked up on every (re)connect.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// SignOutFunc is invoked when the authenticated account's own record
// transitions into a disabled, suspended, or deleted state.
type SignOutFunc func()

// StaticTokenProvider returns a fixed token. Useful for tools and tests.
type StaticTokenProvider string

// AccessToken returns the fixed token.
func (p StaticTokenProvider) AccessToken(ctx context.Context) (string, error) {
	return string(p), nil
}
