// Package auth carries the caller identity through request contexts.
//
// Identity arrives from the fronting proxy as trusted headers; this
// package only models the principal and its context plumbing. Token
// verification is the proxy's job and out of scope here.
package auth

import (
	"context"
	"errors"
)

// Principal identifies the authenticated caller.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// ErrNoPrincipal is returned when a request context carries no
// authenticated caller.
var ErrNoPrincipal = errors.New("auth: no principal in context")

type contextKey string

const principalKey contextKey = "principal"

// WithPrincipal stores the caller identity in the context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext retrieves the caller identity from the context.
func FromContext(ctx context.Context) (*Principal, error) {
	p, ok := ctx.Value(principalKey).(*Principal)
	if !ok || p == nil || p.ID == "" {
		return nil, ErrNoPrincipal
	}
	return p, nil
}
