// Package middleware provides the HTTP middleware chain: caller
// identity and request IDs.
package middleware

import (
	"net/http"

	"github.com/psychon7/vibe-kanban/pkg/auth"
)

// Identity headers set by the fronting proxy after it verifies the
// session. The service trusts them; terminating auth at the edge is a
// deployment requirement, not something this layer re-checks.
const (
	HeaderUserID    = "X-User-Id"
	HeaderUserEmail = "X-User-Email"
	HeaderUserName  = "X-User-Name"
)

// Identity extracts the caller from the identity headers and stores
// it in the request context. Requests without an identity pass
// through unauthenticated; handlers that need a principal reject them
// with 401.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		principal := &auth.Principal{
			ID:    userID,
			Email: r.Header.Get(HeaderUserEmail),
			Name:  r.Header.Get(HeaderUserName),
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// LocalIdentity injects a fixed principal into every request. Used in
// single-tenant installs with no fronting proxy, where the sole
// operator is implicitly the admin.
func LocalIdentity(principal *auth.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}
