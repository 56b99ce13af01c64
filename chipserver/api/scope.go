package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/juju/errors"
)

// Scope is what an authenticated user may do. A read scope may read the
// device and inspect the shadow; staging values, writing and loading
// configurations need the write scope.
type Scope int

const (
	ScopeRead Scope = iota + 1
	ScopeWrite
)

func (s Scope) String() string {
	switch s {
	case ScopeRead:
		return "read"
	case ScopeWrite:
		return "write"
	}
	return "none"
}

func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(s) {
	case "read", "ro":
		return ScopeRead, nil
	case "write", "rw":
		return ScopeWrite, nil
	}
	return 0, errors.NotValidf("scope %q", s)
}

type scopeKey struct{}

// WithScope attaches the scope of an authenticated user to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeOf returns the scope attached to r. Requests without one come from a
// server running without authentication and may do everything.
func ScopeOf(r *http.Request) Scope {
	if s, ok := r.Context().Value(scopeKey{}).(Scope); ok {
		return s
	}
	return ScopeWrite
}

// allowed reports an error to the client unless r has at least scope need.
func (s *API) allowed(w http.ResponseWriter, r *http.Request, need Scope) bool {
	if have := ScopeOf(r); have < need {
		s.sendError(w, errors.Unauthorizedf("%s with %s access: %s", r.URL.Path, have, need))
		return false
	}
	return true
}
