// Package noop provides an authenticator that accepts every request as
// one fixed identity. It serves local development and tests.
package noop

import (
	"context"
	"net/http"

	"github.com/maia-bench/maia/pkg/auth"
)

// Authenticator votes Yes for every request.
type Authenticator struct {
	// Identity is granted to every caller. Nil means auth.Anonymous().
	Identity *auth.Identity
}

// Authenticate returns a copy of the configured identity.
func (a *Authenticator) Authenticate(_ context.Context, _ *http.Request) auth.Result {
	id := auth.Anonymous()
	if a.Identity != nil {
		cp := *a.Identity
		id = &cp
	}
	return auth.Result{Decision: auth.Yes, Identity: id}
}
