// Package identity maps an authenticated principal to the capability set
// it holds against a specific request, per spec §4.1. Resolution is
// deterministic and side-effect free; the controller calls it once per
// operation and passes the result down, rather than threading the raw
// principal through every layer — the decomposition spec §9 calls for
// instead of decorator-based permission checks.
package identity

import "github.com/opensafely-core/airlock/internal/domain"

// Resolver computes capability sets. It has no state of its own: role
// membership is carried entirely on the Principal (populated upstream of
// this package, which does not perform authentication — see spec §1).
type Resolver struct{}

// NewResolver constructs a Resolver. It takes no dependencies because role
// assignment is out of this package's scope by design.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve computes the capability set for `p` acting on request `r`
// (r may be nil when no request is yet in scope, e.g. for create_request).
func (res *Resolver) Resolve(p domain.Principal, workspace string, r *domain.Request) domain.Capabilities {
	caps := domain.Capabilities{
		Principal:       p,
		WorkspaceAccess: p.HasWorkspaceAccess(workspace),
		OutputChecker:   p.IsOutputChecker(),
		Copilot:         p.IsCopilot(workspace),
	}
	if r != nil {
		caps.IsAuthor = p.Username == r.Author
	}
	return caps
}

// Check evaluates a single capability predicate and returns a
// PermissionDenied error with `msg` when it does not hold.
func Check(ok bool, msg string) error {
	if ok {
		return nil
	}
	return permissionDenied(msg)
}
