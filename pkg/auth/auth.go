package auth

import (
	"context"
	"errors"
	"net/http"
)

// Decision is an authenticator's vote.
type Decision int

const (
	// Yes accepts the request; the chain stops and the identity is used.
	Yes Decision = iota

	// No rejects the request; the chain stops.
	No

	// Abstain passes the request to the next authenticator.
	Abstain
)

func (d Decision) String() string {
	switch d {
	case Yes:
		return "yes"
	case No:
		return "no"
	case Abstain:
		return "abstain"
	}
	return "unknown"
}

// Result is the outcome of one authentication attempt.
type Result struct {
	Decision Decision
	Identity *Identity // set when Decision == Yes
	Err      error     // set when Decision == No
}

// MetadataTenant is the Identity metadata key that scopes ledger access.
const MetadataTenant = "tenant_id"

// DefaultTier is used for identities without a service tier.
const DefaultTier = "default"

// Identity is an authenticated caller.
type Identity struct {
	// Subject is the unique caller identifier and must not be empty.
	Subject string

	// ServiceTier selects the caller's rate limit.
	ServiceTier string

	Scopes []string

	// Metadata carries authenticator-specific attributes such as
	// MetadataTenant.
	Metadata map[string]string
}

// TenantID returns the tenant from metadata, or "".
func (id *Identity) TenantID() string {
	if id == nil || id.Metadata == nil {
		return ""
	}
	return id.Metadata[MetadataTenant]
}

// Tier returns the service tier, or DefaultTier when unset.
func (id *Identity) Tier() string {
	if id == nil || id.ServiceTier == "" {
		return DefaultTier
	}
	return id.ServiceTier
}

// Anonymous is the identity granted when every authenticator abstains
// and the chain defaults to Yes.
func Anonymous() *Identity {
	return &Identity{Subject: "anonymous", ServiceTier: DefaultTier}
}

// Authenticator inspects request credentials and votes.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) Result
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(ctx context.Context, r *http.Request) Result

// Authenticate calls f(ctx, r).
func (f AuthenticatorFunc) Authenticate(ctx context.Context, r *http.Request) Result {
	return f(ctx, r)
}

// Sentinel errors.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrTooManyRequests = errors.New("rate limit exceeded")
)

// Chain evaluates authenticators in order until one votes Yes or No.
type Chain struct {
	Authenticators []Authenticator

	// DefaultDecision applies when every authenticator abstains. Yes
	// grants Anonymous; anything else rejects.
	DefaultDecision Decision
}

// NewChain returns a chain that rejects requests nobody vouches for.
func NewChain(authenticators ...Authenticator) *Chain {
	return &Chain{Authenticators: authenticators, DefaultDecision: No}
}

// Authenticate runs the chain.
func (c *Chain) Authenticate(ctx context.Context, r *http.Request) Result {
	for _, authn := range c.Authenticators {
		if res := authn.Authenticate(ctx, r); res.Decision != Abstain {
			return res
		}
	}
	if c.DefaultDecision == Yes {
		return Result{Decision: Yes, Identity: Anonymous()}
	}
	return Result{Decision: No, Err: ErrUnauthenticated}
}
