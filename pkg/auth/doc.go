// Package auth guards the maia HTTP surface.
//
// Authenticators vote on each request: Yes (identity found), No
// (credentials present but invalid) or Abstain (not their credential
// type). A Chain asks them in order and falls back to a default decision
// when every authenticator abstains. The HTTP middleware runs the chain,
// applies per-tier rate limits and scopes the ledger to the caller's
// tenant.
package auth
