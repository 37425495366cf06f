// Package api defines the wire types shared by maia's HTTP surface, its
// providers and its batch ledger: structured errors, run identifiers, and
// the answer request/response bodies.
//
// The package performs no I/O.
package api
