// Package apikey authenticates callers by static API keys sent either as
// "Authorization: Bearer <key>" or in the X-API-Key header. Only SHA-256
// hashes of the keys are kept.
package apikey

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/maia-bench/maia/pkg/auth"
)

// HeaderAPIKey is the alternative header carrying a raw key.
const HeaderAPIKey = "X-API-Key"

// Entry pairs a plaintext key with the identity it grants.
type Entry struct {
	Key      string
	Identity auth.Identity
}

type hashedEntry struct {
	hash     [32]byte
	identity auth.Identity
}

// Authenticator validates keys against a fixed set.
type Authenticator struct {
	keys []hashedEntry
}

// New hashes the entries. Entries with an empty key are skipped.
func New(entries []Entry) *Authenticator {
	a := &Authenticator{}
	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		a.keys = append(a.keys, hashedEntry{hash: sha256.Sum256([]byte(e.Key)), identity: e.Identity})
	}
	return a
}

// Len returns the number of usable keys.
func (a *Authenticator) Len() int { return len(a.keys) }

// Authenticate abstains when no key is presented, votes No for an unknown
// key and Yes with a copy of the matching identity otherwise.
func (a *Authenticator) Authenticate(_ context.Context, r *http.Request) auth.Result {
	token, present := credential(r)
	if !present {
		return auth.Result{Decision: auth.Abstain}
	}
	if token == "" {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	sum := sha256.Sum256([]byte(token))
	// Every entry is compared so timing does not reveal the match position.
	var match *hashedEntry
	for i := range a.keys {
		if subtle.ConstantTimeCompare(sum[:], a.keys[i].hash[:]) == 1 {
			match = &a.keys[i]
		}
	}
	if match == nil {
		return auth.Result{Decision: auth.No, Err: auth.ErrUnauthenticated}
	}

	id := match.identity
	if match.identity.Metadata != nil {
		id.Metadata = make(map[string]string, len(match.identity.Metadata))
		for k, v := range match.identity.Metadata {
			id.Metadata[k] = v
		}
	}
	id.Scopes = append([]string(nil), match.identity.Scopes...)
	return auth.Result{Decision: auth.Yes, Identity: &id}
}

// credential extracts the presented key. present is false when the
// request carries no key-style credential at all.
func credential(r *http.Request) (token string, present bool) {
	if v, ok := r.Header[http.CanonicalHeaderKey(HeaderAPIKey)]; ok && len(v) > 0 {
		return strings.TrimSpace(v[0]), true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")), true
}
