package api

import (
	"crypto/rand"
	"math/big"
	mrand "math/rand"
	"regexp"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyz0123456789"

	runIDPrefix        = "run_"
	batchIDPrefix      = "batch_"
	invocationIDPrefix = "call_"
)

var (
	runIDPattern        = regexp.MustCompile(`^run_[0-9A-HJKMNP-TV-Z]{26}$`)
	batchIDPattern      = regexp.MustCompile(`^batch_[0-9A-HJKMNP-TV-Z]{26}$`)
	invocationIDPattern = regexp.MustCompile(`^call_[a-z0-9]{24}$`)
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mrand.New(mrand.NewSource(time.Now().UnixNano())), 0)
)

// NewRunID returns a time-ordered run identifier ("run_" + ULID).
func NewRunID() string {
	return runIDPrefix + newULID()
}

// NewBatchID returns a time-ordered batch identifier ("batch_" + ULID).
func NewBatchID() string {
	return batchIDPrefix + newULID()
}

// NewInvocationID returns an invocation identifier for backends that do not
// assign their own.
func NewInvocationID() string {
	return invocationIDPrefix + randomAlphanumeric(idLength)
}

// ValidateRunID reports whether id is a run identifier.
func ValidateRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// ValidateBatchID reports whether id is a batch identifier.
func ValidateBatchID(id string) bool {
	return batchIDPattern.MatchString(id)
}

// ValidateInvocationID reports whether id was produced by NewInvocationID.
func ValidateInvocationID(id string) bool {
	return invocationIDPattern.MatchString(id)
}

func newULID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
