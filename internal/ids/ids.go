// Package ids mints ULIDs for token identifiers and transmission references.
package ids

import (
	cryptorand "crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	// Token IDs must not be guessable, so entropy comes from crypto/rand.
	entropy = ulid.Monotonic(cryptorand.Reader, 0)
)

// New returns a sortable identifier stamped with the current time.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns an identifier stamped with at. Identifiers minted within the
// same millisecond sort in minting order.
func NewAt(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// Time returns the timestamp encoded in id.
func Time(id string) (time.Time, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse id %q: %w", id, err)
	}
	return ulid.Time(u.Time()), nil
}
