package pph

import (
	"context"
	"strconv"
	"time"
)

// Cache is the ambient key/value store the engine persists its state
// through. Implementations must make Get/Set safe for
// concurrent use by independent processes sharing the same backing
// store (see internal/storage/sqlite and internal/storage/postgres for
// two such adapters).
type Cache interface {
	// Get returns the value for key, and ok == false if key is unset.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Set stores value under key, replacing any prior value.
	Set(ctx context.Context, key string, value []byte) error
}

// Fixed keys used against Cache; candidate shares get their own
// per-number keys via candidateShareKey.
const (
	cacheKeyHasher        = "hasher"
	cacheKeySharenumbers  = "sharenumbers"
	cacheKeyPartialHashes = "partial_hashes"
)

// candidateShareKey returns the numeric cache key (as a string) a
// candidate share for share number n is stored under.
func candidateShareKey(n int) string {
	return strconv.Itoa(n)
}

// User is one record of the ambient identity store: an opaque ID, the
// encoded password verifier, and the join timestamp the sweeper
// filters on.
type User struct {
	ID         string
	Password   string
	DateJoined time.Time
}

// UserStore is the ambient identity store: an iterator over
// users filtered by DateJoined >= since, each exposing a rewritable
// Password field that UserSweeper persists back via SavePassword.
type UserStore interface {
	// UsersSince returns every user whose DateJoined is at or after
	// since.
	UsersSince(ctx context.Context, since time.Time) ([]User, error)

	// SavePassword persists a rewritten encoded verifier for userID.
	SavePassword(ctx context.Context, userID, encoded string) error
}
