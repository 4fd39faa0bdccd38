package pph

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"pph/internal/shamir"
)

// memCache is a trivial in-process Cache used by the package tests; the
// real adapters live in internal/storage/sqlite and
// internal/storage/postgres.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := make([]byte, len(value))
	copy(stored, value)
	c.data[key] = stored
	return nil
}

// memUserStore is a trivial in-process UserStore used by the package
// tests.
type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User
	seq   int
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*User{}}
}

func (s *memUserStore) Add(password string, joined time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("user-%d", s.seq)
	s.users[id] = &User{ID: id, Password: password, DateJoined: joined}
	return id
}

func (s *memUserStore) UsersSince(_ context.Context, since time.Time) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []User
	for _, u := range s.users {
		if !u.DateJoined.Before(since) {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *memUserStore) SavePassword(_ context.Context, userID, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("no such user %q", userID)
	}
	u.Password = encoded
	return nil
}

// testConfig keeps the iteration count low so the PBKDF2 work doesn't
// dominate the test run.
func testConfig() Config {
	return Config{
		Threshold:               3,
		PartialBytes:            2,
		SecretLength:            32,
		SecretVerificationBytes: 4,
		Iterations:              1000,
	}
}

// makeValidSecret builds a length-byte secret whose trailing
// verificationBytes satisfy verifySecret: those bytes equal
// the first verificationBytes of base64(SHA256(the preceding bytes)).
func makeValidSecret(length, verificationBytes int) []byte {
	secret := make([]byte, length)
	if _, err := rand.Read(secret[:length-verificationBytes]); err != nil {
		panic(err)
	}
	sum := sha256.Sum256(secret[:length-verificationBytes])
	fingerprint := base64.StdEncoding.EncodeToString(sum[:])
	copy(secret[length-verificationBytes:], fingerprint[:verificationBytes])
	return secret
}

// bootstrapUnlocked directly installs an unlocked engine state built
// from a freshly split secret, standing in for whatever out-of-band
// provisioning step first establishes the master secret (recombine
// only covers re-deriving a secret that already protects accounts;
// the very first bootstrap belongs to the deployment).
func bootstrapUnlocked(h *Hasher, secret []byte) {
	split, err := shamir.NewSplit(h.cfg.Threshold, secret)
	if err != nil {
		panic(err)
	}
	// Stand the engine up the same way a real recombine would leave it:
	// a recovery-side Secret fitted from `threshold` of the split's own
	// shares, so ComputeShare(n) behaves identically to what a real
	// Locked->Unlocked transition would persist (state.go's
	// ShamirFitting), rather than keeping the splitting instance itself.
	fitting := make([]shamir.Share, h.cfg.Threshold)
	for i := 0; i < h.cfg.Threshold; i++ {
		sh, err := split.ComputeShare(i + 1)
		if err != nil {
			panic(err)
		}
		fitting[i] = sh
	}
	recovered, err := shamir.NewFromFitting(h.cfg.Threshold, fitting)
	if err != nil {
		panic(err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.IsUnlocked = true
	h.state.Secret = secret
	h.state.ThresholdKey = append([]byte(nil), secret[:h.cfg.SecretLength]...)
	h.state.ShamirFitting = recovered.FittingShares()
	h.state.LastUnlocked = time.Now().UTC()
	h.shamirSecret = recovered
}
