package pph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"pph/internal/shamir"
)

// persistedState is the JSON shape stored gzip-compressed under the
// "hasher" cache key. The whole blob lives under a single key so the
// Locked to Unlocked transition is observable by sibling processes as
// one atomic replacement.
type persistedState struct {
	IsUnlocked   bool      `json:"is_unlocked"`
	Secret       []byte    `json:"secret,omitempty"`
	ThresholdKey []byte    `json:"threshold_key,omitempty"`
	NextShare    int       `json:"next_share"`
	LastUnlocked time.Time `json:"last_unlocked"`

	// ShamirFitting is the threshold (x, y) points the engine recovered
	// Secret from. Persisted so every process reconstructs a Secret that
	// hands out identical ComputeShare(n) output for a given n across
	// restarts, rather than re-randomizing the polynomial's higher-order
	// coefficients (which would disagree with shares already stored on
	// disk for existing accounts).
	ShamirFitting []shamir.Share `json:"shamir_fitting,omitempty"`
}

// partialHashRecord is the value type of the "partial_hashes" map:
// which share a partially-verified entry claims, and the
// base64 salted hash recomputed at the time of that verification.
type partialHashRecord struct {
	ShareNumber int    `json:"share_number"`
	SaltedHash  string `json:"salted_hash_b64"`
}

func marshalState(s persistedState) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalState(data []byte) (persistedState, error) {
	var zero persistedState
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return zero, fmt.Errorf("pph: decompressing state blob: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return zero, fmt.Errorf("pph: reading state blob: %w", err)
	}
	var s persistedState
	if err := json.Unmarshal(raw, &s); err != nil {
		return zero, fmt.Errorf("pph: decoding state blob: %w", err)
	}
	return s, nil
}

// loadState reloads engine state from the cache, so a sibling
// process's progress toward unlock is observed on every Encode or
// Verify entry. It is a no-op once the engine has already observed
// is_unlocked == true in-process.
func (h *Hasher) loadState(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadStateLocked(ctx)
}

// loadStateLocked is loadState's body, callable while h.mu is already
// held.
func (h *Hasher) loadStateLocked(ctx context.Context) error {
	if h.state.IsUnlocked {
		return nil
	}

	raw, ok, err := h.cache.Get(ctx, cacheKeyHasher)
	if err != nil {
		return fmt.Errorf("pph: loading state: %w", err)
	}
	if ok {
		s, err := unmarshalState(raw)
		if err != nil {
			return err
		}
		h.state = s
		if s.IsUnlocked {
			if err := h.rebuildShamirLocked(); err != nil {
				return err
			}
		}
	} else if h.state.NextShare == 0 {
		h.state.NextShare = 1
	}

	sharesRaw, ok, err := h.cache.Get(ctx, cacheKeySharenumbers)
	if err != nil {
		return fmt.Errorf("pph: loading share numbers: %w", err)
	}
	h.candidateShareNumbers = map[int]struct{}{}
	if ok {
		var numbers []int
		if err := json.Unmarshal(sharesRaw, &numbers); err != nil {
			return fmt.Errorf("pph: decoding share numbers: %w", err)
		}
		for _, n := range numbers {
			h.candidateShareNumbers[n] = struct{}{}
		}
	}

	h.candidateShares = map[int][]byte{}
	for n := range h.candidateShareNumbers {
		shareRaw, ok, err := h.cache.Get(ctx, candidateShareKey(n))
		if err != nil {
			return fmt.Errorf("pph: loading candidate share %d: %w", n, err)
		}
		if ok {
			h.candidateShares[n] = shareRaw
		}
	}

	partialRaw, ok, err := h.cache.Get(ctx, cacheKeyPartialHashes)
	if err != nil {
		return fmt.Errorf("pph: loading partial hashes: %w", err)
	}
	h.partialHashes = map[string]partialHashRecord{}
	if ok {
		if err := json.Unmarshal(partialRaw, &h.partialHashes); err != nil {
			return fmt.Errorf("pph: decoding partial hashes: %w", err)
		}
	}

	return nil
}

// persistStateLocked writes the full engine state back to the cache.
// Callers must hold h.mu.
func (h *Hasher) persistStateLocked(ctx context.Context) error {
	blob, err := marshalState(h.state)
	if err != nil {
		return fmt.Errorf("pph: encoding state blob: %w", err)
	}
	if err := h.cache.Set(ctx, cacheKeyHasher, blob); err != nil {
		return fmt.Errorf("pph: persisting state: %w", err)
	}
	return nil
}

// persistShareNumbersLocked writes the current set of seen candidate
// share numbers back to the "sharenumbers" cache key.
func (h *Hasher) persistShareNumbersLocked(ctx context.Context) error {
	numbers := make([]int, 0, len(h.candidateShareNumbers))
	for n := range h.candidateShareNumbers {
		numbers = append(numbers, n)
	}
	raw, err := json.Marshal(numbers)
	if err != nil {
		return err
	}
	return h.cache.Set(ctx, cacheKeySharenumbers, raw)
}

// persistPartialHashesLocked writes the partial_hashes map back to the
// "partial_hashes" cache key.
func (h *Hasher) persistPartialHashesLocked(ctx context.Context) error {
	raw, err := json.Marshal(h.partialHashes)
	if err != nil {
		return err
	}
	return h.cache.Set(ctx, cacheKeyPartialHashes, raw)
}

// rebuildShamirLocked reconstructs h.shamirSecret from the persisted
// polynomial after loading an already-unlocked state. Callers must hold
// h.mu.
func (h *Hasher) rebuildShamirLocked() error {
	s, err := shamir.NewFromFitting(h.cfg.Threshold, h.state.ShamirFitting)
	if err != nil {
		return newError(KindConfigError, "rebuilding shamir polynomial from persisted state", err)
	}
	h.shamirSecret = s
	return nil
}
