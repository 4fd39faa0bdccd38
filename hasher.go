// Package pph implements the PolyPasswordHasher threshold
// password-hashing engine: a verifier scheme whose stored hashes are
// cryptographically entangled with a master secret that only becomes
// available in-process once enough successful logins contribute a
// threshold of Shamir shares.
package pph

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"pph/internal/codec"
	"pph/internal/shamir"
)

// Result is the explicit outcome of Verify: a tri-state rather than a
// bool-plus-exception, because a locked engine can be genuinely unable
// to answer.
type Result int

const (
	// NoMatch means the password did not verify against the stored
	// entry.
	NoMatch Result = iota
	// Match means the password verified.
	Match
	// LockedResult means the engine could not answer because it is
	// locked and the partial-verification channel could not settle the
	// question; Verify also returns a KindLocked error in this case.
	LockedResult
)

func (r Result) String() string {
	switch r {
	case Match:
		return "Match"
	case NoMatch:
		return "NoMatch"
	case LockedResult:
		return "Locked"
	default:
		return "Unknown"
	}
}

// Limiter optionally throttles repeated verify attempts against the
// same verifier string; it is consulted on every Verify, whether the
// engine is locked or unlocked, so that an operator
// embedding this engine behind a login endpoint can rate-limit guesses
// without the engine needing to know anything about HTTP.
type Limiter interface {
	// Allow reports whether a verify attempt against key may proceed.
	Allow(key string) bool
}

// SecurityLogger receives security events that are logged rather than
// surfaced to the caller: a partial match without a full match, a
// post-unlock audit mismatch, a conflicting candidate share.
type SecurityLogger interface {
	SecurityEvent(ctx context.Context, event string, attrs ...any)
}

// Observer receives lifecycle notifications an embedding service can
// turn into metrics, independent of the security-specific
// SecurityLogger channel. All methods must be safe
// to call while Hasher.mu is held, so implementations must not call
// back into the Hasher.
type Observer interface {
	// EncodeCompleted is called once Encode has produced a verifier,
	// reporting whether the engine was locked at the time.
	EncodeCompleted(locked bool)
	// VerifyCompleted is called once Verify has settled on result,
	// including the Locked result and error paths.
	VerifyCompleted(result Result)
	// Unlocked is called once, the moment recombine transitions the
	// engine from locked to unlocked.
	Unlocked()
	// AccountsSwept is called after UserSweeper finishes a pass
	// following an unlock, reporting how many accounts it rewrote.
	AccountsSwept(n int)
}

// noopObserver is the default Observer installed when the caller
// supplies none.
type noopObserver struct{}

func (noopObserver) EncodeCompleted(bool)    {}
func (noopObserver) VerifyCompleted(Result)  {}
func (noopObserver) Unlocked()               {}
func (noopObserver) AccountsSwept(int)       {}

// slogSecurityLogger adapts a *slog.Logger to SecurityLogger.
type slogSecurityLogger struct{ logger *slog.Logger }

func (s slogSecurityLogger) SecurityEvent(ctx context.Context, event string, attrs ...any) {
	s.logger.ErrorContext(ctx, event, attrs...)
}

// NewSlogSecurityLogger adapts logger into a SecurityLogger that logs
// every SecurityEvent at error level. It's the same adapter New
// installs by default when no WithSecurityLogger option is
// given, exported so callers layering their own SecurityLogger (e.g.
// one that also increments metrics) can chain to it instead of
// dropping SecurityEvent notifications on the floor.
func NewSlogSecurityLogger(logger *slog.Logger) SecurityLogger {
	return slogSecurityLogger{logger: logger}
}

// Hasher is the threshold password-hashing engine. A Hasher is safe
// for concurrent use; engine-wide state transitions (share allocation,
// candidate-share insertion, the Locked to Unlocked transition,
// partial-hash insertion) run under a single exclusive lock.
type Hasher struct {
	cfg     Config
	cache   Cache
	users   UserStore
	logger  *slog.Logger
	audit   SecurityLogger
	limiter Limiter

	observer Observer

	mu                    sync.Mutex
	state                 persistedState
	shamirSecret          *shamir.Secret
	candidateShareNumbers map[int]struct{}
	candidateShares       map[int][]byte
	partialHashes         map[string]partialHashRecord
}

// Option configures a Hasher at construction time.
type Option func(*Hasher)

// WithLogger overrides the structured logger used for ambient logging.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hasher) { h.logger = logger }
}

// WithSecurityLogger overrides where SecurityEvent notifications are
// sent; by default they go to the structured logger at error level.
func WithSecurityLogger(audit SecurityLogger) Option {
	return func(h *Hasher) { h.audit = audit }
}

// WithVerifyLimiter installs a per-account rate limiter consulted at
// the start of Verify.
func WithVerifyLimiter(limiter Limiter) Option {
	return func(h *Hasher) { h.limiter = limiter }
}

// WithObserver installs an Observer notified of Encode/Verify/unlock/
// sweep lifecycle events, typically backed by Prometheus counters.
func WithObserver(observer Observer) Option {
	return func(h *Hasher) { h.observer = observer }
}

// New constructs a Hasher. cfg is validated immediately; an invalid
// configuration returns a KindConfigError rather than surfacing later
// mid-operation.
func New(cfg Config, cache Cache, users UserStore, opts ...Option) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hasher{
		cfg:                   cfg,
		cache:                 cache,
		users:                 users,
		logger:                slog.Default(),
		state:                 persistedState{NextShare: 1},
		candidateShareNumbers: map[int]struct{}{},
		candidateShares:       map[int][]byte{},
		partialHashes:         map[string]partialHashRecord{},
		observer:              noopObserver{},
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.audit == nil {
		h.audit = slogSecurityLogger{logger: h.logger}
	}
	if h.observer == nil {
		h.observer = noopObserver{}
	}
	return h, nil
}

// Encode hashes password under salt and emits the verifier string. A
// salt wrapped in `$...$` requests a new threshold account and has its
// wrappers
// stripped before storage; any other non-empty salt requests a
// thresholdless account. iterations defaults to cfg.Iterations when
// omitted.
func (h *Hasher) Encode(ctx context.Context, password []byte, salt string, iterations ...int) (string, error) {
	if len(password) == 0 {
		return "", newError(KindParseError, "password must not be empty", nil)
	}
	if salt == "" {
		return "", newError(KindParseError, "salt must not be empty", nil)
	}
	iter := h.cfg.Iterations
	if len(iterations) > 0 && iterations[0] > 0 {
		iter = iterations[0]
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadStateLocked(ctx); err != nil {
		return "", err
	}

	wrapped := len(salt) >= 2 && strings.HasPrefix(salt, "$") && strings.HasSuffix(salt, "$")
	shareNumber := 0
	if wrapped {
		if h.state.NextShare > 255 {
			return "", newError(KindConfigError, "next share number exceeds 255", nil)
		}
		shareNumber = h.state.NextShare
		h.state.NextShare++
		if err := h.persistStateLocked(ctx); err != nil {
			return "", err
		}
		salt = strings.Trim(salt, "$")
	}
	if salt == "" {
		return "", newError(KindParseError, "salt must not be empty after stripping wrappers", nil)
	}

	digest := pbkdf2Hash(password, salt, iter)

	if !h.state.IsUnlocked || len(h.state.ThresholdKey) == 0 {
		passhash := codec.EncodeB64(digest)
		h.logger.DebugContext(ctx, "creating locked-mode entry", "share", shareNumber)
		h.observer.EncodeCompleted(true)
		return codec.EncodeLocked(shareNumber, iter, salt, passhash), nil
	}

	pp, err := h.maskDigestLocked(shareNumber, digest)
	if err != nil {
		return "", err
	}
	h.observer.EncodeCompleted(false)
	return codec.Encode(shareNumber, iter, salt, h.composePasshash(pp, digest)), nil
}

// composePasshash assembles the stored passhash field: the first
// hashLength-P bytes of the masked digest, then the last P bytes of the
// plain digest in their place. The partial bytes REPLACE the masked
// tail — the tail is never stored, so the plaintext partial bytes
// cannot be XORed against it to expose trailing share bytes offline.
func (h *Hasher) composePasshash(pp, digest []byte) string {
	p := h.cfg.PartialBytes
	return codec.EncodeB64(pp[:hashLength-p]) + codec.EncodeB64(digest[len(digest)-p:])
}

// maskDigestLocked produces the masked ("pp") bytes for share number n:
// AES-ECB encryption under threshold_key when n == 0, or XOR against
// the Shamir share's bytes when n > 0. Callers
// must hold h.mu and have already confirmed the engine is unlocked.
func (h *Hasher) maskDigestLocked(n int, digest []byte) ([]byte, error) {
	if n == 0 {
		pp, err := aesECBEncrypt(h.state.ThresholdKey, digest)
		if err != nil {
			return nil, newError(KindConfigError, "encrypting thresholdless entry", err)
		}
		return pp, nil
	}
	if n < 1 || n > 255 {
		return nil, newError(KindConfigError, "share number out of range", nil)
	}
	share, err := h.shamirSecret.ComputeShare(n)
	if err != nil {
		return nil, newError(KindConfigError, "computing share", err)
	}
	return xorBytes(digest, share.Y), nil
}

// Verify checks password against encoded.
func (h *Hasher) Verify(ctx context.Context, password []byte, encoded string) (result Result, err error) {
	defer func() { h.observer.VerifyCompleted(result) }()

	v, err := codec.Decode(encoded)
	if err != nil {
		return NoMatch, newError(KindParseError, "decoding verifier", err)
	}

	if h.limiter != nil && !h.limiter.Allow(encoded) {
		return NoMatch, newError(KindLocked, "rate limited", nil)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.loadStateLocked(ctx); err != nil {
		return NoMatch, err
	}

	if strings.HasPrefix(v.RawShare, "-") {
		digest := pbkdf2Hash(password, v.Salt, v.Iterations)
		expected := codec.EncodeB64(digest)
		if constantTimeEqual(expected, v.PassHash) {
			return Match, nil
		}
		return NoMatch, nil
	}

	n := v.Share

	if len(h.state.Secret) > 0 && len(h.state.ThresholdKey) > 0 {
		return h.verifyUnlockedLocked(ctx, password, encoded, v, n)
	}
	return h.verifyLockedLocked(ctx, password, encoded, v, n)
}

// verifyUnlockedLocked recomputes the unlocked form of the entry and
// compares it, also running the partial check so a mismatch between
// the two channels can be reported. Callers must hold h.mu.
func (h *Hasher) verifyUnlockedLocked(ctx context.Context, password []byte, encoded string, v codec.Verifier, n int) (Result, error) {
	digest := pbkdf2Hash(password, v.Salt, v.Iterations)
	pp, err := h.maskDigestLocked(n, digest)
	if err != nil {
		return NoMatch, err
	}
	proposed := h.composePasshash(pp, digest)

	partialMatch, perr := h.partialVerifyLocked(ctx, encoded, digest, v.PassHash, n)
	if perr != nil {
		return NoMatch, perr
	}
	fullMatch := constantTimeEqual(proposed, v.PassHash)

	if partialMatch && !fullMatch {
		h.audit.SecurityEvent(ctx, "possible database leak",
			"reason", "partial bytes matched without a full match", "share", n)
	}

	if fullMatch {
		return Match, nil
	}
	return NoMatch, nil
}

// verifyLockedLocked handles verification while the master secret is
// unknown: threshold entries contribute a candidate share, and the
// partial-byte channel answers when it can. Callers must hold h.mu.
func (h *Hasher) verifyLockedLocked(ctx context.Context, password []byte, encoded string, v codec.Verifier, n int) (Result, error) {
	digest := pbkdf2Hash(password, v.Salt, v.Iterations)

	if n != 0 {
		candidate, err := getShareFromHash(digest, v.PassHash, h.cfg.PartialBytes)
		if err != nil {
			return NoMatch, err
		}

		if existing, ok := h.candidateShares[n]; ok {
			if !bytes.Equal(existing, candidate) {
				h.audit.SecurityEvent(ctx, "share conflict", "share", n)
				return NoMatch, newError(KindShareConflict,
					fmt.Sprintf("candidate share %d disagrees with the cached share", n), nil)
			}
		} else {
			h.candidateShares[n] = candidate
			h.candidateShareNumbers[n] = struct{}{}
			if err := h.cache.Set(ctx, candidateShareKey(n), candidate); err != nil {
				return NoMatch, fmt.Errorf("pph: persisting candidate share %d: %w", n, err)
			}
			if err := h.persistShareNumbersLocked(ctx); err != nil {
				return NoMatch, err
			}
			if !h.state.IsUnlocked && len(h.candidateShareNumbers) >= h.cfg.Threshold {
				if err := h.recombineLocked(ctx); err != nil {
					return NoMatch, err
				}
			}
		}
	}

	if h.cfg.PartialBytes > 0 {
		match, err := h.partialVerifyLocked(ctx, encoded, digest, v.PassHash, n)
		if err != nil {
			return NoMatch, err
		}
		if match {
			return Match, nil
		}
		return NoMatch, nil
	}

	return LockedResult, ErrLocked
}

// partialVerifyLocked compares the trailing partial bytes of the
// recomputed digest against the stored ones and records a successful
// match for the post-unlock audit. Insert-only; an existing record for
// the same encoded string is left untouched. Callers must hold h.mu.
func (h *Hasher) partialVerifyLocked(ctx context.Context, encoded string, digest []byte, stored string, shareNumber int) (bool, error) {
	p := h.cfg.PartialBytes
	if p == 0 {
		return false, nil
	}
	prefixLen := ppEncodedLength(p)
	if len(stored) < prefixLen {
		return false, newError(KindParseError, "stored passhash shorter than expected", nil)
	}
	storedPartial, err := codec.DecodeB64(stored[prefixLen:])
	if err != nil || len(storedPartial) != p {
		return false, nil
	}
	recomputedPartial := digest[len(digest)-p:]
	match := constantTimeEqualBytes(recomputedPartial, storedPartial)

	if match {
		if _, exists := h.partialHashes[encoded]; !exists {
			h.partialHashes[encoded] = partialHashRecord{
				ShareNumber: shareNumber,
				SaltedHash:  codec.EncodeB64(digest),
			}
			if err := h.persistPartialHashesLocked(ctx); err != nil {
				return match, err
			}
		}
	}
	return match, nil
}

// getShareFromHash decodes the masked prefix of stored and XORs it with
// the recomputed digest. When password is correct this equals the first
// hashLength-p bytes of the share's Y for the share number the caller
// believes this entry carries — the trailing p share bytes were
// replaced by plaintext partial bytes at encode time and are not
// recoverable from the verifier.
func getShareFromHash(digest []byte, stored string, p int) ([]byte, error) {
	prefixLen := ppEncodedLength(p)
	if len(stored) < prefixLen {
		return nil, newError(KindParseError, "stored passhash shorter than expected", nil)
	}
	pp, err := codec.DecodeB64(stored[:prefixLen])
	if err != nil {
		return nil, newError(KindParseError, "decoding stored passhash", err)
	}
	if len(pp) != hashLength-p {
		return nil, newError(KindParseError, "decoded passhash has unexpected length", nil)
	}
	return xorBytes(pp, digest), nil
}

// recombineLocked transitions the engine from Locked to Unlocked by
// recovering the master secret from the accumulated candidate shares.
// It is a no-op if the engine is already unlocked. Callers must hold
// h.mu.
func (h *Hasher) recombineLocked(ctx context.Context) error {
	if h.state.IsUnlocked {
		return nil
	}

	recovery, err := shamir.NewRecovery(h.cfg.Threshold)
	if err != nil {
		return newError(KindConfigError, "building recovery instance", err)
	}

	shares := make([]shamir.Share, 0, len(h.candidateShares))
	for n, y := range h.candidateShares {
		shares = append(shares, shamir.Share{Number: byte(n), Y: y})
	}

	if err := recovery.Recover(shares); err != nil {
		if errors.Is(err, shamir.ErrInconsistentShares) {
			return newError(KindRecoverMismatch, "shamir consistency check failed across extra shares", err)
		}
		return newError(KindRecoverMismatch, "shamir recovery failed", err)
	}

	// Candidate shares carry only the first hashLength-PartialBytes
	// bytes of each Y, so recovery yields the same prefix of the
	// secret; completeSecret checks the fingerprint overlap and
	// recomputes the missing tail from it.
	secret, ok := completeSecret(recovery.SecretData(), h.cfg.SecretLength, h.cfg.SecretVerificationBytes)
	if !ok {
		return newError(KindSecretFingerprintFailed, "recovered secret failed its fingerprint check", nil)
	}

	previousLastUnlocked := h.state.LastUnlocked

	h.state.Secret = secret
	h.state.ThresholdKey = append([]byte(nil), secret[:h.cfg.SecretLength]...)
	h.state.ShamirFitting = recovery.FittingShares()
	h.state.IsUnlocked = true
	h.state.LastUnlocked = time.Now().UTC()
	// recovery itself keeps serving ComputeShare from here on, via
	// Lagrange interpolation over the fitting points it recovered from
	// (shamir.Secret.ComputeShare) — never a freshly randomized
	// polynomial, which would disagree with shares already handed out
	// under the original one.
	h.shamirSecret = recovery

	h.auditPartialHashesLocked(ctx)

	if err := h.persistStateLocked(ctx); err != nil {
		return err
	}

	h.observer.Unlocked()

	if h.users != nil {
		h.sweepLockedAccountsLocked(ctx, previousLastUnlocked)
	}

	return nil
}

// auditPartialHashesLocked runs the post-unlock consistency audit: for every
// thresholdless (n == 0) partial-hash record, recompute the AES form
// and compare it against the stored entry's prefix, logging a
// "possible break-in" SecurityEvent on mismatch without blocking the
// unlock. Callers must hold h.mu.
func (h *Hasher) auditPartialHashesLocked(ctx context.Context) {
	prefixLen := ppEncodedLength(h.cfg.PartialBytes)
	for encoded, rec := range h.partialHashes {
		if rec.ShareNumber != 0 {
			continue
		}
		digest, err := codec.DecodeB64(rec.SaltedHash)
		if err != nil {
			continue
		}
		pp, err := aesECBEncrypt(h.state.ThresholdKey, digest)
		if err != nil {
			continue
		}
		expectedPrefix := codec.EncodeB64(pp[:hashLength-h.cfg.PartialBytes])

		v, err := codec.Decode(encoded)
		if err != nil {
			continue
		}
		if len(v.PassHash) < prefixLen || !constantTimeEqual(expectedPrefix, v.PassHash[:prefixLen]) {
			h.audit.SecurityEvent(ctx, "possible break-in",
				"reason", "stored hash disagrees with its own partial verification record", "encoded", encoded)
		}
	}
}

// MustUpdate reports whether encoded's iteration count differs from
// the configured default. It applies to locked entries too, so a stale
// entry is re-encoded at the current count when its password is next
// set.
func (h *Hasher) MustUpdate(encoded string) (bool, error) {
	v, err := codec.Decode(encoded)
	if err != nil {
		return false, newError(KindParseError, "decoding verifier", err)
	}
	return v.Iterations != h.cfg.Iterations, nil
}

// SafeSummary returns an ordered, masked description of encoded:
// algorithm, sharenumber, iterations, salt (masked), hash (masked).
func (h *Hasher) SafeSummary(encoded string) ([]SummaryField, error) {
	v, err := codec.Decode(encoded)
	if err != nil {
		return nil, newError(KindParseError, "decoding verifier", err)
	}
	return []SummaryField{
		{Key: "algorithm", Value: codec.Algorithm},
		{Key: "sharenumber", Value: v.RawShare},
		{Key: "iterations", Value: strconv.Itoa(v.Iterations)},
		{Key: "salt", Value: maskHash(v.Salt)},
		{Key: "hash", Value: maskHash(v.PassHash)},
	}, nil
}

// SummaryField is one key/value pair of a SafeSummary result, ordered
// the way it was appended.
type SummaryField struct {
	Key   string
	Value string
}

// maskHash reproduces Django's mask_hash masking shape: the first six
// characters are shown in the clear and every remaining character is
// replaced with '$'.
func maskHash(s string) string {
	const show = 6
	if len(s) <= show {
		return s
	}
	return s[:show] + strings.Repeat("$", len(s)-show)
}

func constantTimeEqualBytes(a, b []byte) bool {
	return constantTimeEqual(string(a), string(b))
}
