package pph

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pph/internal/codec"
)

func mustParseRFC3339(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("time.Parse(%q): %v", s, err)
	}
	return tm
}

// TestRoundTripThresholdlessUnlocked: an unlocked engine's
// thresholdless (share 0) verifier accepts its own password and
// rejects any other.
func TestRoundTripThresholdlessUnlocked(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	encoded, err := h.Encode(ctx, []byte("hunter2"), "salt-x")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	v, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Share != 0 {
		t.Fatalf("unwrapped salt should mint share 0, got %d", v.Share)
	}

	result, err := h.Verify(ctx, []byte("hunter2"), encoded)
	if err != nil {
		t.Fatalf("Verify(correct password): %v", err)
	}
	if result != Match {
		t.Fatalf("Verify(correct password) = %v, want Match", result)
	}

	result, err = h.Verify(ctx, []byte("hunter3"), encoded)
	if err != nil {
		t.Fatalf("Verify(wrong password): %v", err)
	}
	if result != NoMatch {
		t.Fatalf("Verify(wrong password) = %v, want NoMatch", result)
	}
}

// TestRoundTripThresholdUnlocked: a wrapped salt mints the share
// number equal to next_share observed before the call, and next_share
// advances by exactly one.
func TestRoundTripThresholdUnlocked(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	h.mu.Lock()
	before := h.state.NextShare
	h.mu.Unlock()

	encoded, err := h.Encode(ctx, []byte("pw1"), "$a$")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	h.mu.Lock()
	after := h.state.NextShare
	h.mu.Unlock()
	if after != before+1 {
		t.Fatalf("next_share = %d, want %d", after, before+1)
	}

	v, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Share != before {
		t.Fatalf("minted share = %d, want %d", v.Share, before)
	}

	result, err := h.Verify(ctx, []byte("pw1"), encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result != Match {
		t.Fatalf("Verify(correct password) = %v, want Match", result)
	}
}

// TestLockedEncodeSharePrefixedWithMinus: while locked, every encoded
// share field begins with '-', including the thresholdless ("-0") case
// that Go's lack of negative zero makes easy to get wrong.
func TestLockedEncodeSharePrefixedWithMinus(t *testing.T) {
	ctx := context.Background()
	h, err := New(testConfig(), newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	wrapped, err := h.Encode(ctx, []byte("pw"), "$a$")
	if err != nil {
		t.Fatalf("Encode(wrapped): %v", err)
	}
	vWrapped, err := codec.Decode(wrapped)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !strings.HasPrefix(vWrapped.RawShare, "-") {
		t.Fatalf("locked wrapped-salt entry RawShare = %q, want '-' prefix", vWrapped.RawShare)
	}

	unwrapped, err := h.Encode(ctx, []byte("pw2"), "salt2")
	if err != nil {
		t.Fatalf("Encode(unwrapped): %v", err)
	}
	vUnwrapped, err := codec.Decode(unwrapped)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if vUnwrapped.RawShare != "-0" {
		t.Fatalf("locked thresholdless entry RawShare = %q, want %q", vUnwrapped.RawShare, "-0")
	}
}

// TestLockedVerifyPartialFalsePositive: while locked, a verification
// attempt against a genuine (non-"-") threshold entry succeeds
// whenever the trailing PartialBytes agree, regardless of whether the
// masked prefix is correct. This is the intentional false-positive
// channel.
func TestLockedVerifyPartialFalsePositive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	salt := "sharedsalt"
	wrongDigest := pbkdf2Hash([]byte("wrongpw"), salt, cfg.Iterations)

	garbagePrefix := bytes.Repeat([]byte{0xAB}, hashLength-cfg.PartialBytes)
	passhash := codec.EncodeB64(garbagePrefix) + codec.EncodeB64(wrongDigest[hashLength-cfg.PartialBytes:])
	encoded := codec.Encode(1, cfg.Iterations, salt, passhash)

	result, err := h.Verify(ctx, []byte("wrongpw"), encoded)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result != Match {
		t.Fatalf("Verify with matching partial bytes = %v, want Match", result)
	}
}

// TestUnlockByVerifyingPreExistingThresholdAccounts: three threshold
// accounts minted 1, 2, 3 while an engine was unlocked; a fresh,
// locked engine that only knows the encoded strings transitions to
// unlocked after the third correct verification, and last_unlocked
// advances.
func TestUnlockByVerifyingPreExistingThresholdAccounts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig() // Threshold 3, PartialBytes 2, Iterations 1000

	provisioner, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(provisioner): %v", err)
	}
	secret := makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes)
	bootstrapUnlocked(provisioner, secret)

	encA, err := provisioner.Encode(ctx, []byte("pw1"), "$a$")
	if err != nil {
		t.Fatalf("Encode(a): %v", err)
	}
	encB, err := provisioner.Encode(ctx, []byte("pw2"), "$b$")
	if err != nil {
		t.Fatalf("Encode(b): %v", err)
	}
	encC, err := provisioner.Encode(ctx, []byte("pw3"), "$c$")
	if err != nil {
		t.Fatalf("Encode(c): %v", err)
	}

	for _, tc := range []struct {
		encoded string
		want    int
	}{{encA, 1}, {encB, 2}, {encC, 3}} {
		v, err := codec.Decode(tc.encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if v.Share != tc.want {
			t.Fatalf("share = %d, want %d", v.Share, tc.want)
		}
	}

	restarted, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(restarted): %v", err)
	}

	restarted.mu.Lock()
	if restarted.state.IsUnlocked {
		t.Fatal("freshly constructed engine should start locked")
	}
	restarted.mu.Unlock()

	if r, err := restarted.Verify(ctx, []byte("pw1"), encA); err != nil {
		t.Fatalf("Verify(a): %v", err)
	} else if r != Match {
		t.Fatalf("Verify(a) = %v, want Match (partial bytes agree)", r)
	}

	restarted.mu.Lock()
	stillLocked := !restarted.state.IsUnlocked
	restarted.mu.Unlock()
	if !stillLocked {
		t.Fatal("engine should still be locked after only one of three shares")
	}

	if r, err := restarted.Verify(ctx, []byte("pw2"), encB); err != nil {
		t.Fatalf("Verify(b): %v", err)
	} else if r != Match {
		t.Fatalf("Verify(b) = %v, want Match", r)
	}

	restarted.mu.Lock()
	stillLocked = !restarted.state.IsUnlocked
	restarted.mu.Unlock()
	if !stillLocked {
		t.Fatal("engine should still be locked after only two of three shares")
	}

	if r, err := restarted.Verify(ctx, []byte("pw3"), encC); err != nil {
		t.Fatalf("Verify(c): %v", err)
	} else if r != Match {
		t.Fatalf("Verify(c) = %v, want Match", r)
	}

	restarted.mu.Lock()
	unlocked := restarted.state.IsUnlocked
	lastUnlocked := restarted.state.LastUnlocked
	recovered := append([]byte(nil), restarted.state.Secret...)
	thresholdKey := append([]byte(nil), restarted.state.ThresholdKey...)
	restarted.mu.Unlock()
	if !unlocked {
		t.Fatal("engine should be unlocked after the third correct verification")
	}
	if lastUnlocked.IsZero() {
		t.Fatal("last_unlocked should advance once the engine unlocks")
	}
	// Candidate shares carry only hashLength-PartialBytes bytes each,
	// so recombine has to rebuild the secret's tail through the
	// fingerprint; the result must still be the original secret
	// byte-for-byte, or thresholdless entries minted before the restart
	// would stop decrypting.
	if !bytes.Equal(recovered, secret) {
		t.Fatal("recombine did not recover the original secret")
	}
	if !bytes.Equal(thresholdKey, secret[:cfg.SecretLength]) {
		t.Fatal("threshold key does not match the provisioning key")
	}
}

// TestVerifyAfterUnlockStillMatchesExistingThresholdAccounts guards
// against recombine ever re-randomizing the Shamir polynomial: once the
// engine unlocks, re-verifying the very accounts whose shares produced
// the unlock must still match via the unlocked (Shamir XOR) path, not
// just the partial-byte channel that carried them while locked.
func TestVerifyAfterUnlockStillMatchesExistingThresholdAccounts(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig() // Threshold 3, PartialBytes 2, Iterations 1000

	provisioner, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(provisioner): %v", err)
	}
	bootstrapUnlocked(provisioner, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	encA, err := provisioner.Encode(ctx, []byte("pw1"), "$a$")
	if err != nil {
		t.Fatalf("Encode(a): %v", err)
	}
	encB, err := provisioner.Encode(ctx, []byte("pw2"), "$b$")
	if err != nil {
		t.Fatalf("Encode(b): %v", err)
	}
	encC, err := provisioner.Encode(ctx, []byte("pw3"), "$c$")
	if err != nil {
		t.Fatalf("Encode(c): %v", err)
	}
	// A fourth threshold account minted before the restart, whose share
	// number (4) was never submitted during recovery.
	encD, err := provisioner.Encode(ctx, []byte("pw4"), "$d$")
	if err != nil {
		t.Fatalf("Encode(d): %v", err)
	}

	restarted, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(restarted): %v", err)
	}
	for _, tc := range []struct{ password, encoded string }{
		{"pw1", encA}, {"pw2", encB}, {"pw3", encC},
	} {
		if r, err := restarted.Verify(ctx, []byte(tc.password), tc.encoded); err != nil {
			t.Fatalf("Verify(%s): %v", tc.password, err)
		} else if r != Match {
			t.Fatalf("Verify(%s) = %v, want Match", tc.password, r)
		}
	}

	restarted.mu.Lock()
	unlocked := restarted.state.IsUnlocked
	restarted.mu.Unlock()
	if !unlocked {
		t.Fatal("engine should be unlocked after three correct verifications")
	}

	// Re-verify every account, including the un-submitted share 4,
	// through the now-unlocked Shamir path. A fresh random polynomial
	// would make every one of these disagree with what was stored.
	for _, tc := range []struct{ password, encoded string }{
		{"pw1", encA}, {"pw2", encB}, {"pw3", encC}, {"pw4", encD},
	} {
		if r, err := restarted.Verify(ctx, []byte(tc.password), tc.encoded); err != nil {
			t.Fatalf("post-unlock Verify(%s): %v", tc.password, err)
		} else if r != Match {
			t.Fatalf("post-unlock Verify(%s) = %v, want Match", tc.password, r)
		}
		if r, err := restarted.Verify(ctx, []byte("wrong"), tc.encoded); err != nil {
			t.Fatalf("post-unlock Verify(wrong) for %s: %v", tc.password, err)
		} else if r != NoMatch {
			t.Fatalf("post-unlock Verify(wrong) for %s = %v, want NoMatch", tc.password, r)
		}
	}
}

// TestShareConflictOnWrongPasswordAfterCachedCorrectShare: once a
// share number has a cached candidate from a correct verification, a
// later verification of the same entry with a wrong password yields a
// differing candidate and must raise ShareConflict rather than
// silently overwrite it.
func TestShareConflictOnWrongPasswordAfterCachedCorrectShare(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()

	provisioner, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(provisioner): %v", err)
	}
	bootstrapUnlocked(provisioner, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	encoded, err := provisioner.Encode(ctx, []byte("pw2"), "$b$")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	restarted, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(restarted): %v", err)
	}

	if _, err := restarted.Verify(ctx, []byte("pw2"), encoded); err != nil {
		t.Fatalf("Verify(correct password): %v", err)
	}

	_, err = restarted.Verify(ctx, []byte("wrong-password"), encoded)
	if err == nil {
		t.Fatal("Verify(wrong password against cached share) should fail with ShareConflict")
	}
	var pphErr *Error
	if !errors.As(err, &pphErr) || pphErr.Kind != KindShareConflict {
		t.Fatalf("error = %v, want KindShareConflict", err)
	}
}

// TestRecombineIsNoopOnceUnlocked: invoking recombine again after the
// engine is already unlocked changes neither secret, threshold_key,
// nor next_share.
func TestRecombineIsNoopOnceUnlocked(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	h.mu.Lock()
	beforeSecret := append([]byte(nil), h.state.Secret...)
	beforeKey := append([]byte(nil), h.state.ThresholdKey...)
	beforeNext := h.state.NextShare
	err = h.recombineLocked(ctx)
	afterSecret := h.state.Secret
	afterKey := h.state.ThresholdKey
	afterNext := h.state.NextShare
	h.mu.Unlock()

	if err != nil {
		t.Fatalf("recombineLocked on already-unlocked engine: %v", err)
	}
	if !bytes.Equal(beforeSecret, afterSecret) {
		t.Fatal("secret changed across a no-op recombine")
	}
	if !bytes.Equal(beforeKey, afterKey) {
		t.Fatal("threshold_key changed across a no-op recombine")
	}
	if beforeNext != afterNext {
		t.Fatalf("next_share changed across a no-op recombine: %d -> %d", beforeNext, afterNext)
	}
}

// TestSecretFingerprint: a 256-byte buffer whose last 4 bytes equal
// the first 4 bytes of base64(SHA256(the preceding 252 bytes)) passes
// verifySecret; flipping any one of those 4 bytes fails it.
func TestSecretFingerprint(t *testing.T) {
	secret := makeValidSecret(256, 4)
	if !verifySecret(secret, 4) {
		t.Fatal("a freshly minted valid secret should pass its own fingerprint check")
	}
	for i := len(secret) - 4; i < len(secret); i++ {
		flipped := append([]byte(nil), secret...)
		flipped[i] ^= 0xFF
		if verifySecret(flipped, 4) {
			t.Fatalf("flipping fingerprint byte %d should break verifySecret", i)
		}
	}
}

// TestMustUpdate: MustUpdate flags exactly the entries whose iteration
// count differs from the configured default.
func TestMustUpdate(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	current, err := h.Encode(ctx, []byte("pw"), "salt", cfg.Iterations)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	stale, err := h.Encode(ctx, []byte("pw"), "salt2", cfg.Iterations+500)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	if mustUpdate, err := h.MustUpdate(current); err != nil || mustUpdate {
		t.Fatalf("MustUpdate(current) = %v, %v, want false, nil", mustUpdate, err)
	}
	if mustUpdate, err := h.MustUpdate(stale); err != nil || !mustUpdate {
		t.Fatalf("MustUpdate(stale) = %v, %v, want true, nil", mustUpdate, err)
	}
}

// TestSafeSummaryMasksSaltAndHash: fields are ordered algorithm,
// sharenumber, iterations, salt, hash, with salt and hash masked
// beyond their first six characters.
func TestSafeSummaryMasksSaltAndHash(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	encoded, err := h.Encode(ctx, []byte("pw"), "a-fairly-long-salt-value")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	fields, err := h.SafeSummary(encoded)
	if err != nil {
		t.Fatalf("SafeSummary: %v", err)
	}
	wantKeys := []string{"algorithm", "sharenumber", "iterations", "salt", "hash"}
	if len(fields) != len(wantKeys) {
		t.Fatalf("SafeSummary returned %d fields, want %d", len(fields), len(wantKeys))
	}
	for i, want := range wantKeys {
		if fields[i].Key != want {
			t.Fatalf("field %d = %q, want %q", i, fields[i].Key, want)
		}
	}
	for _, f := range fields {
		if f.Key != "salt" && f.Key != "hash" {
			continue
		}
		if len(f.Value) > 6 && !strings.Contains(f.Value, "$") {
			t.Fatalf("masked field %q = %q should contain masking characters", f.Key, f.Value)
		}
	}
}

// recordingObserver collects Observer calls for assertions.
type recordingObserver struct {
	mu            sync.Mutex
	encodes       []bool
	verifies      []Result
	unlocks       int
	sweptAccounts []int
}

func (o *recordingObserver) EncodeCompleted(locked bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.encodes = append(o.encodes, locked)
}

func (o *recordingObserver) VerifyCompleted(result Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.verifies = append(o.verifies, result)
}

func (o *recordingObserver) Unlocked() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.unlocks++
}

func (o *recordingObserver) AccountsSwept(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sweptAccounts = append(o.sweptAccounts, n)
}

// TestObserverNotifiedOfEncodeVerifyAndUnlock covers the WithObserver
// wiring: Encode and Verify each report their outcome, and recombine
// reports exactly one Unlocked() call, fired only on the genuine
// transition.
func TestObserverNotifiedOfEncodeVerifyAndUnlock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	obs := &recordingObserver{}
	h, err := New(cfg, newMemCache(), newMemUserStore(), WithObserver(obs))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	lockedEncoded, err := h.Encode(ctx, []byte("pw"), "salt")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	obs.mu.Lock()
	if len(obs.encodes) != 1 || !obs.encodes[0] {
		t.Fatalf("encodes = %v, want a single locked=true entry", obs.encodes)
	}
	obs.mu.Unlock()

	if _, err := h.Verify(ctx, []byte("pw"), lockedEncoded); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	obs.mu.Lock()
	if len(obs.verifies) != 1 || obs.verifies[0] != Match {
		t.Fatalf("verifies = %v, want a single Match entry", obs.verifies)
	}
	obs.mu.Unlock()

	provisioner, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New(provisioner): %v", err)
	}
	bootstrapUnlocked(provisioner, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))
	encA, err := provisioner.Encode(ctx, []byte("pw1"), "$a$")
	if err != nil {
		t.Fatalf("Encode(a): %v", err)
	}
	encB, err := provisioner.Encode(ctx, []byte("pw2"), "$b$")
	if err != nil {
		t.Fatalf("Encode(b): %v", err)
	}
	encC, err := provisioner.Encode(ctx, []byte("pw3"), "$c$")
	if err != nil {
		t.Fatalf("Encode(c): %v", err)
	}

	restarted, err := New(cfg, newMemCache(), newMemUserStore(), WithObserver(obs))
	if err != nil {
		t.Fatalf("New(restarted): %v", err)
	}
	for _, tc := range []struct{ password, encoded string }{
		{"pw1", encA}, {"pw2", encB}, {"pw3", encC},
	} {
		if _, err := restarted.Verify(ctx, []byte(tc.password), tc.encoded); err != nil {
			t.Fatalf("Verify(%s): %v", tc.password, err)
		}
	}

	obs.mu.Lock()
	if obs.unlocks != 1 {
		t.Fatalf("unlocks = %d, want 1", obs.unlocks)
	}
	obs.mu.Unlock()
}

// TestUserSweeperUpgradesLockedAccountsOnUnlock: once the engine
// unlocks, every user whose verifier still carries a locked-mode "-n"
// marker is rewritten into unlocked form and persisted back, including
// the thresholdless ("-0") case.
func TestUserSweeperUpgradesLockedAccountsOnUnlock(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cache := newMemCache()
	users := newMemUserStore()

	// Two accounts created while some process observed the store as
	// locked: one thresholdless, one latent-threshold.
	lockedThresholdless := codec.EncodeLocked(0, cfg.Iterations, "saltx", codec.EncodeB64(pbkdf2Hash([]byte("pwx"), "saltx", cfg.Iterations)))
	lockedThreshold := codec.EncodeLocked(9, cfg.Iterations, "salty", codec.EncodeB64(pbkdf2Hash([]byte("pwy"), "salty", cfg.Iterations)))
	idX := users.Add(lockedThresholdless, mustParseRFC3339(t, "2020-01-01T00:00:00Z"))
	idY := users.Add(lockedThreshold, mustParseRFC3339(t, "2020-01-02T00:00:00Z"))

	h, err := New(cfg, cache, users)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))

	h.mu.Lock()
	h.sweepLockedAccountsLocked(ctx, mustParseRFC3339(t, "2019-01-01T00:00:00Z"))
	h.mu.Unlock()

	users.mu.Lock()
	rewrittenX := users.users[idX].Password
	rewrittenY := users.users[idY].Password
	users.mu.Unlock()

	vx, err := codec.Decode(rewrittenX)
	if err != nil {
		t.Fatalf("Decode(rewritten thresholdless): %v", err)
	}
	if strings.HasPrefix(vx.RawShare, "-") {
		t.Fatalf("thresholdless account still carries a locked marker: %q", vx.RawShare)
	}
	if vx.Share != 0 {
		t.Fatalf("thresholdless account should remain share 0, got %d", vx.Share)
	}

	vy, err := codec.Decode(rewrittenY)
	if err != nil {
		t.Fatalf("Decode(rewritten threshold): %v", err)
	}
	if strings.HasPrefix(vy.RawShare, "-") {
		t.Fatalf("threshold account still carries a locked marker: %q", vy.RawShare)
	}
	if vy.Share <= 0 {
		t.Fatalf("rewritten threshold account should carry a fresh positive share, got %d", vy.Share)
	}
}

// TestStoredVerifiersAloneRevealNoTrailingShareBytes replays the
// computation available to an attacker holding nothing but the stored
// verifier strings. If the masked digest were stored at its full length
// with the plaintext partial bytes appended on top, then for every
// threshold account masked[-P:] XOR partial[-P:] would equal the
// share's trailing P bytes with zero password guesses — and with
// Threshold such verifiers those bytes interpolate straight to P bytes
// of the master secret. The masked region must therefore store exactly
// hashLength-PartialBytes bytes, with the partial bytes replacing the
// masked tail rather than accompanying it.
func TestStoredVerifiersAloneRevealNoTrailingShareBytes(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	h, err := New(cfg, newMemCache(), newMemUserStore())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	bootstrapUnlocked(h, makeValidSecret(cfg.SecretLength, cfg.SecretVerificationBytes))
	p := cfg.PartialBytes

	leaks := 0
	for _, account := range []struct{ password, salt string }{
		{"pw1", "$a$"}, {"pw2", "$b$"}, {"pw3", "$c$"},
	} {
		encoded, err := h.Encode(ctx, []byte(account.password), account.salt)
		if err != nil {
			t.Fatalf("Encode(%s): %v", account.password, err)
		}
		v, err := codec.Decode(encoded)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}

		prefix, err := codec.DecodeB64(v.PassHash[:ppEncodedLength(p)])
		if err != nil {
			t.Fatalf("decoding masked prefix: %v", err)
		}
		if len(prefix) != hashLength-p {
			t.Fatalf("masked prefix stores %d bytes, want %d: the trailing masked bytes must not be on disk", len(prefix), hashLength-p)
		}
		partial, err := codec.DecodeB64(v.PassHash[ppEncodedLength(p):])
		if err != nil {
			t.Fatalf("decoding partial bytes: %v", err)
		}
		if len(partial) != p {
			t.Fatalf("partial region stores %d bytes, want %d", len(partial), p)
		}

		// The attacker's XOR against what the format actually stores.
		share, err := h.shamirSecret.ComputeShare(v.Share)
		if err != nil {
			t.Fatalf("ComputeShare(%d): %v", v.Share, err)
		}
		if bytes.Equal(xorBytes(prefix[len(prefix)-p:], partial), share.Y[hashLength-p:hashLength]) {
			leaks++
		}
	}
	// A single account matching can be a 2^(-8P) coincidence; every
	// account matching means the masked tail is being stored.
	if leaks == cfg.Threshold {
		t.Fatal("stored verifiers expose trailing share bytes to an offline attacker")
	}
}
