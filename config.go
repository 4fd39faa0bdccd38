package pph

// Config carries the hasher's enumerated settings. Threshold,
// PartialBytes, SecretLength, and SecretVerificationBytes are fixed for
// the lifetime of every share and verifier ever issued under them —
// changing them after the fact invalidates existing state, so
// config.ConfigWatcher (see the config package) refuses to hot-reload
// these four fields.
type Config struct {
	// Threshold is the minimum number of distinct shares needed to
	// recover the master secret. Must be in [2, 255].
	Threshold int

	// PartialBytes is the number of trailing plaintext bytes of the
	// salted hash kept visible while locked. 0 disables the
	// partial-verification channel entirely.
	PartialBytes int

	// SecretLength is the byte length of the master secret. It doubles
	// as the AES key length for threshold_key, so it must be a valid AES
	// key size (16, 24, or 32). Default 32 (AES-256).
	SecretLength int

	// SecretVerificationBytes is the length of the fingerprint suffix of
	// the master secret. Default 4.
	SecretVerificationBytes int

	// Iterations is the default PBKDF2-HMAC-SHA256 iteration count.
	// Default 12000.
	Iterations int
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		Threshold:               2,
		PartialBytes:            2,
		SecretLength:            32,
		SecretVerificationBytes: 4,
		Iterations:              12000,
	}
}

// Validate checks the configuration for internal consistency,
// returning a KindConfigError wrapped *Error on failure.
func (c Config) Validate() error {
	if c.Threshold < 2 || c.Threshold > 255 {
		return newError(KindConfigError, "threshold must be in [2,255]", nil)
	}
	if c.PartialBytes < 0 {
		return newError(KindConfigError, "partial bytes must be >= 0", nil)
	}
	if c.PartialBytes > hashLength {
		return newError(KindConfigError, "partial bytes must not exceed the hash length", nil)
	}
	switch c.SecretLength {
	case 16, 24, 32:
	default:
		return newError(KindConfigError, "secret length must be a valid AES key size (16, 24, or 32)", nil)
	}
	if c.SecretVerificationBytes < 0 || c.SecretVerificationBytes >= c.SecretLength {
		return newError(KindConfigError, "secret verification bytes must be in [0, secret length)", nil)
	}
	// Stored verifiers carry only the first hashLength-PartialBytes
	// bytes of each share: the masked region must be fully covered by
	// share bytes, and the secret bytes that recovery can never see
	// must fall inside the fingerprint suffix so completeSecret can
	// recompute them.
	if c.SecretLength < hashLength-c.PartialBytes {
		return newError(KindConfigError, "secret length must be at least the hash length minus partial bytes", nil)
	}
	if missing := c.SecretLength - (hashLength - c.PartialBytes); missing > c.SecretVerificationBytes {
		return newError(KindConfigError, "partial bytes exceed the secret verification bytes they mask", nil)
	}
	if c.Iterations < 1 {
		return newError(KindConfigError, "iterations must be >= 1", nil)
	}
	return nil
}
