// Package codec encodes and decodes the PolyPasswordHasher wire
// format, the `pph$<share>$<iterations>$<salt>$<passhash>` verifier
// string persisted in place of a plain password hash.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Algorithm is the fixed leading field of every verifier string this
// module emits or accepts.
const Algorithm = "pph"

// ErrMalformed is returned when a verifier string does not split into
// exactly the five dollar-separated fields the format requires.
var ErrMalformed = errors.New("codec: malformed verifier string")

// Verifier is the parsed form of a `pph$...` string.
type Verifier struct {
	// RawShare is the share field exactly as it appeared in the string,
	// including a leading '-' if the account is in locked mode (a
	// negative share number marks a locked-mode, not-yet-upgraded entry;
	// share 0 marks a thresholdless account).
	RawShare string

	// Share is RawShare parsed to an int, preserving sign.
	Share int

	Iterations int
	Salt       string
	PassHash   string
}

// Encode composes an unlocked-account verifier string: share is the
// genuine, non-negative share number (0 for thresholdless).
func Encode(share, iterations int, salt, passHash string) string {
	return fmt.Sprintf("%s$%d$%d$%s$%s", Algorithm, share, iterations, salt, passHash)
}

// EncodeLocked composes a locked-mode verifier string, whose share
// field is always textually prefixed with '-' even when the latent
// share number is 0 ("-0" means latent thresholdless). This is
// deliberately NOT share negation: Go's
// int has no negative zero, so fmt.Sprintf("%d", -0) renders "0" and
// would silently drop the locked marker for thresholdless accounts.
func EncodeLocked(latentShare, iterations int, salt, passHash string) string {
	return fmt.Sprintf("%s$-%d$%d$%s$%s", Algorithm, latentShare, iterations, salt, passHash)
}

// Decode splits a verifier string into its fields. It requires exactly
// five dollar-separated fields and the leading algorithm tag to equal
// Algorithm; anything else is ErrMalformed.
func Decode(s string) (Verifier, error) {
	parts := strings.SplitN(s, "$", 5)
	if len(parts) != 5 {
		return Verifier{}, ErrMalformed
	}
	if parts[0] != Algorithm {
		return Verifier{}, fmt.Errorf("%w: unknown algorithm tag %q", ErrMalformed, parts[0])
	}

	share, err := strconv.Atoi(parts[1])
	if err != nil {
		return Verifier{}, fmt.Errorf("%w: share field %q: %v", ErrMalformed, parts[1], err)
	}

	iterations, err := strconv.Atoi(parts[2])
	if err != nil {
		return Verifier{}, fmt.Errorf("%w: iterations field %q: %v", ErrMalformed, parts[2], err)
	}

	return Verifier{
		RawShare:   parts[1],
		Share:      share,
		Iterations: iterations,
		Salt:       parts[3],
		PassHash:   parts[4],
	}, nil
}

// EncodeB64 returns the standard-alphabet, padded base64 text encoding
// of raw bytes, used for the pass-hash field of the verifier string
// (the salt field is stored as given).
func EncodeB64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeB64 reverses EncodeB64.
func DecodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// EncodeBin64 is the binary-oriented counterpart of EncodeB64, for raw
// encrypted/XORed share material rather than text. Both variants use
// the same standard padded alphabet; the engine's own encode and verify
// paths call EncodeB64 only.
func EncodeBin64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeBin64 reverses EncodeBin64.
func DecodeBin64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
