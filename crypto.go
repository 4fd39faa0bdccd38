package pph

import (
	"crypto/aes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

// hashLength is the fixed output length of the salted password digest
// (PBKDF2-HMAC-SHA256): 32 bytes, which is also exactly two AES
// blocks.
const hashLength = sha256.Size

// pbkdf2Hash computes the salted password digest every encode and
// verify path starts from.
func pbkdf2Hash(password []byte, salt string, iterations int) []byte {
	return pbkdf2.Key(password, []byte(salt), iterations, hashLength, sha256.New)
}

// ppEncodedLength is the base64 text length of the masked digest
// portion of a stored passhash: exactly hashLength-partialBytes bytes.
// The trailing partial bytes of the digest replace the masked tail,
// they are not appended on top of it — storing both would let anyone
// holding the verifier alone XOR the two and read trailing share bytes
// with zero password guesses.
func ppEncodedLength(partialBytes int) int {
	return base64.StdEncoding.EncodedLen(hashLength - partialBytes)
}

// aesECBEncrypt encrypts data (whose length must be a multiple of the
// AES block size) under key using independent per-block ECB
// encryption. ECB is deliberate, for compatibility with stored
// verifiers: the plaintext is a fixed-length uniform hash, never
// attacker-structured data, so the usual ECB pattern leakage does not
// apply.
func aesECBEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("pph: building AES cipher: %w", err)
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("pph: ECB plaintext length %d is not a multiple of the AES block size", len(data))
	}
	out := make([]byte, len(data))
	for offset := 0; offset < len(data); offset += aes.BlockSize {
		block.Encrypt(out[offset:offset+aes.BlockSize], data[offset:offset+aes.BlockSize])
	}
	return out, nil
}

// xorBytes XORs two byte strings over the length of the shorter one;
// the result has that length.
func xorBytes(a, b []byte) []byte {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// constantTimeEqual reports whether two strings are byte-equal in
// constant time with respect to their content; a length mismatch is
// treated as inequality rather than an error, so malformed input can't
// be distinguished from a wrong password by error shape.
func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// completeSecret validates and completes a secret recovered from
// partial-byte-truncated shares. Stored verifiers only carry the first
// hashLength-P bytes of each share, so Shamir recovery yields only that
// prefix of the secret; the missing tail falls inside the fingerprint
// suffix (Config.Validate guarantees this), and the fingerprint is a
// hash of the prefix — so the tail can be recomputed from what was
// recovered. The overlap between the recovered bytes and the computed
// fingerprint is the actual integrity check: a spurious recovery fails
// it. Returns the full secretLength-byte secret and whether the check
// passed. With PartialBytes 0 the recovery is complete and this reduces
// to a plain fingerprint comparison.
func completeSecret(recovered []byte, secretLength, verificationBytes int) ([]byte, bool) {
	if len(recovered) > secretLength {
		recovered = recovered[:secretLength]
	}
	randomLen := secretLength - verificationBytes
	if len(recovered) < randomLen {
		return nil, false
	}
	sum := sha256.Sum256(recovered[:randomLen])
	fingerprint := base64.StdEncoding.EncodeToString(sum[:])
	if len(fingerprint) < verificationBytes {
		return nil, false
	}
	fingerprint = fingerprint[:verificationBytes]

	overlap := recovered[randomLen:]
	if !constantTimeEqual(string(overlap), fingerprint[:len(overlap)]) {
		return nil, false
	}

	full := make([]byte, 0, secretLength)
	full = append(full, recovered[:randomLen]...)
	full = append(full, fingerprint...)
	return full, true
}

// verifySecret checks the trailing fingerprint of a recovered secret:
// the secret is [length-V random bytes] || [V verification bytes], and
// the verification bytes must equal the first V bytes of
// base64(SHA256(random bytes)). The reference implementation computes
// the digest as a one-iteration PBKDF2 with no salt; that is just
// SHA256, used directly here.
func verifySecret(secret []byte, verificationBytes int) bool {
	if len(secret) < verificationBytes {
		return false
	}
	randomPart := secret[:len(secret)-verificationBytes]
	sum := sha256.Sum256(randomPart)
	expected := base64.StdEncoding.EncodeToString(sum[:])
	if len(expected) < verificationBytes {
		return false
	}
	expected = expected[:verificationBytes]
	actual := string(secret[len(secret)-verificationBytes:])
	return constantTimeEqual(expected, actual)
}
