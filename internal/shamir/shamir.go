// Package shamir implements Shamir secret sharing over byte-strings,
// one independent GF(2^8) polynomial per byte position, the primitive
// the hasher engine uses to split and recover its master secret.
package shamir

import (
	"crypto/rand"
	"errors"
	"fmt"

	"pph/internal/gf"
)

// Errors returned by Recover and ComputeShare.
var (
	// ErrDuplicateShare is returned when two shares passed to Recover
	// carry the same x coordinate.
	ErrDuplicateShare = errors.New("shamir: duplicate share number")

	// ErrInsufficientShares is returned when fewer than the threshold
	// number of shares are supplied to Recover.
	ErrInsufficientShares = errors.New("shamir: fewer shares than threshold")

	// ErrInconsistentShares is returned when a share beyond the first
	// threshold shares does not lie on the polynomial fitted from the
	// first threshold shares — i.e. at least one share is corrupt or the
	// shares come from different secrets.
	ErrInconsistentShares = errors.New("shamir: shares are not mutually consistent")

	// ErrInvalidShareNumber is returned for a share number outside
	// [1, 255]; 0 is reserved for thresholdless accounts and is never a
	// valid Shamir share index.
	ErrInvalidShareNumber = errors.New("shamir: share number out of range [1,255]")
)

// Share is a single (x, y) sample of every per-byte polynomial, where y
// has the same length as the secret.
type Share struct {
	Number byte
	Y      []byte
}

// Secret represents either side of a Shamir secret-sharing instance:
// constructed via NewSplit it can compute shares of a known secret;
// constructed via NewRecovery it accumulates shares and recovers the
// secret once enough of them arrive.
type Secret struct {
	threshold int
	length    int

	// coefficients[k] holds the threshold coefficients of the degree
	// (threshold-1) polynomial for byte position k; coefficients[k][0]
	// is secret[k]. Populated only on the splitting side.
	coefficients [][]byte

	// fitting holds the threshold (x, y) points a recovery-side Secret
	// used to fit its polynomial. A recovered Secret never re-randomizes
	// its higher-order coefficients: ComputeShare on a recovered Secret
	// evaluates the unique degree (threshold-1) polynomial through these
	// points at the requested x, so it reproduces exactly the shares the
	// original splitting side would have handed out for any x, including
	// share numbers that have not yet been seen. Populated only on the
	// recovery side.
	fitting []Share

	// secretData is populated once a Secret constructed for recovery has
	// recovered its constant terms.
	secretData []byte
}

// NewSplit builds a Secret ready to hand out shares of the given byte
// string, using a fresh random polynomial of degree threshold-1 for
// each byte position.
func NewSplit(threshold int, secret []byte) (*Secret, error) {
	if threshold < 2 || threshold > 255 {
		return nil, fmt.Errorf("shamir: threshold %d out of range [2,255]", threshold)
	}
	if len(secret) == 0 {
		return nil, errors.New("shamir: secret must not be empty")
	}

	coefficients := make([][]byte, len(secret))
	for k := range secret {
		coeffs := make([]byte, threshold)
		coeffs[0] = secret[k]
		if _, err := rand.Read(coeffs[1:]); err != nil {
			return nil, fmt.Errorf("shamir: generating random coefficients: %w", err)
		}
		coefficients[k] = coeffs
	}

	return &Secret{
		threshold:    threshold,
		length:       len(secret),
		coefficients: coefficients,
		secretData:   append([]byte(nil), secret...),
	}, nil
}

// NewRecovery builds a Secret with a known threshold but no secret yet,
// ready to accept shares via Recover.
func NewRecovery(threshold int) (*Secret, error) {
	if threshold < 2 || threshold > 255 {
		return nil, fmt.Errorf("shamir: threshold %d out of range [2,255]", threshold)
	}
	return &Secret{threshold: threshold}, nil
}

// NewFromFitting rebuilds a recovery-side Secret from a previously
// persisted set of fitting points. A reload must never re-randomize
// the polynomial, or every future ComputeShare(n) would stop matching
// the shares already handed out for existing accounts under the
// original polynomial. fitting must hold exactly `threshold` points.
func NewFromFitting(threshold int, fitting []Share) (*Secret, error) {
	if threshold < 2 || threshold > 255 {
		return nil, fmt.Errorf("shamir: threshold %d out of range [2,255]", threshold)
	}
	if len(fitting) != threshold {
		return nil, fmt.Errorf("shamir: fitting set has %d points, want threshold %d", len(fitting), threshold)
	}
	length := len(fitting[0].Y)
	secret := make([]byte, length)
	for k := 0; k < length; k++ {
		points := make([]gf.Point, threshold)
		for i, f := range fitting {
			points[i] = gf.Point{X: f.Number, Y: f.Y[k]}
		}
		secret[k] = gf.InterpolateAtZero(points)
	}
	return &Secret{
		threshold:  threshold,
		length:     length,
		fitting:    copyShares(fitting),
		secretData: secret,
	}, nil
}

// FittingShares exposes the threshold points a recovered Secret fitted
// its polynomial from, so a later process can rebuild an identical
// Secret via NewFromFitting. Populated only on the recovery side, after
// a successful Recover.
func (s *Secret) FittingShares() []Share {
	return s.fitting
}

func copyShares(shares []Share) []Share {
	out := make([]Share, len(shares))
	for i, sh := range shares {
		out[i] = Share{Number: sh.Number, Y: append([]byte(nil), sh.Y...)}
	}
	return out
}

// Threshold returns the minimum number of shares needed to recover the
// secret.
func (s *Secret) Threshold() int {
	return s.threshold
}

// SecretData returns the recovered (or original, on the splitting side)
// secret bytes. It is nil until a splitting Secret is constructed or a
// recovery Secret has successfully run Recover.
func (s *Secret) SecretData() []byte {
	return s.secretData
}

// ComputeShare evaluates every per-byte polynomial at x=n and returns
// the resulting share. n must be in [1, 255]; share number 0 is
// reserved for thresholdless accounts and never has a Shamir share.
//
// On a splitting-side Secret this evaluates the explicit coefficients
// via Horner's method. On a recovery-side Secret (after a successful
// Recover) there are no explicit coefficients — the unique degree
// (threshold-1) polynomial through the fitting points is instead
// evaluated at x=n via Lagrange interpolation, which reproduces exactly
// what the original splitting side would have computed for n, including
// share numbers never before seen.
func (s *Secret) ComputeShare(n int) (Share, error) {
	if n < 1 || n > 255 {
		return Share{}, ErrInvalidShareNumber
	}
	x := byte(n)

	if s.coefficients != nil {
		y := make([]byte, s.length)
		for k, coeffs := range s.coefficients {
			y[k] = gf.EvalPoly(coeffs, x)
		}
		return Share{Number: x, Y: y}, nil
	}

	if s.fitting != nil {
		y := make([]byte, s.length)
		points := make([]gf.Point, len(s.fitting))
		for k := 0; k < s.length; k++ {
			for i, f := range s.fitting {
				points[i] = gf.Point{X: f.Number, Y: f.Y[k]}
			}
			y[k] = gf.InterpolateAt(points, x)
		}
		return Share{Number: x, Y: y}, nil
	}

	return Share{}, errors.New("shamir: secret has no coefficients or fitting points to share from")
}

// Recover reconstructs the secret from the given shares. len(shares)
// must be >= threshold. The first `threshold` shares (in
// the order given) fix the interpolating polynomial for every byte
// position; every additional share is then checked for consistency
// against that polynomial, and ErrInconsistentShares is returned if any
// byte of any extra share disagrees — catching a bad or tampered share
// that would otherwise recover a wrong secret silently.
func (s *Secret) Recover(shares []Share) error {
	if len(shares) < s.threshold {
		return ErrInsufficientShares
	}

	seen := make(map[byte]struct{}, len(shares))
	for _, sh := range shares {
		if _, dup := seen[sh.Number]; dup {
			return ErrDuplicateShare
		}
		seen[sh.Number] = struct{}{}
	}

	length := len(shares[0].Y)
	for _, sh := range shares {
		if len(sh.Y) != length {
			return errors.New("shamir: shares have inconsistent byte length")
		}
	}

	fitting := shares[:s.threshold]
	extra := shares[s.threshold:]

	// The unique degree (threshold-1) polynomial through `fitting` is
	// evaluated at x=0 for the secret and at each extra share's x for
	// the consistency audit, both via Lagrange interpolation.
	secret := make([]byte, length)
	for k := 0; k < length; k++ {
		points := make([]gf.Point, s.threshold)
		for i, sh := range fitting {
			points[i] = gf.Point{X: sh.Number, Y: sh.Y[k]}
		}
		secret[k] = gf.InterpolateAtZero(points)
	}

	for _, sh := range extra {
		for k := 0; k < length; k++ {
			points := make([]gf.Point, s.threshold)
			for i, f := range fitting {
				points[i] = gf.Point{X: f.Number, Y: f.Y[k]}
			}
			if gf.InterpolateAt(points, sh.Number) != sh.Y[k] {
				return ErrInconsistentShares
			}
		}
	}

	s.length = length
	s.secretData = secret
	s.fitting = copyShares(fitting)
	return nil
}
