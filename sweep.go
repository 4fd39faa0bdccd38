package pph

import (
	"context"
	"strings"
	"time"

	"pph/internal/codec"
)

// sweepLockedAccountsLocked scans every user whose DateJoined is at or
// after since for a locked-mode (`-n`) verifier, rewrites it into
// unlocked form, and persists it back. Best-effort per user: a single
// user's failure is logged and does not abort the sweep. Callers must
// hold h.mu and have already set h.state.IsUnlocked and
// h.shamirSecret.
func (h *Hasher) sweepLockedAccountsLocked(ctx context.Context, since time.Time) {
	users, err := h.users.UsersSince(ctx, since)
	if err != nil {
		h.logger.ErrorContext(ctx, "sweep: listing users failed", "error", err)
		return
	}

	swept := 0
	for _, u := range users {
		rewritten, ok := h.upgradeLockedEntryLocked(ctx, u.Password)
		if !ok {
			continue
		}
		if err := h.users.SavePassword(ctx, u.ID, rewritten); err != nil {
			h.logger.ErrorContext(ctx, "sweep: saving rewritten password failed",
				"user", u.ID, "error", err)
			continue
		}
		swept++
	}
	h.observer.AccountsSwept(swept)

	if err := h.persistStateLocked(ctx); err != nil {
		h.logger.ErrorContext(ctx, "sweep: persisting next_share after sweep failed", "error", err)
	}
}

// upgradeLockedEntryLocked rewrites one locked-mode (`-n`) verifier into
// unlocked form, returning ok == false for anything else (already
// unlocked, malformed). Callers must hold h.mu.
func (h *Hasher) upgradeLockedEntryLocked(ctx context.Context, encoded string) (string, bool) {
	v, err := codec.Decode(encoded)
	if err != nil || !strings.HasPrefix(v.RawShare, "-") {
		return "", false
	}
	// v.Share is the parsed share field with its sign kept
	// (strconv.Atoi("-0") == 0, and every other locked marker "-n"
	// parses to the negative of the latent share number), so taking the
	// absolute value recovers the latent share either way.
	latentShare := v.Share
	if latentShare < 0 {
		latentShare = -latentShare
	}

	digest, err := codec.DecodeB64(v.PassHash)
	if err != nil {
		h.logger.ErrorContext(ctx, "sweep: decoding stored hash failed", "error", err)
		return "", false
	}

	var shareNumber int
	var pp []byte
	if latentShare == 0 {
		shareNumber = 0
		pp, err = aesECBEncrypt(h.state.ThresholdKey, digest)
		if err != nil {
			h.logger.ErrorContext(ctx, "sweep: upgrading thresholdless entry failed", "error", err)
			return "", false
		}
	} else {
		shareNumber = h.state.NextShare
		h.state.NextShare++
		share, serr := h.shamirSecret.ComputeShare(shareNumber)
		if serr != nil {
			h.logger.ErrorContext(ctx, "sweep: computing share failed", "error", serr)
			return "", false
		}
		pp = xorBytes(digest, share.Y)
	}

	return codec.Encode(shareNumber, v.Iterations, v.Salt, h.composePasshash(pp, digest)), true
}
