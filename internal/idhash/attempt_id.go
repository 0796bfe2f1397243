// Package idhash derives deterministic identifiers for journaled records.
package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"pulse-rewards/internal/domain"
	"pulse-rewards/internal/token"
)

// ComputeAttemptID computes a deterministic contribution attempt ID.
// Formula: SHA256(poll_id|contributor|amount_units|decimals|started_at_ms)
// Returns base58-encoded hash.
func ComputeAttemptID(
	pollID string,
	contributor domain.Principal,
	amount token.Amount,
	startedAtMs int64,
) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d",
		pollID,
		contributor,
		amount.UnitsString(),
		amount.Decimals(),
		startedAtMs,
	)

	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}
