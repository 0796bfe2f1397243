package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"

	"pulse-rewards/internal/domain"
)

// ComputeReceiptID computes the claim receipt ID of a (respondent, poll) pair.
// A reward is claimed at most once, so the pair alone identifies the receipt.
// Formula: SHA256(respondent|poll_id)
func ComputeReceiptID(respondent domain.Principal, pollID string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s", respondent, pollID)))
	return base58.Encode(hash[:])
}
