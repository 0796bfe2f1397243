package claim

import (
	"errors"
	"fmt"
	"strings"

	"pulse-rewards/internal/ledger"
)

// Kind distinguishes claim failures that call for different reactions.
type Kind string

const (
	// KindNotYetClaimable: the pool has not closed. Try again later.
	KindNotYetClaimable Kind = "NotYetClaimable"

	// KindAlreadyClaimed: the reward was disbursed before. Nothing to do.
	KindAlreadyClaimed Kind = "AlreadyClaimed"

	// KindTransferFailed: the disbursement did not go through. Surface to the user.
	KindTransferFailed Kind = "TransferFailed"

	// KindNotFound: the respondent has no reward for this poll.
	KindNotFound Kind = "NotFound"

	// KindInFlight: a claim for the same reward is already running.
	KindInFlight Kind = "InFlight"
)

// ClaimError is a failed claim. It is never retried automatically.
type ClaimError struct {
	Kind    Kind
	PollID  string
	Message string
	Err     error
}

func (e *ClaimError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("claim %s: %s: %s", e.PollID, e.Kind, e.Message)
	}
	return fmt.Sprintf("claim %s: %s", e.PollID, e.Kind)
}

func (e *ClaimError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a *ClaimError, or "" for other errors.
func KindOf(err error) Kind {
	var ce *ClaimError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

var (
	alreadyClaimedTexts = []string{"already claimed", "already been claimed"}
	notYetTexts         = []string{"not yet", "still active", "claims not open", "not closed"}
	notFoundTexts       = []string{"no reward", "not found", "not eligible"}
)

// classify maps a service failure onto a claim error kind.
func classify(pollID string, err error) *ClaimError {
	ce := &ClaimError{PollID: pollID, Kind: KindTransferFailed, Message: err.Error(), Err: err}

	if errors.Is(err, ledger.ErrNotFound) {
		ce.Kind = KindNotFound
		return ce
	}

	text, ok := ledger.RejectionText(err)
	if !ok {
		return ce
	}
	ce.Message = text
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, alreadyClaimedTexts):
		ce.Kind = KindAlreadyClaimed
	case containsAny(lower, notYetTexts):
		ce.Kind = KindNotYetClaimable
	case containsAny(lower, notFoundTexts):
		ce.Kind = KindNotFound
	}
	return ce
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
