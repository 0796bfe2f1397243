package contribution

import (
	"errors"
	"fmt"
)

// ErrInFlight is returned when a contribution to the same pool is already running.
var ErrInFlight = errors.New("contribution already in flight for this pool")

// Reason is the machine-readable cause of a failed contribution.
type Reason string

const (
	// ReasonValidation: rejected locally, or the pool does not exist.
	ReasonValidation Reason = "Validation"

	// ReasonUnavailable: a ledger read before approval failed after retries.
	// Nothing was approved or moved.
	ReasonUnavailable Reason = "Unavailable"

	// ReasonApprovalRejected: the asset ledger refused the allowance. Nothing was moved.
	ReasonApprovalRejected Reason = "ApprovalRejected"

	// ReasonFundingRejectedAfterRetries: the allowance exists but the pull never
	// succeeded. Tokens were approved, not pulled.
	ReasonFundingRejectedAfterRetries Reason = "FundingRejectedAfterRetries"
)

// Failure is the terminal error of a contribution attempt.
type Failure struct {
	Reason   Reason
	Attempts int // pull-transfer attempts made
	Err      error
}

func (f *Failure) Error() string {
	if f.Attempts > 0 {
		return fmt.Sprintf("contribution failed (%s after %d attempts): %v", f.Reason, f.Attempts, f.Err)
	}
	return fmt.Sprintf("contribution failed (%s): %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// ReasonOf returns the failure reason of err, or "" if err is not a Failure.
func ReasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}
