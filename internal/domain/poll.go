package domain

import "fmt"

// PollStatus is the lifecycle status of a poll or survey as reported by the backend.
type PollStatus string

const (
	PollStatusActive     PollStatus = "active"
	PollStatusClosed     PollStatus = "closed"
	PollStatusClaimsOpen PollStatus = "claimsOpen"
)

// IsValid checks if the status is a known value.
func (s PollStatus) IsValid() bool {
	switch s {
	case PollStatusActive, PollStatusClosed, PollStatusClaimsOpen:
		return true
	}
	return false
}

// ClaimsOpen reports whether rewards of a poll in this status can be claimed.
func (s PollStatus) ClaimsOpen() bool {
	switch s {
	case PollStatusClosed, PollStatusClaimsOpen:
		return true
	case PollStatusActive:
		return false
	}
	return false
}

// MarshalJSON encodes the status as a backend variant.
func (s PollStatus) MarshalJSON() ([]byte, error) {
	return encodeVariant(string(s))
}

// UnmarshalJSON decodes a backend variant, rejecting unknown tags.
func (s *PollStatus) UnmarshalJSON(data []byte) error {
	tag, err := decodeVariant(data)
	if err != nil {
		return err
	}
	v := PollStatus(tag)
	if !v.IsValid() {
		return fmt.Errorf("%w: poll status %q", ErrUnknownVariant, tag)
	}
	*s = v
	return nil
}

// PoolEvent is a status change pushed by the pool service.
type PoolEvent struct {
	PollID string
	Status PollStatus
	Seq    int64
}
