package domain

import (
	"fmt"

	"pulse-rewards/internal/token"
)

// Principal is the textual identity of a caller or contributor.
type Principal string

// String returns the textual principal.
func (p Principal) String() string {
	return string(p)
}

// TokenType identifies which ledger holds a pool's tokens.
type TokenType string

const (
	TokenTypeNative TokenType = "native"
	TokenTypeLedger TokenType = "ledger"
)

// IsValid checks if the token type is a known value.
func (t TokenType) IsValid() bool {
	return t == TokenTypeNative || t == TokenTypeLedger
}

// MarshalJSON encodes the token type as a backend variant.
func (t TokenType) MarshalJSON() ([]byte, error) {
	return encodeVariant(string(t))
}

// UnmarshalJSON decodes a backend variant, rejecting unknown tags.
func (t *TokenType) UnmarshalJSON(data []byte) error {
	tag, err := decodeVariant(data)
	if err != nil {
		return err
	}
	v := TokenType(tag)
	if !v.IsValid() {
		return fmt.Errorf("%w: token type %q", ErrUnknownVariant, tag)
	}
	*t = v
	return nil
}

// FundingType describes who finances a pool.
type FundingType string

const (
	FundingSelfFunded     FundingType = "SelfFunded"
	FundingCrowdfunded    FundingType = "Crowdfunded"
	FundingTreasuryFunded FundingType = "TreasuryFunded"
)

// String returns the string representation of FundingType.
func (f FundingType) String() string {
	return string(f)
}

// IsValid checks if the funding type is a known value.
func (f FundingType) IsValid() bool {
	switch f {
	case FundingSelfFunded, FundingCrowdfunded, FundingTreasuryFunded:
		return true
	}
	return false
}

// MarshalJSON encodes the funding type as a backend variant.
func (f FundingType) MarshalJSON() ([]byte, error) {
	return encodeVariant(string(f))
}

// UnmarshalJSON decodes a backend variant, rejecting unknown tags.
func (f *FundingType) UnmarshalJSON(data []byte) error {
	tag, err := decodeVariant(data)
	if err != nil {
		return err
	}
	v := FundingType(tag)
	if !v.IsValid() {
		return fmt.Errorf("%w: funding type %q", ErrUnknownVariant, tag)
	}
	*f = v
	return nil
}

// Contribution is one crowdfund deposit.
type Contribution struct {
	Principal Principal
	Amount    token.Amount
}

// FundingInfo is the reward pool attached to a poll or survey.
// The client holds it as a read replica of the ledger-authoritative service.
type FundingInfo struct {
	PollID            string
	TokenType         TokenType
	TokenCanister     *string // nil for the native ledger
	TokenSymbol       string
	TokenDecimals     uint8
	TotalFund         token.Amount // monotonically non-decreasing
	RewardPerResponse token.Amount
	MaxResponses      *uint64 // nil: budget-limited only
	CurrentResponses  uint64
	RemainingFund     token.Amount
	FundingType       FundingType
	Contributors      []Contribution // append-only
}

// Clone returns a deep copy. Amounts are immutable values, so only the
// contributor slice and pointer fields need copying.
func (f *FundingInfo) Clone() *FundingInfo {
	if f == nil {
		return nil
	}
	c := *f
	if f.TokenCanister != nil {
		v := *f.TokenCanister
		c.TokenCanister = &v
	}
	if f.MaxResponses != nil {
		v := *f.MaxResponses
		c.MaxResponses = &v
	}
	c.Contributors = append([]Contribution(nil), f.Contributors...)
	return &c
}
