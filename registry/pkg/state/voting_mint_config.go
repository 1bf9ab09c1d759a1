package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// VotingMintConfig describes how deposits of one token mint turn into vote
// weight. Factors are fixed point with FactorScale as 1.0.
type VotingMintConfig struct {
	Mint           solana.PublicKey `json:"mint"`
	GrantAuthority solana.PublicKey `json:"grant_authority"`

	// DecimalShift rescales native amounts into the registrar's common vote
	// units: amount * 10^shift, or amount / 10^-shift when negative.
	DecimalShift int8 `json:"decimal_shift"`

	BaselineVoteWeightFactor       uint64 `json:"baseline_vote_weight_factor"`
	MaxExtraLockupVoteWeightFactor uint64 `json:"max_extra_lockup_vote_weight_factor"`
	LockupSaturationSecs           uint64 `json:"lockup_saturation_secs"`
}

// InUse reports whether the slot has been configured.
func (c VotingMintConfig) InUse() bool {
	return !c.Mint.IsZero()
}

func (c VotingMintConfig) Validate() error {
	if c.Mint.IsZero() {
		return fmt.Errorf("%w: mint is required", ErrVotingMintNotFound)
	}
	if c.DecimalShift > MaxDecimalShift || c.DecimalShift < -MaxDecimalShift {
		return fmt.Errorf("%w: %d", ErrInvalidDecimalShift, c.DecimalShift)
	}
	if c.MaxExtraLockupVoteWeightFactor > 0 && c.LockupSaturationSecs == 0 {
		return ErrInvalidLockupSaturation
	}
	return nil
}

// SameWeighting reports whether two configs convert deposits into identical
// weight. The grant authority does not take part.
func (c VotingMintConfig) SameWeighting(o VotingMintConfig) bool {
	return c.Mint == o.Mint &&
		c.DecimalShift == o.DecimalShift &&
		c.BaselineVoteWeightFactor == o.BaselineVoteWeightFactor &&
		c.MaxExtraLockupVoteWeightFactor == o.MaxExtraLockupVoteWeightFactor &&
		c.LockupSaturationSecs == o.LockupSaturationSecs
}

// Convert rescales a native amount into common vote units.
func (c VotingMintConfig) Convert(amountNative uint64) (uint64, error) {
	switch {
	case c.DecimalShift > MaxDecimalShift || c.DecimalShift < -MaxDecimalShift:
		return 0, ErrInvalidDecimalShift
	case c.DecimalShift == 0:
		return amountNative, nil
	case c.DecimalShift > 0:
		return checkedMul(amountNative, pow10[c.DecimalShift])
	default:
		return amountNative / pow10[-c.DecimalShift], nil
	}
}

// BaselineVoteWeight is the weight every deposited unit carries regardless
// of lockup.
func (c VotingMintConfig) BaselineVoteWeight(amountNative uint64) (uint64, error) {
	scaled, err := c.Convert(amountNative)
	if err != nil {
		return 0, err
	}
	return mulDiv(scaled, c.BaselineVoteWeightFactor, FactorScale)
}

// MaxExtraLockupVoteWeight is the bonus a locked amount earns at or beyond
// the saturation duration.
func (c VotingMintConfig) MaxExtraLockupVoteWeight(amountNative uint64) (uint64, error) {
	scaled, err := c.Convert(amountNative)
	if err != nil {
		return 0, err
	}
	return mulDiv(scaled, c.MaxExtraLockupVoteWeightFactor, FactorScale)
}

// LockupVoteWeight is the bonus for lockedNative still locked for
// secondsLeft: max_extra * min(secondsLeft, saturation) / saturation.
func (c VotingMintConfig) LockupVoteWeight(lockedNative, secondsLeft uint64) (uint64, error) {
	if lockedNative == 0 || secondsLeft == 0 || c.MaxExtraLockupVoteWeightFactor == 0 {
		return 0, nil
	}
	if c.LockupSaturationSecs == 0 {
		return 0, ErrInvalidLockupSaturation
	}
	scaled, err := c.Convert(lockedNative)
	if err != nil {
		return 0, err
	}
	secs := min(secondsLeft, c.LockupSaturationSecs)
	return ratio(
		[]uint64{scaled, c.MaxExtraLockupVoteWeightFactor, secs},
		[]uint64{FactorScale, c.LockupSaturationSecs},
	)
}
