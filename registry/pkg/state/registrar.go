package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxVotingMints is the fixed number of voting mint slots on a registrar.
const MaxVotingMints = 4

// Registrar is the per-realm root configuration. Slot indices in VotingMints
// are stable for the registrar's lifetime.
type Registrar struct {
	GovernanceProgramID     solana.PublicKey `json:"governance_program_id"`
	Realm                   solana.PublicKey `json:"realm"`
	RealmGoverningTokenMint solana.PublicKey `json:"realm_governing_token_mint"`
	RealmAuthority          solana.PublicKey `json:"realm_authority"`

	VotingMints [MaxVotingMints]VotingMintConfig `json:"voting_mints"`

	// TimeOffset is added to the clock when the program runs in test mode.
	TimeOffset int64 `json:"time_offset"`
	Bump       uint8 `json:"bump"`
}

// VotingMintConfigIndex returns the slot configured for mint.
func (r *Registrar) VotingMintConfigIndex(mint solana.PublicKey) (int, error) {
	if mint.IsZero() {
		return 0, ErrVotingMintNotFound
	}
	for i := range r.VotingMints {
		if r.VotingMints[i].Mint == mint {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrVotingMintNotFound, mint)
}

// VotingMint returns the config at idx, which must be in use.
func (r *Registrar) VotingMint(idx int) (VotingMintConfig, error) {
	if idx < 0 || idx >= MaxVotingMints {
		return VotingMintConfig{}, fmt.Errorf("%w: %d", ErrInvalidMintConfigIndex, idx)
	}
	cfg := r.VotingMints[idx]
	if !cfg.InUse() {
		return VotingMintConfig{}, fmt.Errorf("%w: slot %d", ErrVotingMintNotFound, idx)
	}
	return cfg, nil
}

// ConfigureVotingMint writes cfg into slot idx. inUse reports whether any live
// deposit entry references the slot; such a slot only accepts a config with
// identical weighting.
func (r *Registrar) ConfigureVotingMint(idx int, cfg VotingMintConfig, inUse bool) error {
	if idx < 0 || idx >= MaxVotingMints {
		return fmt.Errorf("%w: %d", ErrInvalidMintConfigIndex, idx)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	for i := range r.VotingMints {
		if i != idx && r.VotingMints[i].Mint == cfg.Mint {
			return fmt.Errorf("%w: %s at index %d", ErrVotingMintAlreadyConfigured, cfg.Mint, i)
		}
	}
	if inUse && !r.VotingMints[idx].SameWeighting(cfg) {
		return fmt.Errorf("%w: index %d", ErrMintConfigInUse, idx)
	}
	r.VotingMints[idx] = cfg
	return nil
}

// MaxVoteWeight is the weight reachable if the whole supply of every voting
// mint were deposited and locked for the saturation period. supplies maps
// each configured mint to its current supply.
func (r *Registrar) MaxVoteWeight(supplies map[solana.PublicKey]uint64) (uint64, error) {
	var total uint64
	for _, cfg := range r.VotingMints {
		if !cfg.InUse() {
			continue
		}
		supply := supplies[cfg.Mint]
		baseline, err := cfg.BaselineVoteWeight(supply)
		if err != nil {
			return 0, err
		}
		extra, err := cfg.MaxExtraLockupVoteWeight(supply)
		if err != nil {
			return 0, err
		}
		if total, err = checkedAdd(total, baseline); err != nil {
			return 0, err
		}
		if total, err = checkedAdd(total, extra); err != nil {
			return 0, err
		}
	}
	return total, nil
}
