package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// MaxDepositEntries is the fixed capacity of a voter's deposit array.
const MaxDepositEntries = 32

// Voter holds one user's deposits under one registrar.
type Voter struct {
	VoterAuthority solana.PublicKey `json:"voter_authority"`
	Registrar      solana.PublicKey `json:"registrar"`

	Deposits [MaxDepositEntries]DepositEntry `json:"deposits"`

	VoterBump             uint8 `json:"voter_bump"`
	VoterWeightRecordBump uint8 `json:"voter_weight_record_bump"`
}

// Weight sums the voting power of every in-use entry. The result does not
// depend on the order of entries.
func (v *Voter) Weight(r *Registrar, now int64) (uint64, error) {
	return v.weight(r, func(e *DepositEntry, cfg VotingMintConfig) (uint64, error) {
		return e.VotingPower(cfg, now)
	})
}

// WeightBaseline is the weight the voter would have without any lockup
// bonus.
func (v *Voter) WeightBaseline(r *Registrar) (uint64, error) {
	return v.weight(r, func(e *DepositEntry, cfg VotingMintConfig) (uint64, error) {
		return e.BaselineVotingPower(cfg)
	})
}

func (v *Voter) weight(r *Registrar, power func(*DepositEntry, VotingMintConfig) (uint64, error)) (uint64, error) {
	var total uint64
	for i := range v.Deposits {
		e := &v.Deposits[i]
		if !e.InUse {
			continue
		}
		cfg, err := r.VotingMint(int(e.VotingMintConfigIndex))
		if err != nil {
			return 0, fmt.Errorf("deposit entry %d: %w", i, err)
		}
		p, err := power(e, cfg)
		if err != nil {
			return 0, fmt.Errorf("deposit entry %d: %w", i, err)
		}
		if total, err = checkedAdd(total, p); err != nil {
			return 0, err
		}
	}
	return total, nil
}

// ActiveDeposit returns the in-use entry at idx.
func (v *Voter) ActiveDeposit(idx int) (*DepositEntry, error) {
	e, err := v.Deposit(idx)
	if err != nil {
		return nil, err
	}
	if !e.InUse {
		return nil, fmt.Errorf("%w: %d", ErrDepositEntryNotUsed, idx)
	}
	return e, nil
}

// Deposit returns the entry at idx whether or not it is in use.
func (v *Voter) Deposit(idx int) (*DepositEntry, error) {
	if idx < 0 || idx >= MaxDepositEntries {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDepositEntryIndex, idx)
	}
	return &v.Deposits[idx], nil
}

// FreeDepositIndex returns the first unused slot.
func (v *Voter) FreeDepositIndex() (int, error) {
	for i := range v.Deposits {
		if !v.Deposits[i].InUse {
			return i, nil
		}
	}
	return 0, ErrNoAvailableDepositSlot
}

// UsesVotingMint reports whether any in-use entry references mint slot idx.
func (v *Voter) UsesVotingMint(idx int) bool {
	for i := range v.Deposits {
		if v.Deposits[i].InUse && int(v.Deposits[i].VotingMintConfigIndex) == idx {
			return true
		}
	}
	return false
}

// TotalDeposited is the voter's combined deposited amount across all mints.
func (v *Voter) TotalDeposited() (uint64, error) {
	var total uint64
	var err error
	for i := range v.Deposits {
		if !v.Deposits[i].InUse {
			continue
		}
		if total, err = checkedAdd(total, v.Deposits[i].AmountDepositedNative); err != nil {
			return 0, err
		}
	}
	return total, nil
}
