package program

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// CreateVoter creates the voter record of the signer and its weight record.
func (p *Program) CreateVoter(reg *state.Registrar, authority Signer) (_ *state.Voter, _ *state.VoterWeightRecord, err error) {
	defer p.observe("create_voter", time.Now(), &err)

	if authority.PublicKey().IsZero() {
		return nil, nil, fmt.Errorf("%w: missing signer", state.ErrUnauthorizedAuthority)
	}
	regAddr, err := p.RegistrarAddress(reg)
	if err != nil {
		return nil, nil, err
	}
	voter, record, err := p.newVoter(reg, regAddr, authority.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	p.log.Info("program: voter created", "registrar", regAddr, "voter_authority", authority)
	return voter, record, nil
}

// CloseVoter checks that voter holds no tokens so its records can be
// removed.
func (p *Program) CloseVoter(reg *state.Registrar, voter *state.Voter, authority Signer) (err error) {
	defer p.observe("close_voter", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return err
	}
	if _, err := p.checkVoter(reg, voter); err != nil {
		return err
	}
	total, err := voter.TotalDeposited()
	if err != nil {
		return err
	}
	if total != 0 {
		return fmt.Errorf("%w: %d deposited", state.ErrVotingTokenNonZero, total)
	}
	p.log.Info("program: voter closed", "voter_authority", voter.VoterAuthority)
	return nil
}

type CreateDepositEntryParams struct {
	// Index selects the slot. Nil takes the first free one.
	Index         *int
	Mint          solana.PublicKey
	Lockup        state.LockupParams
	AllowClawback bool
}

// CreateDepositEntry opens an empty deposit entry with a lockup and returns
// its index.
func (p *Program) CreateDepositEntry(reg *state.Registrar, voter *state.Voter, authority Signer, params CreateDepositEntryParams) (_ int, err error) {
	defer p.observe("create_deposit_entry", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return 0, err
	}
	if _, err := p.checkVoter(reg, voter); err != nil {
		return 0, err
	}
	mintIdx, err := reg.VotingMintConfigIndex(params.Mint)
	if err != nil {
		return 0, err
	}

	var idx int
	if params.Index != nil {
		idx = *params.Index
		e, err := voter.Deposit(idx)
		if err != nil {
			return 0, err
		}
		if e.InUse {
			return 0, fmt.Errorf("%w: %d", state.ErrDepositEntryAlreadyUsed, idx)
		}
	} else if idx, err = voter.FreeDepositIndex(); err != nil {
		return 0, err
	}

	lockup, err := params.Lockup.Build(p.Now(reg))
	if err != nil {
		return 0, err
	}
	voter.Deposits[idx] = state.DepositEntry{
		InUse:                 true,
		VotingMintConfigIndex: uint8(mintIdx),
		Lockup:                lockup,
		AllowClawback:         params.AllowClawback,
		ClawbackAuthority:     reg.RealmAuthority,
	}

	p.log.Debug("program: deposit entry created", "voter_authority", voter.VoterAuthority, "index", idx, "kind", lockup.Kind, "end", lockup.EndTime)
	return idx, nil
}

// CloseDepositEntry returns an emptied entry to the free pool. Entries that
// allow clawback stay open until their lockup has ended.
func (p *Program) CloseDepositEntry(reg *state.Registrar, voter *state.Voter, authority Signer, idx int) (err error) {
	defer p.observe("close_deposit_entry", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return err
	}
	if _, err := p.checkVoter(reg, voter); err != nil {
		return err
	}
	e, err := voter.ActiveDeposit(idx)
	if err != nil {
		return err
	}
	if e.AmountDepositedNative != 0 {
		return fmt.Errorf("%w: %d deposited", state.ErrVotingTokenNonZero, e.AmountDepositedNative)
	}
	now := p.Now(reg)
	if e.AllowClawback && !e.Lockup.Expired(now) {
		return fmt.Errorf("%w: %ds left", state.ErrDepositStillLocked, e.Lockup.SecondsLeft(now))
	}
	*e = state.DepositEntry{}

	p.log.Debug("program: deposit entry closed", "voter_authority", voter.VoterAuthority, "index", idx)
	return nil
}
