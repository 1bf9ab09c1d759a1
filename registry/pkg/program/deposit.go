package program

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// entryMint resolves mint on reg and checks it is the mint of entry.
func entryMint(reg *state.Registrar, e *state.DepositEntry, mint solana.PublicKey) error {
	idx, err := reg.VotingMintConfigIndex(mint)
	if err != nil {
		return err
	}
	if idx != int(e.VotingMintConfigIndex) {
		return fmt.Errorf("%w: mint %s is voting mint %d, entry uses %d", state.ErrMintIndexMismatch, mint, idx, e.VotingMintConfigIndex)
	}
	return nil
}

// Deposit adds amount of mint from the depositor's token account to entry
// idx. Anyone may deposit into any voter's entry.
func (p *Program) Deposit(reg *state.Registrar, voter *state.Voter, depositor Signer, idx int, mint solana.PublicKey, amount uint64) (_ TokenTransfer, err error) {
	defer p.observe("deposit", time.Now(), &err)

	if depositor.PublicKey().IsZero() {
		return TokenTransfer{}, fmt.Errorf("%w: missing signer", state.ErrUnauthorizedAuthority)
	}
	regAddr, err := p.checkVoter(reg, voter)
	if err != nil {
		return TokenTransfer{}, err
	}

	next := *voter
	e, err := next.ActiveDeposit(idx)
	if err != nil {
		return TokenTransfer{}, err
	}
	if err := entryMint(reg, e, mint); err != nil {
		return TokenTransfer{}, err
	}
	if err := e.Deposit(p.Now(reg), amount); err != nil {
		return TokenTransfer{}, err
	}
	transfer, err := p.intoVault(regAddr, depositor.PublicKey(), mint, amount)
	if err != nil {
		return TokenTransfer{}, err
	}
	*voter = next

	p.log.Debug("program: deposit", "voter_authority", voter.VoterAuthority, "index", idx, "amount", amount, "depositor", depositor)
	return transfer, nil
}

// Withdraw moves amount of unlocked value out of entry idx to destination.
func (p *Program) Withdraw(reg *state.Registrar, voter *state.Voter, authority Signer, idx int, mint, destination solana.PublicKey, amount uint64) (_ TokenTransfer, err error) {
	defer p.observe("withdraw", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return TokenTransfer{}, err
	}
	regAddr, err := p.checkVoter(reg, voter)
	if err != nil {
		return TokenTransfer{}, err
	}

	next := *voter
	e, err := next.ActiveDeposit(idx)
	if err != nil {
		return TokenTransfer{}, err
	}
	if err := entryMint(reg, e, mint); err != nil {
		return TokenTransfer{}, err
	}
	if err := e.Withdraw(p.Now(reg), amount); err != nil {
		return TokenTransfer{}, err
	}
	transfer, err := p.outOfVault(regAddr, mint, destination, amount)
	if err != nil {
		return TokenTransfer{}, err
	}
	*voter = next

	p.log.Debug("program: withdraw", "voter_authority", voter.VoterAuthority, "index", idx, "amount", amount)
	return transfer, nil
}

type GrantParams struct {
	VoterAuthority solana.PublicKey
	Mint           solana.PublicKey
	Lockup         state.LockupParams
	AllowClawback  bool
	Amount         uint64
}

type GrantResult struct {
	Voter *state.Voter

	// VoterWeightRecord is set when the grant created the voter.
	VoterWeightRecord *state.VoterWeightRecord

	DepositEntryIndex int
	Transfer          TokenTransfer
}

// Grant funds a new locked deposit entry on behalf of a voter, creating the
// voter if voter is nil. The signer must be the realm authority, the mint's
// grant authority or the voter authority.
func (p *Program) Grant(reg *state.Registrar, voter *state.Voter, signer Signer, params GrantParams) (_ *GrantResult, err error) {
	defer p.observe("grant", time.Now(), &err)

	mintIdx, err := reg.VotingMintConfigIndex(params.Mint)
	if err != nil {
		return nil, err
	}
	if err := signer.authorize(reg.RealmAuthority, reg.VotingMints[mintIdx].GrantAuthority, params.VoterAuthority); err != nil {
		return nil, err
	}
	regAddr, err := p.RegistrarAddress(reg)
	if err != nil {
		return nil, err
	}

	res := &GrantResult{}
	var next state.Voter
	if voter == nil {
		created, record, err := p.newVoter(reg, regAddr, params.VoterAuthority)
		if err != nil {
			return nil, err
		}
		next = *created
		res.VoterWeightRecord = record
	} else {
		if _, err := p.checkVoter(reg, voter); err != nil {
			return nil, err
		}
		if voter.VoterAuthority != params.VoterAuthority {
			return nil, fmt.Errorf("%w: voter belongs to %s", state.ErrUnauthorizedAuthority, voter.VoterAuthority)
		}
		next = *voter
	}

	idx, err := next.FreeDepositIndex()
	if err != nil {
		return nil, err
	}
	now := p.Now(reg)
	lockup, err := params.Lockup.Build(now)
	if err != nil {
		return nil, err
	}

	clawbackAuthority := signer.PublicKey()
	if clawbackAuthority == params.VoterAuthority {
		clawbackAuthority = reg.RealmAuthority
	}
	e := &next.Deposits[idx]
	*e = state.DepositEntry{
		InUse:                 true,
		VotingMintConfigIndex: uint8(mintIdx),
		Lockup:                lockup,
		AllowClawback:         params.AllowClawback,
		ClawbackAuthority:     clawbackAuthority,
	}
	if err := e.Deposit(now, params.Amount); err != nil {
		return nil, err
	}
	transfer, err := p.intoVault(regAddr, signer.PublicKey(), params.Mint, params.Amount)
	if err != nil {
		return nil, err
	}

	if voter == nil {
		voter = &next
	} else {
		*voter = next
	}
	res.Voter = voter
	res.DepositEntryIndex = idx
	res.Transfer = transfer

	p.log.Info("program: granted", "voter_authority", params.VoterAuthority, "index", idx, "amount", params.Amount, "kind", lockup.Kind, "periods", params.Lockup.Periods, "signer", signer)
	return res, nil
}

// Clawback takes the still locked part of entry idx back to destination.
// Only the entry's clawback authority may do this, and only if the entry
// opted in.
func (p *Program) Clawback(reg *state.Registrar, voter *state.Voter, authority Signer, idx int, destination solana.PublicKey) (_ TokenTransfer, err error) {
	defer p.observe("clawback", time.Now(), &err)

	regAddr, err := p.checkVoter(reg, voter)
	if err != nil {
		return TokenTransfer{}, err
	}
	next := *voter
	e, err := next.ActiveDeposit(idx)
	if err != nil {
		return TokenTransfer{}, err
	}
	if err := authority.authorize(e.ClawbackAuthority); err != nil {
		return TokenTransfer{}, err
	}
	cfg, err := reg.VotingMint(int(e.VotingMintConfigIndex))
	if err != nil {
		return TokenTransfer{}, err
	}
	amount, err := e.Clawback(p.Now(reg))
	if err != nil {
		return TokenTransfer{}, err
	}
	transfer, err := p.outOfVault(regAddr, cfg.Mint, destination, amount)
	if err != nil {
		return TokenTransfer{}, err
	}
	*voter = next

	p.log.Info("program: clawback", "voter_authority", voter.VoterAuthority, "index", idx, "amount", amount, "destination", destination)
	return transfer, nil
}

// InternalTransfer moves amount of locked value between two entries of the
// same voter. The destination must stay locked at least as long.
func (p *Program) InternalTransfer(reg *state.Registrar, voter *state.Voter, authority Signer, src, dst int, amount uint64) (err error) {
	defer p.observe("internal_transfer", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return err
	}
	if _, err := p.checkVoter(reg, voter); err != nil {
		return err
	}
	if src == dst {
		return fmt.Errorf("%w: %d", state.ErrSameDepositEntry, src)
	}

	next := *voter
	source, err := next.ActiveDeposit(src)
	if err != nil {
		return err
	}
	target, err := next.ActiveDeposit(dst)
	if err != nil {
		return err
	}
	if err := source.TransferLocked(target, p.Now(reg), amount); err != nil {
		return err
	}
	*voter = next

	p.log.Debug("program: internal transfer", "voter_authority", voter.VoterAuthority, "source", src, "target", dst, "amount", amount)
	return nil
}

// ResetLockup restarts entry idx with a new lockup beginning now. The value
// still locked stays locked under the new schedule, which may not be less
// strict or end sooner than the current one.
func (p *Program) ResetLockup(reg *state.Registrar, voter *state.Voter, authority Signer, idx int, kind state.LockupKind, periods uint32) (err error) {
	defer p.observe("reset_lockup", time.Now(), &err)

	if err := authority.authorize(voter.VoterAuthority); err != nil {
		return err
	}
	if _, err := p.checkVoter(reg, voter); err != nil {
		return err
	}

	next := *voter
	e, err := next.ActiveDeposit(idx)
	if err != nil {
		return err
	}
	now := p.Now(reg)
	lockup, err := state.LockupParams{Kind: kind, Periods: periods}.Build(now)
	if err != nil {
		return err
	}
	if err := e.ResetLockup(now, lockup); err != nil {
		return err
	}
	*voter = next

	p.log.Debug("program: lockup reset", "voter_authority", voter.VoterAuthority, "index", idx, "kind", kind, "periods", periods)
	return nil
}
