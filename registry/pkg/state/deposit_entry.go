package state

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DepositEntry is one slot of a voter's deposits. Amounts are in native units
// of the entry's voting mint.
type DepositEntry struct {
	Lockup Lockup `json:"lockup"`

	// AmountDepositedNative is the live balance held in escrow for this entry.
	AmountDepositedNative uint64 `json:"amount_deposited_native"`

	// AmountInitiallyLockedNative is the amount locked when the current
	// schedule started. It is the base for the vested fraction and only
	// shrinks through withdrawals, clawback or transfers out.
	AmountInitiallyLockedNative uint64 `json:"amount_initially_locked_native"`

	InUse                 bool             `json:"in_use"`
	AllowClawback         bool             `json:"allow_clawback"`
	VotingMintConfigIndex uint8            `json:"voting_mint_config_idx"`
	ClawbackAuthority     solana.PublicKey `json:"clawback_authority"`
}

// Vested is the part of the initially locked amount that the schedule has
// released by now.
func (e *DepositEntry) Vested(now int64) (uint64, error) {
	num, den := e.Lockup.VestedFraction(now)
	if num == den {
		return e.AmountInitiallyLockedNative, nil
	}
	if num == 0 {
		return 0, nil
	}
	return mulDiv(e.AmountInitiallyLockedNative, num, den)
}

// AmountLocked is the amount that may not be withdrawn at now.
func (e *DepositEntry) AmountLocked(now int64) (uint64, error) {
	vested, err := e.Vested(now)
	if err != nil {
		return 0, err
	}
	return checkedSub(e.AmountInitiallyLockedNative, vested)
}

// AmountUnlocked is the amount that may be withdrawn at now.
func (e *DepositEntry) AmountUnlocked(now int64) (uint64, error) {
	locked, err := e.AmountLocked(now)
	if err != nil {
		return 0, err
	}
	if locked > e.AmountDepositedNative {
		return 0, nil
	}
	return e.AmountDepositedNative - locked, nil
}

// ResolveVesting folds everything vested so far out of the initially locked
// amount and moves the start of a periodic schedule up to the current period.
// Locked amounts and weights at now are unchanged by this.
func (e *DepositEntry) ResolveVesting(now int64) error {
	vested, err := e.Vested(now)
	if err != nil {
		return err
	}
	initially, err := checkedSub(e.AmountInitiallyLockedNative, vested)
	if err != nil {
		return err
	}

	l := e.Lockup
	if l.Kind.IsVesting() {
		elapsed := l.PeriodsElapsed(now)
		if elapsed > 0 && elapsed < l.PeriodCount {
			l.StartTime += int64(elapsed) * l.PeriodSecs()
			l.PeriodCount -= elapsed
		}
	}

	e.AmountInitiallyLockedNative = initially
	e.Lockup = l
	return nil
}

// Deposit adds amount to the entry. While the lockup is active the whole
// amount joins the locked base for the rest of the schedule.
func (e *DepositEntry) Deposit(now int64, amount uint64) error {
	next := *e
	if err := next.ResolveVesting(now); err != nil {
		return err
	}
	deposited, err := checkedAdd(next.AmountDepositedNative, amount)
	if err != nil {
		return err
	}
	if !next.Lockup.Expired(now) {
		if next.AmountInitiallyLockedNative, err = checkedAdd(next.AmountInitiallyLockedNative, amount); err != nil {
			return err
		}
	}
	next.AmountDepositedNative = deposited
	*e = next
	return nil
}

// Withdraw removes amount of unlocked value from the entry.
func (e *DepositEntry) Withdraw(now int64, amount uint64) error {
	unlocked, err := e.AmountUnlocked(now)
	if err != nil {
		return err
	}
	if amount > unlocked {
		return fmt.Errorf("%w: requested %d, unlocked %d", ErrInsufficientVestedTokens, amount, unlocked)
	}
	next := *e
	if err := next.ResolveVesting(now); err != nil {
		return err
	}
	next.AmountDepositedNative -= amount
	*e = next
	return nil
}

// Clawback removes the still locked amount and ends the lockup. The vested
// remainder stays with the entry owner.
func (e *DepositEntry) Clawback(now int64) (uint64, error) {
	if !e.AllowClawback {
		return 0, ErrClawbackNotAllowed
	}
	next := *e
	if err := next.ResolveVesting(now); err != nil {
		return 0, err
	}
	locked := next.AmountInitiallyLockedNative
	deposited, err := checkedSub(next.AmountDepositedNative, locked)
	if err != nil {
		return 0, err
	}
	next.AmountDepositedNative = deposited
	next.AmountInitiallyLockedNative = 0
	next.Lockup = Lockup{Kind: LockupKindNone, StartTime: now, EndTime: now}
	next.AllowClawback = false
	*e = next
	return locked, nil
}

// checkNotShorter fails if value locked under prev would be released sooner
// under next: next must be at least as strict, last at least as long and
// keep at least as much locked at every later instant.
func checkNotShorter(prev, next Lockup, now int64) error {
	if next.Kind.Strictness() < prev.Kind.Strictness() {
		return fmt.Errorf("%w: %s is less strict than %s", ErrLockupCannotBeShortened, next.Kind, prev.Kind)
	}
	if next.SecondsLeft(now) < prev.SecondsLeft(now) {
		return fmt.Errorf("%w: %ds left is less than current %ds", ErrLockupCannotBeShortened, next.SecondsLeft(now), prev.SecondsLeft(now))
	}
	if !next.Covers(prev, now) {
		return fmt.Errorf("%w: %s schedule releases value before the current %s schedule", ErrLockupCannotBeShortened, next.Kind, prev.Kind)
	}
	return nil
}

// ResetLockup replaces the schedule with next, which must start at now. The
// still locked amount becomes the new locked base. While anything is locked
// the new schedule may not release it sooner than the old one would. A fully
// vested entry takes any schedule.
func (e *DepositEntry) ResetLockup(now int64, next Lockup) error {
	if err := next.Validate(); err != nil {
		return err
	}
	resolved := *e
	if err := resolved.ResolveVesting(now); err != nil {
		return err
	}
	if resolved.AmountInitiallyLockedNative > 0 {
		if err := checkNotShorter(resolved.Lockup, next, now); err != nil {
			return err
		}
	}
	resolved.Lockup = next
	*e = resolved
	return nil
}

// TransferLocked moves amount of locked value from e into dst. Both entries
// must use the same voting mint, and dst may not release the value sooner
// than e would.
func (e *DepositEntry) TransferLocked(dst *DepositEntry, now int64, amount uint64) error {
	if e == dst {
		return ErrSameDepositEntry
	}
	if e.VotingMintConfigIndex != dst.VotingMintConfigIndex {
		return ErrMintIndexMismatch
	}
	src, target := *e, *dst
	if err := src.ResolveVesting(now); err != nil {
		return err
	}
	if err := target.ResolveVesting(now); err != nil {
		return err
	}
	if amount > src.AmountInitiallyLockedNative {
		return fmt.Errorf("%w: requested %d, locked %d", ErrInsufficientLockedTokens, amount, src.AmountInitiallyLockedNative)
	}
	if err := checkNotShorter(src.Lockup, target.Lockup, now); err != nil {
		return fmt.Errorf("destination entry: %w", err)
	}

	dstDeposited, err := checkedAdd(target.AmountDepositedNative, amount)
	if err != nil {
		return err
	}
	dstLocked, err := checkedAdd(target.AmountInitiallyLockedNative, amount)
	if err != nil {
		return err
	}
	srcDeposited, err := checkedSub(src.AmountDepositedNative, amount)
	if err != nil {
		return err
	}

	src.AmountDepositedNative = srcDeposited
	src.AmountInitiallyLockedNative -= amount
	target.AmountDepositedNative = dstDeposited
	target.AmountInitiallyLockedNative = dstLocked
	*e, *dst = src, target
	return nil
}

// BaselineVotingPower is the weight of the deposit ignoring its lockup.
func (e *DepositEntry) BaselineVotingPower(cfg VotingMintConfig) (uint64, error) {
	return cfg.BaselineVoteWeight(e.AmountDepositedNative)
}

// VotingPower is the baseline weight of the whole deposit plus the lockup
// bonus of its locked part.
func (e *DepositEntry) VotingPower(cfg VotingMintConfig, now int64) (uint64, error) {
	baseline, err := e.BaselineVotingPower(cfg)
	if err != nil {
		return 0, err
	}
	locked, err := e.AmountLocked(now)
	if err != nil {
		return 0, err
	}
	bonus, err := cfg.LockupVoteWeight(locked, e.Lockup.SecondsLeft(now))
	if err != nil {
		return 0, err
	}
	return checkedAdd(baseline, bonus)
}
