package program

import (
	"fmt"
	"time"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// MaxDepositEntriesOutput bounds the deposit entries reported by one
// VoterInfo call.
const MaxDepositEntriesOutput = 16

// UpdateVoterWeightRecord recomputes the voter's weight from scratch and
// stores it in record together with the current time. Anyone may call it.
func (p *Program) UpdateVoterWeightRecord(reg *state.Registrar, voter *state.Voter, record *state.VoterWeightRecord) (err error) {
	defer p.observe("update_voter_weight_record", time.Now(), &err)

	regAddr, err := p.checkVoter(reg, voter)
	if err != nil {
		return err
	}
	if record.Registrar != regAddr || record.GoverningTokenOwner != voter.VoterAuthority {
		return fmt.Errorf("%w: voter weight record of %s", state.ErrRegistrarMismatch, record.GoverningTokenOwner)
	}
	now := p.Now(reg)
	weight, err := voter.Weight(reg, now)
	if err != nil {
		return err
	}
	record.VoterWeight = weight
	record.LastUpdatedAt = now
	metrics.VoterWeight.Observe(float64(weight))

	p.log.Debug("program: voter weight updated", "voter_authority", voter.VoterAuthority, "weight", weight, "at", now)
	return nil
}

type VoterInfo struct {
	VotingPower         uint64             `json:"voting_power"`
	VotingPowerBaseline uint64             `json:"voting_power_baseline"`
	DepositEntries      []DepositEntryInfo `json:"deposit_entries"`
}

type DepositEntryInfo struct {
	DepositEntryIndex     uint8        `json:"deposit_entry_index"`
	VotingMintConfigIndex uint8        `json:"voting_mint_config_index"`
	Unlocked              uint64       `json:"unlocked"`
	VotingPower           uint64       `json:"voting_power"`
	VotingPowerBaseline   uint64       `json:"voting_power_baseline"`
	Locking               *LockingInfo `json:"locking,omitempty"`
}

type LockingInfo struct {
	Amount uint64 `json:"amount"`

	// EndTimestamp is when the lockup fully ends, nil for constant lockups.
	EndTimestamp *int64       `json:"end_timestamp,omitempty"`
	Vesting      *VestingInfo `json:"vesting,omitempty"`
}

type VestingInfo struct {
	// Rate is the amount released each period.
	Rate          uint64 `json:"rate"`
	NextTimestamp int64  `json:"next_timestamp"`
}

// VoterInfo reports the voter's weight and the state of up to
// MaxDepositEntriesOutput in-use entries starting at index begin.
func (p *Program) VoterInfo(reg *state.Registrar, voter *state.Voter, begin int) (_ *VoterInfo, err error) {
	defer p.observe("voter_info", time.Now(), &err)

	if _, err := p.checkVoter(reg, voter); err != nil {
		return nil, err
	}
	now := p.Now(reg)
	info := &VoterInfo{}
	if info.VotingPower, err = voter.Weight(reg, now); err != nil {
		return nil, err
	}
	if info.VotingPowerBaseline, err = voter.WeightBaseline(reg); err != nil {
		return nil, err
	}

	for i := max(begin, 0); i < state.MaxDepositEntries && i < begin+MaxDepositEntriesOutput; i++ {
		e := &voter.Deposits[i]
		if !e.InUse {
			continue
		}
		entry, err := p.depositEntryInfo(reg, e, i, now)
		if err != nil {
			return nil, err
		}
		info.DepositEntries = append(info.DepositEntries, entry)
	}
	return info, nil
}

func (p *Program) depositEntryInfo(reg *state.Registrar, e *state.DepositEntry, idx int, now int64) (DepositEntryInfo, error) {
	cfg, err := reg.VotingMint(int(e.VotingMintConfigIndex))
	if err != nil {
		return DepositEntryInfo{}, err
	}
	info := DepositEntryInfo{
		DepositEntryIndex:     uint8(idx),
		VotingMintConfigIndex: e.VotingMintConfigIndex,
	}
	if info.Unlocked, err = e.AmountUnlocked(now); err != nil {
		return DepositEntryInfo{}, err
	}
	if info.VotingPower, err = e.VotingPower(cfg, now); err != nil {
		return DepositEntryInfo{}, err
	}
	if info.VotingPowerBaseline, err = e.BaselineVotingPower(cfg); err != nil {
		return DepositEntryInfo{}, err
	}

	l := e.Lockup
	secondsLeft := l.SecondsLeft(now)
	if secondsLeft == 0 {
		return info, nil
	}
	locked, err := e.AmountLocked(now)
	if err != nil {
		return DepositEntryInfo{}, err
	}
	end := now + int64(secondsLeft)
	locking := &LockingInfo{Amount: locked}
	if l.Kind != state.LockupKindConstant {
		locking.EndTimestamp = &end
	}
	if l.Kind.IsVesting() {
		periodsLeft := int64(l.PeriodsLeft(now))
		locking.Vesting = &VestingInfo{
			Rate:          e.AmountInitiallyLockedNative / uint64(l.PeriodCount),
			NextTimestamp: end - max(periodsLeft-1, 0)*l.PeriodSecs(),
		}
	}
	info.Locking = locking
	return info, nil
}
