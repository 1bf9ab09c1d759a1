package program

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// CreateRegistrar sets up the root configuration of a realm. The signer
// becomes the realm authority.
func (p *Program) CreateRegistrar(authority Signer, realm, governingTokenMint, governanceProgramID solana.PublicKey) (_ solana.PublicKey, _ *state.Registrar, err error) {
	defer p.observe("create_registrar", time.Now(), &err)

	if authority.PublicKey().IsZero() {
		return solana.PublicKey{}, nil, fmt.Errorf("%w: missing signer", state.ErrUnauthorizedAuthority)
	}
	if realm.IsZero() || governingTokenMint.IsZero() {
		return solana.PublicKey{}, nil, errors.New("realm and governing token mint are required")
	}
	addr, bump, err := p.addr.Registrar(realm, governingTokenMint)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	reg := &state.Registrar{
		GovernanceProgramID:     governanceProgramID,
		Realm:                   realm,
		RealmGoverningTokenMint: governingTokenMint,
		RealmAuthority:          authority.PublicKey(),
		Bump:                    bump,
	}
	p.log.Info("program: registrar created", "registrar", addr, "realm", realm, "authority", authority)
	return addr, reg, nil
}

// ConfigureVotingMint writes slot idx of reg. A slot that backs live deposits
// only accepts a config with identical weighting.
func (p *Program) ConfigureVotingMint(ctx context.Context, reg *state.Registrar, authority Signer, idx int, cfg state.VotingMintConfig) (err error) {
	defer p.observe("configure_voting_mint", time.Now(), &err)

	if err := authority.authorize(reg.RealmAuthority); err != nil {
		return err
	}
	if idx < 0 || idx >= state.MaxVotingMints {
		return fmt.Errorf("%w: %d", state.ErrInvalidMintConfigIndex, idx)
	}
	regAddr, err := p.RegistrarAddress(reg)
	if err != nil {
		return err
	}

	inUse := false
	if reg.VotingMints[idx].InUse() {
		inUse, err = p.cfg.Deposits.VotingMintInUse(ctx, regAddr, idx)
		if err != nil {
			return fmt.Errorf("failed to check voting mint usage: %w", err)
		}
	}

	next := *reg
	if err := next.ConfigureVotingMint(idx, cfg, inUse); err != nil {
		return err
	}
	*reg = next

	p.log.Info("program: voting mint configured", "registrar", regAddr, "index", idx, "mint", cfg.Mint, "in_use", inUse)
	return nil
}

// SetTimeOffset shifts the clock observed by operations on reg. Only
// available in test mode.
func (p *Program) SetTimeOffset(reg *state.Registrar, authority Signer, offset int64) (err error) {
	defer p.observe("set_time_offset", time.Now(), &err)

	if err := authority.authorize(reg.RealmAuthority); err != nil {
		return err
	}
	if !p.cfg.TestMode {
		return state.ErrDebugInstruction
	}
	reg.TimeOffset = offset
	p.log.Warn("program: time offset set", "realm", reg.Realm, "offset", offset)
	return nil
}

// UpdateMaxVoteWeight recomputes the largest weight reachable in the realm
// from the current supply of every voting mint.
func (p *Program) UpdateMaxVoteWeight(reg *state.Registrar, supplies map[solana.PublicKey]uint64) (_ *state.MaxVoterWeightRecord, err error) {
	defer p.observe("update_max_vote_weight", time.Now(), &err)

	regAddr, err := p.RegistrarAddress(reg)
	if err != nil {
		return nil, err
	}
	weight, err := reg.MaxVoteWeight(supplies)
	if err != nil {
		return nil, err
	}
	return &state.MaxVoterWeightRecord{
		Realm:              reg.Realm,
		GoverningTokenMint: reg.RealmGoverningTokenMint,
		Registrar:          regAddr,
		MaxVoterWeight:     weight,
		LastUpdatedAt:      p.Now(reg),
	}, nil
}
