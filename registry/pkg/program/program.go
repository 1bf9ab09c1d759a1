// Package program implements the registry operations. Every operation reads
// the clock once, validates its signer before touching state, and works on a
// copy of the records it mutates so that a failure leaves them unchanged.
package program

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/address"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

type Program struct {
	log  *slog.Logger
	cfg  Config
	addr *address.Deriver
}

func New(cfg Config) (*Program, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Program{
		log:  cfg.Logger,
		cfg:  cfg,
		addr: address.New(cfg.ProgramID),
	}, nil
}

// Addresses returns the deriver for this program's record addresses.
func (p *Program) Addresses() *address.Deriver {
	return p.addr
}

// Now is the unix time operations on reg observe.
func (p *Program) Now(reg *state.Registrar) int64 {
	now := p.cfg.Clock.Now().Unix()
	if p.cfg.TestMode {
		now += reg.TimeOffset
	}
	return now
}

// observe records metrics for an operation. Use with a named error result:
// defer p.observe("deposit", time.Now(), &err).
func (p *Program) observe(operation string, start time.Time, err *error) {
	metrics.RecordOperation(operation, time.Since(start), *err)
	if *err != nil {
		p.log.Debug("program: operation failed", "operation", operation, "error", *err)
	}
}

// RegistrarAddress is the address reg lives at.
func (p *Program) RegistrarAddress(reg *state.Registrar) (solana.PublicKey, error) {
	addr, _, err := p.addr.Registrar(reg.Realm, reg.RealmGoverningTokenMint)
	return addr, err
}

// checkVoter ensures voter belongs to reg and returns the registrar address.
func (p *Program) checkVoter(reg *state.Registrar, voter *state.Voter) (solana.PublicKey, error) {
	regAddr, err := p.RegistrarAddress(reg)
	if err != nil {
		return solana.PublicKey{}, err
	}
	if voter.Registrar != regAddr {
		return solana.PublicKey{}, fmt.Errorf("%w: voter registrar %s, expected %s", state.ErrRegistrarMismatch, voter.Registrar, regAddr)
	}
	return regAddr, nil
}

// newVoter builds an empty voter and its weight record for authority.
func (p *Program) newVoter(reg *state.Registrar, regAddr, authority solana.PublicKey) (*state.Voter, *state.VoterWeightRecord, error) {
	voterAddr, voterBump, err := p.addr.Voter(regAddr, authority)
	if err != nil {
		return nil, nil, err
	}
	_, recordBump, err := p.addr.VoterWeightRecord(regAddr, authority)
	if err != nil {
		return nil, nil, err
	}
	voter := &state.Voter{
		VoterAuthority:        authority,
		Registrar:             regAddr,
		VoterBump:             voterBump,
		VoterWeightRecordBump: recordBump,
	}
	record := &state.VoterWeightRecord{
		Realm:               reg.Realm,
		GoverningTokenMint:  reg.RealmGoverningTokenMint,
		GoverningTokenOwner: authority,
		Registrar:           regAddr,
		Voter:               voterAddr,
	}
	return voter, record, nil
}
