// Package address derives the deterministic addresses of registry records.
// Every record lives at a program-derived address so that the host can find
// it from the identities that own it.
package address

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DefaultProgramID is the address of the deployed registry program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("4Q6WW2ouZ6V3iaNm56MTd5n2tnTm4C5fiH8miFHnAFHo")

const (
	seedRegistrar            = "registrar"
	seedVoter                = "voter"
	seedVoterWeightRecord    = "voter-weight-record"
	seedMaxVoterWeightRecord = "max-voter-weight-record"
)

// Deriver computes record addresses for one program.
type Deriver struct {
	ProgramID solana.PublicKey
}

func New(programID solana.PublicKey) *Deriver {
	if programID.IsZero() {
		programID = DefaultProgramID
	}
	return &Deriver{ProgramID: programID}
}

func (d *Deriver) find(seeds ...[]byte) (solana.PublicKey, uint8, error) {
	addr, bump, err := solana.FindProgramAddress(seeds, d.ProgramID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("failed to find program address: %w", err)
	}
	return addr, bump, nil
}

// Registrar is keyed by the realm and its governing token mint.
func (d *Deriver) Registrar(realm, governingTokenMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.find(realm[:], []byte(seedRegistrar), governingTokenMint[:])
}

func (d *Deriver) Voter(registrar, voterAuthority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.find(registrar[:], []byte(seedVoter), voterAuthority[:])
}

func (d *Deriver) VoterWeightRecord(registrar, voterAuthority solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.find(registrar[:], []byte(seedVoterWeightRecord), voterAuthority[:])
}

func (d *Deriver) MaxVoterWeightRecord(realm, governingTokenMint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return d.find(realm[:], []byte(seedMaxVoterWeightRecord), governingTokenMint[:])
}

// Vault is the escrow token account holding every deposit of mint under
// registrar.
func (d *Deriver) Vault(registrar, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(registrar, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to find vault address: %w", err)
	}
	return addr, nil
}
