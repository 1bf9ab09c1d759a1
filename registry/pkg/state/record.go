package state

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// VoterWeightRecord is the cached weight the governance program reads at vote
// time. It is only written by a refresh.
type VoterWeightRecord struct {
	Realm               solana.PublicKey `json:"realm"`
	GoverningTokenMint  solana.PublicKey `json:"governing_token_mint"`
	GoverningTokenOwner solana.PublicKey `json:"governing_token_owner"`
	Registrar           solana.PublicKey `json:"registrar"`
	Voter               solana.PublicKey `json:"voter"`

	VoterWeight uint64 `json:"voter_weight"`

	// LastUpdatedAt is the unix time of the refresh that wrote VoterWeight.
	LastUpdatedAt int64 `json:"last_updated_at"`
}

// CheckFresh fails with ErrStaleVoterWeightRecord if the record was last
// refreshed more than maxAge before now.
func (r *VoterWeightRecord) CheckFresh(now time.Time, maxAge time.Duration) error {
	return checkFresh(r.LastUpdatedAt, now, maxAge)
}

// MaxVoterWeightRecord holds the largest weight any set of voters could reach
// in the realm.
type MaxVoterWeightRecord struct {
	Realm              solana.PublicKey `json:"realm"`
	GoverningTokenMint solana.PublicKey `json:"governing_token_mint"`
	Registrar          solana.PublicKey `json:"registrar"`

	MaxVoterWeight uint64 `json:"max_voter_weight"`
	LastUpdatedAt  int64  `json:"last_updated_at"`
}

func (r *MaxVoterWeightRecord) CheckFresh(now time.Time, maxAge time.Duration) error {
	return checkFresh(r.LastUpdatedAt, now, maxAge)
}

func checkFresh(updatedAt int64, now time.Time, maxAge time.Duration) error {
	age := now.Sub(time.Unix(updatedAt, 0))
	if age > maxAge {
		return fmt.Errorf("%w: updated %s ago, max age %s", ErrStaleVoterWeightRecord, age.Truncate(time.Second), maxAge)
	}
	return nil
}
