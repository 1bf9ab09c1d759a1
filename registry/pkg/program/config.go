package program

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// DepositLookup answers whether any live deposit entry under a registrar
// references a voting mint slot.
type DepositLookup interface {
	VotingMintInUse(ctx context.Context, registrar solana.PublicKey, index int) (bool, error)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	ProgramID solana.PublicKey
	Deposits  DepositLookup

	// TestMode enables SetTimeOffset and applies each registrar's stored
	// time offset to the clock. Never set in production.
	TestMode bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Deposits == nil {
		return errors.New("deposit lookup is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}
