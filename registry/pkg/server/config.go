package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/postgres"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/program"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Store is the subset of the postgres store the API reads and writes.
type Store interface {
	Ping(ctx context.Context) error
	CreateRegistrar(ctx context.Context, addr solana.PublicKey, reg *state.Registrar) error
	UpdateRegistrar(ctx context.Context, op string, addr solana.PublicKey, fn func(*state.Registrar) error) (*state.Registrar, error)
	GetRegistrar(ctx context.Context, addr solana.PublicKey) (*state.Registrar, error)
	GetVoter(ctx context.Context, registrar, authority solana.PublicKey) (*state.Voter, error)
	GetVoterWeightRecord(ctx context.Context, registrar, authority solana.PublicKey) (*state.VoterWeightRecord, error)
	GetMaxVoterWeightRecord(ctx context.Context, registrar solana.PublicKey) (*state.MaxVoterWeightRecord, error)
	UpdateVoter(ctx context.Context, op string, registrar, authority solana.PublicKey, fn func(*postgres.VoterRecords) error) (*postgres.VoterRecords, error)
	PutMaxVoterWeightRecord(ctx context.Context, rec *state.MaxVoterWeightRecord) error
}

var _ Store = (*postgres.Store)(nil)

// SupplySource reads the current supply of a registrar's voting mints.
type SupplySource interface {
	Supplies(ctx context.Context, reg *state.Registrar) (map[solana.PublicKey]uint64, error)
}

type Config struct {
	Logger            *slog.Logger
	Clock             clockwork.Clock
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo
	Store             Store
	Program           *program.Program
	Supplies          SupplySource

	// RateLimit and RateBurst bound API requests per client IP.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Program == nil {
		return errors.New("program is required")
	}
	if cfg.Supplies == nil {
		return errors.New("supply source is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = rate.Every(time.Minute / 600)
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 50
	}
	return nil
}
