package supply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
	"github.com/malbeclabs/voter-stake-registry/utils/pkg/retry"
)

// SolanaRPC is the subset of the solana RPC client used to read mint
// supplies.
type SolanaRPC interface {
	GetTokenSupply(ctx context.Context, tokenMint solana.PublicKey, commitment solanarpc.CommitmentType) (*solanarpc.GetTokenSupplyResult, error)
}

var _ SolanaRPC = (*solanarpc.Client)(nil)

type Config struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	RPC        SolanaRPC
	Commitment solanarpc.CommitmentType

	// CacheTTL is how long a fetched supply is reused. Zero disables caching.
	CacheTTL time.Duration
	Retry    retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.RPC == nil {
		return errors.New("solana rpc is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Commitment == "" {
		cfg.Commitment = solanarpc.CommitmentFinalized
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = isRetryable
	}
	return nil
}

// isRetryable extends retry.IsRetryable with RPC node throttling.
func isRetryable(err error) bool {
	if retry.IsRetryable(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "too many requests")
}

type cachedSupply struct {
	amount    uint64
	fetchedAt time.Time
}

// Source reads the current supply of every voting mint of a registrar.
type Source struct {
	log *slog.Logger
	cfg Config

	mu    sync.Mutex
	cache map[solana.PublicKey]cachedSupply
}

func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{
		log:   cfg.Logger,
		cfg:   cfg,
		cache: make(map[solana.PublicKey]cachedSupply),
	}, nil
}

// Supplies returns the supply of each configured voting mint of reg, in
// native units.
func (s *Source) Supplies(ctx context.Context, reg *state.Registrar) (map[solana.PublicKey]uint64, error) {
	var (
		mu  sync.Mutex
		out = make(map[solana.PublicKey]uint64, state.MaxVotingMints)
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, cfg := range reg.VotingMints {
		if !cfg.InUse() {
			continue
		}
		mint := cfg.Mint
		g.Go(func() error {
			amount, err := s.supply(ctx, mint)
			if err != nil {
				return err
			}
			mu.Lock()
			out[mint] = amount
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) supply(ctx context.Context, mint solana.PublicKey) (uint64, error) {
	now := s.cfg.Clock.Now()
	if s.cfg.CacheTTL > 0 {
		s.mu.Lock()
		c, ok := s.cache[mint]
		s.mu.Unlock()
		if ok && now.Sub(c.fetchedAt) < s.cfg.CacheTTL {
			metrics.SupplyFetchesTotal.WithLabelValues("cached").Inc()
			return c.amount, nil
		}
	}

	var res *solanarpc.GetTokenSupplyResult
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		var err error
		res, err = s.cfg.RPC.GetTokenSupply(ctx, mint, s.cfg.Commitment)
		return err
	})
	if err != nil {
		metrics.SupplyFetchesTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("failed to get token supply of %s: %w", mint, err)
	}
	if res == nil || res.Value == nil {
		return 0, fmt.Errorf("empty token supply response for %s", mint)
	}
	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token supply %q for %s: %w", res.Value.Amount, mint, err)
	}

	metrics.SupplyFetchesTotal.WithLabelValues("fetched").Inc()
	s.mu.Lock()
	s.cache[mint] = cachedSupply{amount: amount, fetchedAt: now}
	s.mu.Unlock()
	s.log.Debug("supply: fetched token supply", "mint", mint, "amount", amount, "decimals", res.Value.Decimals)
	return amount, nil
}
