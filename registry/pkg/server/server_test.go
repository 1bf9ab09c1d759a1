package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/postgres"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/program"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
	vsrtesting "github.com/malbeclabs/voter-stake-registry/utils/pkg/testing"
)

const t0 int64 = 1_700_000_000

type voterKey struct {
	registrar solana.PublicKey
	authority solana.PublicKey
}

type fakeStore struct {
	mu      sync.Mutex
	pingErr error
	regs    map[solana.PublicKey]state.Registrar
	voters  map[voterKey]state.Voter
	records map[voterKey]state.VoterWeightRecord
	max     map[solana.PublicKey]state.MaxVoterWeightRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		regs:    map[solana.PublicKey]state.Registrar{},
		voters:  map[voterKey]state.Voter{},
		records: map[voterKey]state.VoterWeightRecord{},
		max:     map[solana.PublicKey]state.MaxVoterWeightRecord{},
	}
}

func (f *fakeStore) VotingMintInUse(context.Context, solana.PublicKey, int) (bool, error) {
	return false, nil
}

func (f *fakeStore) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeStore) GetRegistrar(_ context.Context, addr solana.PublicKey) (*state.Registrar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[addr]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &reg, nil
}

func (f *fakeStore) CreateRegistrar(_ context.Context, addr solana.PublicKey, reg *state.Registrar) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.regs[addr]; ok {
		return postgres.ErrAlreadyExists
	}
	f.regs[addr] = *reg
	return nil
}

func (f *fakeStore) UpdateRegistrar(_ context.Context, _ string, addr solana.PublicKey, fn func(*state.Registrar) error) (*state.Registrar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[addr]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	if err := fn(&reg); err != nil {
		return nil, err
	}
	f.regs[addr] = reg
	return &reg, nil
}

func (f *fakeStore) GetVoter(_ context.Context, registrar, authority solana.PublicKey) (*state.Voter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	voter, ok := f.voters[voterKey{registrar, authority}]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &voter, nil
}

func (f *fakeStore) GetVoterWeightRecord(_ context.Context, registrar, authority solana.PublicKey) (*state.VoterWeightRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[voterKey{registrar, authority}]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &record, nil
}

func (f *fakeStore) GetMaxVoterWeightRecord(_ context.Context, registrar solana.PublicKey) (*state.MaxVoterWeightRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.max[registrar]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	return &rec, nil
}

func (f *fakeStore) UpdateVoter(_ context.Context, _ string, registrar, authority solana.PublicKey, fn func(*postgres.VoterRecords) error) (*postgres.VoterRecords, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.regs[registrar]
	if !ok {
		return nil, postgres.ErrNotFound
	}
	key := voterKey{registrar, authority}
	recs := &postgres.VoterRecords{Registrar: &reg}
	if voter, ok := f.voters[key]; ok {
		recs.Voter = &voter
	}
	if record, ok := f.records[key]; ok {
		recs.Record = &record
	}
	if err := fn(recs); err != nil {
		return nil, err
	}
	if recs.Voter != nil {
		f.voters[key] = *recs.Voter
	} else {
		delete(f.voters, key)
	}
	if recs.Record != nil {
		f.records[key] = *recs.Record
	} else {
		delete(f.records, key)
	}
	return recs, nil
}

func (f *fakeStore) PutMaxVoterWeightRecord(_ context.Context, rec *state.MaxVoterWeightRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.max[rec.Registrar] = *rec
	return nil
}

type fakeSupplies struct {
	mu       sync.Mutex
	err      error
	supplies map[solana.PublicKey]uint64
}

func (f *fakeSupplies) Supplies(context.Context, *state.Registrar) (map[solana.PublicKey]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.supplies, nil
}

type fixture struct {
	srv      *Server
	store    *fakeStore
	supplies *fakeSupplies
	mint     solana.PublicKey
	clock    *clockwork.FakeClock
	regAddr  solana.PublicKey
	voter    solana.PublicKey

	// Keys of the realm authority and of voter.
	adminKey solana.PrivateKey
	aliceKey solana.PrivateKey
}

func newFixture(t *testing.T, mutate ...func(*Config)) *fixture {
	t.Helper()

	store := newFakeStore()
	clock := clockwork.NewFakeClockAt(time.Unix(t0, 0))
	prog, err := program.New(program.Config{Logger: vsrtesting.NewLogger(), Clock: clock, Deposits: store})
	require.NoError(t, err)

	adminKey, aliceKey := solana.NewWallet().PrivateKey, solana.NewWallet().PrivateKey
	admin := program.TrustedSigner(adminKey.PublicKey())
	alice := program.TrustedSigner(aliceKey.PublicKey())
	mint := solana.NewWallet().PublicKey()

	regAddr, reg, err := prog.CreateRegistrar(admin, solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	require.NoError(t, prog.ConfigureVotingMint(t.Context(), reg, admin, 0, state.VotingMintConfig{
		Mint:                           mint,
		BaselineVoteWeightFactor:       state.FactorScale,
		MaxExtraLockupVoteWeightFactor: state.FactorScale,
		LockupSaturationSecs:           86_400,
	}))

	voter, record, err := prog.CreateVoter(reg, alice)
	require.NoError(t, err)
	idx, err := prog.CreateDepositEntry(reg, voter, alice, program.CreateDepositEntryParams{
		Mint:   mint,
		Lockup: state.LockupParams{Kind: state.LockupKindCliff, Periods: 1},
	})
	require.NoError(t, err)
	_, err = prog.Deposit(reg, voter, alice, idx, mint, 10)
	require.NoError(t, err)

	store.regs[regAddr] = *reg
	store.voters[voterKey{regAddr, alice.PublicKey()}] = *voter
	store.records[voterKey{regAddr, alice.PublicKey()}] = *record

	supplies := &fakeSupplies{supplies: map[solana.PublicKey]uint64{}}
	cfg := Config{
		Logger:      vsrtesting.NewLogger(),
		Clock:       clock,
		ListenAddr:  "127.0.0.1:0",
		VersionInfo: VersionInfo{Version: "1.2.3", Commit: "abc", Date: "2026-01-01"},
		Store:       store,
		Program:     prog,
		Supplies:    supplies,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	srv, err := New(cfg)
	require.NoError(t, err)

	return &fixture{srv: srv, store: store, supplies: supplies, mint: mint, clock: clock, regAddr: regAddr, voter: alice.PublicKey(), adminKey: adminKey, aliceKey: aliceKey}
}

func (f *fixture) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) voterPath(suffix string) string {
	return "/api/registrars/" + f.regAddr.String() + "/voters/" + f.voter.String() + suffix
}

func TestVSR_Server_Config_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{name: "missing logger", cfg: Config{}, err: "logger is required"},
		{name: "missing listen addr", cfg: Config{Logger: vsrtesting.NewLogger()}, err: "listen addr is required"},
		{name: "missing store", cfg: Config{Logger: vsrtesting.NewLogger(), ListenAddr: ":0"}, err: "store is required"},
		{name: "missing program", cfg: Config{Logger: vsrtesting.NewLogger(), ListenAddr: ":0", Store: newFakeStore()}, err: "program is required"},
		{name: "missing supply source", cfg: Config{Logger: vsrtesting.NewLogger(), ListenAddr: ":0", Store: newFakeStore(), Program: &program.Program{}}, err: "supply source is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.cfg)
			require.EqualError(t, err, tt.err)
		})
	}
}

func TestVSR_Server_HealthEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok\n", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	f.store.mu.Lock()
	f.store.pingErr = errors.New("connection refused")
	f.store.mu.Unlock()
	rec = f.do(t, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = f.do(t, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rec.Code)
	var version VersionInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&version))
	require.Equal(t, "1.2.3", version.Version)

	rec = f.do(t, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestVSR_Server_VoterWeightRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, f.voterPath("/weight-record"))
	require.Equal(t, http.StatusOK, rec.Code)
	var record state.VoterWeightRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&record))
	require.Zero(t, record.VoterWeight)
	require.Equal(t, f.voter, record.GoverningTokenOwner)

	rec = f.do(t, http.MethodPost, f.voterPath("/weight-record/refresh"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&record))
	require.Equal(t, uint64(20), record.VoterWeight)
	require.Equal(t, t0, record.LastUpdatedAt)

	stored, err := f.store.GetVoterWeightRecord(t.Context(), f.regAddr, f.voter)
	require.NoError(t, err)
	require.Equal(t, uint64(20), stored.VoterWeight)

	t.Run("stale record is rejected", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, f.voterPath("/weight-record?max_age=1h"))
		require.Equal(t, http.StatusOK, rec.Code)

		f.clock.Advance(2 * time.Hour)
		rec = f.do(t, http.MethodGet, f.voterPath("/weight-record?max_age=1h"))
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), state.ErrStaleVoterWeightRecord.Error())

		rec = f.do(t, http.MethodGet, f.voterPath("/weight-record?max_age=soon"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown voter", func(t *testing.T) {
		path := "/api/registrars/" + f.regAddr.String() + "/voters/" + solana.NewWallet().PublicKey().String() + "/weight-record/refresh"
		rec := f.do(t, http.MethodPost, path)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("invalid key", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/api/registrars/not-a-key/voters/"+f.voter.String()+"/weight-record")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.True(t, strings.HasPrefix(body.Error, "bad request: invalid registrar"))
	})
}

func TestVSR_Server_VoterInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	rec := f.do(t, http.MethodGet, f.voterPath("/info"))
	require.Equal(t, http.StatusOK, rec.Code)
	var info program.VoterInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	require.Equal(t, uint64(20), info.VotingPower)
	require.Equal(t, uint64(10), info.VotingPowerBaseline)
	require.Len(t, info.DepositEntries, 1)
	require.NotNil(t, info.DepositEntries[0].Locking)
	require.Equal(t, t0+86_400, *info.DepositEntries[0].Locking.EndTimestamp)

	rec = f.do(t, http.MethodGet, f.voterPath("/info?begin=1"))
	require.Equal(t, http.StatusOK, rec.Code)
	info = program.VoterInfo{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	require.Empty(t, info.DepositEntries)

	rec = f.do(t, http.MethodGet, f.voterPath("/info?begin=99"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVSR_Server_MaxVoterWeightRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := "/api/registrars/" + f.regAddr.String() + "/max-voter-weight-record"

	rec := f.do(t, http.MethodGet, path)
	require.Equal(t, http.StatusNotFound, rec.Code)

	f.store.mu.Lock()
	f.store.max[f.regAddr] = state.MaxVoterWeightRecord{Registrar: f.regAddr, MaxVoterWeight: 42}
	f.store.mu.Unlock()

	rec = f.do(t, http.MethodGet, path)
	require.Equal(t, http.StatusOK, rec.Code)
	var maxRec state.MaxVoterWeightRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&maxRec))
	require.Equal(t, uint64(42), maxRec.MaxVoterWeight)
}

func TestVSR_Server_RefreshMaxVoterWeightRecord(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	path := "/api/registrars/" + f.regAddr.String() + "/max-voter-weight-record/refresh"

	f.supplies.mu.Lock()
	f.supplies.supplies[f.mint] = 500
	f.supplies.mu.Unlock()

	rec := f.do(t, http.MethodPost, path)
	require.Equal(t, http.StatusOK, rec.Code)
	var maxRec state.MaxVoterWeightRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&maxRec))
	require.Equal(t, uint64(1_000), maxRec.MaxVoterWeight)
	require.Equal(t, f.regAddr, maxRec.Registrar)
	require.Equal(t, t0, maxRec.LastUpdatedAt)

	stored, err := f.store.GetMaxVoterWeightRecord(t.Context(), f.regAddr)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), stored.MaxVoterWeight)

	t.Run("supply lookup failure", func(t *testing.T) {
		f.supplies.mu.Lock()
		f.supplies.err = errors.New("rpc down")
		f.supplies.mu.Unlock()

		rec := f.do(t, http.MethodPost, path)
		require.Equal(t, http.StatusInternalServerError, rec.Code)
		var body ErrorResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		require.Equal(t, "internal error", body.Error)
	})

	t.Run("unknown registrar", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/registrars/"+solana.NewWallet().PublicKey().String()+"/max-voter-weight-record/refresh")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestVSR_Server_RateLimit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *Config) {
		cfg.RateLimit = rate.Every(time.Hour)
		cfg.RateBurst = 2
	})

	for range 2 {
		require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, f.voterPath("/weight-record")).Code)
	}
	rec := f.do(t, http.MethodGet, f.voterPath("/weight-record"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	var body RateLimitError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, "rate_limit_exceeded", body.Error)

	// Health endpoints are not limited.
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz").Code)
}

func TestVSR_Server_RateLimiter_Evict(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	rl := NewRateLimiter(clock, rate.Limit(1), 1)

	allowed, _ := rl.AllowWithRetry("10.0.0.1")
	require.True(t, allowed)
	allowed, retryAfter := rl.AllowWithRetry("10.0.0.1")
	require.False(t, allowed)
	require.Equal(t, time.Second, retryAfter)

	allowed, _ = rl.AllowWithRetry("10.0.0.2")
	require.True(t, allowed)
	require.Equal(t, 2, rl.size())

	clock.Advance(6 * time.Minute)
	rl.evict()
	require.Zero(t, rl.size())
}
