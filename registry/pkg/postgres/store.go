package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
	"github.com/malbeclabs/voter-stake-registry/utils/pkg/retry"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

const pgUniqueViolation = "23505"

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	// Retry controls how transactions are replayed after transient
	// failures. Zero value means retry.DefaultConfig.
	Retry retry.Config
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("postgres pool is required")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = isRetryable
	}
	return nil
}

// Store persists registry records in their binary layout and applies
// changes to them transactionally.
type Store struct {
	log  *slog.Logger
	cfg  StoreConfig
	pool *pgxpool.Pool
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: cfg.Pool,
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// isRetryable extends retry.IsRetryable with unique violations: two
// transactions creating the same voter race on insert, and the replay sees
// the winner's row.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}
	return retry.IsRetryable(err)
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	start := time.Now()
	err := retry.Do(ctx, s.cfg.Retry, func() error {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
	metrics.RecordStoreTx(time.Since(start), err)
	return err
}

func logOperation(ctx context.Context, tx pgx.Tx, op string, registrar solana.PublicKey, authority *solana.PublicKey) error {
	var voterAuthority *string
	if authority != nil {
		s := authority.String()
		voterAuthority = &s
	}
	_, err := tx.Exec(ctx,
		`INSERT INTO operation_log (id, operation, registrar, voter_authority) VALUES ($1, $2, $3, $4)`,
		uuid.New(), op, registrar.String(), voterAuthority)
	if err != nil {
		return fmt.Errorf("failed to log operation: %w", err)
	}
	return nil
}

type binaryRecord interface {
	UnmarshalBinary([]byte) error
}

// scanRecord decodes the single data column of row into dst, mapping a
// missing row to ErrNotFound.
func scanRecord(row pgx.Row, dst binaryRecord) error {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to scan record: %w", err)
	}
	return dst.UnmarshalBinary(data)
}

// CreateRegistrar stores a new registrar at addr.
func (s *Store) CreateRegistrar(ctx context.Context, addr solana.PublicKey, reg *state.Registrar) error {
	data, err := reg.MarshalBinary()
	if err != nil {
		return err
	}
	err = s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO registrars (address, realm, governing_token_mint, realm_authority, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT DO NOTHING`,
			addr.String(), reg.Realm.String(), reg.RealmGoverningTokenMint.String(), reg.RealmAuthority.String(), data)
		if err != nil {
			return fmt.Errorf("failed to insert registrar: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: registrar %s", ErrAlreadyExists, addr)
		}
		return logOperation(ctx, tx, "create_registrar", addr, nil)
	})
	if err != nil {
		return err
	}
	s.log.Debug("postgres/store: registrar created", "registrar", addr)
	return nil
}

func (s *Store) GetRegistrar(ctx context.Context, addr solana.PublicKey) (*state.Registrar, error) {
	reg := &state.Registrar{}
	row := s.pool.QueryRow(ctx, `SELECT data FROM registrars WHERE address = $1`, addr.String())
	if err := scanRecord(row, reg); err != nil {
		return nil, fmt.Errorf("failed to get registrar %s: %w", addr, err)
	}
	return reg, nil
}

// UpdateRegistrar locks the registrar at addr, applies fn to it and stores
// the result. Nothing is written if fn fails.
func (s *Store) UpdateRegistrar(ctx context.Context, op string, addr solana.PublicKey, fn func(*state.Registrar) error) (*state.Registrar, error) {
	var out *state.Registrar
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		reg := &state.Registrar{}
		row := tx.QueryRow(ctx, `SELECT data FROM registrars WHERE address = $1 FOR UPDATE`, addr.String())
		if err := scanRecord(row, reg); err != nil {
			return fmt.Errorf("failed to get registrar %s: %w", addr, err)
		}
		if err := fn(reg); err != nil {
			return err
		}
		data, err := reg.MarshalBinary()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE registrars SET data = $2, realm_authority = $3, updated_at = now() WHERE address = $1`,
			addr.String(), data, reg.RealmAuthority.String()); err != nil {
			return fmt.Errorf("failed to update registrar: %w", err)
		}
		if err := logOperation(ctx, tx, op, addr, nil); err != nil {
			return err
		}
		out = reg
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VoterRecords is the state one voter operation works on. Registrar is
// read-only. Setting Voter or Record to nil deletes the stored row.
type VoterRecords struct {
	Registrar *state.Registrar
	Voter     *state.Voter
	Record    *state.VoterWeightRecord
}

// UpdateVoter loads the voter and voter weight record of authority under
// registrar, locks them and applies fn. Missing rows are passed as nil. All
// changes fn makes are committed together, or none when fn fails.
func (s *Store) UpdateVoter(ctx context.Context, op string, registrar, authority solana.PublicKey, fn func(*VoterRecords) error) (*VoterRecords, error) {
	var out *VoterRecords
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		recs := &VoterRecords{Registrar: &state.Registrar{}}
		row := tx.QueryRow(ctx, `SELECT data FROM registrars WHERE address = $1 FOR SHARE`, registrar.String())
		if err := scanRecord(row, recs.Registrar); err != nil {
			return fmt.Errorf("failed to get registrar %s: %w", registrar, err)
		}

		voter := &state.Voter{}
		row = tx.QueryRow(ctx, `SELECT data FROM voters WHERE registrar = $1 AND voter_authority = $2 FOR UPDATE`,
			registrar.String(), authority.String())
		switch err := scanRecord(row, voter); {
		case err == nil:
			recs.Voter = voter
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("failed to get voter %s: %w", authority, err)
		}
		record := &state.VoterWeightRecord{}
		row = tx.QueryRow(ctx, `SELECT data FROM voter_weight_records WHERE registrar = $1 AND voter_authority = $2 FOR UPDATE`,
			registrar.String(), authority.String())
		switch err := scanRecord(row, record); {
		case err == nil:
			recs.Record = record
		case !errors.Is(err, ErrNotFound):
			return fmt.Errorf("failed to get voter weight record %s: %w", authority, err)
		}
		hadVoter, hadRecord := recs.Voter != nil, recs.Record != nil

		if err := fn(recs); err != nil {
			return err
		}

		if err := writeVoter(ctx, tx, registrar, authority, recs.Voter, hadVoter); err != nil {
			return err
		}
		if err := writeRecord(ctx, tx, registrar, authority, recs.Record, hadRecord); err != nil {
			return err
		}
		if err := logOperation(ctx, tx, op, registrar, &authority); err != nil {
			return err
		}
		out = recs
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("postgres/store: voter updated", "operation", op, "registrar", registrar, "voter_authority", authority)
	return out, nil
}

func writeVoter(ctx context.Context, tx pgx.Tx, registrar, authority solana.PublicKey, voter *state.Voter, existed bool) error {
	if voter == nil {
		if !existed {
			return nil
		}
		_, err := tx.Exec(ctx, `DELETE FROM voters WHERE registrar = $1 AND voter_authority = $2`, registrar.String(), authority.String())
		if err != nil {
			return fmt.Errorf("failed to delete voter: %w", err)
		}
		return nil
	}
	if voter.VoterAuthority != authority || voter.Registrar != registrar {
		return fmt.Errorf("%w: voter %s/%s stored under %s/%s", state.ErrRegistrarMismatch, voter.Registrar, voter.VoterAuthority, registrar, authority)
	}
	data, err := voter.MarshalBinary()
	if err != nil {
		return err
	}
	query := `INSERT INTO voters (registrar, voter_authority, data) VALUES ($1, $2, $3)`
	if existed {
		query = `UPDATE voters SET data = $3, updated_at = now() WHERE registrar = $1 AND voter_authority = $2`
	}
	if _, err := tx.Exec(ctx, query, registrar.String(), authority.String(), data); err != nil {
		return fmt.Errorf("failed to write voter: %w", err)
	}
	return nil
}

func writeRecord(ctx context.Context, tx pgx.Tx, registrar, authority solana.PublicKey, record *state.VoterWeightRecord, existed bool) error {
	if record == nil {
		if !existed {
			return nil
		}
		_, err := tx.Exec(ctx, `DELETE FROM voter_weight_records WHERE registrar = $1 AND voter_authority = $2`, registrar.String(), authority.String())
		if err != nil {
			return fmt.Errorf("failed to delete voter weight record: %w", err)
		}
		return nil
	}
	if record.GoverningTokenOwner != authority || record.Registrar != registrar {
		return fmt.Errorf("%w: voter weight record of %s stored under %s", state.ErrRegistrarMismatch, record.GoverningTokenOwner, authority)
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	query := `INSERT INTO voter_weight_records (registrar, voter_authority, data) VALUES ($1, $2, $3)`
	if existed {
		query = `UPDATE voter_weight_records SET data = $3, updated_at = now() WHERE registrar = $1 AND voter_authority = $2`
	}
	if _, err := tx.Exec(ctx, query, registrar.String(), authority.String(), data); err != nil {
		return fmt.Errorf("failed to write voter weight record: %w", err)
	}
	return nil
}

func (s *Store) GetVoter(ctx context.Context, registrar, authority solana.PublicKey) (*state.Voter, error) {
	voter := &state.Voter{}
	row := s.pool.QueryRow(ctx, `SELECT data FROM voters WHERE registrar = $1 AND voter_authority = $2`,
		registrar.String(), authority.String())
	if err := scanRecord(row, voter); err != nil {
		return nil, fmt.Errorf("failed to get voter %s: %w", authority, err)
	}
	return voter, nil
}

func (s *Store) GetVoterWeightRecord(ctx context.Context, registrar, authority solana.PublicKey) (*state.VoterWeightRecord, error) {
	record := &state.VoterWeightRecord{}
	row := s.pool.QueryRow(ctx, `SELECT data FROM voter_weight_records WHERE registrar = $1 AND voter_authority = $2`,
		registrar.String(), authority.String())
	if err := scanRecord(row, record); err != nil {
		return nil, fmt.Errorf("failed to get voter weight record %s: %w", authority, err)
	}
	return record, nil
}

// PutMaxVoterWeightRecord stores rec, replacing the registrar's previous one.
func (s *Store) PutMaxVoterWeightRecord(ctx context.Context, rec *state.MaxVoterWeightRecord) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO max_voter_weight_records (registrar, data) VALUES ($1, $2)
			ON CONFLICT (registrar) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
			rec.Registrar.String(), data)
		if err != nil {
			return fmt.Errorf("failed to write max voter weight record: %w", err)
		}
		return logOperation(ctx, tx, "update_max_vote_weight", rec.Registrar, nil)
	})
}

func (s *Store) GetMaxVoterWeightRecord(ctx context.Context, registrar solana.PublicKey) (*state.MaxVoterWeightRecord, error) {
	rec := &state.MaxVoterWeightRecord{}
	row := s.pool.QueryRow(ctx, `SELECT data FROM max_voter_weight_records WHERE registrar = $1`, registrar.String())
	if err := scanRecord(row, rec); err != nil {
		return nil, fmt.Errorf("failed to get max voter weight record: %w", err)
	}
	return rec, nil
}

// VotingMintInUse reports whether any voter of registrar holds an in-use
// deposit entry on voting mint index.
func (s *Store) VotingMintInUse(ctx context.Context, registrar solana.PublicKey, index int) (bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM voters WHERE registrar = $1`, registrar.String())
	if err != nil {
		return false, fmt.Errorf("failed to query voters: %w", err)
	}
	defer rows.Close()

	var voter state.Voter
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return false, fmt.Errorf("failed to scan voter: %w", err)
		}
		voter = state.Voter{}
		if err := voter.UnmarshalBinary(data); err != nil {
			return false, err
		}
		if voter.UsesVotingMint(index) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to iterate voters: %w", err)
	}
	return false, nil
}

type Operation struct {
	ID             uuid.UUID
	Operation      string
	VoterAuthority *solana.PublicKey
	CreatedAt      time.Time
}

// Operations lists the logged operations of registrar, oldest first.
func (s *Store) Operations(ctx context.Context, registrar solana.PublicKey) ([]Operation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, operation, voter_authority, created_at
		FROM operation_log WHERE registrar = $1
		ORDER BY created_at, id`, registrar.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var (
			op        Operation
			authority *string
		)
		if err := rows.Scan(&op.ID, &op.Operation, &authority, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		if authority != nil {
			pk, err := solana.PublicKeyFromBase58(*authority)
			if err != nil {
				return nil, fmt.Errorf("failed to parse voter authority: %w", err)
			}
			op.VoterAuthority = &pk
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}
