package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/postgres"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/program"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

// Mutating requests carry the signer's public key and an ed25519 signature of
// SigningMessage, both base58 encoded.
const (
	HeaderSigner    = "X-VSR-Signer"
	HeaderSignature = "X-VSR-Signature"

	maxSignedBodyBytes = 64 << 10
	maxSignedValidity  = 10 * time.Minute
)

var errUnauthenticated = errors.New("unauthenticated")

// SigningMessage is the byte string a client signs for a mutating request.
func SigningMessage(method, path string, body []byte) []byte {
	msg := make([]byte, 0, len(method)+len(path)+len(body)+2)
	msg = append(msg, method...)
	msg = append(msg, '\n')
	msg = append(msg, path...)
	msg = append(msg, '\n')
	return append(msg, body...)
}

// signedEnvelope is embedded in every mutation body. A signature is accepted
// once, and only until ExpiresAt.
type signedEnvelope struct {
	ExpiresAt int64 `json:"expires_at"`
}

// replayGuard remembers accepted signatures until they expire.
type replayGuard struct {
	mu   sync.Mutex
	seen map[solana.Signature]time.Time
}

func (g *replayGuard) accept(sig solana.Signature, expires, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = map[solana.Signature]time.Time{}
	}
	for s, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, s)
		}
	}
	if _, ok := g.seen[sig]; ok {
		return false
	}
	g.seen[sig] = expires
	return true
}

// readSigned authenticates r and decodes its body into dst.
func (s *Server) readSigned(w http.ResponseWriter, r *http.Request, dst any) (program.Signer, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSignedBodyBytes))
	if err != nil {
		return program.Signer{}, fmt.Errorf("%w: failed to read body: %v", errBadRequest, err)
	}
	pub, err := solana.PublicKeyFromBase58(r.Header.Get(HeaderSigner))
	if err != nil {
		return program.Signer{}, fmt.Errorf("%w: invalid %s header", errUnauthenticated, HeaderSigner)
	}
	sig, err := solana.SignatureFromBase58(r.Header.Get(HeaderSignature))
	if err != nil {
		return program.Signer{}, fmt.Errorf("%w: invalid %s header", errUnauthenticated, HeaderSignature)
	}
	signer, err := program.VerifySigner(pub, SigningMessage(r.Method, r.URL.Path, body), sig)
	if err != nil {
		return program.Signer{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}

	var env signedEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return program.Signer{}, fmt.Errorf("%w: invalid body: %v", errBadRequest, err)
	}
	now := s.cfg.Clock.Now()
	expires := time.Unix(env.ExpiresAt, 0)
	if env.ExpiresAt == 0 || now.After(expires) || expires.Sub(now) > maxSignedValidity {
		return program.Signer{}, fmt.Errorf("%w: expires_at must be within %s from now", errUnauthenticated, maxSignedValidity)
	}
	if !s.replay.accept(sig, expires, now) {
		return program.Signer{}, fmt.Errorf("%w: signature already used", errUnauthenticated)
	}

	if dst != nil {
		dec := json.NewDecoder(bytes.NewReader(body))
		if err := dec.Decode(dst); err != nil {
			return program.Signer{}, fmt.Errorf("%w: invalid body: %v", errBadRequest, err)
		}
	}
	return signer, nil
}

func pathIndex(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errBadRequest, name, raw)
	}
	return idx, nil
}

type lockupRequest struct {
	Kind      string `json:"kind"`
	StartTime *int64 `json:"start_time,omitempty"`
	Periods   uint32 `json:"periods"`
}

func (l lockupRequest) params() (state.LockupParams, error) {
	kind := state.LockupKindNone
	if l.Kind != "" {
		var err error
		if kind, err = state.ParseLockupKind(l.Kind); err != nil {
			return state.LockupParams{}, err
		}
	}
	return state.LockupParams{Kind: kind, StartTime: l.StartTime, Periods: l.Periods}, nil
}

type createRegistrarRequest struct {
	Realm               solana.PublicKey `json:"realm"`
	GoverningTokenMint  solana.PublicKey `json:"governing_token_mint"`
	GovernanceProgramID solana.PublicKey `json:"governance_program_id"`
}

type CreateRegistrarResponse struct {
	Address   solana.PublicKey `json:"address"`
	Registrar *state.Registrar `json:"registrar"`
}

func (s *Server) createRegistrar(w http.ResponseWriter, r *http.Request) {
	var req createRegistrarRequest
	signer, err := s.readSigned(w, r, &req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Realm.IsZero() || req.GoverningTokenMint.IsZero() {
		s.writeError(w, r, fmt.Errorf("%w: realm and governing_token_mint are required", errBadRequest))
		return
	}
	addr, reg, err := s.cfg.Program.CreateRegistrar(signer, req.Realm, req.GoverningTokenMint, req.GovernanceProgramID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.cfg.Store.CreateRegistrar(r.Context(), addr, reg); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	s.writeJSON(w, CreateRegistrarResponse{Address: addr, Registrar: reg})
}

// updateRegistrar runs fn on the stored registrar under a signed request.
func (s *Server) updateRegistrar(w http.ResponseWriter, r *http.Request, op string, req any, fn func(program.Signer, *state.Registrar) error) {
	addr, err := pathKey(r, "registrar")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signer, err := s.readSigned(w, r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reg, err := s.cfg.Store.UpdateRegistrar(r.Context(), op, addr, func(reg *state.Registrar) error {
		return fn(signer, reg)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, reg)
}

func (s *Server) configureVotingMint(w http.ResponseWriter, r *http.Request) {
	idx, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var cfg state.VotingMintConfig
	s.updateRegistrar(w, r, "configure_voting_mint", &cfg, func(signer program.Signer, reg *state.Registrar) error {
		return s.cfg.Program.ConfigureVotingMint(r.Context(), reg, signer, idx, cfg)
	})
}

type timeOffsetRequest struct {
	Offset int64 `json:"offset"`
}

func (s *Server) setTimeOffset(w http.ResponseWriter, r *http.Request) {
	var req timeOffsetRequest
	s.updateRegistrar(w, r, "set_time_offset", &req, func(signer program.Signer, reg *state.Registrar) error {
		return s.cfg.Program.SetTimeOffset(reg, signer, req.Offset)
	})
}

// updateVoter runs fn on the voter records of authority under a signed
// request. fn returns the response body, or nil for 204.
func (s *Server) updateVoter(w http.ResponseWriter, r *http.Request, op string, authority solana.PublicKey, req any, fn func(program.Signer, *postgres.VoterRecords) (any, error)) {
	registrar, err := pathKey(r, "registrar")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	signer, err := s.readSigned(w, r, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if authority.IsZero() {
		authority = signer.PublicKey()
	}
	var out any
	_, err = s.cfg.Store.UpdateVoter(r.Context(), op, registrar, authority, func(recs *postgres.VoterRecords) error {
		var err error
		out, err = fn(signer, recs)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeJSON(w, out)
}

// updateExistingVoter is updateVoter for the voter named in the path, which
// must exist.
func (s *Server) updateExistingVoter(w http.ResponseWriter, r *http.Request, op string, req any, fn func(program.Signer, *postgres.VoterRecords) (any, error)) {
	authority, err := pathKey(r, "authority")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.updateVoter(w, r, op, authority, req, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		if recs.Voter == nil {
			return nil, fmt.Errorf("%w: voter %s", postgres.ErrNotFound, authority)
		}
		return fn(signer, recs)
	})
}

type CreateVoterResponse struct {
	Voter             *state.Voter             `json:"voter"`
	VoterWeightRecord *state.VoterWeightRecord `json:"voter_weight_record"`
}

// createVoter creates the voter of the signer.
func (s *Server) createVoter(w http.ResponseWriter, r *http.Request) {
	s.updateVoter(w, r, "create_voter", solana.PublicKey{}, nil, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		if recs.Voter != nil {
			return nil, fmt.Errorf("%w: voter %s", postgres.ErrAlreadyExists, signer.PublicKey())
		}
		voter, record, err := s.cfg.Program.CreateVoter(recs.Registrar, signer)
		if err != nil {
			return nil, err
		}
		recs.Voter, recs.Record = voter, record
		return CreateVoterResponse{Voter: voter, VoterWeightRecord: record}, nil
	})
}

func (s *Server) closeVoter(w http.ResponseWriter, r *http.Request) {
	s.updateExistingVoter(w, r, "close_voter", nil, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		if err := s.cfg.Program.CloseVoter(recs.Registrar, recs.Voter, signer); err != nil {
			return nil, err
		}
		recs.Voter, recs.Record = nil, nil
		return nil, nil
	})
}

type createDepositEntryRequest struct {
	Index         *int             `json:"index,omitempty"`
	Mint          solana.PublicKey `json:"mint"`
	Lockup        lockupRequest    `json:"lockup"`
	AllowClawback bool             `json:"allow_clawback"`
}

type DepositEntryResponse struct {
	DepositEntryIndex int `json:"deposit_entry_index"`
}

func (s *Server) createDepositEntry(w http.ResponseWriter, r *http.Request) {
	var req createDepositEntryRequest
	s.updateExistingVoter(w, r, "create_deposit_entry", &req, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		lockup, err := req.Lockup.params()
		if err != nil {
			return nil, err
		}
		idx, err := s.cfg.Program.CreateDepositEntry(recs.Registrar, recs.Voter, signer, program.CreateDepositEntryParams{
			Index:         req.Index,
			Mint:          req.Mint,
			Lockup:        lockup,
			AllowClawback: req.AllowClawback,
		})
		if err != nil {
			return nil, err
		}
		return DepositEntryResponse{DepositEntryIndex: idx}, nil
	})
}

// depositEntryOp is updateExistingVoter for routes naming a deposit entry.
func (s *Server) depositEntryOp(w http.ResponseWriter, r *http.Request, op string, req any, fn func(program.Signer, *postgres.VoterRecords, int) (any, error)) {
	idx, err := pathIndex(r, "index")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.updateExistingVoter(w, r, op, req, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		return fn(signer, recs, idx)
	})
}

func (s *Server) closeDepositEntry(w http.ResponseWriter, r *http.Request) {
	s.depositEntryOp(w, r, "close_deposit_entry", nil, func(signer program.Signer, recs *postgres.VoterRecords, idx int) (any, error) {
		return nil, s.cfg.Program.CloseDepositEntry(recs.Registrar, recs.Voter, signer, idx)
	})
}

type transferRequest struct {
	Mint        solana.PublicKey `json:"mint"`
	Destination solana.PublicKey `json:"destination"`
	Amount      uint64           `json:"amount"`
}

// TransferResponse carries the token movement the caller has to execute.
type TransferResponse struct {
	Transfer program.TokenTransfer `json:"transfer"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	s.depositEntryOp(w, r, "deposit", &req, func(signer program.Signer, recs *postgres.VoterRecords, idx int) (any, error) {
		transfer, err := s.cfg.Program.Deposit(recs.Registrar, recs.Voter, signer, idx, req.Mint, req.Amount)
		if err != nil {
			return nil, err
		}
		return TransferResponse{Transfer: transfer}, nil
	})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	s.depositEntryOp(w, r, "withdraw", &req, func(signer program.Signer, recs *postgres.VoterRecords, idx int) (any, error) {
		if req.Destination.IsZero() {
			return nil, fmt.Errorf("%w: destination is required", errBadRequest)
		}
		transfer, err := s.cfg.Program.Withdraw(recs.Registrar, recs.Voter, signer, idx, req.Mint, req.Destination, req.Amount)
		if err != nil {
			return nil, err
		}
		return TransferResponse{Transfer: transfer}, nil
	})
}

func (s *Server) clawback(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	s.depositEntryOp(w, r, "clawback", &req, func(signer program.Signer, recs *postgres.VoterRecords, idx int) (any, error) {
		if req.Destination.IsZero() {
			return nil, fmt.Errorf("%w: destination is required", errBadRequest)
		}
		transfer, err := s.cfg.Program.Clawback(recs.Registrar, recs.Voter, signer, idx, req.Destination)
		if err != nil {
			return nil, err
		}
		return TransferResponse{Transfer: transfer}, nil
	})
}

type resetLockupRequest struct {
	Kind    string `json:"kind"`
	Periods uint32 `json:"periods"`
}

func (s *Server) resetLockup(w http.ResponseWriter, r *http.Request) {
	var req resetLockupRequest
	s.depositEntryOp(w, r, "reset_lockup", &req, func(signer program.Signer, recs *postgres.VoterRecords, idx int) (any, error) {
		kind, err := state.ParseLockupKind(req.Kind)
		if err != nil {
			return nil, err
		}
		if err := s.cfg.Program.ResetLockup(recs.Registrar, recs.Voter, signer, idx, kind, req.Periods); err != nil {
			return nil, err
		}
		return recs.Voter, nil
	})
}

type internalTransferRequest struct {
	Source uint8  `json:"source"`
	Target uint8  `json:"target"`
	Amount uint64 `json:"amount"`
}

func (s *Server) internalTransfer(w http.ResponseWriter, r *http.Request) {
	var req internalTransferRequest
	s.updateExistingVoter(w, r, "internal_transfer", &req, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		if err := s.cfg.Program.InternalTransfer(recs.Registrar, recs.Voter, signer, int(req.Source), int(req.Target), req.Amount); err != nil {
			return nil, err
		}
		return recs.Voter, nil
	})
}

type grantRequest struct {
	Mint          solana.PublicKey `json:"mint"`
	Lockup        lockupRequest    `json:"lockup"`
	AllowClawback bool             `json:"allow_clawback"`
	Amount        uint64           `json:"amount"`
}

type GrantResponse struct {
	DepositEntryIndex int                   `json:"deposit_entry_index"`
	Transfer          program.TokenTransfer `json:"transfer"`
	Voter             *state.Voter          `json:"voter"`
}

// grant funds a locked entry for the voter in the path, creating the voter
// when it does not exist yet.
func (s *Server) grant(w http.ResponseWriter, r *http.Request) {
	authority, err := pathKey(r, "authority")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req grantRequest
	s.updateVoter(w, r, "grant", authority, &req, func(signer program.Signer, recs *postgres.VoterRecords) (any, error) {
		lockup, err := req.Lockup.params()
		if err != nil {
			return nil, err
		}
		res, err := s.cfg.Program.Grant(recs.Registrar, recs.Voter, signer, program.GrantParams{
			VoterAuthority: authority,
			Mint:           req.Mint,
			Lockup:         lockup,
			AllowClawback:  req.AllowClawback,
			Amount:         req.Amount,
		})
		if err != nil {
			return nil, err
		}
		recs.Voter = res.Voter
		if res.VoterWeightRecord != nil {
			recs.Record = res.VoterWeightRecord
		}
		return GrantResponse{DepositEntryIndex: res.DepositEntryIndex, Transfer: res.Transfer, Voter: res.Voter}, nil
	})
}
