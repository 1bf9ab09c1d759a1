package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/postgres"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/state"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

// errBadRequest marks errors caused by the request itself.
var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, postgres.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrUnauthorizedAuthority),
		errors.Is(err, state.ErrDebugInstruction):
		return http.StatusForbidden
	case errors.Is(err, state.ErrStaleVoterWeightRecord),
		errors.Is(err, state.ErrRegistrarMismatch),
		errors.Is(err, postgres.ErrAlreadyExists),
		errors.Is(err, state.ErrMintConfigInUse),
		errors.Is(err, state.ErrDepositEntryAlreadyUsed),
		errors.Is(err, state.ErrVotingTokenNonZero),
		errors.Is(err, state.ErrDepositStillLocked),
		errors.Is(err, state.ErrLockupCannotBeShortened):
		return http.StatusConflict
	case errors.Is(err, state.ErrArithmeticOverflow),
		errors.Is(err, state.ErrVotingMintNotFound),
		errors.Is(err, state.ErrVotingMintAlreadyConfigured),
		errors.Is(err, state.ErrInvalidMintConfigIndex),
		errors.Is(err, state.ErrInvalidDecimalShift),
		errors.Is(err, state.ErrInvalidLockupSaturation),
		errors.Is(err, state.ErrInvalidDepositEntryIndex),
		errors.Is(err, state.ErrDepositEntryNotUsed),
		errors.Is(err, state.ErrNoAvailableDepositSlot),
		errors.Is(err, state.ErrSameDepositEntry),
		errors.Is(err, state.ErrMintIndexMismatch),
		errors.Is(err, state.ErrInvalidLockupKind),
		errors.Is(err, state.ErrInvalidLockupPeriod),
		errors.Is(err, state.ErrInsufficientVestedTokens),
		errors.Is(err, state.ErrInsufficientLockedTokens),
		errors.Is(err, state.ErrClawbackNotAllowed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("server: request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		msg = "internal error"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}

func pathKey(r *http.Request, name string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(chi.URLParam(r, name))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid %s: %v", errBadRequest, name, err)
	}
	return pk, nil
}

func voterKeys(r *http.Request) (registrar, authority solana.PublicKey, err error) {
	if registrar, err = pathKey(r, "registrar"); err != nil {
		return
	}
	authority, err = pathKey(r, "authority")
	return
}

// maxAge parses the optional max_age query parameter.
func maxAge(r *http.Request) (time.Duration, bool, error) {
	raw := r.URL.Query().Get("max_age")
	if raw == "" {
		return 0, false, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, false, fmt.Errorf("%w: invalid max_age %q", errBadRequest, raw)
	}
	return d, true, nil
}

// getVoterWeightRecord serves the stored record. With max_age set, a record
// refreshed longer ago is rejected as stale.
func (s *Server) getVoterWeightRecord(w http.ResponseWriter, r *http.Request) {
	registrar, authority, err := voterKeys(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	age, checkAge, err := maxAge(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	record, err := s.cfg.Store.GetVoterWeightRecord(r.Context(), registrar, authority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if checkAge {
		if err := record.CheckFresh(s.cfg.Clock.Now(), age); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	s.writeJSON(w, record)
}

func (s *Server) refreshVoterWeightRecord(w http.ResponseWriter, r *http.Request) {
	registrar, authority, err := voterKeys(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recs, err := s.cfg.Store.UpdateVoter(r.Context(), "update_voter_weight_record", registrar, authority, func(recs *postgres.VoterRecords) error {
		if recs.Voter == nil || recs.Record == nil {
			return fmt.Errorf("%w: voter %s", postgres.ErrNotFound, authority)
		}
		return s.cfg.Program.UpdateVoterWeightRecord(recs.Registrar, recs.Voter, recs.Record)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, recs.Record)
}

func (s *Server) getVoterInfo(w http.ResponseWriter, r *http.Request) {
	registrar, authority, err := voterKeys(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	begin := 0
	if raw := r.URL.Query().Get("begin"); raw != "" {
		if begin, err = strconv.Atoi(raw); err != nil || begin < 0 || begin >= state.MaxDepositEntries {
			s.writeError(w, r, fmt.Errorf("%w: invalid begin %q", errBadRequest, raw))
			return
		}
	}

	reg, err := s.cfg.Store.GetRegistrar(r.Context(), registrar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	voter, err := s.cfg.Store.GetVoter(r.Context(), registrar, authority)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	info, err := s.cfg.Program.VoterInfo(reg, voter, begin)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, info)
}

func (s *Server) getMaxVoterWeightRecord(w http.ResponseWriter, r *http.Request) {
	registrar, err := pathKey(r, "registrar")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.cfg.Store.GetMaxVoterWeightRecord(r.Context(), registrar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, rec)
}

// refreshMaxVoterWeightRecord recomputes the record from the current mint
// supplies and stores it.
func (s *Server) refreshMaxVoterWeightRecord(w http.ResponseWriter, r *http.Request) {
	registrar, err := pathKey(r, "registrar")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reg, err := s.cfg.Store.GetRegistrar(r.Context(), registrar)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	supplies, err := s.cfg.Supplies.Supplies(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rec, err := s.cfg.Program.UpdateMaxVoteWeight(reg, supplies)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rec.Registrar != registrar {
		s.writeError(w, r, fmt.Errorf("%w: %s", state.ErrRegistrarMismatch, registrar))
		return
	}
	if err := s.cfg.Store.PutMaxVoterWeightRecord(r.Context(), rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, rec)
}
