package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
)

type Server struct {
	log     *slog.Logger
	cfg     Config
	limiter *RateLimiter
	replay  replayGuard
	router  chi.Router
	httpSrv *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.Clock, cfg.RateLimit, cfg.RateBurst),
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok\n")); err != nil {
			s.log.Error("failed to write healthz response", "error", err)
		}
	})
	r.Get("/readyz", s.readyzHandler)
	r.Get("/version", s.versionHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/registrars", func(r chi.Router) {
		r.Use(s.limiter.Middleware)
		r.Post("/", s.createRegistrar)
		r.Route("/{registrar}", func(r chi.Router) {
			r.Get("/max-voter-weight-record", s.getMaxVoterWeightRecord)
			r.Post("/max-voter-weight-record/refresh", s.refreshMaxVoterWeightRecord)
			r.Put("/voting-mints/{index}", s.configureVotingMint)
			r.Put("/time-offset", s.setTimeOffset)
			r.Post("/voters", s.createVoter)
			r.Route("/voters/{authority}", func(r chi.Router) {
				r.Get("/weight-record", s.getVoterWeightRecord)
				r.Post("/weight-record/refresh", s.refreshVoterWeightRecord)
				r.Get("/info", s.getVoterInfo)
				r.Delete("/", s.closeVoter)
				r.Post("/deposit-entries", s.createDepositEntry)
				r.Delete("/deposit-entries/{index}", s.closeDepositEntry)
				r.Post("/deposit-entries/{index}/deposit", s.deposit)
				r.Post("/deposit-entries/{index}/withdraw", s.withdraw)
				r.Post("/deposit-entries/{index}/clawback", s.clawback)
				r.Post("/deposit-entries/{index}/reset-lockup", s.resetLockup)
				r.Post("/internal-transfer", s.internalTransfer)
				r.Post("/grants", s.grant)
			})
		})
	})
	s.router = r

	s.httpSrv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

// Handler returns the routed handler without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	go s.limiter.Run(ctx)

	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server: http server error", "error", err)
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: http listening", "address", s.cfg.ListenAddr)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "address", s.cfg.ListenAddr)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer shutdownCancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "address", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.cfg.Store.Ping(ctx); err != nil {
		s.log.Debug("readyz: store not ready", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		if _, err := w.Write([]byte("store not ready\n")); err != nil {
			s.log.Error("failed to write readyz response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok\n")); err != nil {
		s.log.Error("failed to write readyz response", "error", err)
	}
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(s.cfg.VersionInfo); err != nil {
		s.log.Error("failed to write version response", "error", err)
	}
}
