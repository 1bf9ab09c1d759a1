package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	solanarpc "github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/voter-stake-registry/registry/pkg/address"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/metrics"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/postgres"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/program"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/server"
	"github.com/malbeclabs/voter-stake-registry/registry/pkg/supply"
	"github.com/malbeclabs/voter-stake-registry/utils/pkg/logger"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const (
	defaultListenAddr   = "0.0.0.0:8080"
	defaultSolanaRPCURL = "https://api.mainnet-beta.solana.com"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	logFormatFlag := flag.String("log-format", "text", "log format: text or json (or set LOG_FORMAT env var)")
	envFileFlag := flag.String("env-file", ".env", "dotenv file loaded before reading the environment, ignored if missing")

	listenAddrFlag := flag.String("listen-addr", defaultListenAddr, "HTTP listen address (or set LISTEN_ADDR env var)")
	shutdownTimeoutFlag := flag.Duration("shutdown-timeout", 30*time.Second, "maximum time to wait for in-flight requests during shutdown")
	programIDFlag := flag.String("program-id", address.DefaultProgramID.String(), "program id used to derive record addresses (or set PROGRAM_ID env var)")

	solanaRPCURLFlag := flag.String("solana-rpc-url", defaultSolanaRPCURL, "Solana RPC URL used to read voting mint supplies (or set SOLANA_RPC_URL env var)")
	supplyCacheTTLFlag := flag.Duration("supply-cache-ttl", time.Minute, "how long fetched mint supplies are reused")

	// PostgreSQL configuration
	pgHostFlag := flag.String("postgres-host", "localhost", "PostgreSQL host (or set POSTGRES_HOST env var)")
	pgPortFlag := flag.String("postgres-port", "5432", "PostgreSQL port (or set POSTGRES_PORT env var)")
	pgDatabaseFlag := flag.String("postgres-db", "", "PostgreSQL database (or set POSTGRES_DB env var)")
	pgUserFlag := flag.String("postgres-user", "", "PostgreSQL username (or set POSTGRES_USER env var)")
	pgPasswordFlag := flag.String("postgres-password", "", "PostgreSQL password (or set POSTGRES_PASSWORD env var)")
	pgSSLModeFlag := flag.String("postgres-sslmode", "disable", "PostgreSQL sslmode (or set POSTGRES_SSLMODE env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "run PostgreSQL migrations using goose and exit")
	testModeFlag := flag.Bool("test-mode", false, "enable the registrar time offset hook (never in production)")

	flag.Parse()

	if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFileFlag, err)
	}

	overrideFromEnv(logFormatFlag, "LOG_FORMAT")
	overrideFromEnv(listenAddrFlag, "LISTEN_ADDR")
	overrideFromEnv(programIDFlag, "PROGRAM_ID")
	overrideFromEnv(solanaRPCURLFlag, "SOLANA_RPC_URL")
	overrideFromEnv(pgHostFlag, "POSTGRES_HOST")
	overrideFromEnv(pgPortFlag, "POSTGRES_PORT")
	overrideFromEnv(pgDatabaseFlag, "POSTGRES_DB")
	overrideFromEnv(pgUserFlag, "POSTGRES_USER")
	overrideFromEnv(pgPasswordFlag, "POSTGRES_PASSWORD")
	overrideFromEnv(pgSSLModeFlag, "POSTGRES_SSLMODE")

	format, err := logger.ParseFormat(*logFormatFlag)
	if err != nil {
		return err
	}
	log := logger.NewWithOptions(logger.Options{Verbose: *verboseFlag, Format: format})

	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}

	pgCfg := postgres.Config{
		Host:     *pgHostFlag,
		Port:     *pgPortFlag,
		Database: *pgDatabaseFlag,
		Username: *pgUserFlag,
		Password: *pgPasswordFlag,
		SSLMode:  *pgSSLModeFlag,
	}
	if err := pgCfg.Validate(); err != nil {
		return fmt.Errorf("invalid postgres config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *migrateFlag {
		return postgres.Up(ctx, log, pgCfg.ConnString())
	}

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	log.Info("registry: connecting to postgres", "host", pgCfg.Host, "port", pgCfg.Port, "database", pgCfg.Database, "username", pgCfg.Username)
	pool, err := postgres.NewPool(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := postgres.NewStore(postgres.StoreConfig{Logger: log, Pool: pool})
	if err != nil {
		return fmt.Errorf("failed to create store: %w", err)
	}

	if *testModeFlag {
		log.Warn("registry: test mode enabled, registrar time offsets apply")
	}
	prog, err := program.New(program.Config{
		Logger:    log,
		ProgramID: programID,
		Deposits:  store,
		TestMode:  *testModeFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create program: %w", err)
	}

	rpcClient := solanarpc.New(*solanaRPCURLFlag)
	defer rpcClient.Close()
	supplies, err := supply.New(supply.Config{
		Logger:   log,
		RPC:      rpcClient,
		CacheTTL: *supplyCacheTTLFlag,
	})
	if err != nil {
		return fmt.Errorf("failed to create supply source: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:          log,
		ListenAddr:      *listenAddrFlag,
		ShutdownTimeout: *shutdownTimeoutFlag,
		VersionInfo:     server.VersionInfo{Version: version, Commit: commit, Date: date},
		Store:           store,
		Program:         prog,
		Supplies:        supplies,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("registry: stopped")
	return nil
}

func overrideFromEnv(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}
