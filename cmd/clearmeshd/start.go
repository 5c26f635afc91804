package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/clearmesh/clearmesh/internal/api"
	"github.com/clearmesh/clearmesh/internal/auth"
	"github.com/clearmesh/clearmesh/internal/config"
	"github.com/clearmesh/clearmesh/internal/ledger"
	"github.com/clearmesh/clearmesh/internal/logging"
	"github.com/clearmesh/clearmesh/internal/metrics"
	"github.com/clearmesh/clearmesh/internal/settlement"
)

// escrowKeyEnv names the environment variable holding the hex-encoded escrow
// signing key for on-chain mode. Mock mode needs no key.
const escrowKeyEnv = "CLEARMESH_ESCROW_KEY"

func newStartCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the settlement node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", config.DefaultConfigPath(), "Path to config file")
	return cmd
}

func runStart(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to prepare data directories: %w", err)
	}
	setupLogging(cfg.Daemon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Authorization: the configured aggregator bootstraps with the admin and
	// aggregator roles; everything else is granted over the admin API.
	authz := auth.NewRegistry()
	aggregator := common.HexToAddress(cfg.Protocol.AggregatorAddress)
	authz.Grant(auth.RoleAggregator, aggregator)
	authz.Grant(auth.RoleAdmin, aggregator)

	valueLedger, cleanup, err := buildLedger(ctx, cfg.Chain)
	if err != nil {
		return err
	}
	defer cleanup()

	params, err := settlement.ParamsFromConfig(cfg.Protocol)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	hub := api.NewEventHub()

	engine, err := settlement.NewEngine(settlement.Deps{
		Store:     settlement.NewMemoryStore(),
		Ledger:    valueLedger,
		Authz:     authz,
		Blacklist: authz,
		Params:    params,
		IDs:       settlement.NewKeccakIDGenerator(uint64(cfg.Chain.ChainID)),
		Events:    hub,
		Metrics:   collector,
	})
	if err != nil {
		return fmt.Errorf("failed to build settlement engine: %w", err)
	}

	server := api.NewServer(cfg.API, engine, collector, hub)
	server.SetAuthRegistry(authz)
	if err := server.Start(ctx); err != nil {
		return err
	}

	// Protocol parameters follow the config file; everything else requires a
	// restart.
	if err := config.Watch(ctx, configPath, func(fresh *config.Config) {
		p, err := settlement.ParamsFromConfig(fresh.Protocol)
		if err != nil {
			logging.Warn("ignoring reloaded protocol config", logging.Err(err))
			return
		}
		engine.SetParams(p)
	}); err != nil {
		logging.Warn("config watch disabled", logging.Err(err))
	}

	fmt.Printf("clearmeshd started on %s (chain %d, mock=%v)\n",
		cfg.API.ListenAddr, cfg.Chain.ChainID, cfg.Chain.MockMode)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	fmt.Println("\nShutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logging.Error("shutdown error", logging.Err(err))
	}
	cancel()
	return nil
}

// buildLedger selects the value ledger: in-memory for mock mode, ERC-20
// contracts otherwise.
func buildLedger(ctx context.Context, chain config.ChainConfig) (ledger.Ledger, func(), error) {
	if chain.MockMode {
		escrow := common.BytesToAddress(crypto.Keccak256([]byte("clearmesh/mock-escrow"))[12:])
		logging.Info("value ledger in mock mode", "escrow", escrow.Hex())
		return ledger.NewMemoryLedger(escrow), func() {}, nil
	}

	rawKey := os.Getenv(escrowKeyEnv)
	if rawKey == "" {
		return nil, nil, fmt.Errorf("on-chain mode requires %s", escrowKeyEnv)
	}
	key, err := crypto.HexToECDSA(rawKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid %s: %w", escrowKeyEnv, err)
	}

	tl, err := ledger.NewTokenLedger(ctx, &ledger.TokenLedgerConfig{
		RPCURL:             chain.RPCURL,
		ChainID:            chain.ChainID,
		BlockConfirmations: chain.BlockConfirmations,
		PrivateKey:         key,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect value ledger: %w", err)
	}
	logging.Info("value ledger connected", "escrow", tl.Escrow().Hex(), "rpc", chain.RPCURL)
	return tl, tl.Close, nil
}

func setupLogging(daemon config.DaemonConfig) {
	var level slog.Level
	switch daemon.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if daemon.LogFormat == "text" {
		logging.SetTextOutput(os.Stdout, level)
		return
	}
	logging.SetLevel(level)
}
