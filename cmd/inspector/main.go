// Package main provides the command line entry point for the wallet inspector.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/config"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/service"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lookback := flag.Uint64("lookback-blocks", cfg.Inspector.LookbackBlocks, "How many blocks to look back for logs")
	maxEvents := flag.Int("max-events", cfg.Inspector.MaxEvents, "Maximum number of recent transfers to include")
	outputDir := flag.String("output-dir", cfg.Inspector.OutputDir, "Directory the summary JSON is written to")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] <wallet>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	wallet := adapter.NormalizeAddress(flag.Arg(0))

	logging.InitGlobalLogger(logging.ParseLogLevel(cfg.Logging.Level), logging.ParseLogFormat(cfg.Logging.Format))
	logger := logging.GetGlobalLogger().Component("cli")

	// Reject bad input before dialing anything
	if !adapter.ValidateAddress(wallet) {
		fmt.Fprintf(os.Stderr, "%s is not a valid Ethereum address\n", wallet)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	inspector, err := service.NewInspectorFromConfig(ctx, cfg, nil, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to RPC endpoint")
	}
	defer inspector.Close()

	summary, err := inspector.Inspect(ctx, service.InspectRequest{
		Wallet:         wallet,
		LookbackBlocks: lookback,
		MaxEvents:      maxEvents,
	})
	if err != nil {
		logger.WithError(err).Error("Inspection failed")
		inspector.Close()
		os.Exit(1)
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.WithError(err).Fatal("Failed to create output directory")
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("Failed to encode summary")
	}

	outPath := filepath.Join(*outputDir, common.HexToAddress(wallet).Hex()+"_summary.json")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		logger.WithError(err).Fatal("Failed to write summary")
	}
	logger.WithField("path", outPath).Info("Summary written")

	digest, err := json.MarshalIndent(summary.Digest, "", "  ")
	if err != nil {
		logger.WithError(err).Fatal("Failed to encode digest")
	}
	fmt.Println(string(digest))
}
