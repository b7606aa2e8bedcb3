package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/config"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/ratelimit"
)

// Inspector bundles a ready inspector with the client it owns
type Inspector struct {
	*InspectorService
	Client *adapter.EthereumClient
}

// Close releases the chain client
func (i *Inspector) Close() {
	i.Client.Close()
}

// NewInspectorFromConfig connects to the configured endpoints and wires the
// full pipeline. reg may be nil.
func NewInspectorFromConfig(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *logging.Logger) (*Inspector, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	client, err := ConnectChainClient(ctx, ConnectConfig{
		URL:          cfg.RPC.URL,
		SecondaryURL: cfg.RPC.SecondaryURL,
		CallTimeout:  cfg.RPC.CallTimeout,
		Attempts:     cfg.RPC.ConnectAttempts,
	}, logger)
	if err != nil {
		return nil, err
	}

	explorer := adapter.NewExplorerClient(adapter.ExplorerClientConfig{
		APIKey:            cfg.Explorer.APIKey,
		BaseURL:           cfg.Explorer.BaseURL,
		ChainID:           client.ChainID().Uint64(),
		RequestsPerSecond: cfg.Explorer.RequestsPerSecond,
		Logger:            logger,
	})

	pacer := ratelimit.NewPacer(ratelimit.PacerConfig{
		Delay:  cfg.RPC.ThrottleDelay,
		Shared: ratelimit.NewSharedLimiter(cfg.RPC.LogsMaxRPS),
	})

	inspectorCfg := InspectorConfig{
		LookbackBlocks: cfg.Inspector.LookbackBlocks,
		MaxEvents:      cfg.Inspector.MaxEvents,
		ChunkSize:      cfg.Inspector.ChunkSize,
		VaultAddresses: cfg.Inspector.VaultAddresses,
		DecodeWorkers:  cfg.Inspector.DecodeWorkers,
		MaxConcurrent:  cfg.Inspector.MaxConcurrent,
		QueueTimeout:   cfg.Inspector.QueueTimeout,
	}
	logger.WithFields(map[string]interface{}{
		"config":   inspectorCfg.String(),
		"explorer": explorer.Enabled(),
	}).Info("Inspector configured")

	svc := NewInspectorService(inspectorCfg, InspectorDeps{
		Client:   client,
		Explorer: explorer,
		Pacer:    pacer,
		Metrics:  metrics.New(reg),
		Logger:   logger,
	})

	return &Inspector{InspectorService: svc, Client: client}, nil
}
