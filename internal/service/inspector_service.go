package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/semaphore"

	"github.com/wallet-inspector/internal/adapter"
	apperrors "github.com/wallet-inspector/internal/errors"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/ratelimit"
	"github.com/wallet-inspector/internal/types"
)

// InspectorConfig holds the defaults and limits of the inspector
type InspectorConfig struct {
	LookbackBlocks uint64
	MaxEvents      int
	ChunkSize      uint64
	VaultAddresses []string
	DecodeWorkers  int

	// MaxConcurrent caps simultaneous inspections. Default: 4.
	MaxConcurrent int

	// QueueTimeout bounds how long an inspection waits for a free slot.
	// Zero waits as long as the request context allows.
	QueueTimeout time.Duration
}

// InspectRequest describes one inspection. Nil fields take the configured defaults.
type InspectRequest struct {
	Wallet         string
	LookbackBlocks *uint64
	MaxEvents      *int
}

// InspectorDeps are the collaborators of the inspector
type InspectorDeps struct {
	Client   adapter.ChainClient
	Explorer TokenInfoLookup // optional
	Pacer    *ratelimit.Pacer
	Metrics  *metrics.Metrics
	Logger   *logging.Logger
	Now      func() time.Time
}

// InspectorService assembles wallet summaries
type InspectorService struct {
	cfg        InspectorConfig
	client     adapter.ChainClient
	resolver   *TokenMetadataResolver
	paginator  *LogPaginator
	decoder    *TransferDecoder
	balances   *BalanceAggregator
	classifier *StakingClassifier
	metrics    *metrics.Metrics
	logger     *logging.Logger
	now        func() time.Time
	slots      *semaphore.Weighted
}

// NewInspectorService wires the inspection pipeline
func NewInspectorService(cfg InspectorConfig, deps InspectorDeps) *InspectorService {
	m := deps.Metrics
	if m == nil {
		m = metrics.New(nil)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}

	resolver := NewTokenMetadataResolver(deps.Client, deps.Explorer, m)

	return &InspectorService{
		cfg:        cfg,
		client:     deps.Client,
		resolver:   resolver,
		paginator:  NewLogPaginator(deps.Client, deps.Pacer, cfg.ChunkSize, m),
		decoder:    NewTransferDecoder(deps.Client, resolver, cfg.DecodeWorkers, m),
		balances:   NewBalanceAggregator(deps.Client, resolver, m),
		classifier: NewStakingClassifier(deps.Client, DefaultRules(cfg.VaultAddresses), m),
		metrics:    m,
		logger:     logger.Component("inspector"),
		now:        now,
		slots:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Inspect builds the summary of one wallet. Invalid input is rejected before
// any network call. Recoverable failures are defaulted and listed in the
// summary's errors; only cancellation and invalid input return an error.
func (s *InspectorService) Inspect(ctx context.Context, req InspectRequest) (*types.WalletSummary, error) {
	req.Wallet = adapter.NormalizeAddress(req.Wallet)
	if !adapter.ValidateAddress(req.Wallet) {
		return nil, apperrors.NewInvalidAddressError(req.Wallet)
	}
	wallet := common.HexToAddress(req.Wallet)

	lookback := s.cfg.LookbackBlocks
	if req.LookbackBlocks != nil {
		lookback = *req.LookbackBlocks
	}
	maxEvents := s.cfg.MaxEvents
	if req.MaxEvents != nil {
		maxEvents = *req.MaxEvents
	}
	if maxEvents < 0 {
		return nil, apperrors.NewInvalidParameterError("max_events", "must not be negative")
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.slots.Release(1)

	started := time.Now()
	defer func() {
		s.metrics.InspectionDuration.Observe(time.Since(started).Seconds())
	}()

	scope := NewRunScope(wallet, s.logger)
	scope.Logger.WithFields(map[string]interface{}{
		"lookback_blocks": lookback,
		"max_events":      maxEvents,
	}).Info("Starting wallet inspection")

	chainID := s.client.ChainID().Uint64()

	// Native balance
	native := s.nativeBalance(ctx, scope, wallet)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Transfer logs -> decoded events
	logs, err := s.paginator.FetchTransferLogs(ctx, scope, wallet, lookback)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		scope.RecordIssue(types.StageBlockHeight, "", err)
		scope.Logger.WithError(err).Warn("Log pagination unavailable, continuing without transfers")
	}

	decoded, err := s.decoder.DecodeAll(ctx, scope, logs)
	if err != nil {
		return nil, err
	}

	SortTransfers(decoded)
	recent := TruncateTransfers(decoded, maxEvents)

	// Balances cover every decoded transfer, not only the recent ones
	tokens, err := s.balances.BuildBalances(ctx, scope, wallet, decoded)
	if err != nil {
		return nil, err
	}

	staking, err := s.classifier.Classify(ctx, scope, wallet, recent)
	if err != nil {
		return nil, err
	}

	nativeBalance := ScaleAmount(native.Value, 18)
	vaults := make([]string, len(s.cfg.VaultAddresses))
	copy(vaults, s.cfg.VaultAddresses)

	summary := &types.WalletSummary{
		RunID:           scope.ID,
		Wallet:          wallet.Hex(),
		RPCURL:          RedactURL(s.client.URL()),
		Network:         types.NetworkName(chainID),
		ChainID:         chainID,
		FetchedAt:       s.now().UTC().Format(time.RFC3339),
		EthBalance:      nativeBalance,
		Tokens:          tokens,
		RecentTransfers: recent,
		StakingEvents:   staking,
		Digest:          RenderDigest(types.NativeAsset(chainID), nativeBalance, tokens, recent),
		Config: types.ConfigEcho{
			LookbackBlocks: lookback,
			MaxEvents:      maxEvents,
			VaultAddresses: vaults,
		},
		Errors: scope.Issues(),
	}

	scope.Logger.WithFields(map[string]interface{}{
		"transfers":      len(decoded),
		"recent":         len(recent),
		"tokens":         len(tokens),
		"staking_events": len(staking),
		"issues":         len(summary.Errors),
		"duration_ms":    time.Since(started).Milliseconds(),
	}).Info("Wallet inspection completed")

	return summary, nil
}

func (s *InspectorService) acquire(ctx context.Context) error {
	waitCtx := ctx
	if s.cfg.QueueTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.QueueTimeout)
		defer cancel()
	}

	if err := s.slots.Acquire(waitCtx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return apperrors.NewServiceUnavailableError("inspector")
	}
	return nil
}

func (s *InspectorService) nativeBalance(ctx context.Context, scope *RunScope, wallet common.Address) types.Outcome[*big.Int] {
	balance, err := s.client.GetBalance(ctx, wallet)
	if err != nil {
		if ctx.Err() == nil {
			scope.RecordIssue(types.StageNativeBalance, wallet.Hex(), err)
			scope.Logger.WithError(err).Warn("Native balance unavailable, defaulting to zero")
		}
		return types.Defaulted(new(big.Int), err)
	}
	return types.Succeeded(balance)
}

// SortTransfers orders transfers most recent first: block number descending,
// then log index descending within a block. The sort is stable.
func SortTransfers(transfers []types.TransferEvent) {
	sort.SliceStable(transfers, func(i, j int) bool {
		if transfers[i].BlockNumber != transfers[j].BlockNumber {
			return transfers[i].BlockNumber > transfers[j].BlockNumber
		}
		return transfers[i].LogIndex > transfers[j].LogIndex
	})
}

// TruncateTransfers returns at most max leading transfers as a new slice
func TruncateTransfers(transfers []types.TransferEvent, max int) []types.TransferEvent {
	if max < 0 {
		max = 0
	}
	if len(transfers) < max {
		max = len(transfers)
	}
	out := make([]types.TransferEvent, max)
	copy(out, transfers[:max])
	return out
}

// String reports the effective limits, used in startup logs
func (c InspectorConfig) String() string {
	return fmt.Sprintf("lookback=%d max_events=%d chunk=%d vaults=%d workers=%d concurrent=%d",
		c.LookbackBlocks, c.MaxEvents, c.ChunkSize, len(c.VaultAddresses), c.DecodeWorkers, c.MaxConcurrent)
}
