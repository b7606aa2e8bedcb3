package service

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/types"
)

var (
	errNotTransfer    = errors.New("log is not an ERC-20 Transfer")
	errMalformedTopic = errors.New("transfer log must have exactly 3 topics")
	errMalformedData  = errors.New("transfer log data must be 32 bytes")
)

// ScaleAmount returns raw / 10^decimals as a float for display
func ScaleAmount(raw *big.Int, decimals uint8) float64 {
	if raw == nil {
		return 0
	}
	return decimal.NewFromBigInt(raw, -int32(decimals)).InexactFloat64()
}

// TransferDecoder turns raw Transfer logs into typed events
type TransferDecoder struct {
	client   adapter.ChainClient
	resolver *TokenMetadataResolver
	erc20    abi.ABI
	workers  int
	metrics  *metrics.Metrics
}

// NewTransferDecoder creates a decoder that resolves at most workers logs at once
func NewTransferDecoder(client adapter.ChainClient, resolver *TokenMetadataResolver, workers int, m *metrics.Metrics) *TransferDecoder {
	if workers <= 0 {
		workers = 1
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &TransferDecoder{
		client:   client,
		resolver: resolver,
		erc20:    adapter.MustERC20ABI(),
		workers:  workers,
		metrics:  m,
	}
}

type rawTransfer struct {
	from  common.Address
	to    common.Address
	value *big.Int
}

// parse extracts from, to and value. It touches no network.
func (d *TransferDecoder) parse(l ethtypes.Log) (*rawTransfer, error) {
	if len(l.Topics) == 0 || l.Topics[0] != adapter.TransferTopic {
		return nil, errNotTransfer
	}
	if len(l.Topics) != 3 {
		return nil, errMalformedTopic
	}
	if len(l.Data) != 32 {
		return nil, errMalformedData
	}

	event := d.erc20.Events["Transfer"]

	var indexed abi.Arguments
	for _, arg := range event.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}

	fields := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(fields, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to parse topics: %w", err)
	}
	if err := d.erc20.UnpackIntoMap(fields, "Transfer", l.Data); err != nil {
		return nil, fmt.Errorf("failed to unpack data: %w", err)
	}

	from, ok1 := fields["from"].(common.Address)
	to, ok2 := fields["to"].(common.Address)
	value, ok3 := fields["value"].(*big.Int)
	if !ok1 || !ok2 || !ok3 {
		return nil, fmt.Errorf("unexpected Transfer field types")
	}

	return &rawTransfer{from: from, to: to, value: value}, nil
}

// Decode returns the typed event for l, or false when the log cannot be
// decoded. Decoding is all-or-nothing: no partial event is ever returned.
func (d *TransferDecoder) Decode(ctx context.Context, scope *RunScope, l ethtypes.Log) (*types.TransferEvent, bool) {
	raw, err := d.parse(l)
	if err != nil {
		d.drop(scope, l, err)
		return nil, false
	}

	ts, err := scope.timestamps.load(fmt.Sprint(l.BlockNumber), func() (uint64, error) {
		return d.client.GetBlockTimestamp(ctx, l.BlockNumber)
	})
	if err != nil {
		d.drop(scope, l, fmt.Errorf("failed to get block timestamp: %w", err))
		return nil, false
	}

	md := d.resolver.Resolve(ctx, scope, l.Address)

	return &types.TransferEvent{
		TokenAddress: l.Address.Hex(),
		Symbol:       md.SymbolOrDefault(),
		TxHash:       l.TxHash.Hex(),
		BlockNumber:  l.BlockNumber,
		LogIndex:     l.Index,
		Timestamp:    time.Unix(int64(ts), 0).UTC().Format(time.RFC3339),
		FromAddress:  raw.from.Hex(),
		ToAddress:    raw.to.Hex(),
		ValueRaw:     raw.value.String(),
		ValueHuman:   ScaleAmount(raw.value, md.Decimals.Value),
	}, true
}

func (d *TransferDecoder) drop(scope *RunScope, l ethtypes.Log, err error) {
	d.metrics.DecodeDropped.Inc()
	scope.Logger.WithFields(map[string]interface{}{
		"tx_hash":   l.TxHash.Hex(),
		"log_index": l.Index,
		"token":     l.Address.Hex(),
		"error":     err.Error(),
	}).Debug("Dropping undecodable transfer log")
}

// DecodeAll decodes logs with bounded parallelism. The result keeps the input
// order with undecodable logs removed. Only cancellation is reported as an error.
func (d *TransferDecoder) DecodeAll(ctx context.Context, scope *RunScope, logs []ethtypes.Log) ([]types.TransferEvent, error) {
	decoded := make([]*types.TransferEvent, len(logs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range logs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if ev, ok := d.Decode(gctx, scope, logs[i]); ok {
				decoded[i] = ev
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	transfers := make([]types.TransferEvent, 0, len(logs))
	for _, ev := range decoded {
		if ev != nil {
			transfers = append(transfers, *ev)
		}
	}
	return transfers, nil
}
