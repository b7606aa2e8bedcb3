package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/ratelimit"
	"github.com/wallet-inspector/internal/types"
)

// DefaultChunkSize is the number of blocks requested per eth_getLogs call
const DefaultChunkSize uint64 = 2000

// BlockRange is an inclusive range of block numbers
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string {
	return fmt.Sprintf("%d-%d", r.From, r.To)
}

// ChunkRange splits [start, end] into consecutive, non-overlapping inclusive
// ranges of at most size blocks. It returns nil when start > end.
func ChunkRange(start, end, size uint64) []BlockRange {
	if start > end {
		return nil
	}
	if size == 0 {
		size = DefaultChunkSize
	}

	chunks := make([]BlockRange, 0, (end-start)/size+1)
	for from := start; ; {
		to := end
		if end-from >= size {
			to = from + size - 1
		}
		chunks = append(chunks, BlockRange{From: from, To: to})
		if to == end {
			break
		}
		from = to + 1
	}
	return chunks
}

// LogPaginator fetches the Transfer logs of a block window chunk by chunk.
// Requests are strictly serial; the pacer waits after every one of them.
type LogPaginator struct {
	client    adapter.ChainClient
	pacer     *ratelimit.Pacer
	chunkSize uint64
	metrics   *metrics.Metrics
}

// NewLogPaginator creates a paginator. A nil pacer disables throttling.
func NewLogPaginator(client adapter.ChainClient, pacer *ratelimit.Pacer, chunkSize uint64, m *metrics.Metrics) *LogPaginator {
	if pacer == nil {
		pacer = ratelimit.NewPacer(ratelimit.PacerConfig{})
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &LogPaginator{
		client:    client,
		pacer:     pacer,
		chunkSize: chunkSize,
		metrics:   m,
	}
}

// FetchTransferLogs returns the Transfer logs sent or received by wallet within
// the last lookback blocks. Failed chunks are skipped and recorded on the
// scope, so the result under-approximates on partial failure. An error is
// returned only when the head height is unavailable or ctx is cancelled.
func (p *LogPaginator) FetchTransferLogs(ctx context.Context, scope *RunScope, wallet common.Address, lookback uint64) ([]ethtypes.Log, error) {
	head, err := p.client.CurrentBlockHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get current block height: %w", err)
	}

	start := uint64(0)
	if head > lookback {
		start = head - lookback
	}

	chunks := ChunkRange(start, head, p.chunkSize)
	topics := [][]common.Hash{{adapter.TransferTopic}}

	scope.Logger.WithFields(map[string]interface{}{
		"from_block": start,
		"to_block":   head,
		"chunks":     len(chunks),
	}).Info("Fetching transfer logs")

	var matched []ethtypes.Log
	failed := 0
	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := p.pacer.Acquire(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			// No request was made, so there is nothing to pause after
			failed++
			p.skipChunk(scope, chunk, err)
			continue
		}

		logs, err := p.client.GetLogs(ctx, chunk.From, chunk.To, topics)
		if err != nil {
			failed++
			p.skipChunk(scope, chunk, err)
		} else {
			p.metrics.LogChunks.WithLabelValues(metrics.ChunkOK).Inc()
			for _, l := range logs {
				if involvesWallet(l, wallet) {
					matched = append(matched, l)
				}
			}
		}

		// Pause after every request, failed ones included
		if err := p.pacer.Pause(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}
	}

	p.metrics.TransferLogs.Add(float64(len(matched)))
	scope.Logger.WithFields(map[string]interface{}{
		"matched":       len(matched),
		"failed_chunks": failed,
	}).Info("Fetched transfer logs")

	return matched, nil
}

func (p *LogPaginator) skipChunk(scope *RunScope, chunk BlockRange, err error) {
	p.metrics.LogChunks.WithLabelValues(metrics.ChunkFailed).Inc()
	scope.RecordIssue(types.StageLogChunk, chunk.String(), err)
	scope.Logger.WithFields(map[string]interface{}{
		"from_block": chunk.From,
		"to_block":   chunk.To,
		"error":      err.Error(),
	}).Warn("Log chunk failed, skipping")
}

// involvesWallet reports whether the wallet is the indexed sender or receiver.
// Addresses are compared as bytes, which is case-insensitive by construction.
func involvesWallet(l ethtypes.Log, wallet common.Address) bool {
	if len(l.Topics) < 3 {
		return false
	}
	w := wallet.Bytes()
	return bytes.Equal(l.Topics[1].Bytes()[12:], w) || bytes.Equal(l.Topics[2].Bytes()[12:], w)
}
