package service

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/types"
)

// DistinctTokens returns the token addresses touched by transfers, each once,
// ordered by lowercase hex.
func DistinctTokens(transfers []types.TransferEvent) []common.Address {
	seen := make(map[common.Address]struct{}, len(transfers))
	tokens := make([]common.Address, 0)
	for _, t := range transfers {
		addr := common.HexToAddress(t.TokenAddress)
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		tokens = append(tokens, addr)
	}

	sort.Slice(tokens, func(i, j int) bool {
		return strings.ToLower(tokens[i].Hex()) < strings.ToLower(tokens[j].Hex())
	})
	return tokens
}

// BalanceAggregator queries the wallet's current balance of every observed token
type BalanceAggregator struct {
	client   adapter.ChainClient
	resolver *TokenMetadataResolver
	erc20    abi.ABI
	metrics  *metrics.Metrics
}

// NewBalanceAggregator creates a balance aggregator
func NewBalanceAggregator(client adapter.ChainClient, resolver *TokenMetadataResolver, m *metrics.Metrics) *BalanceAggregator {
	if m == nil {
		m = metrics.New(nil)
	}
	return &BalanceAggregator{
		client:   client,
		resolver: resolver,
		erc20:    adapter.MustERC20ABI(),
		metrics:  m,
	}
}

// BuildBalances returns one TokenBalance per distinct token in transfers.
// A failed balanceOf defaults to zero and is recorded on the scope. Only
// cancellation aborts the build.
func (a *BalanceAggregator) BuildBalances(ctx context.Context, scope *RunScope, wallet common.Address, transfers []types.TransferEvent) ([]types.TokenBalance, error) {
	tokens := DistinctTokens(transfers)
	balances := make([]types.TokenBalance, 0, len(tokens))

	for _, token := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		md := a.resolver.Resolve(ctx, scope, token)
		raw := a.balanceOf(ctx, token, wallet)
		if raw.Defaulted {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			a.metrics.BalanceDefaults.Inc()
			scope.RecordIssue(types.StageTokenBalance, token.Hex(), raw.Err)
			scope.Logger.WithFields(map[string]interface{}{
				"token": token.Hex(),
				"error": raw.Err.Error(),
			}).Warn("balanceOf failed, defaulting to zero")
		}

		balances = append(balances, types.TokenBalance{
			TokenAddress: token.Hex(),
			Symbol:       md.SymbolOrDefault(),
			Decimals:     md.Decimals.Value,
			Balance:      ScaleAmount(raw.Value, md.Decimals.Value),
		})
	}

	return balances, nil
}

func (a *BalanceAggregator) balanceOf(ctx context.Context, token, wallet common.Address) types.Outcome[*big.Int] {
	zero := new(big.Int)

	calldata, err := a.erc20.Pack("balanceOf", wallet)
	if err != nil {
		return types.Defaulted(zero, fmt.Errorf("failed to pack balanceOf(): %w", err))
	}

	out, err := a.client.Call(ctx, token, calldata)
	if err != nil {
		return types.Defaulted(zero, err)
	}

	values, err := a.erc20.Unpack("balanceOf", out)
	if err != nil {
		return types.Defaulted(zero, fmt.Errorf("failed to decode balanceOf(): %w", err))
	}
	balance, ok := values[0].(*big.Int)
	if !ok {
		return types.Defaulted(zero, fmt.Errorf("unexpected balanceOf() type %T", values[0]))
	}
	return types.Succeeded(balance)
}
