package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/types"
)

var errEmptySymbol = errors.New("symbol() returned an empty string")

// TokenInfoLookup is the block explorer fallback used for unresolved symbols
type TokenInfoLookup interface {
	TokenInfo(ctx context.Context, token common.Address) (*adapter.TokenInfo, error)
}

// TokenMetadata is the resolved (symbol, decimals) pair for one token
type TokenMetadata struct {
	Symbol   types.Outcome[string]
	Decimals types.Outcome[uint8]
}

// SymbolOrDefault returns the symbol, "UNKNOWN" when unresolved
func (m TokenMetadata) SymbolOrDefault() string {
	if m.Symbol.Value == "" {
		return types.DefaultTokenSymbol
	}
	return m.Symbol.Value
}

func defaultMetadata(err error) TokenMetadata {
	return TokenMetadata{
		Symbol:   types.Defaulted(types.DefaultTokenSymbol, err),
		Decimals: types.Defaulted(types.DefaultTokenDecimals, err),
	}
}

// TokenMetadataResolver resolves ERC-20 symbol and decimals. It never fails:
// unresolvable fields fall back to "UNKNOWN" and 18.
type TokenMetadataResolver struct {
	client   adapter.ChainClient
	explorer TokenInfoLookup
	erc20    abi.ABI
	metrics  *metrics.Metrics
}

// NewTokenMetadataResolver creates a resolver. explorer may be nil.
func NewTokenMetadataResolver(client adapter.ChainClient, explorer TokenInfoLookup, m *metrics.Metrics) *TokenMetadataResolver {
	// A nil *ExplorerClient inside the interface is not a nil interface
	if e, ok := explorer.(interface{ Enabled() bool }); ok && !e.Enabled() {
		explorer = nil
	}
	if m == nil {
		m = metrics.New(nil)
	}

	return &TokenMetadataResolver{
		client:   client,
		explorer: explorer,
		erc20:    adapter.MustERC20ABI(),
		metrics:  m,
	}
}

// Resolve returns metadata for token, consulting the run's cache first
func (r *TokenMetadataResolver) Resolve(ctx context.Context, scope *RunScope, token common.Address) TokenMetadata {
	md, err := scope.Metadata.entries.load(addressKey(token), func() (TokenMetadata, error) {
		md := r.fetch(ctx, scope, token)
		// Defaults produced by a cancelled run are not worth remembering.
		return md, ctx.Err()
	})
	if err != nil {
		return defaultMetadata(err)
	}
	return md
}

func (r *TokenMetadataResolver) fetch(ctx context.Context, scope *RunScope, token common.Address) TokenMetadata {
	if err := ctx.Err(); err != nil {
		return defaultMetadata(err)
	}

	md := TokenMetadata{
		Symbol:   r.symbol(ctx, token),
		Decimals: r.decimals(ctx, token),
	}

	if md.Symbol.Value == types.DefaultTokenSymbol && r.explorer != nil && ctx.Err() == nil {
		info, err := r.explorer.TokenInfo(ctx, token)
		if err != nil {
			scope.Logger.WithFields(map[string]interface{}{
				"token": token.Hex(),
				"error": err.Error(),
			}).Debug("Explorer symbol lookup failed")
		} else {
			md.Symbol = types.Succeeded(info.Symbol)
			if md.Decimals.Defaulted && info.Decimals != nil {
				md.Decimals = types.Succeeded(*info.Decimals)
			}
		}
	}

	if md.Symbol.Defaulted {
		r.metrics.MetadataDefaults.WithLabelValues("symbol").Inc()
		scope.RecordIssue(types.StageTokenMetadata, token.Hex(), fmt.Errorf("symbol: %w", md.Symbol.Err))
	}
	if md.Decimals.Defaulted {
		r.metrics.MetadataDefaults.WithLabelValues("decimals").Inc()
		scope.RecordIssue(types.StageTokenMetadata, token.Hex(), fmt.Errorf("decimals: %w", md.Decimals.Err))
	}
	if md.Symbol.Defaulted || md.Decimals.Defaulted {
		scope.Logger.WithFields(map[string]interface{}{
			"token":    token.Hex(),
			"symbol":   md.Symbol.Value,
			"decimals": md.Decimals.Value,
		}).Warn("Token metadata fell back to defaults")
	}

	return md
}

func (r *TokenMetadataResolver) symbol(ctx context.Context, token common.Address) types.Outcome[string] {
	out, err := r.call(ctx, token, "symbol")
	if err != nil {
		return types.Defaulted(types.DefaultTokenSymbol, err)
	}

	symbol, err := r.unpackSymbol(out)
	if err != nil {
		return types.Defaulted(types.DefaultTokenSymbol, err)
	}
	return types.Succeeded(symbol)
}

// unpackSymbol accepts the standard string return and the bytes32 return of
// early tokens such as MKR.
func (r *TokenMetadataResolver) unpackSymbol(out []byte) (string, error) {
	values, err := r.erc20.Unpack("symbol", out)
	if err == nil && len(values) == 1 {
		if s, ok := values[0].(string); ok {
			s = strings.TrimSpace(s)
			if s == "" {
				return "", errEmptySymbol
			}
			return s, nil
		}
	}

	if len(out) == 32 {
		s := strings.TrimSpace(string(bytes.TrimRight(out, "\x00")))
		if s != "" && !strings.ContainsRune(s, '\x00') {
			return s, nil
		}
	}

	if err == nil {
		err = errEmptySymbol
	}
	return "", fmt.Errorf("failed to decode symbol(): %w", err)
}

func (r *TokenMetadataResolver) decimals(ctx context.Context, token common.Address) types.Outcome[uint8] {
	out, err := r.call(ctx, token, "decimals")
	if err != nil {
		return types.Defaulted(types.DefaultTokenDecimals, err)
	}

	values, err := r.erc20.Unpack("decimals", out)
	if err != nil {
		return types.Defaulted(types.DefaultTokenDecimals, fmt.Errorf("failed to decode decimals(): %w", err))
	}
	decimals, ok := values[0].(uint8)
	if !ok {
		return types.Defaulted(types.DefaultTokenDecimals, fmt.Errorf("unexpected decimals() type %T", values[0]))
	}
	return types.Succeeded(decimals)
}

func (r *TokenMetadataResolver) call(ctx context.Context, token common.Address, method string, args ...interface{}) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	calldata, err := r.erc20.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s(): %w", method, err)
	}

	return r.client.Call(ctx, token, calldata)
}
