package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/types"
)

type fakeExplorer struct {
	mu    sync.Mutex
	info  *adapter.TokenInfo
	err   error
	calls int
}

func (f *fakeExplorer) TokenInfo(ctx context.Context, token common.Address) (*adapter.TokenInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.info, f.err
}

func TestResolve_Success(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbol: "eETH", decimals: 18})
	explorer := &fakeExplorer{err: errors.New("should not be called")}

	md := NewTokenMetadataResolver(chain, explorer, nil).Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, "eETH", md.Symbol.Value)
	assert.False(t, md.Symbol.Defaulted)
	assert.Equal(t, uint8(18), md.Decimals.Value)
	assert.False(t, md.Decimals.Defaulted)
	assert.Equal(t, 0, explorer.calls)
}

func TestResolve_DefaultsOnFailure(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbolErr: errReverted, decimalsErr: errTransport})
	m := metrics.New(nil)
	scope := testScope(testWallet)

	md := NewTokenMetadataResolver(chain, nil, m).Resolve(context.Background(), scope, testToken)
	assert.Equal(t, types.DefaultTokenSymbol, md.Symbol.Value)
	assert.True(t, md.Symbol.Defaulted)
	assert.ErrorIs(t, md.Symbol.Err, errReverted)
	assert.Equal(t, types.DefaultTokenDecimals, md.Decimals.Value)
	assert.True(t, md.Decimals.Defaulted)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.MetadataDefaults.WithLabelValues("symbol")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MetadataDefaults.WithLabelValues("decimals")))

	issues := scope.Issues()
	require.Len(t, issues, 2)
	assert.Equal(t, types.StageTokenMetadata, issues[0].Stage)
	assert.Equal(t, testToken.Hex(), issues[0].Subject)
}

func TestResolve_EmptySymbolDefaults(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbol: "", decimals: 6})

	md := NewTokenMetadataResolver(chain, nil, nil).Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, types.DefaultTokenSymbol, md.Symbol.Value)
	assert.True(t, md.Symbol.Defaulted)
	assert.Equal(t, uint8(6), md.Decimals.Value)
}

func TestResolve_Bytes32Symbol(t *testing.T) {
	raw := make([]byte, 32)
	copy(raw, "MKR")

	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{rawSymbol: raw, decimals: 18})

	md := NewTokenMetadataResolver(chain, nil, nil).Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, "MKR", md.Symbol.Value)
	assert.False(t, md.Symbol.Defaulted)
}

func TestResolve_ExplorerFallback(t *testing.T) {
	decimals := uint8(6)
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbolErr: errReverted, decimalsErr: errReverted})
	explorer := &fakeExplorer{info: &adapter.TokenInfo{Symbol: "USDC", Decimals: &decimals}}
	scope := testScope(testWallet)

	md := NewTokenMetadataResolver(chain, explorer, nil).Resolve(context.Background(), scope, testToken)
	assert.Equal(t, "USDC", md.Symbol.Value)
	assert.False(t, md.Symbol.Defaulted)
	assert.Equal(t, uint8(6), md.Decimals.Value)
	assert.Equal(t, 1, explorer.calls)
	assert.Empty(t, scope.Issues())
}

func TestResolve_ExplorerFailureIsSwallowed(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbolErr: errReverted, decimals: 8})
	explorer := &fakeExplorer{err: adapter.ErrExplorerRateLimited}

	md := NewTokenMetadataResolver(chain, explorer, nil).Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, types.DefaultTokenSymbol, md.Symbol.Value)
	assert.Equal(t, uint8(8), md.Decimals.Value)
	assert.Equal(t, 1, explorer.calls)
}

func TestResolve_DisabledExplorerIsIgnored(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbolErr: errReverted, decimals: 8})

	var disabled *adapter.ExplorerClient
	resolver := NewTokenMetadataResolver(chain, disabled, nil)
	assert.Nil(t, resolver.explorer)

	md := resolver.Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, types.DefaultTokenSymbol, md.Symbol.Value)
}

func TestResolve_CachedPerRun(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbol: "USDC", decimals: 6})
	resolver := NewTokenMetadataResolver(chain, nil, nil)

	scope := testScope(testWallet)
	for i := 0; i < 3; i++ {
		resolver.Resolve(context.Background(), scope, testToken)
	}
	assert.Equal(t, 1, chain.callCount("symbol"))

	// A new run starts with an empty cache
	resolver.Resolve(context.Background(), testScope(testWallet), testToken)
	assert.Equal(t, 2, chain.callCount("symbol"))
}

func TestResolve_CancelledIsNotCached(t *testing.T) {
	chain := newFakeChain()
	chain.addToken(testToken, &fakeToken{symbol: "USDC", decimals: 6})
	resolver := NewTokenMetadataResolver(chain, nil, nil)
	scope := testScope(testWallet)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	md := resolver.Resolve(ctx, scope, testToken)
	assert.True(t, md.Symbol.Defaulted)
	assert.Equal(t, 0, chain.callCount("symbol"))
	assert.Equal(t, 0, scope.Metadata.Len())

	md = resolver.Resolve(context.Background(), scope, testToken)
	assert.Equal(t, "USDC", md.Symbol.Value)
}
