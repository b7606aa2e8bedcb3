package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wallet-inspector/internal/logging"
)

var testToken = common.HexToAddress("0x1c7d4b196cb0c7b01d743fbc6116a902379c7238")

func newTestExplorer(t *testing.T, handler http.HandlerFunc) (*ExplorerClient, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	return NewExplorerClient(ExplorerClientConfig{
		APIKey:            "test-key",
		BaseURL:           srv.URL,
		ChainID:           11155111,
		RequestsPerSecond: 100,
		Logger:            logging.Discard(),
	}), &hits
}

func TestExplorerClient_TokenInfo(t *testing.T) {
	client, hits := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "token", q.Get("module"))
		assert.Equal(t, "tokeninfo", q.Get("action"))
		assert.Equal(t, "11155111", q.Get("chainid"))
		assert.Equal(t, testToken.Hex(), q.Get("contractaddress"))
		assert.Equal(t, "test-key", q.Get("apikey"))
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"symbol":"USDC","tokenName":"USD Coin","divisor":"6"}]}`))
	})

	info, err := client.TokenInfo(context.Background(), testToken)
	require.NoError(t, err)
	assert.Equal(t, "USDC", info.Symbol)
	require.NotNil(t, info.Decimals)
	assert.Equal(t, uint8(6), *info.Decimals)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestExplorerClient_NotOK(t *testing.T) {
	client, _ := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"0","message":"NOTOK","result":"Invalid API Key"}`))
	})

	_, err := client.TokenInfo(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrTokenInfoNotFound)
}

func TestExplorerClient_EmptySymbol(t *testing.T) {
	client, _ := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"1","message":"OK","result":[{"symbol":" "}]}`))
	})

	_, err := client.TokenInfo(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrTokenInfoNotFound)
}

func TestExplorerClient_RateLimitedIsNotRetried(t *testing.T) {
	client, hits := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.TokenInfo(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrExplorerRateLimited)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestExplorerClient_Disabled(t *testing.T) {
	client := NewExplorerClient(ExplorerClientConfig{Logger: logging.Discard()})
	assert.False(t, client.Enabled())

	_, err := client.TokenInfo(context.Background(), testToken)
	assert.ErrorIs(t, err, ErrExplorerDisabled)

	var nilClient *ExplorerClient
	assert.False(t, nilClient.Enabled())
}
