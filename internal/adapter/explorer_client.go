package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/wallet-inspector/internal/circuitbreaker"
	"github.com/wallet-inspector/internal/logging"
)

const defaultExplorerBaseURL = "https://api.etherscan.io/v2/api"

var (
	// ErrExplorerDisabled is returned when no API key is configured
	ErrExplorerDisabled = errors.New("block explorer API key not configured")

	// ErrExplorerRateLimited is returned on HTTP 429
	ErrExplorerRateLimited = errors.New("block explorer rate limited (429)")

	// ErrTokenInfoNotFound is returned when the explorer has no usable metadata
	ErrTokenInfoNotFound = errors.New("token info not found")
)

// TokenInfo is the subset of explorer token metadata the inspector uses
type TokenInfo struct {
	Symbol   string
	Name     string
	Decimals *uint8 // nil when the explorer did not report a divisor
}

// ExplorerClient looks up token metadata on an Etherscan-compatible API.
// It makes exactly one HTTP request per lookup.
type ExplorerClient struct {
	apiKey  string
	baseURL string
	chainID uint64
	client  *http.Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
	logger  *logging.Logger
}

// ExplorerClientConfig holds configuration for an ExplorerClient.
type ExplorerClientConfig struct {
	APIKey  string
	BaseURL string
	ChainID uint64

	// RequestsPerSecond is the free-tier budget. Default: 3.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Breaker    *circuitbreaker.CircuitBreaker
	Logger     *logging.Logger
}

// NewExplorerClient creates a new explorer client
func NewExplorerClient(cfg ExplorerClientConfig) *ExplorerClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultExplorerBaseURL
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 3
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	breaker := cfg.Breaker
	if breaker == nil {
		bcfg := circuitbreaker.DefaultConfig("explorer")
		bcfg.Logger = logger
		breaker = circuitbreaker.NewCircuitBreaker(bcfg)
	}

	return &ExplorerClient{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		chainID: cfg.ChainID,
		client:  httpClient,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		breaker: breaker,
		logger:  logger.Component("explorer"),
	}
}

// Enabled reports whether lookups can be made
func (c *ExplorerClient) Enabled() bool {
	return c != nil && c.apiKey != ""
}

type explorerEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTokenInfo struct {
	ContractAddress string `json:"contractAddress"`
	TokenName       string `json:"tokenName"`
	Symbol          string `json:"symbol"`
	Divisor         string `json:"divisor"`
}

// TokenInfo fetches module=token&action=tokeninfo for a contract
func (c *ExplorerClient) TokenInfo(ctx context.Context, token common.Address) (*TokenInfo, error) {
	if !c.Enabled() {
		return nil, ErrExplorerDisabled
	}

	params := url.Values{}
	if c.chainID != 0 {
		params.Set("chainid", strconv.FormatUint(c.chainID, 10))
	}
	params.Set("module", "token")
	params.Set("action", "tokeninfo")
	params.Set("contractaddress", token.Hex())
	params.Set("apikey", c.apiKey)

	var body []byte
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		var reqErr error
		body, reqErr = c.doRequest(ctx, c.baseURL+"?"+params.Encode())
		return reqErr
	})
	if err != nil {
		return nil, err
	}

	var envelope explorerEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}
	if envelope.Status != "1" {
		return nil, fmt.Errorf("%w: %s", ErrTokenInfoNotFound, envelope.Message)
	}

	var results []explorerTokenInfo
	if err := json.Unmarshal(envelope.Result, &results); err != nil {
		return nil, fmt.Errorf("failed to decode tokeninfo result: %w", err)
	}
	if len(results) == 0 || strings.TrimSpace(results[0].Symbol) == "" {
		return nil, ErrTokenInfoNotFound
	}

	info := &TokenInfo{
		Symbol: strings.TrimSpace(results[0].Symbol),
		Name:   results[0].TokenName,
	}
	if d, err := strconv.ParseUint(results[0].Divisor, 10, 8); err == nil {
		decimals := uint8(d)
		info.Decimals = &decimals
	}

	c.logger.WithFields(map[string]interface{}{
		"token":  token.Hex(),
		"symbol": info.Symbol,
	}).Debug("Resolved token symbol from explorer")

	return info, nil
}

// doRequest performs one paced GET. Errors are not retried.
func (c *ExplorerClient) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("explorer rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, ErrExplorerRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}

	return body, nil
}
