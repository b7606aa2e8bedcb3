package service

import (
	"context"
	"net/url"
	"time"

	"github.com/wallet-inspector/internal/adapter"
	apperrors "github.com/wallet-inspector/internal/errors"
	"github.com/wallet-inspector/internal/logging"
	"github.com/wallet-inspector/internal/retry"
)

// ConnectConfig holds the settings for dialing the chain client
type ConnectConfig struct {
	URL          string
	SecondaryURL string
	CallTimeout  time.Duration
	Attempts     int

	// InitialDelay is the first backoff step. Default: 1s.
	InitialDelay time.Duration
}

// ConnectChainClient dials the configured endpoints, retrying the startup
// probe with exponential backoff. Failure is fatal for the caller: it returns
// an ENDPOINT_UNREACHABLE error.
func ConnectChainClient(ctx context.Context, cfg ConnectConfig, logger *logging.Logger) (*adapter.EthereumClient, error) {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	retryCfg := retry.DefaultRetryConfig()
	if cfg.Attempts > 0 {
		retryCfg.MaxAttempts = cfg.Attempts
	}
	if cfg.InitialDelay > 0 {
		retryCfg.InitialDelay = cfg.InitialDelay
	}
	// Unreachable endpoints are worth another try, a missing URL is not
	retryCfg.ShouldRetry = apperrors.IsRetryable

	var client *adapter.EthereumClient
	result := retry.WithExponentialBackoff(logging.WithLogger(ctx, logger), retryCfg, func(ctx context.Context, attempt int) error {
		c, err := adapter.DialEthereumClient(ctx, adapter.EthereumClientConfig{
			URLs:        []string{cfg.URL, cfg.SecondaryURL},
			CallTimeout: cfg.CallTimeout,
			Logger:      logger,
		})
		if err != nil {
			return err
		}
		client = c
		return nil
	})

	if err := result.Err(); err != nil {
		return nil, apperrors.NewEndpointUnreachableError(RedactURL(cfg.URL), err)
	}
	return client, nil
}

// RedactURL keeps only the scheme and host of an endpoint URL. Provider URLs
// often carry an API key in the path or query.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "<redacted>"
	}
	return u.Scheme + "://" + u.Host
}
