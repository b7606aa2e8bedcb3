package adapter

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/wallet-inspector/internal/logging"
)

const defaultCallTimeout = 20 * time.Second

// EthereumClient implements ChainClient on top of go-ethereum's ethclient
type EthereumClient struct {
	client      *ethclient.Client
	url         string
	chainID     *big.Int
	callTimeout time.Duration
	logger      *logging.Logger
}

// EthereumClientConfig holds configuration for dialing an EthereumClient.
type EthereumClientConfig struct {
	// URLs are tried in order; the first one that answers the probe wins.
	URLs []string

	// CallTimeout bounds every individual RPC call. Default: 20s.
	CallTimeout time.Duration

	Logger *logging.Logger
}

// DialEthereumClient connects to the first reachable endpoint and probes its
// chain id and head block. Failure of every endpoint wraps ErrEndpointUnreachable.
func DialEthereumClient(ctx context.Context, cfg EthereumClientConfig) (*EthereumClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	logger = logger.Component("rpc")

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}

	var urls []string
	for _, u := range cfg.URLs {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	var lastErr error
	for i, url := range urls {
		client, chainID, err := dialAndProbe(ctx, url, timeout)
		if err != nil {
			lastErr = err
			logger.WithFields(map[string]interface{}{
				"endpoint": i,
				"error":    err.Error(),
			}).Warn("RPC endpoint failed startup probe")
			continue
		}

		logger.WithFields(map[string]interface{}{
			"endpoint": i,
			"chain_id": chainID.String(),
		}).Info("Connected to RPC endpoint")

		return &EthereumClient{
			client:      client,
			url:         url,
			chainID:     chainID,
			callTimeout: timeout,
			logger:      logger,
		}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrEndpointUnreachable, lastErr)
}

func dialAndProbe(ctx context.Context, url string, timeout time.Duration) (*ethclient.Client, *big.Int, error) {
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := ethclient.DialContext(probeCtx, url)
	if err != nil {
		return nil, nil, classify("Dial", err)
	}

	chainID, err := client.ChainID(probeCtx)
	if err != nil {
		client.Close()
		return nil, nil, classify("ChainID", err)
	}

	if _, err := client.BlockNumber(probeCtx); err != nil {
		client.Close()
		return nil, nil, classify("BlockNumber", err)
	}

	return client, chainID, nil
}

// classify maps go-ethereum errors onto TransportError or RpcError
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &RpcError{Op: op, Code: rpcErr.ErrorCode(), Message: rpcErr.Error(), Err: err}
	}

	if errors.Is(err, ethereum.NotFound) {
		return &RpcError{Op: op, Message: err.Error(), Err: err}
	}

	return &TransportError{Op: op, Err: err}
}

func (c *EthereumClient) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.callTimeout)
}

// ChainID returns the probed chain id
func (c *EthereumClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// URL returns the connected endpoint
func (c *EthereumClient) URL() string {
	return c.url
}

// CurrentBlockHeight returns the latest block number
func (c *EthereumClient) CurrentBlockHeight(ctx context.Context) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	height, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, classify("BlockNumber", err)
	}
	return height, nil
}

// GetBalance returns the latest native balance in wei
func (c *EthereumClient) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	balance, err := c.client.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, classify("BalanceAt", err)
	}
	return balance, nil
}

// GetBlockTimestamp returns the block's unix timestamp
func (c *EthereumClient) GetBlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return 0, classify("HeaderByNumber", err)
	}
	return header.Time, nil
}

// HasCode reports whether address is a contract
func (c *EthereumClient) HasCode(ctx context.Context, address common.Address) (bool, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	code, err := c.client.CodeAt(ctx, address, nil)
	if err != nil {
		return false, classify("CodeAt", err)
	}
	return len(code) > 0, nil
}

// GetLogs issues a single eth_getLogs over [fromBlock, toBlock]
func (c *EthereumClient) GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]ethtypes.Log, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	c.logger.WithFields(map[string]interface{}{
		"from_block": fromBlock,
		"to_block":   toBlock,
	}).Debug("RPC Call: eth_getLogs")

	logs, err := c.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics:    topics,
	})
	if err != nil {
		return nil, classify("FilterLogs", err)
	}
	return logs, nil
}

// Call performs eth_call at the latest block
func (c *EthereumClient) Call(ctx context.Context, contract common.Address, calldata []byte) ([]byte, error) {
	ctx, cancel := c.callContext(ctx)
	defer cancel()

	out, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: calldata}, nil)
	if err != nil {
		return nil, classify("CallContract", err)
	}
	return out, nil
}

// Close closes the underlying connection
func (c *EthereumClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
