package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the thin JSON-RPC surface the inspector needs.
// Implementations never retry; callers decide what a failure means.
type ChainClient interface {
	// ChainID returns the chain id probed when the client was constructed
	ChainID() *big.Int

	// URL returns the endpoint the client is connected to
	URL() string

	// CurrentBlockHeight returns the latest block number
	CurrentBlockHeight(ctx context.Context) (uint64, error)

	// GetBalance returns the native balance of address in wei at the latest block
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)

	// GetBlockTimestamp returns the unix timestamp of a block
	GetBlockTimestamp(ctx context.Context, blockNumber uint64) (uint64, error)

	// HasCode reports whether address holds contract code at the latest block
	HasCode(ctx context.Context, address common.Address) (bool, error)

	// GetLogs returns raw logs in the inclusive block range matching topics
	GetLogs(ctx context.Context, fromBlock, toBlock uint64, topics [][]common.Hash) ([]ethtypes.Log, error)

	// Call performs eth_call against contract. calldata is the 4-byte
	// selector followed by the ABI-encoded arguments.
	Call(ctx context.Context, contract common.Address, calldata []byte) ([]byte, error)
}

var (
	// ErrEndpointUnreachable indicates no endpoint answered the startup probe
	ErrEndpointUnreachable = fmt.Errorf("rpc endpoint unreachable")

	// ErrNoEndpoints indicates the client was configured without any URL
	ErrNoEndpoints = fmt.Errorf("no rpc endpoints configured")
)

// TransportError is a network-level failure: connection refused, timeout,
// non-200 HTTP status, malformed response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc transport error [%s]: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RpcError is a failure reported by the remote node, such as a reverted
// eth_call or a rejected block range.
type RpcError struct {
	Op      string
	Code    int
	Message string
	Err     error
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("rpc error [%s] code=%d: %s", e.Op, e.Code, e.Message)
}

func (e *RpcError) Unwrap() error {
	return e.Err
}
