// Package types provides common type definitions for the wallet inspector.
package types

import "fmt"

// DefaultTokenSymbol is used when a token's symbol cannot be resolved
const DefaultTokenSymbol = "UNKNOWN"

// DefaultTokenDecimals is used when a token's decimals cannot be resolved
const DefaultTokenDecimals uint8 = 18

// StakingDirection represents the inferred direction of a staking movement
type StakingDirection string

const (
	// DirectionDeposit represents funds moving from the wallet into a vault or contract
	DirectionDeposit StakingDirection = "deposit"
	// DirectionWithdraw represents funds moving from a vault or contract back to the wallet
	DirectionWithdraw StakingDirection = "withdraw"
)

// Network represents a known EVM network
type Network string

const (
	NetworkMainnet  Network = "mainnet"
	NetworkSepolia  Network = "sepolia"
	NetworkHolesky  Network = "holesky"
	NetworkPolygon  Network = "polygon"
	NetworkArbitrum Network = "arbitrum"
	NetworkOptimism Network = "optimism"
	NetworkBase     Network = "base"
	NetworkBNB      Network = "bnb"
)

var networksByChainID = map[uint64]Network{
	1:        NetworkMainnet,
	11155111: NetworkSepolia,
	17000:    NetworkHolesky,
	137:      NetworkPolygon,
	42161:    NetworkArbitrum,
	10:       NetworkOptimism,
	8453:     NetworkBase,
	56:       NetworkBNB,
}

// NetworkName returns the network identifier for a chain id.
// Unknown chains are rendered as "unknown(chain_id=N)".
func NetworkName(chainID uint64) string {
	if network, ok := networksByChainID[chainID]; ok {
		return string(network)
	}
	return fmt.Sprintf("unknown(chain_id=%d)", chainID)
}

// NativeAsset returns the native asset symbol for a chain id
func NativeAsset(chainID uint64) string {
	switch networksByChainID[chainID] {
	case NetworkPolygon:
		return "POL"
	case NetworkBNB:
		return "BNB"
	default:
		return "ETH"
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// TokenBalance is the wallet's current balance of one token observed in its transfers
type TokenBalance struct {
	TokenAddress string  `json:"token_address"`
	Symbol       string  `json:"symbol"`
	Decimals     uint8   `json:"decimals"`
	Balance      float64 `json:"balance"`
}

// TransferEvent is one decoded ERC-20 Transfer log involving the inspected wallet
type TransferEvent struct {
	TokenAddress string  `json:"token_address"`
	Symbol       string  `json:"symbol"`
	TxHash       string  `json:"tx_hash"`
	BlockNumber  uint64  `json:"block_number"`
	LogIndex     uint    `json:"-"`
	Timestamp    string  `json:"timestamp"`    // RFC 3339, UTC
	FromAddress  string  `json:"from_address"` // checksum form
	ToAddress    string  `json:"to_address"`   // checksum form
	ValueRaw     string  `json:"value_raw"`    // base-10 integer, full precision
	ValueHuman   float64 `json:"value_human"`  // display only
}

// StakingEvent is a transfer labelled by the staking heuristics
type StakingEvent struct {
	TxHash       string           `json:"tx_hash"`
	Timestamp    string           `json:"timestamp"`
	TokenSymbol  string           `json:"token_symbol"`
	Direction    StakingDirection `json:"direction"`
	Counterparty string           `json:"counterparty"`
	ValueHuman   float64          `json:"value_human"`
	Confidence   float64          `json:"confidence"` // rule strength, not a probability
	Reason       string           `json:"reason"`
}

// NarrativeDigest is the plain-text block handed to downstream narrative generation.
// Its JSON shape is consumed by other services and must stay stable.
type NarrativeDigest struct {
	HoldingsText       string   `json:"holdings_text"`
	RecentActivityText string   `json:"recent_activity_text"`
	Questions          []string `json:"questions_for_claude"`
}

// ConfigEcho records the parameters an inspection ran with
type ConfigEcho struct {
	LookbackBlocks uint64   `json:"lookback_blocks"`
	MaxEvents      int      `json:"max_events"`
	VaultAddresses []string `json:"vault_addresses"`
}

// IssueStage identifies the pipeline stage a recoverable failure happened in
type IssueStage string

const (
	StageNativeBalance IssueStage = "native_balance"
	StageBlockHeight   IssueStage = "block_height"
	StageLogChunk      IssueStage = "log_chunk"
	StageTokenMetadata IssueStage = "token_metadata"
	StageTokenBalance  IssueStage = "token_balance"
	StageCodeProbe     IssueStage = "code_probe"
)

// InspectionIssue records a recoverable failure that was defaulted or skipped
type InspectionIssue struct {
	Stage   IssueStage `json:"stage"`
	Subject string     `json:"subject"`
	Message string     `json:"message"`
}

// WalletSummary is the aggregate result of one inspection run
type WalletSummary struct {
	RunID           string            `json:"run_id"`
	Wallet          string            `json:"wallet"`
	RPCURL          string            `json:"rpc_url"`
	Network         string            `json:"network"`
	ChainID         uint64            `json:"chain_id"`
	FetchedAt       string            `json:"fetched_at"`
	EthBalance      float64           `json:"eth_balance"`
	Tokens          []TokenBalance    `json:"tokens"`
	RecentTransfers []TransferEvent   `json:"recent_transfers"`
	StakingEvents   []StakingEvent    `json:"staking_events_inferred"`
	Digest          NarrativeDigest   `json:"summary_for_claude"`
	Config          ConfigEcho        `json:"config"`
	Errors          []InspectionIssue `json:"errors"`
}

// Outcome is the tagged result of a remote call that falls back to a default on failure
type Outcome[T any] struct {
	Value     T
	Defaulted bool
	Err       error
}

// Succeeded wraps a value obtained from a successful call
func Succeeded[T any](value T) Outcome[T] {
	return Outcome[T]{Value: value}
}

// Defaulted wraps a default value substituted after a failed call
func Defaulted[T any](value T, err error) Outcome[T] {
	return Outcome[T]{Value: value, Defaulted: true, Err: err}
}
