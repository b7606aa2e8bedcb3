package service

import (
	"fmt"
	"strings"

	"github.com/wallet-inspector/internal/types"
)

// NoRecentActivityText is rendered when no transfer was found in the window
const NoRecentActivityText = "No recent ERC-20 transfers in the lookback window."

// NarrativeQuestions returns the fixed prompts attached to every digest
func NarrativeQuestions() []string {
	return []string{
		"Explain the wallet holdings above in simple language.",
		"Given the user’s eETH/ETHFI balances and time in vaults, explain the trade-offs between holding, restaking, and unwinding positions.",
		"Combine this wallet context with the model’s ETH trend prediction to suggest whether the user should stake, restake, or de-risk.",
	}
}

// RenderDigest builds the plain-text block for narrative generation.
// recent must already be ordered most recent first.
func RenderDigest(nativeSymbol string, nativeBalance float64, tokens []types.TokenBalance, recent []types.TransferEvent) types.NarrativeDigest {
	parts := []string{fmt.Sprintf("%s: %.6f", nativeSymbol, nativeBalance)}
	for _, tb := range tokens {
		if tb.Balance > 0 {
			parts = append(parts, fmt.Sprintf("%s: %.6f", tb.Symbol, tb.Balance))
		}
	}

	activity := NoRecentActivityText
	if len(recent) > 0 {
		last := recent[0]
		activity = fmt.Sprintf("Last transfer on %s: %.6f %s from %s to %s (tx %s).",
			last.Timestamp, last.ValueHuman, last.Symbol, last.FromAddress, last.ToAddress, last.TxHash)
	}

	return types.NarrativeDigest{
		HoldingsText:       strings.Join(parts, ", "),
		RecentActivityText: activity,
		Questions:          NarrativeQuestions(),
	}
}
