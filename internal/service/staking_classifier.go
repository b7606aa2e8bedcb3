package service

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wallet-inspector/internal/adapter"
	"github.com/wallet-inspector/internal/metrics"
	"github.com/wallet-inspector/internal/types"
)

// Rule names
const (
	RuleKnownVault           = "known_vault"
	RuleContractCounterparty = "contract_counterparty"
)

// Confidence scores per rule. They express rule strength, not probability.
const (
	KnownVaultConfidence           = 0.9
	ContractCounterpartyConfidence = 0.4
)

// RuleInput is the transfer a rule is evaluated against
type RuleInput struct {
	Wallet   common.Address
	Transfer types.TransferEvent
	From     common.Address
	To       common.Address
}

// RuleMatch is the label a rule assigns to a transfer
type RuleMatch struct {
	Direction    types.StakingDirection
	Counterparty common.Address
	Reason       string
}

// CodeProbe reports whether an address holds contract code
type CodeProbe func(ctx context.Context, addr common.Address) bool

// StakingRule is one entry of the classification chain
type StakingRule struct {
	Name       string
	Confidence float64
	Match      func(ctx context.Context, in RuleInput, hasCode CodeProbe) (RuleMatch, bool)
}

// KnownVaultRule labels transfers between the wallet and a configured vault
func KnownVaultRule(vaults []string) StakingRule {
	set := make(map[common.Address]struct{}, len(vaults))
	for _, v := range vaults {
		set[common.HexToAddress(v)] = struct{}{}
	}

	return StakingRule{
		Name:       RuleKnownVault,
		Confidence: KnownVaultConfidence,
		Match: func(_ context.Context, in RuleInput, _ CodeProbe) (RuleMatch, bool) {
			if _, ok := set[in.To]; ok && in.From == in.Wallet {
				return RuleMatch{
					Direction:    types.DirectionDeposit,
					Counterparty: in.To,
					Reason:       "Transfer from user to known vault address.",
				}, true
			}
			if _, ok := set[in.From]; ok && in.To == in.Wallet {
				return RuleMatch{
					Direction:    types.DirectionWithdraw,
					Counterparty: in.From,
					Reason:       "Transfer from known vault to user.",
				}, true
			}
			return RuleMatch{}, false
		},
	}
}

// ContractCounterpartyRule labels transfers between the wallet and any contract.
// It is a weak heuristic: token contracts, routers and multisigs match too.
func ContractCounterpartyRule() StakingRule {
	return StakingRule{
		Name:       RuleContractCounterparty,
		Confidence: ContractCounterpartyConfidence,
		Match: func(ctx context.Context, in RuleInput, hasCode CodeProbe) (RuleMatch, bool) {
			if in.From == in.Wallet && in.To != in.Wallet && hasCode(ctx, in.To) {
				return RuleMatch{
					Direction:    types.DirectionDeposit,
					Counterparty: in.To,
					Reason:       "Transfer to contract (possible staking/vault).",
				}, true
			}
			if in.To == in.Wallet && in.From != in.Wallet && hasCode(ctx, in.From) {
				return RuleMatch{
					Direction:    types.DirectionWithdraw,
					Counterparty: in.From,
					Reason:       "Transfer from contract (possible unstake/exit).",
				}, true
			}
			return RuleMatch{}, false
		},
	}
}

// DefaultRules returns the rule chain in priority order. The vault rule is
// only present when vaults are configured.
func DefaultRules(vaults []string) []StakingRule {
	rules := make([]StakingRule, 0, 2)
	if len(vaults) > 0 {
		rules = append(rules, KnownVaultRule(vaults))
	}
	return append(rules, ContractCounterpartyRule())
}

// StakingClassifier evaluates the rule chain against transfers.
// The first matching rule wins; a transfer yields at most one event.
type StakingClassifier struct {
	client  adapter.ChainClient
	rules   []StakingRule
	metrics *metrics.Metrics
}

// NewStakingClassifier creates a classifier over rules
func NewStakingClassifier(client adapter.ChainClient, rules []StakingRule, m *metrics.Metrics) *StakingClassifier {
	if m == nil {
		m = metrics.New(nil)
	}
	return &StakingClassifier{client: client, rules: rules, metrics: m}
}

// Classify returns the staking events inferred from transfers, in input order
func (c *StakingClassifier) Classify(ctx context.Context, scope *RunScope, wallet common.Address, transfers []types.TransferEvent) ([]types.StakingEvent, error) {
	events := make([]types.StakingEvent, 0)
	probe := c.codeProbe(scope)

	for _, t := range transfers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in := RuleInput{
			Wallet:   wallet,
			Transfer: t,
			From:     common.HexToAddress(t.FromAddress),
			To:       common.HexToAddress(t.ToAddress),
		}

		for _, rule := range c.rules {
			match, ok := rule.Match(ctx, in, probe)
			if !ok {
				continue
			}

			c.metrics.StakingEvents.WithLabelValues(rule.Name, string(match.Direction)).Inc()
			events = append(events, types.StakingEvent{
				TxHash:       t.TxHash,
				Timestamp:    t.Timestamp,
				TokenSymbol:  t.Symbol,
				Direction:    match.Direction,
				Counterparty: match.Counterparty.Hex(),
				ValueHuman:   t.ValueHuman,
				Confidence:   rule.Confidence,
				Reason:       match.Reason,
			})
			break
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// codeProbe memoises HasCode per run. A failed probe counts as no code.
func (c *StakingClassifier) codeProbe(scope *RunScope) CodeProbe {
	return func(ctx context.Context, addr common.Address) bool {
		key := strings.ToLower(addr.Hex())
		has, err := scope.codes.load(key, func() (bool, error) {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			return c.client.HasCode(ctx, addr)
		})
		if err != nil {
			if ctx.Err() == nil {
				scope.RecordIssue(types.StageCodeProbe, addr.Hex(), err)
				scope.Logger.WithFields(map[string]interface{}{
					"address": addr.Hex(),
					"error":   err.Error(),
				}).Warn("Code probe failed, treating address as EOA")
			}
			return false
		}
		return has
	}
}
