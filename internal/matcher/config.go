// Package matcher reconciles bank transactions against the client's ledger.
//
// With a ledger, every bank transaction is scored against every still-unused
// ledger entry and greedily assigned its best candidate:
//
//	score = wA·amount + wD·date + wT·description + wR·reference
//
// Scores at or above ExactThreshold are exact matches, scores above
// PartialThreshold are partial matches; both consume the ledger entry.
// Anything lower leaves the entry available for later transactions.
//
// Without a ledger the engine falls back to self-reconciliation: running
// balance continuity, isolated "orphan" transactions and daily-balance
// consistency.
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateWindowDays = 3
//
//	engine := matcher.NewMatchingEngine(config)
//	result := engine.Reconcile(transactions, entries)
package matcher

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// MatchTier classifies a reconciliation match
type MatchTier int

const (
	// TierExact is a match at or above the exact threshold
	TierExact MatchTier = iota
	// TierPartial is a match above the partial threshold
	TierPartial
	// TierUnmatched means no ledger entry scored above the partial threshold
	TierUnmatched
)

// String returns the string representation of MatchTier
func (mt MatchTier) String() string {
	switch mt {
	case TierExact:
		return "exact"
	case TierPartial:
		return "partial"
	case TierUnmatched:
		return "unmatched"
	default:
		return "unknown"
	}
}

// MatchingConfig holds the reconciliation parameters
type MatchingConfig struct {
	// DateWindowDays is the gap at which the date score decays to zero
	DateWindowDays int `json:"date_window_days" mapstructure:"date_window_days"`

	// AmountTolerancePercent is the relative difference (0-100) still scored as an exact amount
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`

	// ExactThreshold is the minimum score of an exact match
	ExactThreshold float64 `json:"exact_threshold" mapstructure:"exact_threshold"`

	// PartialThreshold is the score a partial match must exceed
	PartialThreshold float64 `json:"partial_threshold" mapstructure:"partial_threshold"`

	// NormalizeMissingReference rescales the score by 1/(1-wR) when neither
	// side carries a reference
	NormalizeMissingReference bool `json:"normalize_missing_reference" mapstructure:"normalize_missing_reference"`

	// BalanceTolerance is the absolute difference tolerated by balance checks
	BalanceTolerance decimal.Decimal `json:"balance_tolerance" mapstructure:"balance_tolerance"`

	// OrphanGapDays is the isolation, on both sides, that makes a transaction an orphan
	OrphanGapDays int `json:"orphan_gap_days" mapstructure:"orphan_gap_days"`

	// OrphanMinTransactions is the account size below which orphans are not searched
	OrphanMinTransactions int `json:"orphan_min_transactions" mapstructure:"orphan_min_transactions"`

	Weights MatchingWeights `json:"weights" mapstructure:"weights"`
}

// MatchingWeights defines the relative importance of each match criterion
type MatchingWeights struct {
	AmountWeight      float64 `json:"amount_weight" mapstructure:"amount_weight"`
	DateWeight        float64 `json:"date_weight" mapstructure:"date_weight"`
	DescriptionWeight float64 `json:"description_weight" mapstructure:"description_weight"`
	ReferenceWeight   float64 `json:"reference_weight" mapstructure:"reference_weight"`
}

// DefaultMatchingConfig returns weights 0.4/0.3/0.2/0.1, tiers 0.95/0.8 and a 5-day window
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:            5,
		AmountTolerancePercent:    0.0,
		ExactThreshold:            0.95,
		PartialThreshold:          0.8,
		NormalizeMissingReference: true,
		BalanceTolerance:          decimal.NewFromInt(1),
		OrphanGapDays:             30,
		OrphanMinTransactions:     3,
		Weights: MatchingWeights{
			AmountWeight:      0.4,
			DateWeight:        0.3,
			DescriptionWeight: 0.2,
			ReferenceWeight:   0.1,
		},
	}
}

// StrictMatchingConfig returns a configuration for strict matching
func StrictMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 2
	config.ExactThreshold = 0.98
	config.PartialThreshold = 0.9
	config.BalanceTolerance = decimal.RequireFromString("0.01")
	return config
}

// RelaxedMatchingConfig returns a configuration for relaxed matching
func RelaxedMatchingConfig() *MatchingConfig {
	config := DefaultMatchingConfig()
	config.DateWindowDays = 10
	config.AmountTolerancePercent = 1.0
	config.ExactThreshold = 0.9
	config.PartialThreshold = 0.7
	return config
}

// Names of the predefined matching configurations
const (
	PresetDefault = "default"
	PresetStrict  = "strict"
	PresetRelaxed = "relaxed"
)

// PresetConfig returns the named predefined configuration; an empty name
// is the default one
func PresetConfig(name string) (*MatchingConfig, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PresetDefault:
		return DefaultMatchingConfig(), nil
	case PresetStrict:
		return StrictMatchingConfig(), nil
	case PresetRelaxed:
		return RelaxedMatchingConfig(), nil
	default:
		return nil, fmt.Errorf("unknown matching preset %q", name)
	}
}

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	if mc.DateWindowDays < 0 {
		return fmt.Errorf("date window days cannot be negative: %d", mc.DateWindowDays)
	}

	if mc.AmountTolerancePercent < 0.0 || mc.AmountTolerancePercent > 100.0 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", mc.AmountTolerancePercent)
	}

	if mc.PartialThreshold < 0.0 || mc.ExactThreshold > 1.0 {
		return fmt.Errorf("match thresholds must be between 0.0 and 1.0")
	}

	if mc.PartialThreshold >= mc.ExactThreshold {
		return fmt.Errorf("partial threshold %.2f must be below exact threshold %.2f", mc.PartialThreshold, mc.ExactThreshold)
	}

	if mc.BalanceTolerance.IsNegative() {
		return fmt.Errorf("balance tolerance cannot be negative: %s", mc.BalanceTolerance)
	}

	if mc.OrphanGapDays <= 0 {
		return fmt.Errorf("orphan gap days must be positive: %d", mc.OrphanGapDays)
	}

	if mc.OrphanMinTransactions < 3 {
		return fmt.Errorf("orphan detection needs at least 3 transactions per account: %d", mc.OrphanMinTransactions)
	}

	if err := mc.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	return nil
}

// Validate checks if the matching weights are valid
func (mw *MatchingWeights) Validate() error {
	for name, w := range map[string]float64{
		"amount":      mw.AmountWeight,
		"date":        mw.DateWeight,
		"description": mw.DescriptionWeight,
		"reference":   mw.ReferenceWeight,
	} {
		if w < 0.0 || w > 1.0 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0: %f", name, w)
		}
	}

	total := mw.AmountWeight + mw.DateWeight + mw.DescriptionWeight + mw.ReferenceWeight
	if math.Abs(total-1.0) > 0.001 {
		return fmt.Errorf("weights must sum to 1.0, got %f", total)
	}

	if mw.ReferenceWeight >= 1.0 {
		return fmt.Errorf("reference weight must leave room for other criteria")
	}

	return nil
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// dateIsDecisive reports whether an entry outside the date window can never
// exceed the partial threshold, which allows restricting candidates to it
func (mc *MatchingConfig) dateIsDecisive() bool {
	w := mc.Weights
	best := w.AmountWeight + w.DescriptionWeight + w.ReferenceWeight
	if mc.NormalizeMissingReference && w.ReferenceWeight > 0 {
		noRef := (w.AmountWeight + w.DescriptionWeight) / (1 - w.ReferenceWeight)
		best = math.Max(best, noRef)
	}
	return best <= mc.PartialThreshold
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateWindow: %d days, AmountTolerance: %.2f%%, Exact: %.2f, Partial: %.2f}",
		mc.DateWindowDays, mc.AmountTolerancePercent, mc.ExactThreshold, mc.PartialThreshold)
}
