package detector

import (
	"fmt"

	"bank-fee-auditor/internal/similarity"

	"github.com/shopspring/decimal"
)

// DuplicateMode selects the duplicate detector variant
type DuplicateMode string

const (
	// DuplicateModeBasic reports groups from the transactions alone
	DuplicateModeBasic DuplicateMode = "basic"
	// DuplicateModeWithSourceEvidence also cites the matching contractual
	// fee entry when bank conditions are available
	DuplicateModeWithSourceEvidence DuplicateMode = "with_source_evidence"
)

// DuplicateConfig configures the duplicate detector
type DuplicateConfig struct {
	// WindowDays is the largest gap between an anchor and a candidate
	WindowDays int `json:"window_days" mapstructure:"window_days"`
	// Threshold is the minimum composite similarity of a duplicate
	Threshold float64 `json:"threshold" mapstructure:"threshold"`
	// Similarity weights and amount tolerance; MaxDays follows WindowDays
	Similarity similarity.Config `json:"similarity" mapstructure:"similarity"`
	// SameAccountOnly restricts groups to a single account
	SameAccountOnly bool          `json:"same_account_only" mapstructure:"same_account_only"`
	Mode            DuplicateMode `json:"mode" mapstructure:"mode"`
}

// DefaultDuplicateConfig returns a 5-day window and a 0.85 threshold
func DefaultDuplicateConfig() *DuplicateConfig {
	return &DuplicateConfig{
		WindowDays:      5,
		Threshold:       0.85,
		Similarity:      similarity.DefaultConfig(),
		SameAccountOnly: true,
		Mode:            DuplicateModeWithSourceEvidence,
	}
}

// Validate validates the configuration
func (c *DuplicateConfig) Validate() error {
	if c.WindowDays <= 0 {
		return fmt.Errorf("duplicate window days must be positive, got %d", c.WindowDays)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("duplicate threshold must be in (0,1], got %.3f", c.Threshold)
	}
	if c.Mode != DuplicateModeBasic && c.Mode != DuplicateModeWithSourceEvidence {
		return fmt.Errorf("unknown duplicate mode %q", c.Mode)
	}
	sim := c.Similarity
	sim.MaxDays = c.WindowDays
	if err := sim.Validate(); err != nil {
		return fmt.Errorf("duplicate similarity: %w", err)
	}
	return nil
}

// GhostFeeConfig configures the ghost fee detector
type GhostFeeConfig struct {
	// MinConfidence is the suspicion score a fee must reach to be flagged
	MinConfidence float64 `json:"min_confidence" mapstructure:"min_confidence"`
	// ServiceWindowDays is how far an associated service may be from the fee
	ServiceWindowDays int `json:"service_window_days" mapstructure:"service_window_days"`
	// AssociationTokenSimilarity is the token similarity linking fee and service
	AssociationTokenSimilarity float64 `json:"association_token_similarity" mapstructure:"association_token_similarity"`
	// RoundAmountUnit makes multiples of it count as round amounts
	RoundAmountUnit decimal.Decimal `json:"round_amount_unit" mapstructure:"round_amount_unit"`
	// LowEntropy and HighEntropy bound description entropy in bits per character
	LowEntropy  float64 `json:"low_entropy" mapstructure:"low_entropy"`
	HighEntropy float64 `json:"high_entropy" mapstructure:"high_entropy"`
	// RecurrenceMonths is the trailing period searched for a recurring pattern
	RecurrenceMonths int `json:"recurrence_months" mapstructure:"recurrence_months"`
	// RecurrenceMinOccurrences is how many earlier occurrences make a pattern
	RecurrenceMinOccurrences int `json:"recurrence_min_occurrences" mapstructure:"recurrence_min_occurrences"`
	// RecurrenceTokenSimilarity is the description similarity of a recurrence
	RecurrenceTokenSimilarity float64 `json:"recurrence_token_similarity" mapstructure:"recurrence_token_similarity"`
	// MonthEndDays is the number of final days of a month that add suspicion
	MonthEndDays int `json:"month_end_days" mapstructure:"month_end_days"`
}

// DefaultGhostFeeConfig returns the documented ghost fee defaults
func DefaultGhostFeeConfig() *GhostFeeConfig {
	return &GhostFeeConfig{
		MinConfidence:              0.5,
		ServiceWindowDays:          1,
		AssociationTokenSimilarity: 0.3,
		RoundAmountUnit:            decimal.NewFromInt(500),
		LowEntropy:                 2.5,
		HighEntropy:                4.5,
		RecurrenceMonths:           3,
		RecurrenceMinOccurrences:   2,
		RecurrenceTokenSimilarity:  0.8,
		MonthEndDays:               2,
	}
}

// Validate validates the configuration
func (c *GhostFeeConfig) Validate() error {
	if c.MinConfidence <= 0 || c.MinConfidence > 1 {
		return fmt.Errorf("ghost fee min confidence must be in (0,1], got %.3f", c.MinConfidence)
	}
	if c.ServiceWindowDays < 0 {
		return fmt.Errorf("ghost fee service window cannot be negative, got %d", c.ServiceWindowDays)
	}
	if c.AssociationTokenSimilarity < 0 || c.AssociationTokenSimilarity > 1 {
		return fmt.Errorf("association token similarity must be in [0,1], got %.3f", c.AssociationTokenSimilarity)
	}
	if !c.RoundAmountUnit.IsPositive() {
		return fmt.Errorf("round amount unit must be positive, got %s", c.RoundAmountUnit)
	}
	if c.LowEntropy < 0 || c.HighEntropy <= c.LowEntropy {
		return fmt.Errorf("entropy thresholds must satisfy 0 <= low < high, got %.2f/%.2f", c.LowEntropy, c.HighEntropy)
	}
	if c.RecurrenceMonths <= 0 || c.RecurrenceMinOccurrences <= 0 {
		return fmt.Errorf("recurrence months and occurrences must be positive")
	}
	if c.MonthEndDays < 0 || c.MonthEndDays > 27 {
		return fmt.Errorf("month end days must be between 0 and 27, got %d", c.MonthEndDays)
	}
	return nil
}

// OverchargeConfig configures the overcharge analyzer
type OverchargeConfig struct {
	// Tolerance is the fraction above the expected amount still accepted
	Tolerance float64 `json:"tolerance" mapstructure:"tolerance"`
	// UseHistorical enables the historical baseline check
	UseHistorical bool `json:"use_historical" mapstructure:"use_historical"`
	// HistoricalMultiplier flags charges above this multiple of the historical mean
	HistoricalMultiplier float64 `json:"historical_multiplier" mapstructure:"historical_multiplier"`
	// OutlierK is the k of the mean + k·stdDev outlier evidence
	OutlierK float64 `json:"outlier_k" mapstructure:"outlier_k"`
	// ReviewThreshold is the amount above which unmatched fees become review candidates
	ReviewThreshold decimal.Decimal `json:"review_threshold" mapstructure:"review_threshold"`
	// FeesOnly restricts the analysis to fee-like debits
	FeesOnly bool `json:"fees_only" mapstructure:"fees_only"`
}

// DefaultOverchargeConfig returns a 2% tolerance and a 1.2× historical multiplier
func DefaultOverchargeConfig() *OverchargeConfig {
	return &OverchargeConfig{
		Tolerance:            0.02,
		UseHistorical:        true,
		HistoricalMultiplier: 1.2,
		OutlierK:             2.5,
		ReviewThreshold:      decimal.NewFromInt(50000),
		FeesOnly:             true,
	}
}

// Validate validates the configuration
func (c *OverchargeConfig) Validate() error {
	if c.Tolerance < 0 || c.Tolerance > 1 {
		return fmt.Errorf("overcharge tolerance must be in [0,1], got %.3f", c.Tolerance)
	}
	if c.HistoricalMultiplier < 1 {
		return fmt.Errorf("historical multiplier must be at least 1, got %.3f", c.HistoricalMultiplier)
	}
	if c.OutlierK <= 0 {
		return fmt.Errorf("outlier k must be positive, got %.3f", c.OutlierK)
	}
	if c.ReviewThreshold.IsNegative() {
		return fmt.Errorf("review threshold cannot be negative, got %s", c.ReviewThreshold)
	}
	return nil
}

// InterestConfig configures the interest verifier
type InterestConfig struct {
	// FixedTolerance is the minimum absolute tolerance
	FixedTolerance decimal.Decimal `json:"fixed_tolerance" mapstructure:"fixed_tolerance"`
	// PercentTolerance is the tolerance as a fraction of the theoretical charge
	PercentTolerance float64 `json:"percent_tolerance" mapstructure:"percent_tolerance"`
	// RateMismatchRatio and DayCountErrorRatio tag the probable cause
	RateMismatchRatio  float64 `json:"rate_mismatch_ratio" mapstructure:"rate_mismatch_ratio"`
	DayCountErrorRatio float64 `json:"day_count_error_ratio" mapstructure:"day_count_error_ratio"`
	// ReportUndercharge also reports charges below the recomputed interest,
	// with no recoverable amount
	ReportUndercharge bool `json:"report_undercharge" mapstructure:"report_undercharge"`
}

// DefaultInterestConfig returns a tolerance of max(1, 2%) and cause ratios 1.5/1.1
func DefaultInterestConfig() *InterestConfig {
	return &InterestConfig{
		FixedTolerance:     decimal.NewFromInt(1),
		PercentTolerance:   0.02,
		RateMismatchRatio:  1.5,
		DayCountErrorRatio: 1.1,
	}
}

// Validate validates the configuration
func (c *InterestConfig) Validate() error {
	if c.FixedTolerance.IsNegative() {
		return fmt.Errorf("interest fixed tolerance cannot be negative, got %s", c.FixedTolerance)
	}
	if c.PercentTolerance < 0 || c.PercentTolerance > 1 {
		return fmt.Errorf("interest percent tolerance must be in [0,1], got %.3f", c.PercentTolerance)
	}
	if c.DayCountErrorRatio < 1 || c.RateMismatchRatio <= c.DayCountErrorRatio {
		return fmt.Errorf("cause ratios must satisfy 1 <= day-count < rate, got %.2f/%.2f", c.DayCountErrorRatio, c.RateMismatchRatio)
	}
	return nil
}
