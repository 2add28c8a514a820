// Package similarity provides the pure scoring primitives shared by the
// detectors: string, token, amount and time proximity, and their weighted
// composite over two transaction-like records.
package similarity

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
)

// Weights are the composite similarity weights
type Weights struct {
	Amount      float64 `json:"amount" mapstructure:"amount"`
	Description float64 `json:"description" mapstructure:"description"`
	Time        float64 `json:"time" mapstructure:"time"`
}

// Config parameterises TransactionSimilarity
type Config struct {
	Weights Weights `json:"weights" mapstructure:"weights"`
	// AmountTolerance is the relative difference below which amounts count as equal
	AmountTolerance float64 `json:"amount_tolerance" mapstructure:"amount_tolerance"`
	// MaxDays is the gap at which time similarity reaches zero
	MaxDays int `json:"max_days" mapstructure:"max_days"`
}

// DefaultConfig returns weights (0.4, 0.4, 0.2), exact amounts and a 5-day horizon
func DefaultConfig() Config {
	return Config{
		Weights:         Weights{Amount: 0.4, Description: 0.4, Time: 0.2},
		AmountTolerance: 0,
		MaxDays:         5,
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	w := c.Weights
	if w.Amount < 0 || w.Description < 0 || w.Time < 0 {
		return fmt.Errorf("similarity weights cannot be negative")
	}
	total := w.Amount + w.Description + w.Time
	if math.Abs(total-1.0) > 0.001 {
		return fmt.Errorf("similarity weights must sum to 1.0, got %.3f", total)
	}
	if c.AmountTolerance < 0 || c.AmountTolerance > 1 {
		return fmt.Errorf("amount tolerance must be between 0 and 1, got %.3f", c.AmountTolerance)
	}
	if c.MaxDays <= 0 {
		return fmt.Errorf("max days must be positive, got %d", c.MaxDays)
	}
	return nil
}

// EditDistance returns the Levenshtein distance between a and b, in runes
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// StringSimilarity is 1 - distance/maxLen; 1 for equal strings and 0 when
// exactly one side is empty
func StringSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	return 1 - float64(EditDistance(a, b))/float64(max(la, lb))
}

// Tokenize lower-cases s, strips punctuation and drops tokens of one rune
func Tokenize(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return ' '
	}, s)

	fields := strings.Fields(cleaned)
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// TokenSet returns the distinct tokens of s
func TokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokenize(s) {
		set[tok] = struct{}{}
	}
	return set
}

// TokenSimilarity is the Jaccard index of the token sets of a and b
func TokenSimilarity(a, b string) float64 {
	return Jaccard(TokenSet(a), TokenSet(b))
}

// Jaccard returns |a∩b|/|a∪b|; 1 if both are empty, 0 if exactly one is
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// AmountSimilarity compares amounts by magnitude. It is 1 when the relative
// difference is within tol and decays linearly as max(0, 1 - relDiff) beyond it.
func AmountSimilarity(x, y decimal.Decimal, tol float64) float64 {
	ax, ay := x.Abs(), y.Abs()
	if ax.IsZero() && ay.IsZero() {
		return 1
	}
	if ax.IsZero() || ay.IsZero() {
		return 0
	}

	relDiff := RelativeDifference(ax, ay)
	if relDiff <= tol {
		return 1
	}
	return math.Max(0, 1-relDiff)
}

// RelativeDifference returns |x-y| / max(|x|,|y|), or 0 when both are zero
func RelativeDifference(x, y decimal.Decimal) float64 {
	denom := decimal.Max(x.Abs(), y.Abs())
	if denom.IsZero() {
		return 0
	}
	f, _ := x.Sub(y).Abs().Div(denom).Float64()
	return f
}

// TimeSimilarity is 1 at zero gap, 0 at or beyond maxDays and decays as
// exp(-gap/(maxDays/3)) in between
func TimeSimilarity(d1, d2 time.Time, maxDays int) float64 {
	gap := models.DaysBetween(d1, d2)
	if gap == 0 {
		return 1
	}
	if maxDays <= 0 || gap >= maxDays {
		return 0
	}
	return math.Exp(-float64(gap) / (float64(maxDays) / 3))
}

// TransactionSimilarity is the weighted composite of amount, token and time similarity
func TransactionSimilarity(a, b models.Comparable, cfg Config) float64 {
	amountSim := AmountSimilarity(a.CompareAmount(), b.CompareAmount(), cfg.AmountTolerance)
	descSim := TokenSimilarity(a.CompareDescription(), b.CompareDescription())
	timeSim := TimeSimilarity(a.CompareDate(), b.CompareDate(), cfg.MaxDays)

	return cfg.Weights.Amount*amountSim +
		cfg.Weights.Description*descSim +
		cfg.Weights.Time*timeSim
}

// SharedTokenRatio is the number of shared tokens over the larger token set;
// 1 if both are empty, 0 if exactly one is
func SharedTokenRatio(a, b string) float64 {
	setA, setB := TokenSet(a), TokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	shared := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			shared++
		}
	}
	return float64(shared) / float64(max(len(setA), len(setB)))
}
