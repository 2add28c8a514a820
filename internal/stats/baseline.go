// Package stats computes the amount baselines used by the outlier checks.
package stats

import (
	mstats "github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"
)

// Baseline summarises a set of amounts
type Baseline struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Compute returns the baseline of amounts. The standard deviation is the
// population one. Empty input yields the zero Baseline and a single value
// yields that value with zero deviation.
func Compute(amounts []decimal.Decimal) Baseline {
	data := toFloats(amounts)
	switch len(data) {
	case 0:
		return Baseline{}
	case 1:
		return Baseline{Count: 1, Mean: data[0], Min: data[0], Max: data[0]}
	}

	// montanaflynn only errors on empty input, excluded above
	mean, _ := mstats.Mean(data)
	stdDev, _ := mstats.StandardDeviationPopulation(data)
	lo, _ := mstats.Min(data)
	hi, _ := mstats.Max(data)

	return Baseline{
		Count:  len(data),
		Mean:   mean,
		StdDev: stdDev,
		Min:    lo,
		Max:    hi,
	}
}

// IsEmpty reports whether the baseline was computed from no data
func (b Baseline) IsEmpty() bool {
	return b.Count == 0
}

// Threshold returns mean + k·stdDev
func (b Baseline) Threshold(k float64) decimal.Decimal {
	return decimal.NewFromFloat(b.Mean + k*b.StdDev)
}

// MeanDecimal returns the mean as a decimal
func (b Baseline) MeanDecimal() decimal.Decimal {
	return decimal.NewFromFloat(b.Mean)
}

// IsOutlier reports whether amount exceeds mean + k·stdDev. A baseline with
// fewer than two points never flags.
func (b Baseline) IsOutlier(amount decimal.Decimal, k float64) bool {
	if b.Count < 2 || b.StdDev == 0 {
		return false
	}
	return amount.GreaterThan(b.Threshold(k))
}

// Percentile returns the empirical p-th percentile (0 < p ≤ 100) over a
// sorted copy of amounts. Empty input or an out-of-range p yields zero.
func Percentile(amounts []decimal.Decimal, p float64) decimal.Decimal {
	data := toFloats(amounts)
	if len(data) == 0 {
		return decimal.Zero
	}
	v, err := mstats.Percentile(data, p)
	if err != nil {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func toFloats(amounts []decimal.Decimal) mstats.Float64Data {
	data := make(mstats.Float64Data, 0, len(amounts))
	for _, a := range amounts {
		f, _ := a.Float64()
		data = append(data, f)
	}
	return data
}
