package stats

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func amounts(values ...int64) []decimal.Decimal {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		out[i] = decimal.NewFromInt(v)
	}
	return out
}

func TestCompute(t *testing.T) {
	b := Compute(amounts(2, 4, 4, 4, 5, 5, 7, 9))

	assert.Equal(t, 8, b.Count)
	assert.InDelta(t, 5.0, b.Mean, 1e-9)
	assert.InDelta(t, 2.0, b.StdDev, 1e-9)
	assert.Equal(t, 2.0, b.Min)
	assert.Equal(t, 9.0, b.Max)
	assert.True(t, b.Threshold(2).Equal(decimal.NewFromInt(9)))
}

func TestComputeDegenerate(t *testing.T) {
	empty := Compute(nil)
	assert.True(t, empty.IsEmpty())
	assert.Equal(t, Baseline{}, empty)
	assert.False(t, empty.IsOutlier(decimal.NewFromInt(1_000_000), 2))

	single := Compute(amounts(1500))
	assert.Equal(t, Baseline{Count: 1, Mean: 1500, Min: 1500, Max: 1500}, single)
	assert.False(t, single.IsOutlier(decimal.NewFromInt(1_000_000), 2))
}

func TestIsOutlier(t *testing.T) {
	b := Compute(amounts(2, 4, 4, 4, 5, 5, 7, 9))

	assert.False(t, b.IsOutlier(decimal.NewFromInt(10), 2.5))
	assert.True(t, b.IsOutlier(decimal.NewFromInt(11), 2.5))
}

func TestPercentile(t *testing.T) {
	data := amounts(15, 20, 35, 40, 50)

	assert.True(t, Percentile(data, 100).Equal(decimal.NewFromInt(50)))
	assert.True(t, Percentile(data, 40).Equal(decimal.NewFromInt(20)))
	assert.True(t, Percentile(amounts(7), 95).Equal(decimal.NewFromInt(7)))
	assert.True(t, Percentile(nil, 95).IsZero())
	assert.True(t, Percentile(data, 0).IsZero())
}
