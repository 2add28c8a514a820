package similarity

import (
	"math"
	"testing"
	"time"

	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEditDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"frais", "frais", 0},
		{"intérêts", "interets", 2},
	}

	for _, tt := range tests {
		t.Run(tt.a+"/"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, EditDistance(tt.a, tt.b))
			assert.Equal(t, tt.want, EditDistance(tt.b, tt.a))
		})
	}
}

func TestStringSimilarity(t *testing.T) {
	for _, s := range []string{"a", "FRAIS", "commission virement"} {
		assert.Equal(t, 1.0, StringSimilarity(s, s), "identity for %q", s)
	}

	assert.Equal(t, 1.0, StringSimilarity("", ""))
	assert.Equal(t, 0.0, StringSimilarity("abc", ""))
	assert.Equal(t, 0.0, StringSimilarity("", "abc"))

	pairs := [][2]string{{"kitten", "sitting"}, {"frais sms", "frais tenue"}, {"a", "xyz"}}
	for _, p := range pairs {
		assert.Equal(t, StringSimilarity(p[0], p[1]), StringSimilarity(p[1], p[0]), "symmetry for %v", p)
	}

	assert.InDelta(t, 1-3.0/7.0, StringSimilarity("kitten", "sitting"), 1e-9)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"frais", "tenue", "de", "compte", "03"},
		Tokenize("FRAIS/TENUE de compte - 03 a"))
	assert.Empty(t, Tokenize("  - . x "))
}

func TestTokenSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, TokenSimilarity("", ""))
	assert.Equal(t, 0.0, TokenSimilarity("frais", ""))
	assert.Equal(t, 0.0, TokenSimilarity("", "frais"))
	assert.Equal(t, 1.0, TokenSimilarity("Frais SMS", "sms, frais!"))
	assert.InDelta(t, 1.0/3.0, TokenSimilarity("frais virement", "frais sms"), 1e-9)
}

func TestAmountSimilarity(t *testing.T) {
	d := decimal.NewFromInt

	assert.Equal(t, 1.0, AmountSimilarity(decimal.Zero, decimal.Zero, 0))
	assert.Equal(t, 0.0, AmountSimilarity(d(10), decimal.Zero, 0.5))
	assert.Equal(t, 0.0, AmountSimilarity(decimal.Zero, d(10), 0.5))

	for _, x := range []int64{-5000, 1, 123456} {
		assert.Equal(t, 1.0, AmountSimilarity(d(x), d(x), 0), "identity for %d", x)
	}

	assert.Equal(t, 1.0, AmountSimilarity(d(100), d(99), 0.02))
	assert.InDelta(t, 0.9, AmountSimilarity(d(100), d(90), 0.02), 1e-9)

	prev := 1.0
	for _, y := range []int64{98, 95, 90, 70, 40, 10} {
		got := AmountSimilarity(d(100), d(y), 0.01)
		assert.LessOrEqual(t, got, prev, "monotonic decay at %d", y)
		prev = got
	}
}

func TestTimeSimilarity(t *testing.T) {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 1.0, TimeSimilarity(base, base.Add(6*time.Hour), 5))
	assert.Equal(t, 0.0, TimeSimilarity(base, base.AddDate(0, 0, 5), 5))
	assert.Equal(t, 0.0, TimeSimilarity(base, base.AddDate(0, 0, 40), 5))
	assert.InDelta(t, math.Exp(-0.6), TimeSimilarity(base, base.AddDate(0, 0, 1), 5), 1e-9)
	assert.Equal(t, TimeSimilarity(base, base.AddDate(0, 0, 2), 5), TimeSimilarity(base.AddDate(0, 0, 2), base, 5))
}

func TestTransactionSimilarity(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := &models.Transaction{ID: "1", Amount: decimal.NewFromInt(-5000), Description: "FRAIS", OperationDate: day}
	b := &models.Transaction{ID: "2", Amount: decimal.NewFromInt(-5000), Description: "FRAIS", OperationDate: day.AddDate(0, 0, 1)}
	entry := &models.AccountingEntry{ID: "L1", Amount: decimal.NewFromInt(-5000), Description: "frais", Date: day}

	assert.InDelta(t, 1.0, TransactionSimilarity(a, a, cfg), 1e-9)
	assert.InDelta(t, 0.8+0.2*math.Exp(-0.6), TransactionSimilarity(a, b, cfg), 1e-9)
	assert.Equal(t, TransactionSimilarity(a, b, cfg), TransactionSimilarity(b, a, cfg))
	assert.InDelta(t, 1.0, TransactionSimilarity(a, entry, cfg), 1e-9)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"weights do not sum", func(c *Config) { c.Weights.Time = 0.5 }, true},
		{"negative weight", func(c *Config) { c.Weights = Weights{Amount: 1.2, Description: -0.2} }, true},
		{"tolerance too high", func(c *Config) { c.AmountTolerance = 2 }, true},
		{"zero window", func(c *Config) { c.MaxDays = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
