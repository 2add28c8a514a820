package matcher

import (
	"math"
	"testing"
	"time"

	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func bankTx(id string, amount int64, offset int, desc, ref string) *models.Transaction {
	return &models.Transaction{
		ID:            id,
		AccountID:     "ACC1",
		OperationDate: day0.AddDate(0, 0, offset),
		Amount:        decimal.NewFromInt(amount),
		Description:   desc,
		Reference:     ref,
	}
}

func entry(id string, amount int64, offset int, desc, ref string) *models.AccountingEntry {
	return &models.AccountingEntry{
		ID:          id,
		Date:        day0.AddDate(0, 0, offset),
		Amount:      decimal.NewFromInt(amount),
		Description: desc,
		Reference:   ref,
	}
}

func TestScore(t *testing.T) {
	engine := NewMatchingEngine(DefaultMatchingConfig())

	tests := []struct {
		name  string
		tx    *models.Transaction
		entry *models.AccountingEntry
		want  float64
	}{
		{
			name:  "identical without references",
			tx:    bankTx("T1", -15000, 0, "VIREMENT FOURNISSEUR ABC", ""),
			entry: entry("L1", -15000, 0, "virement fournisseur abc", ""),
			want:  1.0,
		},
		{
			name:  "identical with references",
			tx:    bankTx("T1", -15000, 0, "VIREMENT", "REF-9"),
			entry: entry("L1", -15000, 0, "virement", "ref-9"),
			want:  1.0,
		},
		{
			name:  "reference on one side only",
			tx:    bankTx("T1", -15000, 0, "VIREMENT", "REF-9"),
			entry: entry("L1", -15000, 0, "virement", ""),
			want:  0.9,
		},
		{
			name:  "two days apart",
			tx:    bankTx("T1", -15000, 0, "VIREMENT", ""),
			entry: entry("L1", -15000, 2, "virement", ""),
			want:  (0.4 + 0.3*0.6 + 0.2) / 0.9,
		},
		{
			name:  "outside date window",
			tx:    bankTx("T1", -15000, 0, "VIREMENT", ""),
			entry: entry("L1", -15000, 9, "virement", ""),
			want:  0.6 / 0.9,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Score(tt.tx, tt.entry)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReconcileIdenticalIsExact(t *testing.T) {
	engine := NewMatchingEngine(DefaultMatchingConfig())

	result := engine.Reconcile(
		[]*models.Transaction{bankTx("T1", -15000, 0, "PRLV EDF", "")},
		[]*models.AccountingEntry{entry("L1", -15000, 0, "PRLV EDF", "")},
	)

	if len(result.Matches) != 1 {
		t.Fatalf("expected 1 match result, got %d", len(result.Matches))
	}
	match := result.Matches[0]
	if match.Tier != TierExact {
		t.Errorf("expected exact tier, got %s", match.Tier)
	}
	if math.Abs(match.Score-1.0) > 1e-9 {
		t.Errorf("expected score 1.0, got %v", match.Score)
	}
	if len(result.UnmatchedEntries) != 0 || len(result.UnmatchedTransactions) != 0 {
		t.Errorf("expected nothing unmatched, got %+v", result.Summary)
	}
}

func TestReconcileConsumesEntriesOnce(t *testing.T) {
	engine := NewMatchingEngine(DefaultMatchingConfig())

	transactions := []*models.Transaction{
		bankTx("T1", -5000, 0, "FRAIS TENUE COMPTE", ""),
		bankTx("T2", -5000, 0, "FRAIS TENUE COMPTE", ""),
		bankTx("T3", -5000, 0, "FRAIS TENUE COMPTE", ""),
	}
	entries := []*models.AccountingEntry{
		entry("L1", -5000, 0, "frais tenue compte", ""),
		entry("L2", -5000, 1, "frais tenue compte", ""),
	}

	result := engine.Reconcile(transactions, entries)

	seen := make(map[string]string)
	for _, m := range result.Matches {
		if m.Tier == TierUnmatched {
			continue
		}
		if prev, dup := seen[m.Entry.ID]; dup {
			t.Errorf("entry %s matched to both %s and %s", m.Entry.ID, prev, m.Transaction.ID)
		}
		seen[m.Entry.ID] = m.Transaction.ID
	}

	if seen["L1"] != "T1" {
		t.Errorf("expected first transaction to take the same-day entry, got %q", seen["L1"])
	}
	if seen["L2"] != "T2" {
		t.Errorf("expected second transaction to take the next-day entry, got %q", seen["L2"])
	}
	if result.Matches[1].Tier != TierPartial {
		t.Errorf("expected one-day gap to be partial, got %s", result.Matches[1].Tier)
	}
	if len(result.UnmatchedTransactions) != 1 || result.UnmatchedTransactions[0].ID != "T3" {
		t.Errorf("expected T3 unmatched, got %v", result.UnmatchedTransactions)
	}
	if result.Summary.ExactMatches != 1 || result.Summary.PartialMatches != 1 {
		t.Errorf("unexpected summary: %s", result.Summary)
	}
}

func TestReconcileLeavesLowScoresAvailable(t *testing.T) {
	engine := NewMatchingEngine(DefaultMatchingConfig())

	transactions := []*models.Transaction{
		bankTx("T1", -999, 0, "RETRAIT GAB", ""),
		bankTx("T2", -20000, 0, "LOYER MARS", ""),
	}
	entries := []*models.AccountingEntry{entry("L1", -20000, 0, "loyer mars", "")}

	result := engine.Reconcile(transactions, entries)

	if result.Matches[0].Tier != TierUnmatched {
		t.Fatalf("expected T1 unmatched, got %s", result.Matches[0].Tier)
	}
	if result.Matches[0].Entry == nil || result.Matches[0].Entry.ID != "L1" {
		t.Errorf("expected best candidate to be reported for unmatched result")
	}
	if result.Matches[1].Tier != TierExact || result.Matches[1].Entry.ID != "L1" {
		t.Errorf("expected L1 to remain available for T2")
	}
	if len(result.UnmatchedEntries) != 0 {
		t.Errorf("expected no unmatched entries, got %d", len(result.UnmatchedEntries))
	}
}

func TestReconcileReportsUnusedEntries(t *testing.T) {
	engine := NewMatchingEngine(DefaultMatchingConfig())

	result := engine.Reconcile(nil, []*models.AccountingEntry{
		entry("L1", -100, 0, "a", ""),
		entry("L2", -200, 3, "b", ""),
	})

	if len(result.UnmatchedEntries) != 2 {
		t.Errorf("expected 2 unmatched entries, got %d", len(result.UnmatchedEntries))
	}
	if result.Summary.TotalEntries != 2 {
		t.Errorf("expected 2 total entries, got %d", result.Summary.TotalEntries)
	}
}

func TestRelaxedConfigScansAllEntries(t *testing.T) {
	config := RelaxedMatchingConfig()
	config.PartialThreshold = 0.6
	if config.dateIsDecisive() {
		t.Fatal("expected relaxed thresholds to require a full scan")
	}

	engine := NewMatchingEngine(config)
	result := engine.Reconcile(
		[]*models.Transaction{bankTx("T1", -7000, 0, "ABONNEMENT SMS", "")},
		[]*models.AccountingEntry{entry("L1", -7000, 20, "abonnement sms", "")},
	)

	if result.Matches[0].Tier != TierPartial {
		t.Errorf("expected distant entry to match partially, got %s (score %v)", result.Matches[0].Tier, result.Matches[0].Score)
	}
}

func TestMatchingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*MatchingConfig)
		wantErr bool
	}{
		{"default", func(*MatchingConfig) {}, false},
		{"negative window", func(c *MatchingConfig) { c.DateWindowDays = -1 }, true},
		{"inverted thresholds", func(c *MatchingConfig) { c.PartialThreshold = 0.97 }, true},
		{"weights do not sum", func(c *MatchingConfig) { c.Weights.ReferenceWeight = 0.5 }, true},
		{"negative tolerance", func(c *MatchingConfig) { c.BalanceTolerance = decimal.NewFromInt(-1) }, true},
		{"tiny orphan account", func(c *MatchingConfig) { c.OrphanMinTransactions = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultMatchingConfig()
			tt.mutate(config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	for _, config := range []*MatchingConfig{StrictMatchingConfig(), RelaxedMatchingConfig()} {
		if err := config.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", config, err)
		}
	}
}

func TestMatchingConfigClone(t *testing.T) {
	original := DefaultMatchingConfig()
	clone := original.Clone()
	clone.DateWindowDays = 9

	if original.DateWindowDays == 9 {
		t.Error("expected clone to be independent of the original")
	}
}

func TestPresetConfig(t *testing.T) {
	tests := []struct {
		name       string
		wantWindow int
		wantErr    bool
	}{
		{"", DefaultMatchingConfig().DateWindowDays, false},
		{"default", DefaultMatchingConfig().DateWindowDays, false},
		{" Strict ", StrictMatchingConfig().DateWindowDays, false},
		{"relaxed", RelaxedMatchingConfig().DateWindowDays, false},
		{"fuzzy", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := PresetConfig(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Error("expected an error for an unknown preset")
				}
				return
			}
			if err != nil {
				t.Fatalf("PresetConfig() error = %v", err)
			}
			if config.DateWindowDays != tt.wantWindow {
				t.Errorf("expected window %d, got %d", tt.wantWindow, config.DateWindowDays)
			}
		})
	}
}
