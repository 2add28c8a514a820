package detector

import (
	"fmt"
	"testing"
	"time"

	"bank-fee-auditor/internal/matcher"
	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseDay = time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)

func newTx(id string, offset int, amount float64, description string) *models.Transaction {
	return &models.Transaction{
		ID:            id,
		AccountID:     "ACC-1",
		BankID:        "BNK",
		OperationDate: baseDay.AddDate(0, 0, offset),
		ValueDate:     baseDay.AddDate(0, 0, offset),
		Amount:        decimal.NewFromFloat(amount),
		Description:   description,
		Type:          models.TransactionTypeDebit,
	}
}

func feeTx(id string, offset int, amount float64, description string) *models.Transaction {
	tx := newTx(id, offset, amount, description)
	tx.Type = models.TransactionTypeFee
	return tx
}

func ofType(anomalies []*models.Anomaly, t models.AnomalyType) []*models.Anomaly {
	var out []*models.Anomaly
	for _, a := range anomalies {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

func TestParseNames(t *testing.T) {
	names, err := ParseNames(nil)
	require.NoError(t, err)
	assert.Equal(t, AllNames, names)

	names, err = ParseNames([]string{" Ghost_Fee", "duplicate", "ghost_fee"})
	require.NoError(t, err)
	assert.Equal(t, []Name{NameGhostFee, NameDuplicate}, names)

	_, err = ParseNames([]string{"structuring"})
	assert.Error(t, err)

	_, err = ParseNames([]string{" ", ""})
	assert.Error(t, err)
}

func TestBuild(t *testing.T) {
	detectors, err := Build(Configs{}, AllNames)
	require.NoError(t, err)
	require.Len(t, detectors, len(AllNames))
	for i, d := range detectors {
		assert.Equal(t, AllNames[i], d.Name())
	}

	bad := DefaultConfigs()
	bad.Duplicate.Threshold = 2
	_, err = Build(bad, []Name{NameDuplicate})
	assert.ErrorContains(t, err, "duplicate")
}

func TestConfigValidation(t *testing.T) {
	assert.NoError(t, DefaultDuplicateConfig().Validate())
	assert.NoError(t, DefaultGhostFeeConfig().Validate())
	assert.NoError(t, DefaultOverchargeConfig().Validate())
	assert.NoError(t, DefaultInterestConfig().Validate())

	dup := DefaultDuplicateConfig()
	dup.Mode = "fuzzy"
	assert.Error(t, dup.Validate())

	ghost := DefaultGhostFeeConfig()
	ghost.HighEntropy = ghost.LowEntropy
	assert.Error(t, ghost.Validate())

	over := DefaultOverchargeConfig()
	over.HistoricalMultiplier = 0.9
	assert.Error(t, over.Validate())

	interest := DefaultInterestConfig()
	interest.RateMismatchRatio = 1.05
	assert.Error(t, interest.Validate())
}

func TestPatterns(t *testing.T) {
	tests := []struct {
		description string
		service     models.ServiceType
	}{
		{"FRAIS TENUE DE COMPTE", models.ServiceAccountMaintenance},
		{"COMMISSION VIREMENT INTERNATIONAL", models.ServiceTransferInternational},
		{"FRAIS VIREMENT SEPA", models.ServiceTransferNational},
		{"COTISATION CARTE VISA", models.ServiceCard},
		{"FRAIS RETRAIT DAB", models.ServiceATM},
		{"COMMISSION D'INTERVENTION", models.ServiceOverdraft},
		{"ABONNEMENT ALERTES SMS", models.ServiceSMS},
		{"FRAIS RELEVÉ MENSUEL", models.ServiceStatement},
		{"FRAIS DIVERS", models.ServiceOther},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			assert.Equal(t, tt.service, ClassifyService(tt.description))
		})
	}

	assert.True(t, MatchesCategory("PÉNALITÉ DE RETARD", CategoryFee))
	assert.False(t, MatchesCategory("PENALITEXYZ", CategoryFee))
	assert.True(t, MatchesCategory("Frais", CategoryVague))
	assert.True(t, IsInterestCharge(newTx("i", 0, -10, "AGIOS TRIMESTRE")))
	assert.False(t, IsFeeLike(newTx("i", 0, -10, "AGIOS TRIMESTRE")))
	assert.False(t, IsFeeLike(newTx("c", 0, 10, "FRAIS REMBOURSES")))
	assert.True(t, IsFeeLike(feeTx("f", 0, -10, "OPERATION 1234")))
}

func TestDuplicateDetector(t *testing.T) {
	d, err := NewDuplicateDetector(nil)
	require.NoError(t, err)

	t.Run("identical debits one day apart are grouped", func(t *testing.T) {
		anomalies := d.Detect(&Input{Transactions: []*models.Transaction{
			newTx("a", 0, -2500, "FRAIS VIREMENT SEPA"),
			newTx("b", 1, -2500, "FRAIS VIREMENT SEPA"),
		}})
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.Equal(t, models.AnomalyDuplicateFee, a.Type)
		assert.GreaterOrEqual(t, a.Confidence, 0.85)
		assert.True(t, a.Amount.Equal(decimal.NewFromInt(2500)))
		assert.Equal(t, models.SeverityMedium, a.Severity)
		assert.Equal(t, []string{"a", "b"}, a.TransactionIDs())
	})

	t.Run("transactions outside the window are never grouped", func(t *testing.T) {
		anomalies := d.Detect(&Input{Transactions: []*models.Transaction{
			newTx("a", 0, -2500, "FRAIS VIREMENT SEPA"),
			newTx("b", 40, -2500, "FRAIS VIREMENT SEPA"),
		}})
		assert.Empty(t, anomalies)
	})

	t.Run("credits and other accounts are ignored", func(t *testing.T) {
		other := newTx("b", 1, -2500, "FRAIS VIREMENT SEPA")
		other.AccountID = "ACC-2"
		anomalies := d.Detect(&Input{Transactions: []*models.Transaction{
			newTx("a", 0, -2500, "FRAIS VIREMENT SEPA"),
			other,
			newTx("c", 1, 2500, "FRAIS VIREMENT SEPA"),
		}})
		assert.Empty(t, anomalies)
	})

	t.Run("a transaction belongs to one group only", func(t *testing.T) {
		var txs []*models.Transaction
		for i := 0; i < 5; i++ {
			txs = append(txs, newTx(fmt.Sprintf("t%d", i), i, -12000, "COMMISSION CARTE"))
		}
		anomalies := d.Detect(&Input{Transactions: txs})
		seen := map[string]bool{}
		for _, a := range anomalies {
			for _, id := range a.TransactionIDs() {
				assert.False(t, seen[id], "transaction %s grouped twice", id)
				seen[id] = true
			}
		}
		require.NotEmpty(t, anomalies)
		assert.Equal(t, models.SeverityHigh, anomalies[0].Severity)
	})

	t.Run("source evidence cites the contractual fee", func(t *testing.T) {
		conditions := &models.BankConditions{
			BankID: "BNK",
			Fees: []models.FeeScheduleEntry{
				{Code: "VIR01", Name: "Frais virement SEPA", Kind: models.PricingFixed, Amount: decimal.NewFromInt(2500)},
			},
		}
		input := &Input{
			Transactions: []*models.Transaction{
				newTx("a", 0, -2500, "FRAIS VIREMENT SEPA"),
				newTx("b", 1, -2500, "FRAIS VIREMENT SEPA"),
			},
			Conditions: conditions,
		}

		anomalies := d.Detect(input)
		require.Len(t, anomalies, 1)
		value, ok := anomalies[0].EvidenceValue("contract_fee")
		require.True(t, ok)
		assert.Equal(t, "VIR01", value)
		assert.Contains(t, anomalies[0].Recommendation, "contract")

		cfg := DefaultDuplicateConfig()
		cfg.Mode = DuplicateModeBasic
		basic, err := NewDuplicateDetector(cfg)
		require.NoError(t, err)
		anomalies = basic.Detect(input)
		require.Len(t, anomalies, 1)
		_, ok = anomalies[0].EvidenceValue("contract_fee")
		assert.False(t, ok)
	})
}

func TestGhostFeeDetector(t *testing.T) {
	g, err := NewGhostFeeDetector(nil)
	require.NoError(t, err)

	t.Run("vague fee without service is flagged", func(t *testing.T) {
		anomalies := g.Detect(&Input{Transactions: []*models.Transaction{
			feeTx("f", 0, -5000, "FRAIS DIVERS"),
		}})
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.Equal(t, models.AnomalyGhostFee, a.Type)
		assert.GreaterOrEqual(t, a.Confidence, 0.5)
		assert.Equal(t, models.SeverityLow, a.Severity)
		_, ok := a.EvidenceValue("no_associated_service")
		assert.True(t, ok)
	})

	t.Run("fee with an associated transfer is never flagged", func(t *testing.T) {
		fee := feeTx("f", 0, -5000, "FRAIS DIVERS VIREMENT")
		fee.Reference = ""
		anomalies := g.Detect(&Input{Transactions: []*models.Transaction{
			fee,
			newTx("v", 0, -150000, "VIREMENT SEPA FOURNISSEUR"),
		}})
		assert.Empty(t, anomalies)
	})

	t.Run("descriptive fee with reference is not flagged", func(t *testing.T) {
		fee := feeTx("f", 3, -1234.56, "COTISATION ANNUELLE CARTE VISA PREMIER GOLD")
		fee.Reference = "CB-2024-0042"
		assert.Empty(t, g.Detect(&Input{Transactions: []*models.Transaction{fee}}))
	})

	t.Run("recurring pattern escalates severity", func(t *testing.T) {
		txs := []*models.Transaction{
			feeTx("m1", -60, -7500, "FRAIS DIVERS"),
			feeTx("m2", -30, -7500, "FRAIS DIVERS"),
			feeTx("m3", 0, -7500, "FRAIS DIVERS"),
		}
		anomalies := g.Detect(&Input{Transactions: txs})
		require.Len(t, anomalies, 3)
		last := anomalies[2]
		assert.Equal(t, "m3", last.Transactions[0].ID)
		assert.Equal(t, models.SeverityCritical, last.Severity)
		occurrences, ok := last.EvidenceValue("recurring_pattern")
		require.True(t, ok)
		assert.Equal(t, 2, occurrences)
	})
}

func TestDescriptionSignals(t *testing.T) {
	assert.InDelta(t, 1.0, DescriptionSuspicion("FRAIS"), 1e-9)
	assert.InDelta(t, 0.0, DescriptionSuspicion("COTISATION CARTE VISA PREMIER"), 1e-9)
	assert.Equal(t, 0.0, ShannonEntropy(""))
	assert.InDelta(t, 0.0, ShannonEntropy("aaaa"), 1e-9)
	assert.InDelta(t, 2.0, ShannonEntropy("abcd"), 1e-9)
}

func scheduleConditions() *models.BankConditions {
	return &models.BankConditions{
		BankID:   "BNK",
		Currency: "XAF",
		Fees: []models.FeeScheduleEntry{
			{Code: "TC", Name: "Tenue de compte", Kind: models.PricingFixed, Amount: decimal.NewFromInt(10000)},
			{
				Code: "VINT", Name: "Virement international", Kind: models.PricingPercentage,
				Rate: decimal.NewNullDecimal(decimal.RequireFromString("0.01")),
				Min:  decimal.NewNullDecimal(decimal.NewFromInt(5000)),
				Max:  decimal.NewNullDecimal(decimal.NewFromInt(50000)),
			},
		},
		Interest: models.InterestTerms{DebitRate: decimal.RequireFromString("0.12"), DayCount: models.DayCountACT360},
	}
}

func TestOverchargeAnalyzer(t *testing.T) {
	o, err := NewOverchargeAnalyzer(nil)
	require.NoError(t, err)
	conditions := scheduleConditions()

	t.Run("schedule amount never flags", func(t *testing.T) {
		anomalies := o.Detect(&Input{
			Transactions: []*models.Transaction{feeTx("f", 0, -10000, "FRAIS TENUE DE COMPTE")},
			Conditions:   conditions,
		})
		assert.Empty(t, anomalies)
	})

	t.Run("ten percent above schedule flags the excess", func(t *testing.T) {
		anomalies := o.Detect(&Input{
			Transactions: []*models.Transaction{feeTx("f", 0, -11000, "FRAIS TENUE DE COMPTE")},
			Conditions:   conditions,
		})
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.Equal(t, models.AnomalyOvercharge, a.Type)
		assert.True(t, a.Amount.Equal(decimal.NewFromInt(1000)), "excess %s", a.Amount)
		assert.InDelta(t, 0.85, a.Confidence, 1e-9)
		assert.Equal(t, models.SeverityLow, a.Severity)
	})

	t.Run("percentage fee uses the same-day principal", func(t *testing.T) {
		txs := []*models.Transaction{
			newTx("p", 0, -2000000, "VIREMENT INTERNATIONAL SWIFT"),
			feeTx("f", 0, -30000, "COMMISSION VIREMENT INTERNATIONAL"),
		}
		anomalies := o.Detect(&Input{Transactions: txs, Conditions: conditions})
		require.Len(t, anomalies, 1)
		assert.True(t, anomalies[0].Amount.Equal(decimal.NewFromInt(10000)), "excess %s", anomalies[0].Amount)
	})

	t.Run("percentage fee falls back to the minimum", func(t *testing.T) {
		anomalies := o.Detect(&Input{
			Transactions: []*models.Transaction{feeTx("f", 0, -5000, "COMMISSION VIREMENT INTERNATIONAL")},
			Conditions:   conditions,
		})
		assert.Empty(t, anomalies)
	})

	t.Run("historical mean is used without a schedule", func(t *testing.T) {
		historical := models.HistoricalFees{
			models.ServiceSMS: {
				{Date: baseDay.AddDate(0, -3, 0), Amount: decimal.NewFromInt(1000)},
				{Date: baseDay.AddDate(0, -2, 0), Amount: decimal.NewFromInt(1000)},
				{Date: baseDay.AddDate(0, -1, 0), Amount: decimal.NewFromInt(1000)},
			},
		}
		anomalies := o.Detect(&Input{
			Transactions: []*models.Transaction{feeTx("f", 0, -1500, "ABONNEMENT ALERTES SMS")},
			Historical:   historical,
		})
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.True(t, a.Amount.Equal(decimal.NewFromInt(500)), "excess %s", a.Amount)
		assert.InDelta(t, 0.75, a.Confidence, 1e-9)
	})

	t.Run("high value unmatched fee becomes a review candidate", func(t *testing.T) {
		anomalies := o.Detect(&Input{
			Transactions: []*models.Transaction{feeTx("f", 0, -75000, "COMMISSION EXCEPTIONNELLE")},
			Conditions:   conditions,
		})
		require.Len(t, anomalies, 1)
		assert.Equal(t, models.AnomalyFeeReview, anomalies[0].Type)
		assert.Equal(t, models.SeverityLow, anomalies[0].Severity)
		assert.False(t, anomalies[0].CountsTowardRecovery())
	})
}

func TestMatchScheduleEntry(t *testing.T) {
	conditions := scheduleConditions()

	entry := matchScheduleEntry(feeTx("f", 0, -1, "FRAIS TC MARS"), conditions)
	require.NotNil(t, entry)
	assert.Equal(t, "TC", entry.Code)

	entry = matchScheduleEntry(feeTx("f", 0, -1, "VIREMENT INTERNATIONAL"), conditions)
	require.NotNil(t, entry)
	assert.Equal(t, "VINT", entry.Code)

	entry = matchScheduleEntry(feeTx("f", 0, -1, "COMMISSION TRANSFERT SWIFT"), conditions)
	require.NotNil(t, entry)
	assert.Equal(t, "VINT", entry.Code)

	assert.Nil(t, matchScheduleEntry(feeTx("f", 0, -1, "FRAIS DIVERS"), conditions))
	assert.Nil(t, matchScheduleEntry(feeTx("f", 0, -1, "FRAIS TC"), nil))
}

func flatBalances(start time.Time, days int, balance int64) []*models.DailyBalance {
	series := make([]*models.DailyBalance, 0, days)
	for i := 0; i < days; i++ {
		series = append(series, &models.DailyBalance{
			Date:      start.AddDate(0, 0, i),
			AccountID: "ACC-1",
			Balance:   decimal.NewFromInt(balance),
		})
	}
	return series
}

func interestCharge(id string, amount float64) *models.Transaction {
	tx := newTx(id, 0, amount, "INTERETS DEBITEURS")
	tx.OperationDate = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	tx.Type = models.TransactionTypeInterest
	return tx
}

func TestInterestVerifier(t *testing.T) {
	v, err := NewInterestVerifier(nil)
	require.NoError(t, err)

	april := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	balances := flatBalances(april, 30, -100000)
	conditions := scheduleConditions()

	t.Run("theoretical interest over a flat debit month", func(t *testing.T) {
		period := BillingPeriod(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), balances)
		assert.Equal(t, april, period.Start)
		assert.Equal(t, 30, period.Days())

		comp := ComputeInterest(balances, period, conditions.Interest)
		assert.True(t, comp.Theoretical.Equal(decimal.NewFromInt(1000)), "theoretical %s", comp.Theoretical)
		assert.Equal(t, 30, comp.DebitDays)
		assert.InDelta(t, 1.0, comp.Coverage, 1e-9)
	})

	t.Run("charge within tolerance is accepted", func(t *testing.T) {
		for _, amount := range []float64{-1000, -1015} {
			anomalies := v.Detect(&Input{
				Transactions: []*models.Transaction{interestCharge("i", amount)},
				Conditions:   conditions,
				Balances:     balances,
			})
			assert.Empty(t, anomalies, "charge %.0f", amount)
		}
	})

	t.Run("double charge is flagged as a rate mismatch", func(t *testing.T) {
		anomalies := v.Detect(&Input{
			Transactions: []*models.Transaction{interestCharge("i", -2000)},
			Conditions:   conditions,
			Balances:     balances,
		})
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.Equal(t, models.AnomalyInterestError, a.Type)
		assert.True(t, a.Amount.Equal(decimal.NewFromInt(1000)))
		cause, _ := a.EvidenceValue("probable_cause")
		assert.Equal(t, CauseRateMismatch, cause)
		assert.InDelta(t, 0.95, a.Confidence, 1e-9)
	})

	t.Run("ACT/365 lowers the theoretical interest", func(t *testing.T) {
		terms := conditions.Interest
		terms.DayCount = models.DayCountACT365
		period := BillingPeriod(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), balances)
		comp := ComputeInterest(balances, period, terms)
		assert.True(t, comp.Theoretical.Equal(decimal.RequireFromString("986.30")), "theoretical %s", comp.Theoretical)
	})

	t.Run("sparse balances carry forward", func(t *testing.T) {
		sparse := []*models.DailyBalance{
			{Date: april, AccountID: "ACC-1", Balance: decimal.NewFromInt(-100000)},
			{Date: april.AddDate(0, 0, 15), AccountID: "ACC-1", Balance: decimal.NewFromInt(5000)},
		}
		period := BillingPeriod(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), sparse)
		comp := ComputeInterest(sparse, period, conditions.Interest)
		assert.Equal(t, 15, comp.DebitDays)
		assert.True(t, comp.Theoretical.Equal(decimal.NewFromInt(500)), "theoretical %s", comp.Theoretical)
	})

	t.Run("falls back to month to date", func(t *testing.T) {
		may := flatBalances(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), 10, -36000)
		period := BillingPeriod(time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC), may)
		assert.Equal(t, periodMonthToDate, period.Kind)
		assert.Equal(t, 10, period.Days())
	})

	t.Run("interest without debit balance", func(t *testing.T) {
		anomalies := v.Detect(&Input{
			Transactions: []*models.Transaction{interestCharge("i", -500)},
			Conditions:   conditions,
			Balances:     flatBalances(april, 30, 20000),
		})
		require.Len(t, anomalies, 1)
		cause, _ := anomalies[0].EvidenceValue("probable_cause")
		assert.Equal(t, CauseNoDebitBalance, cause)
	})

	t.Run("undercharge is reported only when enabled", func(t *testing.T) {
		input := &Input{
			Transactions: []*models.Transaction{interestCharge("i", -600)},
			Conditions:   conditions,
			Balances:     balances,
		}
		assert.Empty(t, v.Detect(input))

		config := DefaultInterestConfig()
		config.ReportUndercharge = true
		reporting, err := NewInterestVerifier(config)
		require.NoError(t, err)

		anomalies := reporting.Detect(input)
		require.Len(t, anomalies, 1)
		a := anomalies[0]
		assert.Equal(t, models.AnomalyInterestError, a.Type)
		assert.Equal(t, models.SeverityLow, a.Severity)
		assert.True(t, a.Amount.IsZero(), "an undercharge is not recoverable, got %s", a.Amount)
		cause, _ := a.EvidenceValue("probable_cause")
		assert.Equal(t, CauseUndercharge, cause)
		shortfall, _ := a.EvidenceValue("shortfall")
		assert.Equal(t, "400.00", shortfall)
	})

	t.Run("reduced mode without balances", func(t *testing.T) {
		anomalies := v.Detect(&Input{
			Transactions: []*models.Transaction{interestCharge("i", -2000)},
			Conditions:   conditions,
		})
		assert.Empty(t, anomalies)
	})
}

func TestReconciliationDetector(t *testing.T) {
	r, err := NewReconciliationDetector(nil)
	require.NoError(t, err)

	t.Run("identical ledger entry produces no gap", func(t *testing.T) {
		tx := newTx("t", 0, -25000, "VIREMENT LOYER AVRIL")
		ledger := []*models.AccountingEntry{
			{ID: "L1", Date: tx.OperationDate, Amount: tx.Amount, Description: tx.Description},
		}
		assert.Empty(t, r.Detect(&Input{Transactions: []*models.Transaction{tx}, Ledger: ledger}))
	})

	t.Run("missing operations on both sides", func(t *testing.T) {
		ledger := []*models.AccountingEntry{
			{ID: "L1", Date: baseDay.AddDate(0, 0, 20), Amount: decimal.NewFromInt(400), Description: "REMISE CHEQUE CLIENT"},
		}
		anomalies := r.Detect(&Input{
			Transactions: []*models.Transaction{newTx("t", 0, -25000, "VIREMENT LOYER AVRIL")},
			Ledger:       ledger,
		})
		require.Len(t, anomalies, 2)
		assert.Equal(t, []string{"t"}, anomalies[0].TransactionIDs())
		assert.InDelta(t, 0.7, anomalies[0].Confidence, 1e-9)
		assert.Empty(t, anomalies[1].Transactions)
		count, _ := anomalies[1].EvidenceValue("unmatched_entries")
		assert.Equal(t, 1, count)
	})

	t.Run("self reconciliation reports balance breaks", func(t *testing.T) {
		a := newTx("a", 0, -1000, "PRLV EDF")
		a.Balance = decimal.NewNullDecimal(decimal.NewFromInt(9000))
		b := newTx("b", 1, -1000, "PRLV ORANGE")
		b.Balance = decimal.NewNullDecimal(decimal.NewFromInt(7000))

		anomalies := r.Detect(&Input{Transactions: []*models.Transaction{a, b}})
		require.Len(t, anomalies, 1)
		assert.Equal(t, models.AnomalyReconciliationGap, anomalies[0].Type)
		assert.True(t, anomalies[0].Amount.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, []string{"a", "b"}, anomalies[0].TransactionIDs())
	})
}

func TestReconciliationDetectorPeriod(t *testing.T) {
	r, err := NewReconciliationDetector(nil)
	require.NoError(t, err)

	// the transfer explaining the first two balances lies before the period
	transfer := newTx("transfer", 2, -200, "VIREMENT EMIS LOYER")
	card := newTx("card", 7, -50, "CARTE ACHAT PHARMACIE")
	balances := []*models.DailyBalance{
		{Date: baseDay, AccountID: "ACC-1", Balance: decimal.NewFromInt(1000)},
		{Date: baseDay.AddDate(0, 0, 6), AccountID: "ACC-1", Balance: decimal.NewFromInt(800)},
		{Date: baseDay.AddDate(0, 0, 10), AccountID: "ACC-1", Balance: decimal.NewFromInt(750)},
	}
	start := baseDay.AddDate(0, 0, 5)
	period := Period{Start: &start}

	assert.False(t, period.Contains(transfer.OperationDate))
	assert.True(t, period.Contains(card.OperationDate))
	assert.Len(t, balancesIn(balances, period), 2)
	assert.Len(t, balancesIn(balances, Period{}), 3)

	assert.Empty(t, r.Detect(&Input{
		Transactions: []*models.Transaction{card},
		Balances:     balances,
		Period:       period,
	}))

	anomalies := r.Detect(&Input{Transactions: []*models.Transaction{card}, Balances: balances})
	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].Amount.Equal(decimal.NewFromInt(200)))
}

func TestOverchargeForeignCurrencySchedule(t *testing.T) {
	o, err := NewOverchargeAnalyzer(nil)
	require.NoError(t, err)
	conditions := scheduleConditions()
	conditions.ReferenceRates = map[string]decimal.Decimal{"EUR": decimal.RequireFromString("655.957")}
	conditions.Fees = append(conditions.Fees, models.FeeScheduleEntry{
		Code: "CS", Name: "Cotisation carte", Kind: models.PricingFixed,
		Amount: decimal.NewFromInt(10), Currency: "EUR",
	})

	assert.Empty(t, o.Detect(&Input{
		Transactions: []*models.Transaction{feeTx("f", 0, -6559.57, "COTISATION CARTE CS")},
		Conditions:   conditions,
	}))

	anomalies := o.Detect(&Input{
		Transactions: []*models.Transaction{feeTx("f", 0, -8000, "COTISATION CARTE CS")},
		Conditions:   conditions,
	})
	require.Len(t, anomalies, 1)
	assert.Equal(t, models.AnomalyOvercharge, anomalies[0].Type)
	assert.True(t, anomalies[0].Amount.Equal(decimal.RequireFromString("1440.43")), "excess %s", anomalies[0].Amount)
	value, ok := anomalies[0].EvidenceValue("schedule_amount")
	require.True(t, ok)
	assert.Equal(t, "6559.57", value)
}

func TestReconciliationDetectorOwnsConfig(t *testing.T) {
	config := matcher.DefaultMatchingConfig()
	r, err := NewReconciliationDetector(config)
	require.NoError(t, err)
	config.BalanceTolerance = decimal.NewFromInt(1000000)

	a := newTx("a", 0, -1000, "PRLV EDF")
	a.Balance = decimal.NewNullDecimal(decimal.NewFromInt(9000))
	b := newTx("b", 1, -1000, "PRLV ORANGE")
	b.Balance = decimal.NewNullDecimal(decimal.NewFromInt(7000))

	assert.Len(t, r.Detect(&Input{Transactions: []*models.Transaction{a, b}}), 1)
}
