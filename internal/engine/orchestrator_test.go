package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/metrics"
	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func tx(id string, offset int, amount int64, description string) *models.Transaction {
	return &models.Transaction{
		ID:            id,
		AccountID:     "ACC-1",
		BankID:        "BNK",
		OperationDate: day0.AddDate(0, 0, offset),
		ValueDate:     day0.AddDate(0, 0, offset),
		Amount:        decimal.NewFromInt(amount),
		Description:   description,
		Type:          models.TransactionTypeDebit,
	}
}

func allDetectors(t *testing.T) []detector.Detector {
	t.Helper()
	detectors, err := detector.Build(detector.DefaultConfigs(), detector.AllNames)
	require.NoError(t, err)
	return detectors
}

func ofType(anomalies []*models.Anomaly, anomalyType models.AnomalyType) []*models.Anomaly {
	var out []*models.Anomaly
	for _, a := range anomalies {
		if a.Type == anomalyType {
			out = append(out, a)
		}
	}
	return out
}

// stubDetector returns fixed anomalies or panics
type stubDetector struct {
	name      detector.Name
	anomalies []*models.Anomaly
	panics    bool
	calls     int
}

func (s *stubDetector) Name() detector.Name { return s.name }

func (s *stubDetector) Detect(*detector.Input) []*models.Anomaly {
	s.calls++
	if s.panics {
		panic("boom")
	}
	return s.anomalies
}

func anomaly(t *testing.T, severity models.Severity, amount int64, confidence float64) *models.Anomaly {
	t.Helper()
	a, err := models.NewAnomaly(models.AnomalyParams{
		Type:           models.AnomalyGhostFee,
		Severity:       severity,
		Confidence:     confidence,
		Amount:         decimal.NewFromInt(amount),
		Transactions:   []*models.Transaction{tx(fmt.Sprintf("%s-%d", severity, amount), 0, -amount, "FRAIS")},
		Title:          fmt.Sprintf("%s fee of %d", severity, amount),
		Recommendation: "Ask the bank for a refund",
	})
	require.NoError(t, err)
	return a
}

func TestAnalyzeDuplicateFees(t *testing.T) {
	orchestrator := NewOrchestrator(allDetectors(t))
	result := orchestrator.Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{
			tx("f1", 0, -5000, "FRAIS"),
			tx("f2", 1, -5000, "FRAIS"),
			tx("f3", 2, -5000, "FRAIS"),
		},
	})

	require.Equal(t, RunCompleted, result.Status)
	assert.NotEmpty(t, result.RunID)
	duplicates := ofType(result.Anomalies, models.AnomalyDuplicateFee)
	require.Len(t, duplicates, 1)
	assert.True(t, duplicates[0].Amount.Equal(decimal.NewFromInt(10000)))
	assert.Len(t, duplicates[0].Transactions, 3)

	assert.Equal(t, 3, result.Statistics.TotalTransactions)
	assert.Equal(t, 3, result.Statistics.AnalyzedTransactions)
	assert.Equal(t, len(result.Anomalies), result.Statistics.TotalAnomalies)
	assert.Len(t, result.Detectors, len(detector.AllNames))
	for _, run := range result.Detectors {
		assert.False(t, run.Skipped)
		assert.Empty(t, run.Error)
	}
}

func TestAnalyzeInvalidRequest(t *testing.T) {
	orchestrator := NewOrchestrator(allDetectors(t))

	for name, req := range map[string]*AnalysisRequest{
		"nil request":      nil,
		"nil transactions": {},
		"inverted filter": {
			Transactions: []*models.Transaction{},
			Filter:       Filter{StartDate: timePtr(day0), EndDate: timePtr(day0.AddDate(0, 0, -1))},
		},
		"unknown detector": {
			Transactions: []*models.Transaction{},
			Detectors:    []detector.Name{"structuring"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			result := orchestrator.Analyze(context.Background(), req)
			require.NotNil(t, result)
			assert.Equal(t, RunFailed, result.Status)
			assert.NotEmpty(t, result.Error)
			assert.Empty(t, result.Anomalies)
			require.NotNil(t, result.Statistics)
			assert.Equal(t, 0, result.Statistics.TotalAnomalies)
			assert.NotNil(t, result.Statistics.ByType)
			require.NotNil(t, result.Summary)
			assert.Equal(t, SummaryOK, result.Summary.Status)
		})
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	result := NewOrchestrator(allDetectors(t)).Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{},
	})
	assert.Equal(t, RunCompleted, result.Status)
	assert.Empty(t, result.Anomalies)
	assert.Equal(t, SummaryOK, result.Summary.Status)
	assert.Zero(t, result.Statistics.AnomalyRate)
}

func TestAnalyzeParallelMatchesSequential(t *testing.T) {
	req := &AnalysisRequest{
		Transactions: []*models.Transaction{
			tx("f1", 0, -5000, "FRAIS"),
			tx("f2", 1, -5000, "FRAIS"),
			tx("c1", 2, -120000, "COMMISSION CARTE VISA"),
			tx("c2", 3, -120000, "COMMISSION CARTE VISA"),
			tx("p1", 4, 500000, "VIREMENT SALAIRE"),
		},
	}

	sequential := NewOrchestrator(allDetectors(t)).Analyze(context.Background(), req)
	parallel := NewOrchestrator(allDetectors(t), WithParallelism(4)).Analyze(context.Background(), req)

	require.Equal(t, len(sequential.Anomalies), len(parallel.Anomalies))
	for i := range sequential.Anomalies {
		s, p := sequential.Anomalies[i], parallel.Anomalies[i]
		assert.Equal(t, s.Type, p.Type)
		assert.Equal(t, s.Severity, p.Severity)
		assert.True(t, s.Amount.Equal(p.Amount))
		assert.Equal(t, s.TransactionIDs(), p.TransactionIDs())
	}
	assert.Equal(t, sequential.Summary.Status, parallel.Summary.Status)
	assert.True(t, sequential.Statistics.PotentialRecovery.Equal(parallel.Statistics.PotentialRecovery))
}

func TestAnalyzeDetectorPanic(t *testing.T) {
	good := &stubDetector{name: detector.NameGhostFee, anomalies: []*models.Anomaly{anomaly(t, models.SeverityLow, 100, 0.5)}}
	bad := &stubDetector{name: detector.NameDuplicate, panics: true}
	m := metrics.New()

	result := NewOrchestrator([]detector.Detector{bad, good}, WithMetrics(m)).Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{},
	})

	assert.Equal(t, RunCompleted, result.Status)
	require.Len(t, result.Anomalies, 1)
	require.Len(t, result.Detectors, 2)
	assert.Contains(t, result.Detectors[0].Error, "boom")
	assert.Empty(t, result.Detectors[1].Error)
	assert.Equal(t, 1.0, m.RunCount(string(RunCompleted)))
}

func TestAnalyzeProgressCancellation(t *testing.T) {
	first := &stubDetector{name: detector.NameDuplicate}
	second := &stubDetector{name: detector.NameGhostFee}
	var seen []Progress

	orchestrator := NewOrchestrator([]detector.Detector{first, second}, WithProgressCallback(func(p Progress) bool {
		seen = append(seen, p)
		return false
	}))
	result := orchestrator.Analyze(context.Background(), &AnalysisRequest{Transactions: []*models.Transaction{}})

	assert.Equal(t, RunCancelled, result.Status)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
	require.Len(t, seen, 1)
	assert.Equal(t, Progress{Detector: detector.NameDuplicate, Completed: 1, Total: 2}, seen[0])
	assert.True(t, result.Detectors[1].Skipped)
}

func TestAnalyzeCancelledContext(t *testing.T) {
	d := &stubDetector{name: detector.NameDuplicate}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewOrchestrator([]detector.Detector{d}).Analyze(ctx, &AnalysisRequest{Transactions: []*models.Transaction{}})
	assert.Equal(t, RunCancelled, result.Status)
	assert.Equal(t, 0, d.calls)
}

func TestAnalyzeDetectorSelection(t *testing.T) {
	first := &stubDetector{name: detector.NameDuplicate}
	second := &stubDetector{name: detector.NameGhostFee}

	result := NewOrchestrator([]detector.Detector{first, second}).Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{},
		Detectors:    []detector.Name{detector.NameGhostFee},
	})
	assert.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, 0, first.calls)
	assert.Equal(t, 1, second.calls)
	require.Len(t, result.Detectors, 1)
}

type stubCommentator struct {
	fail   bool
	panics bool
	calls  int
}

func (s *stubCommentator) Comment(_ context.Context, a *models.Anomaly) (string, error) {
	s.calls++
	if s.panics {
		panic("client bug")
	}
	if s.fail {
		return "", fmt.Errorf("service unavailable")
	}
	return "commentary for " + a.Title, nil
}

func TestAnalyzeEnrichment(t *testing.T) {
	d := &stubDetector{name: detector.NameGhostFee, anomalies: []*models.Anomaly{
		anomaly(t, models.SeverityHigh, 30000, 0.8),
		anomaly(t, models.SeverityMedium, 6000, 0.8),
		anomaly(t, models.SeverityLow, 100, 0.8),
	}}
	req := &AnalysisRequest{Transactions: []*models.Transaction{}}

	t.Run("top anomalies are commented", func(t *testing.T) {
		c := &stubCommentator{}
		result := NewOrchestrator([]detector.Detector{d}, WithCommentator(c, models.SeverityMedium, 1)).Analyze(context.Background(), req)
		assert.Equal(t, RunCompleted, result.Status)
		require.Len(t, result.Commentary, 1)
		assert.Contains(t, result.Commentary[result.Anomalies[0].ID], "commentary for")
		assert.Equal(t, 1, c.calls)
	})

	t.Run("failures leave the result intact", func(t *testing.T) {
		c := &stubCommentator{fail: true}
		m := metrics.New()
		result := NewOrchestrator([]detector.Detector{d}, WithCommentator(c, models.SeverityLow, 0), WithMetrics(m)).Analyze(context.Background(), req)
		assert.Equal(t, RunCompleted, result.Status)
		assert.Empty(t, result.Commentary)
		assert.Len(t, result.Anomalies, 3)
		assert.Equal(t, 3, c.calls)
	})

	t.Run("a panicking commentator leaves the result intact", func(t *testing.T) {
		c := &stubCommentator{panics: true}
		result := NewOrchestrator([]detector.Detector{d}, WithCommentator(c, models.SeverityLow, 0)).Analyze(context.Background(), req)
		assert.Equal(t, RunCompleted, result.Status)
		assert.Empty(t, result.Error)
		assert.Empty(t, result.Commentary)
		assert.Len(t, result.Anomalies, 3)
		assert.Equal(t, 3, c.calls)
	})
}

func TestAnalyzeFilter(t *testing.T) {
	other := tx("o1", 0, -5000, "FRAIS")
	other.AccountID = "ACC-2"
	invalid := tx("", 0, -5000, "FRAIS")

	result := NewOrchestrator(allDetectors(t)).Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{
			tx("f1", 0, -5000, "FRAIS"),
			tx("f2", 1, -5000, "FRAIS"),
			tx("late", 30, -5000, "FRAIS"),
			other,
			invalid,
		},
		Filter: Filter{EndDate: timePtr(day0.AddDate(0, 0, 5)), AccountIDs: []string{"acc-1"}},
	})

	require.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, 5, result.Preprocess.TotalTransactions)
	assert.Equal(t, 1, result.Preprocess.InvalidTransactions)
	assert.Equal(t, 2, result.Preprocess.FilteredTransactions)
	assert.Equal(t, 2, result.Statistics.AnalyzedTransactions)
	assert.NotEmpty(t, result.Warnings)

	for _, a := range result.Anomalies {
		for _, id := range a.TransactionIDs() {
			assert.Contains(t, []string{"f1", "f2"}, id)
		}
	}
}

func TestAnalyzeDuplicateIDs(t *testing.T) {
	repeated := tx("f1", 9, -7000, "COMMISSION VIREMENT")

	result := NewOrchestrator(allDetectors(t)).Analyze(context.Background(), &AnalysisRequest{
		Transactions: []*models.Transaction{
			tx("f1", 0, -5000, "FRAIS"),
			tx("f2", 1, -5000, "FRAIS"),
			repeated,
		},
	})

	require.Equal(t, RunCompleted, result.Status)
	assert.Equal(t, 1, result.Preprocess.DuplicateIDs)
	assert.Equal(t, 2, result.Statistics.AnalyzedTransactions)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "duplicate id f1")
	for _, a := range result.Anomalies {
		for _, linked := range a.Transactions {
			assert.NotSame(t, repeated, linked)
		}
	}
}

func TestAnalyzeFilterKeepsBalancesConsistent(t *testing.T) {
	balance := func(offset int, amount int64) *models.DailyBalance {
		return &models.DailyBalance{
			Date:      day0.AddDate(0, 0, offset),
			AccountID: "ACC-1",
			Balance:   decimal.NewFromInt(amount),
		}
	}
	req := func(filter Filter, closing int64) *AnalysisRequest {
		return &AnalysisRequest{
			Transactions: []*models.Transaction{
				tx("rent", 2, -200, "VIREMENT EMIS LOYER"),
				tx("card", 7, -50, "CARTE ACHAT PHARMACIE"),
			},
			Balances: []*models.DailyBalance{balance(0, 1000), balance(6, 800), balance(10, closing)},
			Filter:   filter,
		}
	}
	orchestrator := NewOrchestrator(allDetectors(t))
	fromDay5 := Filter{StartDate: timePtr(day0.AddDate(0, 0, 5))}

	t.Run("unfiltered", func(t *testing.T) {
		result := orchestrator.Analyze(context.Background(), req(Filter{}, 750))
		require.Equal(t, RunCompleted, result.Status)
		assert.Empty(t, ofType(result.Anomalies, models.AnomalyReconciliationGap))
	})

	t.Run("balances before the range are not checked", func(t *testing.T) {
		result := orchestrator.Analyze(context.Background(), req(fromDay5, 750))
		require.Equal(t, RunCompleted, result.Status)
		assert.Equal(t, 1, result.Preprocess.FilteredTransactions)
		assert.Empty(t, ofType(result.Anomalies, models.AnomalyReconciliationGap))
	})

	t.Run("balances inside the range are still checked", func(t *testing.T) {
		result := orchestrator.Analyze(context.Background(), req(fromDay5, 700))
		require.Equal(t, RunCompleted, result.Status)
		gaps := ofType(result.Anomalies, models.AnomalyReconciliationGap)
		require.Len(t, gaps, 1)
		assert.True(t, gaps[0].Amount.Equal(decimal.NewFromInt(50)))
	})
}

func TestRankAndSummarize(t *testing.T) {
	anomalies := []*models.Anomaly{
		anomaly(t, models.SeverityLow, 500, 0.9),
		anomaly(t, models.SeverityHigh, 100, 0.5),
		anomaly(t, models.SeverityHigh, 100, 0.9),
		anomaly(t, models.SeverityHigh, 900, 0.1),
	}
	RankAnomalies(anomalies)

	assert.Equal(t, models.SeverityHigh, anomalies[0].Severity)
	assert.True(t, anomalies[0].Amount.Equal(decimal.NewFromInt(900)))
	assert.Equal(t, 0.9, anomalies[1].Confidence)
	assert.Equal(t, 0.5, anomalies[2].Confidence)
	assert.Equal(t, models.SeverityLow, anomalies[3].Severity)

	stats := ComputeStatistics(anomalies, 10, 8)
	assert.Equal(t, 4, stats.TotalAnomalies)
	assert.Equal(t, 3, stats.BySeverity[models.SeverityHigh])
	assert.InDelta(t, 50.0, stats.AnomalyRate, 1e-9)
	assert.True(t, stats.PotentialRecovery.Equal(decimal.NewFromInt(1600)))
	assert.InDelta(t, 0.6, stats.AverageConfidence, 1e-9)

	summary := BuildSummary(anomalies, stats)
	assert.Equal(t, SummaryWarning, summary.Status)
	assert.Len(t, summary.KeyFindings, 4)
	assert.Equal(t, []string{"Ask the bank for a refund"}, summary.Recommendations)

	critical := append([]*models.Anomaly{anomaly(t, models.SeverityCritical, 1, 0.9)}, anomalies...)
	assert.Equal(t, SummaryCritical, BuildSummary(critical, ComputeStatistics(critical, 10, 8)).Status)

	var many []*models.Anomaly
	for i := 0; i < 11; i++ {
		many = append(many, anomaly(t, models.SeverityLow, int64(i+1), 0.5))
	}
	manySummary := BuildSummary(many, ComputeStatistics(many, 20, 20))
	assert.Equal(t, SummaryWarning, manySummary.Status)
	assert.Len(t, manySummary.KeyFindings, topItems)
}

func timePtr(t time.Time) *time.Time { return &t }
