package engine

import (
	"fmt"
	"sort"
	"time"

	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
)

// RunStatus is the outcome of an analysis run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	// RunCancelled means some detectors were skipped by the caller
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// SummaryStatus grades the overall result
type SummaryStatus string

const (
	SummaryOK       SummaryStatus = "OK"
	SummaryWarning  SummaryStatus = "WARNING"
	SummaryCritical SummaryStatus = "CRITICAL"
)

// warningAnomalyCount is the anomaly count above which a result is a warning
const warningAnomalyCount = 10

// topItems is the number of key findings and recommendations in a summary
const topItems = 5

// DetectorRun reports the execution of one detector
type DetectorRun struct {
	Name      detector.Name `json:"name"`
	Anomalies int           `json:"anomalies"`
	Duration  time.Duration `json:"duration"`
	Skipped   bool          `json:"skipped,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// AnalysisStatistics aggregates the anomalies of a run
type AnalysisStatistics struct {
	TotalTransactions    int                                    `json:"total_transactions"`
	AnalyzedTransactions int                                    `json:"analyzed_transactions"`
	TotalAnomalies       int                                    `json:"total_anomalies"`
	ByType               map[models.AnomalyType]int             `json:"by_type"`
	BySeverity           map[models.Severity]int                `json:"by_severity"`
	AmountByType         map[models.AnomalyType]decimal.Decimal `json:"amount_by_type"`
	AmountBySeverity     map[models.Severity]decimal.Decimal    `json:"amount_by_severity"`
	// AnomalyRate is the number of anomalies per hundred analysed transactions
	AnomalyRate float64 `json:"anomaly_rate"`
	// AffectedTransactions counts distinct transactions implicated in an anomaly
	AffectedTransactions int             `json:"affected_transactions"`
	PotentialRecovery    decimal.Decimal `json:"potential_recovery"`
	AverageConfidence    float64         `json:"average_confidence"`
}

// AnalysisSummary is the human-oriented digest of a run
type AnalysisSummary struct {
	Status          SummaryStatus `json:"status"`
	Message         string        `json:"message"`
	KeyFindings     []string      `json:"key_findings"`
	Recommendations []string      `json:"recommendations"`
}

// AnalysisResult is the outcome of Analyze. Statistics and Summary are never nil.
type AnalysisResult struct {
	RunID      string              `json:"run_id"`
	Status     RunStatus           `json:"status"`
	Error      string              `json:"error,omitempty"`
	Anomalies  []*models.Anomaly   `json:"anomalies"`
	Statistics *AnalysisStatistics `json:"statistics"`
	Summary    *AnalysisSummary    `json:"summary"`
	Commentary map[string]string   `json:"commentary,omitempty"`
	Detectors  []DetectorRun       `json:"detectors"`
	Preprocess PreprocessStats     `json:"preprocess"`
	Warnings   []string            `json:"warnings,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	Duration   time.Duration       `json:"duration"`
}

// newStatistics returns statistics with every map allocated
func newStatistics() *AnalysisStatistics {
	return &AnalysisStatistics{
		ByType:            make(map[models.AnomalyType]int),
		BySeverity:        make(map[models.Severity]int),
		AmountByType:      make(map[models.AnomalyType]decimal.Decimal),
		AmountBySeverity:  make(map[models.Severity]decimal.Decimal),
		PotentialRecovery: decimal.Zero,
	}
}

// emptySummary is the summary of a run that produced nothing
func emptySummary(message string) *AnalysisSummary {
	return &AnalysisSummary{
		Status:          SummaryOK,
		Message:         message,
		KeyFindings:     []string{},
		Recommendations: []string{},
	}
}

// RankAnomalies orders anomalies by severity, amount and confidence, all
// descending. Ties keep detection order.
func RankAnomalies(anomalies []*models.Anomaly) {
	sort.SliceStable(anomalies, func(i, j int) bool {
		a, b := anomalies[i], anomalies[j]
		if ra, rb := a.Severity.Rank(), b.Severity.Rank(); ra != rb {
			return ra > rb
		}
		if c := a.Amount.Cmp(b.Amount); c != 0 {
			return c > 0
		}
		return a.Confidence > b.Confidence
	})
}

// ComputeStatistics aggregates anomalies over the analysed transactions
func ComputeStatistics(anomalies []*models.Anomaly, total, analyzed int) *AnalysisStatistics {
	s := newStatistics()
	s.TotalTransactions = total
	s.AnalyzedTransactions = analyzed
	s.TotalAnomalies = len(anomalies)

	affected := make(map[string]struct{})
	var confidence float64
	for _, a := range anomalies {
		s.ByType[a.Type]++
		s.BySeverity[a.Severity]++
		s.AmountByType[a.Type] = s.AmountByType[a.Type].Add(a.Amount)
		s.AmountBySeverity[a.Severity] = s.AmountBySeverity[a.Severity].Add(a.Amount)
		if a.CountsTowardRecovery() {
			s.PotentialRecovery = s.PotentialRecovery.Add(a.Amount)
		}
		for _, id := range a.TransactionIDs() {
			affected[id] = struct{}{}
		}
		confidence += a.Confidence
	}

	s.AffectedTransactions = len(affected)
	if analyzed > 0 {
		s.AnomalyRate = float64(len(anomalies)) / float64(analyzed) * 100
	}
	if len(anomalies) > 0 {
		s.AverageConfidence = confidence / float64(len(anomalies))
	}
	return s
}

// BuildSummary grades ranked anomalies: CRITICAL when any anomaly is
// critical, WARNING when any is high or there are more than ten
func BuildSummary(ranked []*models.Anomaly, stats *AnalysisStatistics) *AnalysisSummary {
	if len(ranked) == 0 {
		return emptySummary(fmt.Sprintf("No anomaly detected over %d transaction(s).", stats.AnalyzedTransactions))
	}

	summary := emptySummary("")
	switch {
	case stats.BySeverity[models.SeverityCritical] > 0:
		summary.Status = SummaryCritical
	case stats.BySeverity[models.SeverityHigh] > 0 || len(ranked) > warningAnomalyCount:
		summary.Status = SummaryWarning
	}

	summary.Message = fmt.Sprintf("%d anomal%s detected over %d transaction(s) (%d critical, %d high); potential recovery %s.",
		len(ranked), pluralY(len(ranked)), stats.AnalyzedTransactions,
		stats.BySeverity[models.SeverityCritical], stats.BySeverity[models.SeverityHigh],
		stats.PotentialRecovery.StringFixed(2))

	seen := make(map[string]bool)
	for _, a := range ranked {
		if len(summary.KeyFindings) < topItems {
			summary.KeyFindings = append(summary.KeyFindings,
				fmt.Sprintf("[%s] %s (%s)", a.Severity, a.Title, a.Amount.StringFixed(2)))
		}
		if len(summary.Recommendations) < topItems && a.Recommendation != "" && !seen[a.Recommendation] {
			seen[a.Recommendation] = true
			summary.Recommendations = append(summary.Recommendations, a.Recommendation)
		}
	}
	return summary
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}
