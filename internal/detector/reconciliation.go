package detector

import (
	"fmt"
	"strings"

	"bank-fee-auditor/internal/matcher"
	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// ReconciliationDetector turns matcher findings into reconciliation gaps.
// With a ledger it matches bank transactions against it; without one it
// checks the statement for internal consistency.
type ReconciliationDetector struct {
	engine *matcher.MatchingEngine
	self   *matcher.SelfReconciler
	log    logger.Logger
}

// NewReconciliationDetector creates a reconciliation detector
func NewReconciliationDetector(config *matcher.MatchingConfig) (*ReconciliationDetector, error) {
	if config == nil {
		config = matcher.DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	// later changes to the caller's config must not leak into a built detector
	config = config.Clone()
	return &ReconciliationDetector{
		engine: matcher.NewMatchingEngine(config),
		self:   matcher.NewSelfReconciler(config),
		log:    logger.WithComponent("reconciliation_detector"),
	}, nil
}

// Name returns the detector name
func (r *ReconciliationDetector) Name() Name {
	return NameReconciliation
}

// Detect reconciles against the ledger when one is supplied and always
// checks recorded daily balances against the booked movements
func (r *ReconciliationDetector) Detect(input *Input) []*models.Anomaly {
	// the ledger is matched in statement order
	txs := make([]*models.Transaction, 0, len(input.Transactions))
	for _, tx := range input.Transactions {
		if wellFormed(tx) {
			txs = append(txs, tx)
		}
	}
	entries := make([]*models.AccountingEntry, 0, len(input.Ledger))
	for _, e := range input.Ledger {
		if e != nil && e.ID != "" && !e.Date.IsZero() {
			entries = append(entries, e)
		}
	}

	// only days whose movements were kept can be checked
	balances := balancesIn(input.Balances, input.Period)

	var anomalies []*models.Anomaly
	if len(entries) > 0 {
		anomalies = r.ledgerAnomalies(txs, entries)
		for _, inc := range r.self.CheckDailyBalances(txs, balances) {
			anomalies = appendAnomaly(anomalies, r.inconsistencyAnomaly(inc))
		}
	} else {
		anomalies = r.selfAnomalies(txs, balances)
	}

	r.log.WithFields(logger.Fields{
		"transactions": len(txs),
		"ledger":       len(entries),
		"anomalies":    len(anomalies),
	}).Debug("Reconciliation completed")

	return anomalies
}

func (r *ReconciliationDetector) ledgerAnomalies(txs []*models.Transaction, entries []*models.AccountingEntry) []*models.Anomaly {
	result := r.engine.Reconcile(txs, entries)
	r.log.WithField("summary", result.Summary.String()).Debug("Ledger matched")

	var anomalies []*models.Anomaly
	for _, m := range result.Matches {
		switch m.Tier {
		case matcher.TierPartial:
			anomalies = appendAnomaly(anomalies, r.partialAnomaly(m))
		case matcher.TierUnmatched:
			anomalies = appendAnomaly(anomalies, r.unmatchedAnomaly(m))
		}
	}
	if len(result.UnmatchedEntries) > 0 {
		anomalies = appendAnomaly(anomalies, r.unusedEntriesAnomaly(result.UnmatchedEntries))
	}
	return anomalies
}

func (r *ReconciliationDetector) selfAnomalies(txs []*models.Transaction, balances []*models.DailyBalance) []*models.Anomaly {
	result := r.self.Reconcile(txs, balances)

	var anomalies []*models.Anomaly
	for _, gap := range result.Gaps {
		anomalies = appendAnomaly(anomalies, r.gapAnomaly(gap))
	}
	for _, orphan := range result.Orphans {
		anomalies = appendAnomaly(anomalies, r.orphanAnomaly(orphan))
	}
	for _, inc := range result.Inconsistencies {
		anomalies = appendAnomaly(anomalies, r.inconsistencyAnomaly(inc))
	}
	return anomalies
}

// gapSeverity grades an unexplained amount: >50000 HIGH, >5000 MEDIUM, LOW otherwise
func gapSeverity(amount decimal.Decimal) models.Severity {
	switch {
	case amount.GreaterThan(amount50000):
		return models.SeverityHigh
	case amount.GreaterThan(amount5000):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (r *ReconciliationDetector) partialAnomaly(m *matcher.MatchResult) *models.Anomaly {
	diff := m.AmountDifference.Abs()
	return emit(r.log, models.AnomalyParams{
		Type:         models.AnomalyReconciliationGap,
		Severity:     gapSeverity(diff),
		Confidence:   m.Score,
		Amount:       diff,
		Transactions: []*models.Transaction{m.Transaction},
		Evidence: []models.Evidence{
			{Key: "match_tier", Description: "Reconciliation tier", Value: m.Tier.String()},
			{Key: "match_score", Description: "Weighted match score", Value: roundScore(m.Score)},
			{Key: "ledger_entry", Description: "Closest ledger entry", Value: m.Entry.ID, SourceRef: "ledger:" + m.Entry.ID},
			{Key: "amount_difference", Description: "Bank amount minus ledger amount", Value: m.AmountDifference.StringFixed(2)},
			{Key: "days_apart", Description: "Days between bank and ledger dates", Value: m.DaysApart},
			{Key: "reasons", Description: "Match criteria", Value: strings.Join(m.Reasons, ",")},
		},
		Title:          fmt.Sprintf("Partial ledger match for %s", m.Transaction.Description),
		Recommendation: fmt.Sprintf("Check ledger entry %s against the bank operation: the amounts differ by %s.", m.Entry.ID, diff.StringFixed(2)),
	})
}

func (r *ReconciliationDetector) unmatchedAnomaly(m *matcher.MatchResult) *models.Anomaly {
	amount := m.Transaction.AbsAmount()
	evidence := []models.Evidence{
		{Key: "match_tier", Description: "Reconciliation tier", Value: m.Tier.String()},
	}
	if m.Entry != nil {
		evidence = append(evidence,
			models.Evidence{Key: "best_candidate", Description: "Best scoring ledger entry", Value: m.Entry.ID, SourceRef: "ledger:" + m.Entry.ID},
			models.Evidence{Key: "best_score", Description: "Score of the best candidate", Value: roundScore(m.Score)},
		)
	}

	return emit(r.log, models.AnomalyParams{
		Type:           models.AnomalyReconciliationGap,
		Severity:       gapSeverity(amount),
		Confidence:     0.7,
		Amount:         amount,
		Transactions:   []*models.Transaction{m.Transaction},
		Evidence:       evidence,
		Title:          fmt.Sprintf("Bank operation missing from the ledger: %s", m.Transaction.Description),
		Recommendation: "Record the operation in the ledger or dispute it with the bank if it was not authorised.",
	})
}

// unusedEntriesAnomaly reports every ledger entry no bank operation matched
// as a single aggregate finding
func (r *ReconciliationDetector) unusedEntriesAnomaly(entries []*models.AccountingEntry) *models.Anomaly {
	total := decimal.Zero
	evidence := make([]models.Evidence, 0, len(entries)+1)
	for _, e := range entries {
		total = total.Add(e.Amount.Abs())
		evidence = append(evidence, models.Evidence{
			Key:         "unmatched_entry",
			Description: fmt.Sprintf("%s %s", e.Date.Format(models.DateLayout), e.Description),
			Value:       e.Amount.StringFixed(2),
			SourceRef:   "ledger:" + e.ID,
		})
	}
	evidence = append([]models.Evidence{
		{Key: "unmatched_entries", Description: "Ledger entries without a bank operation", Value: len(entries)},
	}, evidence...)

	return emit(r.log, models.AnomalyParams{
		Type:           models.AnomalyReconciliationGap,
		Severity:       gapSeverity(total),
		Confidence:     0.7,
		Amount:         total,
		Evidence:       evidence,
		Aggregate:      true,
		Title:          fmt.Sprintf("%d ledger entries not found on the statement", len(entries)),
		Recommendation: "Confirm whether these operations were executed by the bank or reverse them in the ledger.",
	})
}

func (r *ReconciliationDetector) gapAnomaly(gap *matcher.ContinuityGap) *models.Anomaly {
	diff := gap.Difference.Abs()
	return emit(r.log, models.AnomalyParams{
		Type:         models.AnomalyReconciliationGap,
		Severity:     gapSeverity(diff),
		Confidence:   0.9,
		Amount:       diff,
		Transactions: []*models.Transaction{gap.Previous, gap.Transaction},
		Evidence: []models.Evidence{
			{Key: "expected_balance", Description: "Previous balance plus this amount", Value: gap.Expected.StringFixed(2)},
			{Key: "reported_balance", Description: "Balance reported by the bank", Value: gap.Actual.StringFixed(2)},
			{Key: "difference", Description: "Reported minus expected balance", Value: gap.Difference.StringFixed(2)},
		},
		Title:          fmt.Sprintf("Balance break of %s after %s", diff.StringFixed(2), gap.Previous.ID),
		Recommendation: "Ask the bank for the operations missing between these two statement lines.",
	})
}

func (r *ReconciliationDetector) orphanAnomaly(orphan *matcher.Orphan) *models.Anomaly {
	return emit(r.log, models.AnomalyParams{
		Type:         models.AnomalyReconciliationGap,
		Severity:     models.SeverityLow,
		Confidence:   0.4,
		Amount:       orphan.Transaction.AbsAmount(),
		Transactions: []*models.Transaction{orphan.Transaction},
		Evidence: []models.Evidence{
			{Key: "days_since_previous", Description: "Days since the previous operation", Value: orphan.GapBefore},
			{Key: "days_until_next", Description: "Days until the next operation", Value: orphan.GapAfter},
		},
		Title:          fmt.Sprintf("Isolated operation: %s", orphan.Transaction.Description),
		Recommendation: "Verify that this isolated operation belongs to the account and period.",
	})
}

func (r *ReconciliationDetector) inconsistencyAnomaly(inc *matcher.BalanceInconsistency) *models.Anomaly {
	diff := inc.Difference.Abs()
	evidence := []models.Evidence{
		{Key: "account_id", Description: "Account", Value: inc.AccountID},
		{Key: "period", Description: "Recorded balances compared",
			Value: fmt.Sprintf("%s..%s", inc.PreviousDate.Format(models.DateLayout), inc.Date.Format(models.DateLayout))},
		{Key: "expected_balance", Description: "Previous balance plus booked movements", Value: inc.Expected.StringFixed(2)},
		{Key: "recorded_balance", Description: "Recorded daily balance", Value: inc.Actual.StringFixed(2)},
		{Key: "difference", Description: "Recorded minus expected balance", Value: inc.Difference.StringFixed(2)},
	}

	return emit(r.log, models.AnomalyParams{
		Type:           models.AnomalyReconciliationGap,
		Severity:       gapSeverity(diff),
		Confidence:     0.9,
		Amount:         diff,
		Transactions:   inc.Transactions,
		Evidence:       evidence,
		Aggregate:      len(inc.Transactions) == 0,
		Title:          fmt.Sprintf("Daily balance of %s inconsistent on %s", inc.AccountID, inc.Date.Format(models.DateLayout)),
		Recommendation: "Reconcile the daily balance history with the statement operations for this period.",
	})
}
