// Package detector implements the anomaly detectors run by the engine.
//
// Detectors are built once from a fully specified configuration and are
// stateless afterwards: Detect only reads its Input and returns new
// anomalies. Malformed records are skipped, never reported as errors.
package detector

import (
	"sort"
	"time"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// Name identifies a detector
type Name string

const (
	NameDuplicate      Name = "duplicate"
	NameGhostFee       Name = "ghost_fee"
	NameOvercharge     Name = "overcharge"
	NameInterest       Name = "interest"
	NameReconciliation Name = "reconciliation"
)

// AllNames lists the detectors in their default run order
var AllNames = []Name{NameDuplicate, NameGhostFee, NameOvercharge, NameInterest, NameReconciliation}

// Detector produces anomalies from a read-only input
type Detector interface {
	Name() Name
	Detect(input *Input) []*models.Anomaly
}

// Input is everything a detector may read. Optional fields may be nil.
type Input struct {
	Transactions []*models.Transaction
	Conditions   *models.BankConditions

	// Balances may reach before Period, interest periods need them
	Balances   []*models.DailyBalance
	Ledger     []*models.AccountingEntry
	Historical models.HistoricalFees

	// Period is the range Transactions were filtered to
	Period Period
}

// Period bounds the analysed days. A nil end is open.
type Period struct {
	Start *time.Time
	End   *time.Time
}

// Contains reports whether the calendar day of t falls inside the period
func (p Period) Contains(t time.Time) bool {
	day := models.TruncateDay(t)
	if p.Start != nil && day.Before(models.TruncateDay(*p.Start)) {
		return false
	}
	if p.End != nil && day.After(models.TruncateDay(*p.End)) {
		return false
	}
	return true
}

// balancesIn returns the balances recorded on a day inside the period
func balancesIn(balances []*models.DailyBalance, p Period) []*models.DailyBalance {
	if p.Start == nil && p.End == nil {
		return balances
	}
	out := make([]*models.DailyBalance, 0, len(balances))
	for _, b := range balances {
		if b != nil && p.Contains(b.Date) {
			out = append(out, b)
		}
	}
	return out
}

// debitsByDate returns the debits sorted by calendar day, stable on input order
func debitsByDate(transactions []*models.Transaction) []*models.Transaction {
	return filterByDate(transactions, func(tx *models.Transaction) bool { return tx.IsDebit() })
}

// filterByDate returns the transactions kept by keep, sorted by calendar day
// and stable on input order
func filterByDate(transactions []*models.Transaction, keep func(*models.Transaction) bool) []*models.Transaction {
	out := make([]*models.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if !wellFormed(tx) {
			continue
		}
		if keep(tx) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Day().Before(out[j].Day())
	})
	return out
}

// wellFormed reports whether a record carries the fields every detector needs
func wellFormed(tx *models.Transaction) bool {
	if tx == nil {
		return false
	}
	if tx.ID == "" || tx.OperationDate.IsZero() {
		logger.WithComponent("detector").WithField("transaction_id", tx.ID).
			Debug("Skipping malformed transaction")
		return false
	}
	return true
}

// emit builds an anomaly; a rejected anomaly is logged and dropped
func emit(log logger.Logger, params models.AnomalyParams) *models.Anomaly {
	anomaly, err := models.NewAnomaly(params)
	if err != nil {
		log.WithError(err).Warn("Discarding invalid anomaly")
		return nil
	}
	return anomaly
}

// appendAnomaly appends a non-nil anomaly
func appendAnomaly(list []*models.Anomaly, a *models.Anomaly) []*models.Anomaly {
	if a == nil {
		return list
	}
	return append(list, a)
}

var (
	amount5000  = decimal.NewFromInt(5000)
	amount20000 = decimal.NewFromInt(20000)
	amount50000 = decimal.NewFromInt(50000)
)

// severityByExcess grades a monetary excess: >50000 CRITICAL, >20000 HIGH,
// >5000 MEDIUM, LOW otherwise
func severityByExcess(amount decimal.Decimal) models.Severity {
	switch {
	case amount.GreaterThan(amount50000):
		return models.SeverityCritical
	case amount.GreaterThan(amount20000):
		return models.SeverityHigh
	case amount.GreaterThan(amount5000):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
