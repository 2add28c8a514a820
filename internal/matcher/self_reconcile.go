package matcher

import (
	"sort"
	"time"

	"bank-fee-auditor/internal/models"

	"github.com/shopspring/decimal"
)

// SelfReconciler checks a transaction set for internal consistency when no
// ledger is available
type SelfReconciler struct {
	config *MatchingConfig
}

// NewSelfReconciler creates a new self reconciler
func NewSelfReconciler(config *MatchingConfig) *SelfReconciler {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	return &SelfReconciler{config: config}
}

// ContinuityGap is a transaction whose reported balance does not follow from
// the previous balance and its own amount
type ContinuityGap struct {
	Transaction *models.Transaction
	Previous    *models.Transaction
	Expected    decimal.Decimal
	Actual      decimal.Decimal
	Difference  decimal.Decimal
}

// Orphan is a transaction isolated from both of its neighbours
type Orphan struct {
	Transaction *models.Transaction
	GapBefore   int
	GapAfter    int
}

// BalanceInconsistency is a recorded daily balance that differs from the
// previous one plus the movements in between
type BalanceInconsistency struct {
	AccountID    string
	Date         time.Time
	PreviousDate time.Time
	Expected     decimal.Decimal
	Actual       decimal.Decimal
	Difference   decimal.Decimal
	Transactions []*models.Transaction
}

// SelfReconciliationResult collects every self-reconciliation finding
type SelfReconciliationResult struct {
	Gaps            []*ContinuityGap
	Orphans         []*Orphan
	Inconsistencies []*BalanceInconsistency
}

// groupByAccount returns each account's transactions in date order, stable on input order
func groupByAccount(transactions []*models.Transaction) (map[string][]*models.Transaction, []string) {
	groups := make(map[string][]*models.Transaction)
	var order []string
	for _, tx := range transactions {
		key := tx.AccountID
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], tx)
	}
	for _, key := range order {
		txs := groups[key]
		sort.SliceStable(txs, func(i, j int) bool {
			return txs[i].Day().Before(txs[j].Day())
		})
	}
	return groups, order
}

// Reconcile runs every self-reconciliation check
func (sr *SelfReconciler) Reconcile(transactions []*models.Transaction, balances []*models.DailyBalance) *SelfReconciliationResult {
	groups, order := groupByAccount(transactions)

	result := &SelfReconciliationResult{}
	for _, key := range order {
		txs := groups[key]
		result.Gaps = append(result.Gaps, sr.continuityGaps(txs)...)
		result.Orphans = append(result.Orphans, sr.orphans(txs)...)
	}
	result.Inconsistencies = sr.CheckDailyBalances(transactions, balances)

	return result
}

// continuityGaps compares consecutive transactions that both report a balance
func (sr *SelfReconciler) continuityGaps(txs []*models.Transaction) []*ContinuityGap {
	var gaps []*ContinuityGap
	var prev *models.Transaction

	for _, tx := range txs {
		if !tx.Balance.Valid {
			continue
		}
		if prev != nil {
			expected := prev.Balance.Decimal.Add(tx.Amount)
			diff := tx.Balance.Decimal.Sub(expected)
			if diff.Abs().GreaterThan(sr.config.BalanceTolerance) {
				gaps = append(gaps, &ContinuityGap{
					Transaction: tx,
					Previous:    prev,
					Expected:    expected,
					Actual:      tx.Balance.Decimal,
					Difference:  diff,
				})
			}
		}
		prev = tx
	}

	return gaps
}

// orphans finds interior transactions more than OrphanGapDays from both neighbours
func (sr *SelfReconciler) orphans(txs []*models.Transaction) []*Orphan {
	if len(txs) < sr.config.OrphanMinTransactions {
		return nil
	}

	var orphans []*Orphan
	for i := 1; i < len(txs)-1; i++ {
		before := models.DaysBetween(txs[i-1].OperationDate, txs[i].OperationDate)
		after := models.DaysBetween(txs[i].OperationDate, txs[i+1].OperationDate)
		if before > sr.config.OrphanGapDays && after > sr.config.OrphanGapDays {
			orphans = append(orphans, &Orphan{Transaction: txs[i], GapBefore: before, GapAfter: after})
		}
	}

	return orphans
}

// CheckDailyBalances verifies balance(day) = balance(previous recorded day)
// + the amounts booked after it up to and including day, per account
func (sr *SelfReconciler) CheckDailyBalances(transactions []*models.Transaction, balances []*models.DailyBalance) []*BalanceInconsistency {
	if len(balances) == 0 {
		return nil
	}

	byAccount := make(map[string][]*models.DailyBalance)
	var accounts []string
	for _, b := range balances {
		if _, seen := byAccount[b.AccountID]; !seen {
			accounts = append(accounts, b.AccountID)
		}
		byAccount[b.AccountID] = append(byAccount[b.AccountID], b)
	}

	groups, _ := groupByAccount(transactions)

	var found []*BalanceInconsistency
	for _, accountID := range accounts {
		series := byAccount[accountID]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Date.Before(series[j].Date)
		})
		txs := groups[accountID]

		for i := 1; i < len(series); i++ {
			prevDay := models.TruncateDay(series[i-1].Date)
			day := models.TruncateDay(series[i].Date)

			movement := decimal.Zero
			var booked []*models.Transaction
			for _, tx := range txs {
				d := tx.Day()
				if d.After(prevDay) && !d.After(day) {
					movement = movement.Add(tx.Amount)
					booked = append(booked, tx)
				}
			}

			expected := series[i-1].Balance.Add(movement)
			diff := series[i].Balance.Sub(expected)
			if diff.Abs().GreaterThan(sr.config.BalanceTolerance) {
				found = append(found, &BalanceInconsistency{
					AccountID:    accountID,
					Date:         day,
					PreviousDate: prevDay,
					Expected:     expected,
					Actual:       series[i].Balance,
					Difference:   diff,
					Transactions: booked,
				})
			}
		}
	}

	return found
}
