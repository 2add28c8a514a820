package matcher

import (
	"fmt"
	"math"
	"strings"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/similarity"

	"github.com/shopspring/decimal"
)

// MatchingEngine reconciles bank transactions against ledger entries
type MatchingEngine struct {
	Config *MatchingConfig
}

// MatchResult is the outcome of matching one bank transaction
type MatchResult struct {
	Transaction *models.Transaction
	// Entry is the assigned entry, or for unmatched results the best
	// candidate seen, which may be nil
	Entry            *models.AccountingEntry
	Tier             MatchTier
	Score            float64
	AmountDifference decimal.Decimal
	DaysApart        int
	Reasons          []string
}

// ReconciliationResult represents the complete result of a ledger reconciliation
type ReconciliationResult struct {
	Matches               []*MatchResult
	UnmatchedTransactions []*models.Transaction
	UnmatchedEntries      []*models.AccountingEntry
	Summary               ReconciliationSummary
}

// ReconciliationSummary provides aggregate statistics about the reconciliation
type ReconciliationSummary struct {
	TotalTransactions     int
	TotalEntries          int
	ExactMatches          int
	PartialMatches        int
	UnmatchedTransactions int
	UnmatchedEntries      int
	TotalAmountMatched    decimal.Decimal
	TotalAmountUnmatched  decimal.Decimal
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) *MatchingEngine {
	if config == nil {
		config = DefaultMatchingConfig()
	}

	return &MatchingEngine{
		Config: config,
	}
}

// Reconcile greedily assigns each transaction, in input order, its best
// scoring unused ledger entry. Every entry is consumed at most once.
func (me *MatchingEngine) Reconcile(transactions []*models.Transaction, entries []*models.AccountingEntry) *ReconciliationResult {
	index := NewLedgerIndex(entries)
	used := make([]bool, index.Len())
	decisive := me.Config.dateIsDecisive()

	result := &ReconciliationResult{
		Matches: make([]*MatchResult, 0, len(transactions)),
	}

	for _, tx := range transactions {
		var candidates []int
		if decisive {
			candidates = index.Window(tx.OperationDate, me.Config.DateWindowDays)
		} else {
			candidates = index.All()
		}

		best := -1
		bestScore := -1.0
		for _, pos := range candidates {
			if used[pos] {
				continue
			}
			// strict comparison keeps the earliest entry on ties
			if score := me.Score(tx, index.AllEntries[pos]); score > bestScore {
				best, bestScore = pos, score
			}
		}

		match := &MatchResult{Transaction: tx, Tier: TierUnmatched}
		if best >= 0 {
			match = me.describe(tx, index.AllEntries[best], bestScore)
			if match.Tier != TierUnmatched {
				used[best] = true
			}
		}

		result.Matches = append(result.Matches, match)
		if match.Tier == TierUnmatched {
			result.UnmatchedTransactions = append(result.UnmatchedTransactions, tx)
		}
	}

	for pos, entry := range index.AllEntries {
		if !used[pos] {
			result.UnmatchedEntries = append(result.UnmatchedEntries, entry)
		}
	}

	result.Summary = me.calculateSummary(result, len(transactions), len(entries))
	return result
}

// Score returns the weighted match score of a transaction against a ledger entry
func (me *MatchingEngine) Score(tx *models.Transaction, entry *models.AccountingEntry) float64 {
	amountScore, dateScore, descScore, refScore := me.componentScores(tx, entry)
	w := me.Config.Weights

	score := w.AmountWeight*amountScore + w.DateWeight*dateScore + w.DescriptionWeight*descScore

	txRef, entryRef := normalizeReference(tx.Reference), normalizeReference(entry.Reference)
	if txRef == "" && entryRef == "" && me.Config.NormalizeMissingReference {
		return math.Min(1.0, score/(1-w.ReferenceWeight))
	}

	return score + w.ReferenceWeight*refScore
}

func (me *MatchingEngine) componentScores(tx *models.Transaction, entry *models.AccountingEntry) (amount, date, desc, ref float64) {
	amount = similarity.AmountSimilarity(tx.Amount, entry.Amount, me.Config.AmountTolerancePercent/100)
	date = me.dateScore(models.DaysBetween(tx.OperationDate, entry.Date))
	desc = similarity.SharedTokenRatio(tx.Description, entry.Description)

	txRef, entryRef := normalizeReference(tx.Reference), normalizeReference(entry.Reference)
	if txRef != "" && txRef == entryRef {
		ref = 1
	}
	return amount, date, desc, ref
}

// dateScore decays linearly to zero at the date window
func (me *MatchingEngine) dateScore(days int) float64 {
	if days == 0 {
		return 1
	}
	if me.Config.DateWindowDays == 0 {
		return 0
	}
	return math.Max(0, 1-float64(days)/float64(me.Config.DateWindowDays))
}

// Classify returns the tier of a score
func (me *MatchingEngine) Classify(score float64) MatchTier {
	switch {
	case score >= me.Config.ExactThreshold:
		return TierExact
	case score > me.Config.PartialThreshold:
		return TierPartial
	default:
		return TierUnmatched
	}
}

func (me *MatchingEngine) describe(tx *models.Transaction, entry *models.AccountingEntry, score float64) *MatchResult {
	amountScore, dateScore, descScore, refScore := me.componentScores(tx, entry)

	return &MatchResult{
		Transaction:      tx,
		Entry:            entry,
		Tier:             me.Classify(score),
		Score:            score,
		AmountDifference: tx.Amount.Abs().Sub(entry.Amount.Abs()).Abs(),
		DaysApart:        models.DaysBetween(tx.OperationDate, entry.Date),
		Reasons:          generateMatchReasons(amountScore, dateScore, descScore, refScore),
	}
}

// generateMatchReasons generates human-readable reasons for the match
func generateMatchReasons(amountScore, dateScore, descScore, refScore float64) []string {
	var reasons []string

	switch {
	case amountScore == 1.0:
		reasons = append(reasons, "Exact amount match")
	case amountScore > 0.8:
		reasons = append(reasons, "Close amount match")
	default:
		reasons = append(reasons, "Amount differs")
	}

	switch {
	case dateScore == 1.0:
		reasons = append(reasons, "Same date")
	case dateScore > 0.0:
		reasons = append(reasons, "Date within window")
	default:
		reasons = append(reasons, "Date outside window")
	}

	switch {
	case descScore == 1.0:
		reasons = append(reasons, "Same description")
	case descScore > 0.0:
		reasons = append(reasons, "Shared description terms")
	}

	if refScore == 1.0 {
		reasons = append(reasons, "Reference matches")
	}

	return reasons
}

// calculateSummary calculates summary statistics for the reconciliation result
func (me *MatchingEngine) calculateSummary(result *ReconciliationResult, totalTx, totalEntries int) ReconciliationSummary {
	summary := ReconciliationSummary{
		TotalTransactions:     totalTx,
		TotalEntries:          totalEntries,
		UnmatchedTransactions: len(result.UnmatchedTransactions),
		UnmatchedEntries:      len(result.UnmatchedEntries),
		TotalAmountMatched:    decimal.Zero,
		TotalAmountUnmatched:  decimal.Zero,
	}

	for _, match := range result.Matches {
		switch match.Tier {
		case TierExact:
			summary.ExactMatches++
			summary.TotalAmountMatched = summary.TotalAmountMatched.Add(match.Transaction.AbsAmount())
		case TierPartial:
			summary.PartialMatches++
			summary.TotalAmountMatched = summary.TotalAmountMatched.Add(match.Transaction.AbsAmount())
		default:
			summary.TotalAmountUnmatched = summary.TotalAmountUnmatched.Add(match.Transaction.AbsAmount())
		}
	}

	return summary
}

// String returns a one-line description of the summary
func (s ReconciliationSummary) String() string {
	return fmt.Sprintf("%d transactions, %d entries: %d exact, %d partial, %d unmatched transactions, %d unmatched entries",
		s.TotalTransactions, s.TotalEntries, s.ExactMatches, s.PartialMatches, s.UnmatchedTransactions, s.UnmatchedEntries)
}

func normalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}
