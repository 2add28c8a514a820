package engine

import (
	"fmt"

	"bank-fee-auditor/internal/models"
)

// PreprocessStats counts what preprocessing kept and dropped
type PreprocessStats struct {
	TotalTransactions    int `json:"total_transactions"`
	InvalidTransactions  int `json:"invalid_transactions"`
	DuplicateIDs         int `json:"duplicate_ids"`
	FilteredTransactions int `json:"filtered_transactions"`
	InvalidBalances      int `json:"invalid_balances"`
	InvalidLedgerEntries int `json:"invalid_ledger_entries"`
}

// preprocessed is the validated and filtered detector input
type preprocessed struct {
	transactions []*models.Transaction
	balances     []*models.DailyBalance
	ledger       []*models.AccountingEntry
	stats        PreprocessStats
	warnings     []string
}

// preprocess validates every record, dropping invalid ones with a warning,
// keeps the first transaction of each ID, then applies the filter. Balances
// are filtered by account only since interest periods may start before the
// filtered range.
func preprocess(req *AnalysisRequest) *preprocessed {
	out := &preprocessed{}
	out.stats.TotalTransactions = len(req.Transactions)

	seen := make(map[string]struct{}, len(req.Transactions))
	for i, tx := range req.Transactions {
		if tx == nil {
			out.stats.InvalidTransactions++
			out.warnings = append(out.warnings, fmt.Sprintf("transaction %d: missing record", i))
			continue
		}
		if err := models.ValidateRecord(tx); err != nil {
			out.stats.InvalidTransactions++
			out.warnings = append(out.warnings, fmt.Sprintf("transaction %d (%s): %v", i, tx.ID, err))
			continue
		}
		if _, dup := seen[tx.ID]; dup {
			out.stats.DuplicateIDs++
			out.warnings = append(out.warnings, fmt.Sprintf("transaction %d: duplicate id %s dropped", i, tx.ID))
			continue
		}
		seen[tx.ID] = struct{}{}
		if !req.Filter.inRange(tx.OperationDate) || !req.Filter.accountAllowed(tx.AccountID) || !req.Filter.bankAllowed(tx.BankID) {
			out.stats.FilteredTransactions++
			continue
		}
		out.transactions = append(out.transactions, tx)
	}

	for i, b := range req.Balances {
		if b == nil {
			out.stats.InvalidBalances++
			continue
		}
		if err := models.ValidateRecord(b); err != nil {
			out.stats.InvalidBalances++
			out.warnings = append(out.warnings, fmt.Sprintf("balance %d: %v", i, err))
			continue
		}
		if req.Filter.accountAllowed(b.AccountID) {
			out.balances = append(out.balances, b)
		}
	}

	for i, e := range req.Ledger {
		if e == nil {
			out.stats.InvalidLedgerEntries++
			continue
		}
		if err := models.ValidateRecord(e); err != nil {
			out.stats.InvalidLedgerEntries++
			out.warnings = append(out.warnings, fmt.Sprintf("ledger entry %d: %v", i, err))
			continue
		}
		if req.Filter.inRange(e.Date) {
			out.ledger = append(out.ledger, e)
		}
	}

	return out
}
