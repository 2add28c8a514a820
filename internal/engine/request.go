package engine

import (
	"fmt"
	"strings"
	"time"

	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/models"
)

// Filter restricts the transactions an analysis looks at. Zero values do
// not filter.
type Filter struct {
	StartDate  *time.Time `json:"start_date,omitempty"`
	EndDate    *time.Time `json:"end_date,omitempty"`
	AccountIDs []string   `json:"account_ids,omitempty"`
	BankIDs    []string   `json:"bank_ids,omitempty"`
}

// Validate validates the filter
func (f *Filter) Validate() error {
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		return fmt.Errorf("start date must be before end date")
	}
	return nil
}

// Period returns the date bounds of the filter
func (f *Filter) Period() detector.Period {
	return detector.Period{Start: f.StartDate, End: f.EndDate}
}

func (f *Filter) inRange(day time.Time) bool {
	return f.Period().Contains(day)
}

func (f *Filter) accountAllowed(accountID string) bool {
	return contains(f.AccountIDs, accountID)
}

func (f *Filter) bankAllowed(bankID string) bool {
	return contains(f.BankIDs, bankID)
}

// contains reports whether value is in list; an empty list allows everything
func contains(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), value) {
			return true
		}
	}
	return false
}

// AnalysisRequest is one analysis to run
type AnalysisRequest struct {
	Transactions []*models.Transaction
	Conditions   *models.BankConditions
	Balances     []*models.DailyBalance
	Ledger       []*models.AccountingEntry
	Historical   models.HistoricalFees
	Filter       Filter
	// Detectors restricts the run to the named detectors; empty runs all
	Detectors []detector.Name
}

// Validate checks the shape of the request
func (r *AnalysisRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("analysis request is required")
	}
	if r.Transactions == nil {
		return fmt.Errorf("transaction list is required")
	}
	if err := r.Filter.Validate(); err != nil {
		return err
	}
	if r.Conditions != nil {
		if err := models.ValidateRecord(r.Conditions); err != nil {
			return fmt.Errorf("invalid bank conditions: %w", err)
		}
	}
	return nil
}
