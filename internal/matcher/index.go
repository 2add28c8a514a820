package matcher

import (
	"sort"
	"time"

	"bank-fee-auditor/internal/models"
)

// LedgerIndex buckets ledger entries by calendar day for window lookups
type LedgerIndex struct {
	// DateIndex maps a calendar day to the positions of its entries
	DateIndex map[time.Time][]int

	// AllEntries holds all indexed entries in input order
	AllEntries []*models.AccountingEntry
}

// NewLedgerIndex creates a new index over entries
func NewLedgerIndex(entries []*models.AccountingEntry) *LedgerIndex {
	index := &LedgerIndex{
		DateIndex:  make(map[time.Time][]int),
		AllEntries: entries,
	}

	for i, entry := range entries {
		day := models.TruncateDay(entry.Date)
		index.DateIndex[day] = append(index.DateIndex[day], i)
	}

	return index
}

// Window returns the positions of entries dated within windowDays of day,
// in input order
func (li *LedgerIndex) Window(day time.Time, windowDays int) []int {
	day = models.TruncateDay(day)

	var positions []int
	for offset := -windowDays; offset <= windowDays; offset++ {
		positions = append(positions, li.DateIndex[day.AddDate(0, 0, offset)]...)
	}

	sort.Ints(positions)
	return positions
}

// All returns the positions of every entry
func (li *LedgerIndex) All() []int {
	positions := make([]int, len(li.AllEntries))
	for i := range positions {
		positions[i] = i
	}
	return positions
}

// Len returns the number of indexed entries
func (li *LedgerIndex) Len() int {
	return len(li.AllEntries)
}
