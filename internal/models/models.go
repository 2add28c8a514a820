package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-day layout used across imports and reports
const DateLayout = "2006-01-02"

// TransactionType represents the type tag attached to a bank transaction
type TransactionType string

const (
	TransactionTypeDebit    TransactionType = "DEBIT"
	TransactionTypeCredit   TransactionType = "CREDIT"
	TransactionTypeFee      TransactionType = "FEE"
	TransactionTypeTransfer TransactionType = "TRANSFER"
	TransactionTypeATM      TransactionType = "ATM"
	TransactionTypeInterest TransactionType = "INTEREST"
	TransactionTypeCard     TransactionType = "CARD"
	TransactionTypeCheck    TransactionType = "CHECK"
	TransactionTypeOther    TransactionType = "OTHER"
)

// String returns the string representation of TransactionType
func (t TransactionType) String() string {
	return string(t)
}

// IsValid checks if the transaction type is known
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeDebit, TransactionTypeCredit, TransactionTypeFee,
		TransactionTypeTransfer, TransactionTypeATM, TransactionTypeInterest,
		TransactionTypeCard, TransactionTypeCheck, TransactionTypeOther:
		return true
	}
	return false
}

// Transaction is an imported bank-account movement. The engine never mutates it.
type Transaction struct {
	ID            string              `json:"id" validate:"required"`
	AccountID     string              `json:"account_id" validate:"required"`
	BankID        string              `json:"bank_id"`
	OperationDate time.Time           `json:"operation_date" validate:"required"`
	ValueDate     time.Time           `json:"value_date"`
	Amount        decimal.Decimal     `json:"amount"`
	Balance       decimal.NullDecimal `json:"balance"`
	Description   string              `json:"description"`
	Type          TransactionType     `json:"type" validate:"omitempty,oneof=DEBIT CREDIT FEE TRANSFER ATM INTEREST CARD CHECK OTHER"`
	Reference     string              `json:"reference,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

// IsDebit returns true if the amount is negative
func (t *Transaction) IsDebit() bool {
	return t.Amount.IsNegative()
}

// IsCredit returns true if the amount is positive
func (t *Transaction) IsCredit() bool {
	return t.Amount.IsPositive()
}

// AbsAmount returns the absolute value of the transaction amount
func (t *Transaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// Day returns the operation date truncated to a UTC calendar day
func (t *Transaction) Day() time.Time {
	return TruncateDay(t.OperationDate)
}

// HasReference reports whether a non-blank reference is present
func (t *Transaction) HasReference() bool {
	return strings.TrimSpace(t.Reference) != ""
}

// String returns a string representation of the Transaction
func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction{ID: %s, Account: %s, Amount: %s, Date: %s, Description: %q}",
		t.ID, t.AccountID, t.Amount.String(), t.OperationDate.Format(DateLayout), t.Description)
}

// MarshalJSON renders dates as calendar days
func (t *Transaction) MarshalJSON() ([]byte, error) {
	type Alias Transaction
	aux := &struct {
		OperationDate string `json:"operation_date"`
		ValueDate     string `json:"value_date,omitempty"`
		*Alias
	}{
		OperationDate: t.OperationDate.Format(DateLayout),
		Alias:         (*Alias)(t),
	}
	if !t.ValueDate.IsZero() {
		aux.ValueDate = t.ValueDate.Format(DateLayout)
	}
	return json.Marshal(aux)
}

// Comparable is the view of a record the similarity functions operate on
type Comparable interface {
	CompareAmount() decimal.Decimal
	CompareDescription() string
	CompareDate() time.Time
}

func (t *Transaction) CompareAmount() decimal.Decimal { return t.Amount }
func (t *Transaction) CompareDescription() string     { return t.Description }
func (t *Transaction) CompareDate() time.Time         { return t.OperationDate }

// TruncateDay returns the UTC calendar day of ts
func TruncateDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the absolute number of calendar days between a and b
func DaysBetween(a, b time.Time) int {
	hours := TruncateDay(b).Sub(TruncateDay(a)).Hours()
	days := int(hours / 24)
	if days < 0 {
		return -days
	}
	return days
}

// ParseDecimalFromString parses a decimal value from string with validation
func ParseDecimalFromString(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("amount string cannot be empty")
	}

	for _, marker := range []string{"$", "€", "FCFA", "XOF", "XAF", " ", "\u00a0"} {
		s = strings.ReplaceAll(s, marker, "")
	}

	// "1.234,56" and "1234,56" use a decimal comma; "1,234.56" uses a thousands comma
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Count(s, ",") == 1:
		s = strings.Replace(s, ",", ".", 1)
	default:
		s = strings.ReplaceAll(s, ",", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal format '%s': %w", s, err)
	}

	return d, nil
}

// ParseTransactionType parses a type tag, defaulting from the amount sign when blank
func ParseTransactionType(s string, amount decimal.Decimal) (TransactionType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	switch s {
	case "":
		if amount.IsNegative() {
			return TransactionTypeDebit, nil
		}
		return TransactionTypeCredit, nil
	case "D", "DR":
		return TransactionTypeDebit, nil
	case "C", "CR":
		return TransactionTypeCredit, nil
	case "GAB", "DAB":
		return TransactionTypeATM, nil
	case "FRAIS", "COMMISSION":
		return TransactionTypeFee, nil
	case "INTERETS", "AGIOS":
		return TransactionTypeInterest, nil
	}

	t := TransactionType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid transaction type '%s'", s)
	}
	return t, nil
}

// ParseTimeWithFormats attempts to parse time from string using multiple common formats
func ParseTimeWithFormats(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("time string cannot be empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		DateLayout,
		"02/01/2006",
		"02/01/2006 15:04:05",
		"02-01-2006",
		"2006/01/02",
		"02.01.2006",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("unable to parse time '%s': %w", s, lastErr)
}
