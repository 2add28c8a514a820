package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricingKind describes how a fee schedule entry is priced
type PricingKind string

const (
	PricingFixed      PricingKind = "fixed"
	PricingPercentage PricingKind = "percentage"
	PricingTiered     PricingKind = "tiered"
)

// FeeScheduleEntry is one line of a bank's contractual price list
type FeeScheduleEntry struct {
	Code   string              `json:"code" yaml:"code" validate:"required"`
	Name   string              `json:"name" yaml:"name" validate:"required"`
	Kind   PricingKind         `json:"kind" yaml:"kind" validate:"required,oneof=fixed percentage tiered"`
	Amount decimal.Decimal     `json:"amount" yaml:"amount"`
	Rate   decimal.NullDecimal `json:"rate" yaml:"rate"`
	Min    decimal.NullDecimal `json:"min" yaml:"min"`
	Max    decimal.NullDecimal `json:"max" yaml:"max"`

	// Currency of Amount, Min and Max; empty means the conditions currency
	Currency string `json:"currency,omitempty" yaml:"currency"`
}

// DayCount is an interest day-count convention
type DayCount string

const (
	DayCountACT360 DayCount = "ACT/360"
	DayCountACT365 DayCount = "ACT/365"
)

// DaysInYear returns the annualisation denominator, defaulting to 360
func (d DayCount) DaysInYear() int64 {
	if d == DayCountACT365 {
		return 365
	}
	return 360
}

// InterestTerms holds the contractual debit interest terms
type InterestTerms struct {
	DebitRate decimal.Decimal `json:"debit_rate" yaml:"debit_rate"`
	DayCount  DayCount        `json:"day_count" yaml:"day_count" validate:"omitempty,oneof=ACT/360 ACT/365"`
}

// BankConditions is the parsed contractual conditions of one bank
type BankConditions struct {
	BankID         string                     `json:"bank_id" yaml:"bank_id" validate:"required"`
	Name           string                     `json:"name" yaml:"name"`
	Currency       string                     `json:"currency" yaml:"currency"`
	Fees           []FeeScheduleEntry         `json:"fees" yaml:"fees" validate:"dive"`
	Interest       InterestTerms              `json:"interest" yaml:"interest"`
	ReferenceRates map[string]decimal.Decimal `json:"reference_rates,omitempty" yaml:"reference_rates"`
}

// FeeByCode returns the schedule entry with the given code
func (c *BankConditions) FeeByCode(code string) (*FeeScheduleEntry, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.Fees {
		if strings.EqualFold(c.Fees[i].Code, code) {
			return &c.Fees[i], true
		}
	}
	return nil, false
}

// ConvertToBase converts amount from currency into the conditions currency
// using the configured reference table. Unknown currencies are returned as is.
func (c *BankConditions) ConvertToBase(amount decimal.Decimal, currency string) decimal.Decimal {
	if c == nil || currency == "" || strings.EqualFold(currency, c.Currency) {
		return amount
	}
	rate, ok := c.ReferenceRates[strings.ToUpper(currency)]
	if !ok || rate.IsZero() {
		return amount
	}
	return amount.Mul(rate)
}

// InBase returns a copy of entry priced in the conditions currency. Rates
// apply to statement amounts and are left unchanged.
func (c *BankConditions) InBase(entry *FeeScheduleEntry) *FeeScheduleEntry {
	if entry == nil {
		return nil
	}
	priced := *entry
	if c == nil || entry.Currency == "" || strings.EqualFold(entry.Currency, c.Currency) {
		return &priced
	}
	priced.Amount = c.ConvertToBase(entry.Amount, entry.Currency)
	if entry.Min.Valid {
		priced.Min = decimal.NewNullDecimal(c.ConvertToBase(entry.Min.Decimal, entry.Currency))
	}
	if entry.Max.Valid {
		priced.Max = decimal.NewNullDecimal(c.ConvertToBase(entry.Max.Decimal, entry.Currency))
	}
	priced.Currency = c.Currency
	return &priced
}

// DailyBalance is the end-of-day balance of one account
type DailyBalance struct {
	Date      time.Time       `json:"date" validate:"required"`
	AccountID string          `json:"account_id" validate:"required"`
	Balance   decimal.Decimal `json:"balance"`
}

// AccountingEntry is one line of the client's own ledger
type AccountingEntry struct {
	ID          string          `json:"id" validate:"required"`
	Date        time.Time       `json:"date" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	AccountCode string          `json:"account_code,omitempty"`
}

func (e *AccountingEntry) CompareAmount() decimal.Decimal { return e.Amount }
func (e *AccountingEntry) CompareDescription() string     { return e.Description }
func (e *AccountingEntry) CompareDate() time.Time         { return e.Date }

// ServiceType classifies what a fee was charged for
type ServiceType string

const (
	ServiceAccountMaintenance    ServiceType = "ACCOUNT_MAINTENANCE"
	ServiceTransferNational      ServiceType = "TRANSFER_NATIONAL"
	ServiceTransferInternational ServiceType = "TRANSFER_INTERNATIONAL"
	ServiceCard                  ServiceType = "CARD"
	ServiceATM                   ServiceType = "ATM"
	ServiceOverdraft             ServiceType = "OVERDRAFT"
	ServiceSMS                   ServiceType = "SMS"
	ServiceStatement             ServiceType = "STATEMENT"
	ServiceOther                 ServiceType = "OTHER"
)

// HistoricalFee is one past observation of a fee amount
type HistoricalFee struct {
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
}

// HistoricalFees groups past fee observations by service type
type HistoricalFees map[ServiceType][]HistoricalFee
