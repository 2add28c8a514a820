package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionType_IsValid(t *testing.T) {
	tests := []struct {
		txType TransactionType
		valid  bool
	}{
		{TransactionTypeDebit, true},
		{TransactionTypeFee, true},
		{TransactionTypeInterest, true},
		{"INVALID", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.txType), func(t *testing.T) {
			if got := tt.txType.IsValid(); got != tt.valid {
				t.Errorf("TransactionType.IsValid() = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestTransaction_HelperMethods(t *testing.T) {
	tx := &Transaction{
		ID:            "TX1",
		AccountID:     "ACC1",
		OperationDate: time.Date(2024, 3, 15, 17, 30, 0, 0, time.UTC),
		Amount:        decimal.NewFromInt(-2500),
		Reference:     "  ",
	}

	if !tx.IsDebit() || tx.IsCredit() {
		t.Error("expected negative amount to be a debit")
	}
	if !tx.AbsAmount().Equal(decimal.NewFromInt(2500)) {
		t.Errorf("AbsAmount() = %s, want 2500", tx.AbsAmount())
	}
	if !tx.Day().Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Day() = %v", tx.Day())
	}
	if tx.HasReference() {
		t.Error("expected blank reference to be treated as missing")
	}
}

func TestTransaction_MarshalJSON(t *testing.T) {
	tx := &Transaction{
		ID:            "TX1",
		AccountID:     "ACC1",
		OperationDate: time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC),
		Amount:        decimal.RequireFromString("-1250.50"),
		Description:   "FRAIS TENUE DE COMPTE",
	}

	data, err := json.Marshal(tx)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	out := string(data)
	if !strings.Contains(out, `"operation_date":"2024-03-15"`) {
		t.Errorf("expected calendar-day operation date, got %s", out)
	}
	if strings.Contains(out, "value_date") {
		t.Errorf("expected empty value date to be omitted, got %s", out)
	}
	if !strings.Contains(out, `"amount":"-1250.5"`) {
		t.Errorf("expected string amount, got %s", out)
	}
}

func TestDaysBetween(t *testing.T) {
	a := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)

	if got := DaysBetween(a, b); got != 3 {
		t.Errorf("DaysBetween() = %d, want 3", got)
	}
	if got := DaysBetween(b, a); got != 3 {
		t.Errorf("DaysBetween() reversed = %d, want 3", got)
	}
}

func TestParseDecimalFromString(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"100.50", "100.5", false},
		{"-5000", "-5000", false},
		{"1,234.56", "1234.56", false},
		{"1.234,56", "1234.56", false},
		{"1234,56", "1234.56", false},
		{"12 500 FCFA", "12500", false},
		{"€ 35,00", "35", false},
		{"", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDecimalFromString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDecimalFromString(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseDecimalFromString(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTransactionType(t *testing.T) {
	tests := []struct {
		input   string
		amount  int64
		want    TransactionType
		wantErr bool
	}{
		{"", -10, TransactionTypeDebit, false},
		{"", 10, TransactionTypeCredit, false},
		{"dr", -10, TransactionTypeDebit, false},
		{"frais", -10, TransactionTypeFee, false},
		{"agios", -10, TransactionTypeInterest, false},
		{"transfer", -10, TransactionTypeTransfer, false},
		{"bogus", -10, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTransactionType(tt.input, decimal.NewFromInt(tt.amount))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTransactionType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseTransactionType(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseTimeWithFormats(t *testing.T) {
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	for _, input := range []string{"2024-03-05", "05/03/2024", "05-03-2024", "2024/03/05", "05.03.2024"} {
		t.Run(input, func(t *testing.T) {
			got, err := ParseTimeWithFormats(input)
			if err != nil {
				t.Fatalf("ParseTimeWithFormats(%q) error = %v", input, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTimeWithFormats(%q) = %v, want %v", input, got, want)
			}
		})
	}

	if _, err := ParseTimeWithFormats("not a date"); err == nil {
		t.Error("expected error for invalid date")
	}
}

func TestValidateRecord(t *testing.T) {
	valid := &Transaction{ID: "T1", AccountID: "A1", OperationDate: time.Now(), Type: TransactionTypeFee}
	if err := ValidateRecord(valid); err != nil {
		t.Errorf("expected valid transaction, got %v", err)
	}

	missing := &Transaction{ID: "T2"}
	err := ValidateRecord(missing)
	if err == nil {
		t.Fatal("expected validation error for missing account and date")
	}
	if !strings.Contains(err.Error(), "AccountID") || !strings.Contains(err.Error(), "OperationDate") {
		t.Errorf("expected both missing fields in message, got %v", err)
	}

	badType := &Transaction{ID: "T3", AccountID: "A1", OperationDate: time.Now(), Type: "WIRE"}
	if err := ValidateRecord(badType); err == nil {
		t.Error("expected validation error for unknown type")
	}
}

func TestNewAnomaly(t *testing.T) {
	tx := &Transaction{ID: "T1", AccountID: "A1", OperationDate: time.Now()}

	t.Run("requires a transaction", func(t *testing.T) {
		_, err := NewAnomaly(AnomalyParams{Type: AnomalyGhostFee, Severity: SeverityLow})
		if err == nil {
			t.Error("expected error for anomaly without transactions")
		}
	})

	t.Run("aggregate requires evidence", func(t *testing.T) {
		_, err := NewAnomaly(AnomalyParams{Type: AnomalyReconciliationGap, Severity: SeverityLow, Aggregate: true})
		if err == nil {
			t.Error("expected error for aggregate anomaly without evidence")
		}
	})

	t.Run("aggregate with evidence", func(t *testing.T) {
		a, err := NewAnomaly(AnomalyParams{
			Type:      AnomalyReconciliationGap,
			Severity:  SeverityMedium,
			Aggregate: true,
			Evidence:  []Evidence{{Key: "unmatched_entries", Value: 3}},
		})
		if err != nil {
			t.Fatalf("NewAnomaly() error = %v", err)
		}
		if len(a.Transactions) != 0 {
			t.Errorf("expected no transactions, got %d", len(a.Transactions))
		}
	})

	t.Run("clamps confidence and sets defaults", func(t *testing.T) {
		a, err := NewAnomaly(AnomalyParams{
			Type:         AnomalyDuplicateFee,
			Severity:     SeverityHigh,
			Confidence:   1.4,
			Transactions: []*Transaction{tx},
		})
		if err != nil {
			t.Fatalf("NewAnomaly() error = %v", err)
		}
		if a.Confidence != 1 {
			t.Errorf("Confidence = %v, want 1", a.Confidence)
		}
		if a.Status != StatusPending || a.ID == "" || a.DetectedAt.IsZero() {
			t.Errorf("unexpected defaults: %+v", a)
		}
	})

	t.Run("rejects unknown severity", func(t *testing.T) {
		_, err := NewAnomaly(AnomalyParams{Type: AnomalyOvercharge, Severity: "SEVERE", Transactions: []*Transaction{tx}})
		if err == nil {
			t.Error("expected error for unknown severity")
		}
	})
}

func TestSeverityRank(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		if Severities[i-1].Rank() <= Severities[i].Rank() {
			t.Errorf("expected %s to rank above %s", Severities[i-1], Severities[i])
		}
	}
}

func TestBankConditions(t *testing.T) {
	conditions := &BankConditions{
		BankID:   "BK1",
		Currency: "XOF",
		Fees: []FeeScheduleEntry{
			{Code: "TENUE", Name: "Tenue de compte", Kind: PricingFixed, Amount: decimal.NewFromInt(5000)},
		},
		ReferenceRates: map[string]decimal.Decimal{"EUR": decimal.RequireFromString("655.957")},
	}

	if _, ok := conditions.FeeByCode("tenue"); !ok {
		t.Error("expected case-insensitive fee code lookup")
	}
	if _, ok := conditions.FeeByCode("SMS"); ok {
		t.Error("expected missing fee code")
	}

	converted := conditions.ConvertToBase(decimal.NewFromInt(10), "eur")
	if !converted.Equal(decimal.RequireFromString("6559.57")) {
		t.Errorf("ConvertToBase() = %s, want 6559.57", converted)
	}
	if got := conditions.ConvertToBase(decimal.NewFromInt(10), "USD"); !got.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected unknown currency to pass through, got %s", got)
	}

	foreign := &FeeScheduleEntry{
		Code: "VINT", Name: "Virement international", Kind: PricingPercentage, Currency: "eur",
		Rate: decimal.NewNullDecimal(decimal.RequireFromString("0.01")),
		Min:  decimal.NewNullDecimal(decimal.NewFromInt(10)),
		Max:  decimal.NewNullDecimal(decimal.NewFromInt(100)),
	}
	priced := conditions.InBase(foreign)
	if !priced.Min.Decimal.Equal(decimal.RequireFromString("6559.57")) || !priced.Max.Decimal.Equal(decimal.RequireFromString("65595.7")) {
		t.Errorf("InBase() min/max = %s/%s, want 6559.57/65595.7", priced.Min.Decimal, priced.Max.Decimal)
	}
	if !priced.Rate.Decimal.Equal(foreign.Rate.Decimal) || priced.Currency != "XOF" {
		t.Errorf("InBase() should keep the rate and switch currency, got %+v", priced)
	}
	if foreign.Currency != "eur" || !foreign.Min.Decimal.Equal(decimal.NewFromInt(10)) {
		t.Error("InBase() must not modify the schedule entry")
	}
	local := &conditions.Fees[0]
	if got := conditions.InBase(local); got == local || !got.Amount.Equal(local.Amount) {
		t.Errorf("InBase() of a base-currency entry should be an equal copy, got %+v", got)
	}
	if conditions.InBase(nil) != nil {
		t.Error("InBase(nil) should be nil")
	}

	if DayCountACT365.DaysInYear() != 365 || DayCount("").DaysInYear() != 360 {
		t.Error("unexpected day-count denominators")
	}
}
