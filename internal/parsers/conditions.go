package parsers

import (
	"fmt"
	"io"
	"os"
	"strings"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// yamlDecimal accepts numbers and formatted strings ("10 000", "1,5")
type yamlDecimal struct {
	value decimal.Decimal
	set   bool
}

func (d *yamlDecimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a number", node.Line)
	}
	if node.Tag == "!!null" || strings.TrimSpace(node.Value) == "" {
		return nil
	}
	value, err := models.ParseDecimalFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.value, d.set = value, true
	return nil
}

func (d yamlDecimal) null() decimal.NullDecimal {
	if !d.set {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.value)
}

type feeDocument struct {
	Code     string      `yaml:"code"`
	Name     string      `yaml:"name"`
	Kind     string      `yaml:"kind"`
	Amount   yamlDecimal `yaml:"amount"`
	Rate     yamlDecimal `yaml:"rate"`
	Min      yamlDecimal `yaml:"min"`
	Max      yamlDecimal `yaml:"max"`
	Currency string      `yaml:"currency"`
}

type conditionsDocument struct {
	BankID   string        `yaml:"bank_id"`
	Name     string        `yaml:"name"`
	Currency string        `yaml:"currency"`
	Fees     []feeDocument `yaml:"fees"`
	Interest struct {
		DebitRate yamlDecimal `yaml:"debit_rate"`
		DayCount  string      `yaml:"day_count"`
	} `yaml:"interest"`
	ReferenceRates map[string]yamlDecimal `yaml:"reference_rates"`
}

// LoadConditions reads bank conditions from a YAML file
func LoadConditions(filePath string) (*models.BankConditions, error) {
	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
	}
	defer file.Close()

	conditions, err := DecodeConditions(file)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, filePath, 0, "conditions", "", err).
			WithSuggestion("Check the bank conditions document against the documented YAML layout")
	}

	logger.GetGlobalLogger().WithComponent("conditions_loader").WithFields(logger.Fields{
		"file_path": filePath,
		"bank_id":   conditions.BankID,
		"fees":      len(conditions.Fees),
	}).Info("Loaded bank conditions")
	return conditions, nil
}

// DecodeConditions decodes and validates one bank conditions document
func DecodeConditions(r io.Reader) (*models.BankConditions, error) {
	var doc conditionsDocument
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("empty conditions document")
		}
		return nil, err
	}

	conditions := &models.BankConditions{
		BankID:   strings.TrimSpace(doc.BankID),
		Name:     doc.Name,
		Currency: strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Interest: models.InterestTerms{
			DebitRate: doc.Interest.DebitRate.value,
			DayCount:  models.DayCount(strings.ToUpper(strings.TrimSpace(doc.Interest.DayCount))),
		},
	}
	if conditions.Interest.DayCount == "" {
		conditions.Interest.DayCount = models.DayCountACT360
	}

	for i, fee := range doc.Fees {
		entry := models.FeeScheduleEntry{
			Code:     strings.TrimSpace(fee.Code),
			Name:     strings.TrimSpace(fee.Name),
			Kind:     models.PricingKind(strings.ToLower(strings.TrimSpace(fee.Kind))),
			Amount:   fee.Amount.value,
			Rate:     fee.Rate.null(),
			Min:      fee.Min.null(),
			Max:      fee.Max.null(),
			Currency: strings.ToUpper(strings.TrimSpace(fee.Currency)),
		}
		if entry.Kind == models.PricingPercentage && !entry.Rate.Valid {
			return nil, fmt.Errorf("fee %d (%s): percentage pricing requires a rate", i, entry.Code)
		}
		if entry.Min.Valid && entry.Max.Valid && entry.Min.Decimal.GreaterThan(entry.Max.Decimal) {
			return nil, fmt.Errorf("fee %d (%s): minimum %s exceeds maximum %s", i, entry.Code, entry.Min.Decimal, entry.Max.Decimal)
		}
		conditions.Fees = append(conditions.Fees, entry)
	}

	if len(doc.ReferenceRates) > 0 {
		conditions.ReferenceRates = make(map[string]decimal.Decimal, len(doc.ReferenceRates))
		for currency, rate := range doc.ReferenceRates {
			conditions.ReferenceRates[strings.ToUpper(currency)] = rate.value
		}
	}

	for i, entry := range conditions.Fees {
		if entry.Currency == "" || entry.Currency == conditions.Currency {
			continue
		}
		if rate, ok := conditions.ReferenceRates[entry.Currency]; !ok || !rate.IsPositive() {
			return nil, fmt.Errorf("fee %d (%s): no reference rate for %s", i, entry.Code, entry.Currency)
		}
	}

	if err := models.ValidateRecord(conditions); err != nil {
		return nil, err
	}
	return conditions, nil
}
