package parsers

import (
	"fmt"
	"strings"
)

// Standard field names used as ColumnAliases keys
const (
	FieldID            = "id"
	FieldAccount       = "account_id"
	FieldBank          = "bank_id"
	FieldOperationDate = "operation_date"
	FieldValueDate     = "value_date"
	FieldAmount        = "amount"
	FieldDebit         = "debit"
	FieldCredit        = "credit"
	FieldBalance       = "balance"
	FieldDescription   = "description"
	FieldType          = "type"
	FieldReference     = "reference"
	FieldDate          = "date"
	FieldAccountCode   = "account_code"
	FieldService       = "service"
)

// TransactionParserConfig maps the columns of a bank export onto
// transaction fields. Empty optional columns are not read.
type TransactionParserConfig struct {
	Name                string `json:"name" mapstructure:"name"`
	IDColumn            string `json:"id_column" mapstructure:"id_column"`
	AccountColumn       string `json:"account_column" mapstructure:"account_column"`
	BankColumn          string `json:"bank_column" mapstructure:"bank_column"`
	OperationDateColumn string `json:"operation_date_column" mapstructure:"operation_date_column"`
	ValueDateColumn     string `json:"value_date_column" mapstructure:"value_date_column"`
	// AmountColumn holds a signed amount. Leave it empty to read separate
	// unsigned DebitColumn and CreditColumn instead.
	AmountColumn      string `json:"amount_column" mapstructure:"amount_column"`
	DebitColumn       string `json:"debit_column" mapstructure:"debit_column"`
	CreditColumn      string `json:"credit_column" mapstructure:"credit_column"`
	BalanceColumn     string `json:"balance_column" mapstructure:"balance_column"`
	DescriptionColumn string `json:"description_column" mapstructure:"description_column"`
	TypeColumn        string `json:"type_column" mapstructure:"type_column"`
	ReferenceColumn   string `json:"reference_column" mapstructure:"reference_column"`

	// Defaults for exports that cover a single account of a single bank
	DefaultAccountID string `json:"default_account_id" mapstructure:"default_account_id"`
	DefaultBankID    string `json:"default_bank_id" mapstructure:"default_bank_id"`

	HasHeader     bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter     rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// Validate checks if the transaction parser configuration is valid
func (c *TransactionParserConfig) Validate() error {
	if strings.TrimSpace(c.OperationDateColumn) == "" {
		return fmt.Errorf("operation date column cannot be empty")
	}
	if strings.TrimSpace(c.AmountColumn) == "" && (strings.TrimSpace(c.DebitColumn) == "" || strings.TrimSpace(c.CreditColumn) == "") {
		return fmt.Errorf("either an amount column or both debit and credit columns are required")
	}
	if strings.TrimSpace(c.AccountColumn) == "" && strings.TrimSpace(c.DefaultAccountID) == "" {
		return fmt.Errorf("either an account column or a default account ID is required")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *TransactionParserConfig) GetColumnName(field string) string {
	if alias, exists := c.ColumnAliases[field]; exists {
		return alias
	}

	switch field {
	case FieldID:
		return c.IDColumn
	case FieldAccount:
		return c.AccountColumn
	case FieldBank:
		return c.BankColumn
	case FieldOperationDate:
		return c.OperationDateColumn
	case FieldValueDate:
		return c.ValueDateColumn
	case FieldAmount:
		return c.AmountColumn
	case FieldDebit:
		return c.DebitColumn
	case FieldCredit:
		return c.CreditColumn
	case FieldBalance:
		return c.BalanceColumn
	case FieldDescription:
		return c.DescriptionColumn
	case FieldType:
		return c.TypeColumn
	case FieldReference:
		return c.ReferenceColumn
	default:
		return field
	}
}

// DefaultTransactionParserConfig returns the standard comma-separated layout
func DefaultTransactionParserConfig() *TransactionParserConfig {
	return &TransactionParserConfig{
		Name:                "standard",
		IDColumn:            "id",
		AccountColumn:       "account_id",
		BankColumn:          "bank_id",
		OperationDateColumn: "operation_date",
		ValueDateColumn:     "value_date",
		AmountColumn:        "amount",
		BalanceColumn:       "balance",
		DescriptionColumn:   "description",
		TypeColumn:          "type",
		ReferenceColumn:     "reference",
		HasHeader:           true,
		Delimiter:           ',',
		ColumnAliases:       make(map[string]string),
	}
}

// Predefined transaction layouts
var (
	// StandardLayout is the default comma-separated layout
	StandardLayout = DefaultTransactionParserConfig()

	// FrenchStatementLayout is the semicolon-separated export of most French
	// and West African online banking portals, with split debit and credit
	// columns and no transaction ID
	FrenchStatementLayout = &TransactionParserConfig{
		Name:                "fr",
		OperationDateColumn: "Date opération",
		ValueDateColumn:     "Date valeur",
		DebitColumn:         "Débit",
		CreditColumn:        "Crédit",
		BalanceColumn:       "Solde",
		DescriptionColumn:   "Libellé",
		ReferenceColumn:     "Référence",
		DefaultAccountID:    "default",
		HasHeader:           true,
		Delimiter:           ';',
	}
)

// GetTransactionLayout returns a predefined layout by name, or nil
func GetTransactionLayout(name string) *TransactionParserConfig {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "standard":
		return DefaultTransactionParserConfig()
	case "fr":
		layout := *FrenchStatementLayout
		return &layout
	default:
		return nil
	}
}

// RecordParserConfig maps the columns of the ledger, balance and historical
// fee files. Each parser reads the fields it needs.
type RecordParserConfig struct {
	IDColumn          string `json:"id_column" mapstructure:"id_column"`
	DateColumn        string `json:"date_column" mapstructure:"date_column"`
	AccountColumn     string `json:"account_column" mapstructure:"account_column"`
	AmountColumn      string `json:"amount_column" mapstructure:"amount_column"`
	BalanceColumn     string `json:"balance_column" mapstructure:"balance_column"`
	DescriptionColumn string `json:"description_column" mapstructure:"description_column"`
	ReferenceColumn   string `json:"reference_column" mapstructure:"reference_column"`
	AccountCodeColumn string `json:"account_code_column" mapstructure:"account_code_column"`
	ServiceColumn     string `json:"service_column" mapstructure:"service_column"`

	DefaultAccountID string            `json:"default_account_id" mapstructure:"default_account_id"`
	HasHeader        bool              `json:"has_header" mapstructure:"has_header"`
	Delimiter        rune              `json:"delimiter" mapstructure:"delimiter"`
	ColumnAliases    map[string]string `json:"column_aliases,omitempty" mapstructure:"column_aliases"`
}

// DefaultRecordParserConfig returns the standard comma-separated layout
func DefaultRecordParserConfig() *RecordParserConfig {
	return &RecordParserConfig{
		IDColumn:          "id",
		DateColumn:        "date",
		AccountColumn:     "account_id",
		AmountColumn:      "amount",
		BalanceColumn:     "balance",
		DescriptionColumn: "description",
		ReferenceColumn:   "reference",
		AccountCodeColumn: "account_code",
		ServiceColumn:     "service",
		HasHeader:         true,
		Delimiter:         ',',
		ColumnAliases:     make(map[string]string),
	}
}

// Validate checks the columns every record parser needs
func (c *RecordParserConfig) Validate() error {
	if strings.TrimSpace(c.DateColumn) == "" {
		return fmt.Errorf("date column cannot be empty")
	}
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '"' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	return nil
}

// GetColumnName returns the actual column name, checking aliases first
func (c *RecordParserConfig) GetColumnName(field string) string {
	if alias, exists := c.ColumnAliases[field]; exists {
		return alias
	}

	switch field {
	case FieldID:
		return c.IDColumn
	case FieldDate:
		return c.DateColumn
	case FieldAccount:
		return c.AccountColumn
	case FieldAmount:
		return c.AmountColumn
	case FieldBalance:
		return c.BalanceColumn
	case FieldDescription:
		return c.DescriptionColumn
	case FieldReference:
		return c.ReferenceColumn
	case FieldAccountCode:
		return c.AccountCodeColumn
	case FieldService:
		return c.ServiceColumn
	default:
		return field
	}
}

// parseConfigFor builds the CSV settings shared by every parser
func parseConfigFor(hasHeader bool, delimiter rune) *ParseConfig {
	config := DefaultParseConfig()
	config.HasHeader = hasHeader
	config.Delimiter = delimiter
	return config
}
