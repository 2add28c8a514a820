package parsers

import (
	"context"
	"fmt"
	"io"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// TransactionParser parses bank transaction exports
type TransactionParser struct {
	*BaseParser
	config *TransactionParserConfig
	logger logger.Logger
}

// NewTransactionParser creates a new TransactionParser with the given configuration
func NewTransactionParser(config *TransactionParserConfig) (*TransactionParser, error) {
	if config == nil {
		config = DefaultTransactionParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"transaction_parser_config",
			config.Name,
			err,
		).WithSuggestion("Check the transaction layout configuration values")
	}

	log := logger.GetGlobalLogger().WithComponent("transaction_parser")
	log.WithFields(logger.Fields{
		"layout":     config.Name,
		"has_header": config.HasHeader,
		"delimiter":  string(config.Delimiter),
	}).Debug("Created transaction parser")

	return &TransactionParser{
		BaseParser: NewBaseParser(parseConfigFor(config.HasHeader, config.Delimiter)),
		config:     config,
		logger:     log,
	}, nil
}

// ParseTransactions parses a CSV file of bank transactions
func (tp *TransactionParser) ParseTransactions(filePath string) ([]*models.Transaction, *ParseStats, error) {
	return tp.ParseTransactionsWithContext(context.Background(), filePath)
}

// ParseTransactionsWithContext parses transactions with cancellation support
func (tp *TransactionParser) ParseTransactionsWithContext(ctx context.Context, filePath string) ([]*models.Transaction, *ParseStats, error) {
	return parseFile(ctx, tp.BaseParser, filePath, tp.getRequiredHeaders(), tp.parseTransactionFromRecord, tp.logger)
}

// ParseTransactionsFromReader parses transactions from r; source names r in errors
func (tp *TransactionParser) ParseTransactionsFromReader(ctx context.Context, r io.Reader, source string) ([]*models.Transaction, *ParseStats, error) {
	return parseRecords(ctx, tp.BaseParser, r, source, tp.getRequiredHeaders(), tp.parseTransactionFromRecord, tp.logger)
}

// getRequiredHeaders lists the configured required columns. Without a
// header row every configured column is listed, in file order.
func (tp *TransactionParser) getRequiredHeaders() []string {
	fields := []string{FieldID, FieldAccount, FieldOperationDate, FieldAmount, FieldDebit, FieldCredit}
	if !tp.config.HasHeader {
		fields = []string{
			FieldID, FieldAccount, FieldBank, FieldOperationDate, FieldValueDate, FieldAmount,
			FieldDebit, FieldCredit, FieldBalance, FieldDescription, FieldType, FieldReference,
		}
	}

	var headers []string
	for _, field := range fields {
		if name := tp.config.GetColumnName(field); name != "" {
			headers = append(headers, name)
		}
	}
	return headers
}

// parseTransactionFromRecord converts a CSV record to a Transaction
func (tp *TransactionParser) parseTransactionFromRecord(record []string, parseCtx *ParseContext) (*models.Transaction, *ParseError) {
	col := tp.config.GetColumnName

	id := fmt.Sprintf("line-%d", parseCtx.LineNumber)
	if name := col(FieldID); name != "" {
		value, perr := tp.GetFieldValue(record, parseCtx, name)
		if perr != nil {
			return nil, perr
		}
		if value == "" {
			return nil, fieldError(parseCtx, name, value, "transaction ID cannot be empty", nil)
		}
		id = value
	}

	accountID := tp.OptionalFieldValue(record, parseCtx, col(FieldAccount))
	if accountID == "" {
		accountID = tp.config.DefaultAccountID
	}
	bankID := tp.OptionalFieldValue(record, parseCtx, col(FieldBank))
	if bankID == "" {
		bankID = tp.config.DefaultBankID
	}

	dateValue, perr := tp.GetFieldValue(record, parseCtx, col(FieldOperationDate))
	if perr != nil {
		return nil, perr
	}
	operationDate, err := models.ParseTimeWithFormats(dateValue)
	if err != nil {
		return nil, fieldError(parseCtx, col(FieldOperationDate), dateValue, "invalid operation date", err)
	}

	valueDate := operationDate
	if raw := tp.OptionalFieldValue(record, parseCtx, col(FieldValueDate)); raw != "" {
		valueDate, err = models.ParseTimeWithFormats(raw)
		if err != nil {
			return nil, fieldError(parseCtx, col(FieldValueDate), raw, "invalid value date", err)
		}
	}

	amount, perr := tp.parseAmount(record, parseCtx)
	if perr != nil {
		return nil, perr
	}

	var balance decimal.NullDecimal
	if raw := tp.OptionalFieldValue(record, parseCtx, col(FieldBalance)); raw != "" {
		value, err := models.ParseDecimalFromString(raw)
		if err != nil {
			return nil, fieldError(parseCtx, col(FieldBalance), raw, "invalid balance", err)
		}
		balance = decimal.NewNullDecimal(value)
	}

	typeValue := tp.OptionalFieldValue(record, parseCtx, col(FieldType))
	txType, err := models.ParseTransactionType(typeValue, amount)
	if err != nil {
		return nil, fieldError(parseCtx, col(FieldType), typeValue, "invalid transaction type", err)
	}

	tx := &models.Transaction{
		ID:            id,
		AccountID:     accountID,
		BankID:        bankID,
		OperationDate: operationDate,
		ValueDate:     valueDate,
		Amount:        amount,
		Balance:       balance,
		Description:   tp.OptionalFieldValue(record, parseCtx, col(FieldDescription)),
		Type:          txType,
		Reference:     tp.OptionalFieldValue(record, parseCtx, col(FieldReference)),
	}

	if err := models.ValidateRecord(tx); err != nil {
		return nil, &ParseError{
			Line:    parseCtx.LineNumber,
			Column:  -1,
			Field:   "transaction",
			Value:   id,
			Message: "transaction validation failed",
			Err:     err,
		}
	}
	return tx, nil
}

// parseAmount reads the signed amount, or debit minus credit for split layouts
func (tp *TransactionParser) parseAmount(record []string, parseCtx *ParseContext) (decimal.Decimal, *ParseError) {
	col := tp.config.GetColumnName

	if name := col(FieldAmount); name != "" {
		raw, perr := tp.GetFieldValue(record, parseCtx, name)
		if perr != nil {
			return decimal.Zero, perr
		}
		amount, err := models.ParseDecimalFromString(raw)
		if err != nil {
			return decimal.Zero, fieldError(parseCtx, name, raw, "invalid amount", err)
		}
		return amount, nil
	}

	debitRaw := tp.OptionalFieldValue(record, parseCtx, col(FieldDebit))
	creditRaw := tp.OptionalFieldValue(record, parseCtx, col(FieldCredit))
	if debitRaw == "" && creditRaw == "" {
		return decimal.Zero, fieldError(parseCtx, col(FieldDebit), "", "either debit or credit is required", nil)
	}

	amount := decimal.Zero
	if debitRaw != "" {
		debit, err := models.ParseDecimalFromString(debitRaw)
		if err != nil {
			return decimal.Zero, fieldError(parseCtx, col(FieldDebit), debitRaw, "invalid debit", err)
		}
		amount = amount.Sub(debit.Abs())
	}
	if creditRaw != "" {
		credit, err := models.ParseDecimalFromString(creditRaw)
		if err != nil {
			return decimal.Zero, fieldError(parseCtx, col(FieldCredit), creditRaw, "invalid credit", err)
		}
		amount = amount.Add(credit.Abs())
	}
	return amount, nil
}
