package parsers

import (
	"context"
	"io"
	"strings"
	"time"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"
)

// RecordParser parses the auxiliary CSV inputs: the client ledger, daily
// balances and historical fee observations
type RecordParser struct {
	*BaseParser
	config *RecordParserConfig
	logger logger.Logger
}

// NewRecordParser creates a new RecordParser with the given configuration
func NewRecordParser(config *RecordParserConfig) (*RecordParser, error) {
	if config == nil {
		config = DefaultRecordParserConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"record_parser_config",
			config.DateColumn,
			err,
		).WithSuggestion("Check the record layout configuration values")
	}

	return &RecordParser{
		BaseParser: NewBaseParser(parseConfigFor(config.HasHeader, config.Delimiter)),
		config:     config,
		logger:     logger.GetGlobalLogger().WithComponent("record_parser"),
	}, nil
}

// headers returns the configured column names of fields, skipping unset ones
func (rp *RecordParser) headers(fields ...string) []string {
	var out []string
	for _, field := range fields {
		if name := rp.config.GetColumnName(field); name != "" {
			out = append(out, name)
		}
	}
	return out
}

func (rp *RecordParser) ledgerHeaders() []string {
	if !rp.config.HasHeader {
		return rp.headers(FieldID, FieldDate, FieldAmount, FieldDescription, FieldReference, FieldAccountCode)
	}
	return rp.headers(FieldID, FieldDate, FieldAmount)
}

// ParseLedger parses a CSV file of accounting entries
func (rp *RecordParser) ParseLedger(ctx context.Context, filePath string) ([]*models.AccountingEntry, *ParseStats, error) {
	return parseFile(ctx, rp.BaseParser, filePath, rp.ledgerHeaders(), rp.parseLedgerEntry, rp.logger.WithField("kind", "ledger"))
}

// ParseLedgerFromReader parses accounting entries from r
func (rp *RecordParser) ParseLedgerFromReader(ctx context.Context, r io.Reader, source string) ([]*models.AccountingEntry, *ParseStats, error) {
	return parseRecords(ctx, rp.BaseParser, r, source, rp.ledgerHeaders(), rp.parseLedgerEntry, rp.logger.WithField("kind", "ledger"))
}

func (rp *RecordParser) parseLedgerEntry(record []string, parseCtx *ParseContext) (*models.AccountingEntry, *ParseError) {
	col := rp.config.GetColumnName

	id, perr := rp.GetFieldValue(record, parseCtx, col(FieldID))
	if perr != nil {
		return nil, perr
	}
	date, perr := rp.parseDate(record, parseCtx)
	if perr != nil {
		return nil, perr
	}
	raw, perr := rp.GetFieldValue(record, parseCtx, col(FieldAmount))
	if perr != nil {
		return nil, perr
	}
	amount, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return nil, fieldError(parseCtx, col(FieldAmount), raw, "invalid amount", err)
	}

	entry := &models.AccountingEntry{
		ID:          id,
		Date:        date,
		Amount:      amount,
		Description: rp.OptionalFieldValue(record, parseCtx, col(FieldDescription)),
		Reference:   rp.OptionalFieldValue(record, parseCtx, col(FieldReference)),
		AccountCode: rp.OptionalFieldValue(record, parseCtx, col(FieldAccountCode)),
	}
	if err := models.ValidateRecord(entry); err != nil {
		return nil, &ParseError{Line: parseCtx.LineNumber, Column: -1, Field: "ledger_entry", Value: id, Message: "ledger entry validation failed", Err: err}
	}
	return entry, nil
}

func (rp *RecordParser) balanceHeaders() []string {
	if rp.config.HasHeader && rp.config.DefaultAccountID != "" {
		return rp.headers(FieldDate, FieldBalance)
	}
	return rp.headers(FieldDate, FieldAccount, FieldBalance)
}

// ParseBalances parses a CSV file of end-of-day balances
func (rp *RecordParser) ParseBalances(ctx context.Context, filePath string) ([]*models.DailyBalance, *ParseStats, error) {
	return parseFile(ctx, rp.BaseParser, filePath, rp.balanceHeaders(), rp.parseBalance, rp.logger.WithField("kind", "balance"))
}

// ParseBalancesFromReader parses end-of-day balances from r
func (rp *RecordParser) ParseBalancesFromReader(ctx context.Context, r io.Reader, source string) ([]*models.DailyBalance, *ParseStats, error) {
	return parseRecords(ctx, rp.BaseParser, r, source, rp.balanceHeaders(), rp.parseBalance, rp.logger.WithField("kind", "balance"))
}

func (rp *RecordParser) parseBalance(record []string, parseCtx *ParseContext) (*models.DailyBalance, *ParseError) {
	col := rp.config.GetColumnName

	date, perr := rp.parseDate(record, parseCtx)
	if perr != nil {
		return nil, perr
	}
	accountID := rp.OptionalFieldValue(record, parseCtx, col(FieldAccount))
	if accountID == "" {
		accountID = rp.config.DefaultAccountID
	}
	raw, perr := rp.GetFieldValue(record, parseCtx, col(FieldBalance))
	if perr != nil {
		return nil, perr
	}
	balance, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return nil, fieldError(parseCtx, col(FieldBalance), raw, "invalid balance", err)
	}

	b := &models.DailyBalance{Date: date, AccountID: accountID, Balance: balance}
	if err := models.ValidateRecord(b); err != nil {
		return nil, &ParseError{Line: parseCtx.LineNumber, Column: -1, Field: "balance", Value: accountID, Message: "balance validation failed", Err: err}
	}
	return b, nil
}

// historicalRow is one parsed line of a historical fee file
type historicalRow struct {
	service models.ServiceType
	fee     models.HistoricalFee
}

func (rp *RecordParser) historicalHeaders() []string {
	return rp.headers(FieldDate, FieldService, FieldAmount)
}

// ParseHistoricalFees parses a CSV file of past fee observations grouped by
// service type
func (rp *RecordParser) ParseHistoricalFees(ctx context.Context, filePath string) (models.HistoricalFees, *ParseStats, error) {
	rows, stats, err := parseFile(ctx, rp.BaseParser, filePath, rp.historicalHeaders(), rp.parseHistoricalRow, rp.logger.WithField("kind", "historical"))
	return groupHistorical(rows), stats, err
}

// ParseHistoricalFeesFromReader parses past fee observations from r
func (rp *RecordParser) ParseHistoricalFeesFromReader(ctx context.Context, r io.Reader, source string) (models.HistoricalFees, *ParseStats, error) {
	rows, stats, err := parseRecords(ctx, rp.BaseParser, r, source, rp.historicalHeaders(), rp.parseHistoricalRow, rp.logger.WithField("kind", "historical"))
	return groupHistorical(rows), stats, err
}

func (rp *RecordParser) parseHistoricalRow(record []string, parseCtx *ParseContext) (historicalRow, *ParseError) {
	col := rp.config.GetColumnName

	date, perr := rp.parseDate(record, parseCtx)
	if perr != nil {
		return historicalRow{}, perr
	}
	service, perr := rp.GetFieldValue(record, parseCtx, col(FieldService))
	if perr != nil {
		return historicalRow{}, perr
	}
	if service == "" {
		return historicalRow{}, fieldError(parseCtx, col(FieldService), service, "service type cannot be empty", nil)
	}
	raw, perr := rp.GetFieldValue(record, parseCtx, col(FieldAmount))
	if perr != nil {
		return historicalRow{}, perr
	}
	amount, err := models.ParseDecimalFromString(raw)
	if err != nil {
		return historicalRow{}, fieldError(parseCtx, col(FieldAmount), raw, "invalid amount", err)
	}

	return historicalRow{
		service: models.ServiceType(strings.ToUpper(service)),
		fee:     models.HistoricalFee{Date: date, Amount: amount.Abs()},
	}, nil
}

func groupHistorical(rows []historicalRow) models.HistoricalFees {
	if rows == nil {
		return nil
	}
	out := make(models.HistoricalFees)
	for _, row := range rows {
		out[row.service] = append(out[row.service], row.fee)
	}
	return out
}

func (rp *RecordParser) parseDate(record []string, parseCtx *ParseContext) (time.Time, *ParseError) {
	name := rp.config.GetColumnName(FieldDate)
	raw, perr := rp.GetFieldValue(record, parseCtx, name)
	if perr != nil {
		return time.Time{}, perr
	}
	date, err := models.ParseTimeWithFormats(raw)
	if err != nil {
		return time.Time{}, fieldError(parseCtx, name, raw, "invalid date", err)
	}
	return date, nil
}
