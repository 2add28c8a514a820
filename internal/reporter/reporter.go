// Package reporter renders analysis results for people and for tools.
//
// Supported output formats:
//   - Console: human-readable sections for terminal display
//   - JSON: the full result for programmatic consumption
//   - CSV: one row per anomaly for spreadsheet review
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatJSON})
//	err = generator.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"bank-fee-auditor/internal/engine"
	"bank-fee-auditor/internal/models"
)

// OutputFormat represents the supported report output formats
type OutputFormat string

const (
	FormatConsole OutputFormat = "console"
	FormatJSON    OutputFormat = "json"
	FormatCSV     OutputFormat = "csv"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// MinSeverity hides anomalies below it; empty shows everything
	MinSeverity models.Severity `json:"min_severity"`
	// MaxAnomalies bounds the console anomaly list; 0 lists all
	MaxAnomalies int `json:"max_anomalies"`

	IncludeEvidence     bool `json:"include_evidence"`
	IncludeTransactions bool `json:"include_transactions"`
	IncludeDetectorRuns bool `json:"include_detector_runs"`
	IncludeWarnings     bool `json:"include_warnings"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:              FormatConsole,
		MaxAnomalies:        25,
		IncludeEvidence:     true,
		IncludeTransactions: true,
		IncludeDetectorRuns: true,
		IncludeWarnings:     false,
		CSVDelimiter:        ',',
		CSVHeaders:          true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MinSeverity != "" && c.MinSeverity.Rank() == 0 {
		return fmt.Errorf("invalid minimum severity: %s", c.MinSeverity)
	}
	if c.MaxAnomalies < 0 {
		return fmt.Errorf("max anomalies cannot be negative, got %d", c.MaxAnomalies)
	}
	if c.Format == FormatCSV && (c.CSVDelimiter == 0 || c.CSVDelimiter == '"' || c.CSVDelimiter == '\n') {
		return fmt.Errorf("invalid CSV delimiter %q", c.CSVDelimiter)
	}
	return nil
}

// ReportGenerator generates analysis reports in various formats
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}
	return &ReportGenerator{config: config}, nil
}

// GenerateReport writes a report of result to writer
func (rg *ReportGenerator) GenerateReport(result *engine.AnalysisResult, writer io.Writer) error {
	if result == nil {
		return fmt.Errorf("analysis result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// visibleAnomalies returns the anomalies at or above MinSeverity, in rank order
func (rg *ReportGenerator) visibleAnomalies(result *engine.AnalysisResult) []*models.Anomaly {
	if rg.config.MinSeverity == "" {
		return result.Anomalies
	}
	out := make([]*models.Anomaly, 0, len(result.Anomalies))
	for _, a := range result.Anomalies {
		if a.Severity.Rank() >= rg.config.MinSeverity.Rank() {
			out = append(out, a)
		}
	}
	return out
}

// errWriter stops writing after the first error
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...interface{}) {
	if ew.err != nil {
		return
	}
	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func (rg *ReportGenerator) generateConsoleReport(result *engine.AnalysisResult, writer io.Writer) error {
	w := &errWriter{w: writer}

	w.printf("BANK FEE AUDIT REPORT\n")
	w.printf("Run:       %s\n", result.RunID)
	w.printf("Started:   %s\n", result.StartedAt.Format(time.RFC3339))
	w.printf("Duration:  %v\n", result.Duration.Round(time.Millisecond))
	w.printf("Status:    %s\n", result.Status)
	if result.Error != "" {
		w.printf("Error:     %s\n", result.Error)
	}
	w.printf("\n")

	if result.Summary != nil {
		w.printf("=== SUMMARY ===\n")
		w.printf("[%s] %s\n\n", result.Summary.Status, result.Summary.Message)
		rg.printList(w, "Key findings", result.Summary.KeyFindings)
		rg.printList(w, "Recommendations", result.Summary.Recommendations)
	}

	if result.Statistics != nil {
		w.printf("=== STATISTICS ===\n")
		rg.printStatistics(w, result.Statistics)
		w.printf("\n")
	}

	anomalies := rg.visibleAnomalies(result)
	if len(anomalies) > 0 {
		w.printf("=== ANOMALIES ===\n")
		rg.printAnomalies(w, anomalies, result.Commentary)
	}

	if rg.config.IncludeDetectorRuns && len(result.Detectors) > 0 {
		w.printf("=== DETECTORS ===\n")
		for _, run := range result.Detectors {
			state := fmt.Sprintf("%d anomalies in %v", run.Anomalies, run.Duration.Round(time.Microsecond))
			switch {
			case run.Skipped:
				state = "skipped"
			case run.Error != "":
				state = "failed: " + run.Error
			}
			w.printf("  %-16s %s\n", run.Name, state)
		}
		w.printf("\n")
	}

	if rg.config.IncludeWarnings && len(result.Warnings) > 0 {
		w.printf("=== INPUT WARNINGS ===\n")
		p := result.Preprocess
		w.printf("Rejected: %d transaction(s), %d balance(s), %d ledger entr(ies); duplicate ids: %d; filtered out: %d transaction(s)\n",
			p.InvalidTransactions, p.InvalidBalances, p.InvalidLedgerEntries, p.DuplicateIDs, p.FilteredTransactions)
		for _, warning := range result.Warnings {
			w.printf("  - %s\n", warning)
		}
	}

	return w.err
}

func (rg *ReportGenerator) printList(w *errWriter, title string, items []string) {
	if len(items) == 0 {
		return
	}
	w.printf("%s:\n", title)
	for i, item := range items {
		w.printf("  %d. %s\n", i+1, item)
	}
	w.printf("\n")
}

func (rg *ReportGenerator) printStatistics(w *errWriter, stats *engine.AnalysisStatistics) {
	w.printf("Transactions:        %d (%d analysed)\n", stats.TotalTransactions, stats.AnalyzedTransactions)
	w.printf("Anomalies:           %d (%.2f per 100 transactions)\n", stats.TotalAnomalies, stats.AnomalyRate)
	w.printf("Affected:            %d transaction(s)\n", stats.AffectedTransactions)
	w.printf("Average confidence:  %.2f\n", stats.AverageConfidence)
	w.printf("Potential recovery:  %s\n", stats.PotentialRecovery.StringFixed(2))

	if stats.TotalAnomalies == 0 {
		return
	}
	w.printf("\nBy severity:\n")
	for _, severity := range models.Severities {
		if count := stats.BySeverity[severity]; count > 0 {
			w.printf("  %-10s %4d  %s\n", severity, count, stats.AmountBySeverity[severity].StringFixed(2))
		}
	}
	w.printf("By type:\n")
	for _, anomalyType := range anomalyTypes {
		if count := stats.ByType[anomalyType]; count > 0 {
			w.printf("  %-20s %4d  %s\n", anomalyType, count, stats.AmountByType[anomalyType].StringFixed(2))
		}
	}
}

var anomalyTypes = []models.AnomalyType{
	models.AnomalyDuplicateFee,
	models.AnomalyGhostFee,
	models.AnomalyOvercharge,
	models.AnomalyInterestError,
	models.AnomalyReconciliationGap,
	models.AnomalyFeeReview,
}

func (rg *ReportGenerator) printAnomalies(w *errWriter, anomalies []*models.Anomaly, commentary map[string]string) {
	for i, a := range anomalies {
		if rg.config.MaxAnomalies > 0 && i >= rg.config.MaxAnomalies {
			w.printf("  ... and %d more\n", len(anomalies)-i)
			break
		}

		w.printf("%d. [%s] %s %s\n", i+1, a.Severity, a.Type, a.Title)
		w.printf("   Amount: %s, confidence: %.2f\n", a.Amount.StringFixed(2), a.Confidence)

		if rg.config.IncludeTransactions {
			for _, tx := range a.Transactions {
				w.printf("   - %s %s %s %s\n", tx.ID, tx.OperationDate.Format(models.DateLayout), tx.Amount.StringFixed(2), tx.Description)
			}
		}
		if rg.config.IncludeEvidence {
			for _, e := range a.Evidence {
				w.printf("   * %s: %v\n", e.Key, e.Value)
			}
		}
		if a.Recommendation != "" {
			w.printf("   > %s\n", a.Recommendation)
		}
		if text, ok := commentary[a.ID]; ok && text != "" {
			w.printf("   Commentary: %s\n", text)
		}
		w.printf("\n")
	}
}

func (rg *ReportGenerator) generateJSONReport(result *engine.AnalysisResult, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(rg.filterResultForOutput(result))
}

// filterResultForOutput drops the sections the configuration excludes
func (rg *ReportGenerator) filterResultForOutput(result *engine.AnalysisResult) map[string]interface{} {
	output := map[string]interface{}{
		"run_id":     result.RunID,
		"status":     result.Status,
		"started_at": result.StartedAt,
		"duration":   result.Duration.String(),
		"summary":    result.Summary,
		"statistics": result.Statistics,
		"anomalies":  rg.visibleAnomalies(result),
		"preprocess": result.Preprocess,
	}
	if result.Error != "" {
		output["error"] = result.Error
	}
	if len(result.Commentary) > 0 {
		output["commentary"] = result.Commentary
	}
	if rg.config.IncludeDetectorRuns {
		output["detectors"] = result.Detectors
	}
	if rg.config.IncludeWarnings && len(result.Warnings) > 0 {
		output["warnings"] = result.Warnings
	}
	return output
}

// csvHeaders are the columns of the CSV report
var csvHeaders = []string{
	"Anomaly_ID",
	"Type",
	"Severity",
	"Confidence",
	"Amount",
	"Transaction_IDs",
	"First_Date",
	"Title",
	"Recommendation",
	"Commentary",
}

func (rg *ReportGenerator) generateCSVReport(result *engine.AnalysisResult, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(csvHeaders); err != nil {
			return fmt.Errorf("failed to write CSV headers: %w", err)
		}
	}

	for _, a := range rg.visibleAnomalies(result) {
		firstDate := ""
		if len(a.Transactions) > 0 {
			firstDate = a.Transactions[0].OperationDate.Format(models.DateLayout)
		}
		record := []string{
			a.ID,
			string(a.Type),
			string(a.Severity),
			fmt.Sprintf("%.2f", a.Confidence),
			a.Amount.StringFixed(2),
			strings.Join(a.TransactionIDs(), ";"),
			firstDate,
			a.Title,
			a.Recommendation,
			result.Commentary[a.ID],
		}
		if err := csvWriter.Write(record); err != nil {
			return fmt.Errorf("failed to write anomaly record: %w", err)
		}
	}

	csvWriter.Flush()
	return csvWriter.Error()
}

// UpdateConfiguration updates the report generator configuration
func (rg *ReportGenerator) UpdateConfiguration(config *ReportConfig) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid report configuration: %w", err)
	}
	rg.config = config
	return nil
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}
