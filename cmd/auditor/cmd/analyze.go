package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bank-fee-auditor/cmd/auditor/config"
	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/engine"
	"bank-fee-auditor/internal/enrichment"
	"bank-fee-auditor/internal/metrics"
	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/parsers"
	"bank-fee-auditor/internal/reporter"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// maxParseWarnings bounds the rejected rows reported per input file
const maxParseWarnings = 5

// analyzeOptions holds the resolved flags of the analyze command
type analyzeOptions struct {
	TransactionsFile string
	Layout           string
	DefaultAccount   string
	DefaultBank      string
	ConditionsFile   string
	BalancesFile     string
	LedgerFile       string
	HistoricalFile   string

	StartDate string
	EndDate   string
	Accounts  []string
	Banks     []string

	Detectors []string
	Parallel  int

	OutputFormat   string
	OutputFile     string
	MinSeverity    string
	MaxAnomalies   int
	MetricsFile    string
	FailOnCritical bool

	EnrichmentURL         string
	EnrichmentMinSeverity string
	EnrichmentLimit       int

	Progress bool
}

var opts analyzeOptions

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect fee anomalies in bank statements",
	Long: `Analyze runs the fee anomaly detectors over a bank statement and reports
duplicate fees, ghost fees, overcharges, interest errors and reconciliation gaps.

Only the statement is required. Bank conditions enable tariff and interest
checks, daily balances enable interest and balance checks, the accounting
ledger enables reconciliation and historical fees refine overcharge baselines.

Examples:
  # Duplicate and ghost fee checks on a single statement
  auditor analyze --transactions statement.csv

  # French export with a fee schedule
  auditor analyze --transactions releve.csv --layout fr --default-account FR76-001 \
    --conditions bank.yaml

  # Full audit of one month, JSON report and metrics
  auditor analyze --transactions tx.csv --conditions bank.yaml --balances balances.csv \
    --ledger ledger.csv --historical fees.csv --start-date 2024-03-01 --end-date 2024-03-31 \
    --output-format json --output-file report.json --metrics-file auditor.prom

  # Selected detectors in parallel, failing a CI job on critical findings
  auditor analyze --transactions tx.csv --detectors duplicate,ghost_fee --parallel 2 \
    --fail-on-critical`,

	PreRunE: validateAnalyzeFlags,
	RunE:    runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	flags := analyzeCmd.Flags()

	// Input flags
	flags.StringVarP(&opts.TransactionsFile, "transactions", "t", "", "path to the bank statement CSV file (required)")
	flags.StringVar(&opts.Layout, "layout", "standard", "statement layout: standard, fr")
	flags.StringVar(&opts.DefaultAccount, "default-account", "", "account ID for files without an account column")
	flags.StringVar(&opts.DefaultBank, "default-bank", "", "bank ID for statements without a bank column")
	flags.StringVarP(&opts.ConditionsFile, "conditions", "c", "", "path to the bank conditions YAML file")
	flags.StringVar(&opts.BalancesFile, "balances", "", "path to the daily balances CSV file")
	flags.StringVar(&opts.LedgerFile, "ledger", "", "path to the accounting ledger CSV file")
	flags.StringVar(&opts.HistoricalFile, "historical", "", "path to the historical fees CSV file")

	// Filter flags
	flags.StringVar(&opts.StartDate, "start-date", "", "filter start date (YYYY-MM-DD)")
	flags.StringVar(&opts.EndDate, "end-date", "", "filter end date (YYYY-MM-DD)")
	flags.StringSliceVar(&opts.Accounts, "account", []string{}, "only analyse these accounts")
	flags.StringSliceVar(&opts.Banks, "bank", []string{}, "only analyse these banks")

	// Detection flags
	flags.StringSliceVar(&opts.Detectors, "detectors", []string{}, "detectors to run: duplicate, ghost_fee, overcharge, interest, reconciliation (default: all)")
	flags.IntVar(&opts.Parallel, "parallel", 1, "number of detectors run concurrently")

	// Output flags
	flags.StringVarP(&opts.OutputFormat, "output-format", "f", "console", "output format: console, json, csv")
	flags.StringVarP(&opts.OutputFile, "output-file", "o", "", "output file path (default: stdout)")
	flags.StringVar(&opts.MinSeverity, "min-severity", "", "hide anomalies below this severity: LOW, MEDIUM, HIGH, CRITICAL")
	flags.IntVar(&opts.MaxAnomalies, "max-anomalies", -1, "maximum anomalies listed in the console report (0: all)")
	flags.StringVar(&opts.MetricsFile, "metrics-file", "", "write run metrics to this Prometheus textfile")
	flags.BoolVar(&opts.FailOnCritical, "fail-on-critical", false, "exit with code 10 when the summary is CRITICAL")

	// Enrichment flags
	flags.StringVar(&opts.EnrichmentURL, "enrichment-url", "", "base URL of the commentary service")
	flags.StringVar(&opts.EnrichmentMinSeverity, "enrichment-min-severity", string(models.SeverityHigh), "lowest severity sent for commentary")
	flags.IntVar(&opts.EnrichmentLimit, "enrichment-limit", 10, "maximum anomalies sent for commentary")

	// UI flags
	flags.BoolVar(&opts.Progress, "progress", false, "show detector progress")

	// Bind flags to viper
	for _, name := range []string{
		"transactions", "layout", "default-account", "default-bank", "conditions", "balances",
		"ledger", "historical", "start-date", "end-date", "account", "bank", "detectors",
		"parallel", "output-format", "output-file", "min-severity", "max-anomalies",
		"metrics-file", "fail-on-critical", "enrichment-url", "enrichment-min-severity",
		"enrichment-limit", "progress",
	} {
		viper.BindPFlag(name, flags.Lookup(name))
	}
}

// optionsFromViper reads the analyze options, letting the config file and
// environment override flag defaults
func optionsFromViper() analyzeOptions {
	return analyzeOptions{
		TransactionsFile:      viper.GetString("transactions"),
		Layout:                viper.GetString("layout"),
		DefaultAccount:        viper.GetString("default-account"),
		DefaultBank:           viper.GetString("default-bank"),
		ConditionsFile:        viper.GetString("conditions"),
		BalancesFile:          viper.GetString("balances"),
		LedgerFile:            viper.GetString("ledger"),
		HistoricalFile:        viper.GetString("historical"),
		StartDate:             viper.GetString("start-date"),
		EndDate:               viper.GetString("end-date"),
		Accounts:              viper.GetStringSlice("account"),
		Banks:                 viper.GetStringSlice("bank"),
		Detectors:             viper.GetStringSlice("detectors"),
		Parallel:              viper.GetInt("parallel"),
		OutputFormat:          viper.GetString("output-format"),
		OutputFile:            viper.GetString("output-file"),
		MinSeverity:           viper.GetString("min-severity"),
		MaxAnomalies:          viper.GetInt("max-anomalies"),
		MetricsFile:           viper.GetString("metrics-file"),
		FailOnCritical:        viper.GetBool("fail-on-critical"),
		EnrichmentURL:         viper.GetString("enrichment-url"),
		EnrichmentMinSeverity: viper.GetString("enrichment-min-severity"),
		EnrichmentLimit:       viper.GetInt("enrichment-limit"),
		Progress:              viper.GetBool("progress"),
	}
}

func validateAnalyzeFlags(cmd *cobra.Command, args []string) error {
	opts = optionsFromViper()
	return opts.validate()
}

// validate checks the options before any file is parsed
func (o *analyzeOptions) validate() error {
	if o.TransactionsFile == "" {
		return errors.ConfigurationError(errors.CodeMissingConfig, "transactions", nil,
			fmt.Errorf("transactions file is required"))
	}

	inputs := []struct {
		path        string
		description string
	}{
		{o.TransactionsFile, "transactions file"},
		{o.ConditionsFile, "conditions file"},
		{o.BalancesFile, "balances file"},
		{o.LedgerFile, "ledger file"},
		{o.HistoricalFile, "historical fees file"},
	}
	for _, in := range inputs {
		if in.path == "" {
			continue
		}
		if err := validateFileExists(in.path, in.description); err != nil {
			return err
		}
	}

	if !reporter.OutputFormat(strings.ToLower(o.OutputFormat)).IsValid() {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "output-format", o.OutputFormat,
			fmt.Errorf("invalid output format '%s'. Valid formats: console, json, csv", o.OutputFormat))
	}

	start, end, err := o.dateRange()
	if err != nil {
		return err
	}
	if start != nil && end != nil && start.After(*end) {
		return errors.ConfigurationError(errors.CodeConfigConflict, "start-date", o.StartDate,
			fmt.Errorf("start date cannot be after end date"))
	}

	if _, err := detector.ParseNames(o.Detectors); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "detectors", strings.Join(o.Detectors, ","), err)
	}
	if o.Parallel <= 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "parallel", o.Parallel,
			fmt.Errorf("parallelism must be positive"))
	}

	if o.EnrichmentURL != "" {
		if models.Severity(strings.ToUpper(o.EnrichmentMinSeverity)).Rank() == 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "enrichment-min-severity", o.EnrichmentMinSeverity,
				fmt.Errorf("invalid severity"))
		}
		if o.EnrichmentLimit <= 0 {
			return errors.ConfigurationError(errors.CodeInvalidConfig, "enrichment-limit", o.EnrichmentLimit,
				fmt.Errorf("enrichment limit must be positive"))
		}
	}

	for _, out := range []string{o.OutputFile, o.MetricsFile} {
		if out == "" {
			continue
		}
		dir := filepath.Dir(out)
		if dir != "." {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				return errors.FileError(errors.CodeFileNotFound, dir, fmt.Errorf("output directory does not exist: %s", dir))
			}
		}
	}

	return nil
}

// dateRange parses the start and end dates; empty values do not filter
func (o *analyzeOptions) dateRange() (*time.Time, *time.Time, error) {
	var start, end *time.Time
	if o.StartDate != "" {
		t, err := time.Parse(models.DateLayout, o.StartDate)
		if err != nil {
			return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "start-date", o.StartDate,
				fmt.Errorf("invalid start date format. Use YYYY-MM-DD: %w", err))
		}
		start = &t
	}
	if o.EndDate != "" {
		t, err := time.Parse(models.DateLayout, o.EndDate)
		if err != nil {
			return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "end-date", o.EndDate,
				fmt.Errorf("invalid end date format. Use YYYY-MM-DD: %w", err))
		}
		end = &t
	}
	return start, end, nil
}

func validateFileExists(filePath, description string) error {
	if filePath == "" {
		return errors.FileError(errors.CodeFileNotFound, filePath, fmt.Errorf("%s path cannot be empty", description))
	}

	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return errors.FileError(errors.CodeFileNotFound, filePath, fmt.Errorf("%s does not exist", description))
	}
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, fmt.Errorf("error accessing %s: %w", description, err))
	}

	if info.IsDir() {
		return errors.FileError(errors.CodeInvalidFormat, filePath, fmt.Errorf("%s is a directory, expected a file", description))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return errors.FileError(errors.CodeFilePermission, filePath, fmt.Errorf("%s is not readable: %w", description, err))
	}
	file.Close()

	return nil
}

// cancelSignals cancel a running analysis
var cancelSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), cancelSignals...)
	defer stop()

	var output io.Writer = os.Stdout
	if opts.OutputFile != "" {
		file, err := os.Create(opts.OutputFile)
		if err != nil {
			return errors.FileError(errors.CodeFilePermission, opts.OutputFile, err)
		}
		defer file.Close()
		output = file
	}

	result, err := opts.run(ctx, output)
	if err != nil {
		return err
	}

	if viper.GetBool("verbose") {
		fmt.Fprintf(os.Stderr, "\nAnalysis %s in %v.\n", result.Status, result.Duration)
		fmt.Fprintf(os.Stderr, "Analysed %d of %d transactions, found %d anomalies.\n",
			result.Statistics.AnalyzedTransactions, result.Statistics.TotalTransactions, len(result.Anomalies))
		fmt.Fprintf(os.Stderr, "Potential recovery: %s\n", result.Statistics.PotentialRecovery.StringFixed(2))
	}

	return checkOutcome(result, opts.FailOnCritical)
}

// run loads the inputs, analyses them and writes the report to output
func (o *analyzeOptions) run(ctx context.Context, output io.Writer) (*engine.AnalysisResult, error) {
	log := logger.GetGlobalLogger().WithComponent("analyze")

	req, warnings, err := o.buildRequest(ctx, log)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	orchestrator, err := o.newOrchestrator(m)
	if err != nil {
		return nil, err
	}

	if o.Progress {
		fmt.Fprintf(os.Stderr, "Analysing %d transactions...\n", len(req.Transactions))
	}
	result := orchestrator.Analyze(ctx, req)
	result.Warnings = append(warnings, result.Warnings...)
	if o.Progress {
		fmt.Fprintf(os.Stderr, "\n")
	}

	reportConfig, err := config.CreateReportConfig(o.OutputFormat, o.MinSeverity, o.MaxAnomalies)
	if err != nil {
		return nil, err
	}
	generator, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return nil, err
	}
	if err := generator.GenerateReportSafely(result, output); err != nil {
		return nil, err
	}

	if o.MetricsFile != "" {
		if err := m.WriteTextfile(o.MetricsFile); err != nil {
			log.WithError(err).WithField("path", o.MetricsFile).Warn("Failed to write metrics textfile")
		}
	}

	return result, nil
}

// buildRequest parses every input file. Rejected rows are returned as
// warnings; a file that cannot be read at all is an error.
func (o *analyzeOptions) buildRequest(ctx context.Context, log logger.Logger) (*engine.AnalysisRequest, []string, error) {
	start, end, err := o.dateRange()
	if err != nil {
		return nil, nil, err
	}
	names, err := detector.ParseNames(o.Detectors)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "detectors", strings.Join(o.Detectors, ","), err)
	}

	req := &engine.AnalysisRequest{
		Filter: engine.Filter{
			StartDate:  start,
			EndDate:    end,
			AccountIDs: o.Accounts,
			BankIDs:    o.Banks,
		},
		Detectors: names,
	}
	var warnings []string

	txConfig, err := config.CreateTransactionParserConfig(o.Layout, o.DefaultAccount, o.DefaultBank)
	if err != nil {
		return nil, nil, err
	}
	txParser, err := parsers.NewTransactionParser(txConfig)
	if err != nil {
		return nil, nil, err
	}
	transactions, stats, err := txParser.ParseTransactionsWithContext(ctx, o.TransactionsFile)
	if err != nil {
		return nil, nil, err
	}
	req.Transactions = transactions
	warnings = append(warnings, parseWarnings(o.TransactionsFile, stats)...)

	if o.ConditionsFile != "" {
		conditions, err := parsers.LoadConditions(o.ConditionsFile)
		if err != nil {
			return nil, nil, err
		}
		req.Conditions = conditions
	}

	recordParser, err := parsers.NewRecordParser(config.CreateRecordParserConfig(o.DefaultAccount))
	if err != nil {
		return nil, nil, err
	}

	if o.BalancesFile != "" {
		balances, stats, err := recordParser.ParseBalances(ctx, o.BalancesFile)
		if err != nil {
			return nil, nil, err
		}
		req.Balances = balances
		warnings = append(warnings, parseWarnings(o.BalancesFile, stats)...)
	}

	if o.LedgerFile != "" {
		ledger, stats, err := recordParser.ParseLedger(ctx, o.LedgerFile)
		if err != nil {
			return nil, nil, err
		}
		req.Ledger = ledger
		warnings = append(warnings, parseWarnings(o.LedgerFile, stats)...)
	}

	if o.HistoricalFile != "" {
		historical, stats, err := recordParser.ParseHistoricalFees(ctx, o.HistoricalFile)
		if err != nil {
			return nil, nil, err
		}
		req.Historical = historical
		warnings = append(warnings, parseWarnings(o.HistoricalFile, stats)...)
	}

	log.WithFields(logger.Fields{
		"transactions": len(req.Transactions),
		"balances":     len(req.Balances),
		"ledger":       len(req.Ledger),
		"historical":   len(req.Historical),
		"conditions":   req.Conditions != nil,
		"rejected":     len(warnings),
	}).Info("Inputs loaded")

	return req, warnings, nil
}

// newOrchestrator builds the selected detectors and the orchestrator options
func (o *analyzeOptions) newOrchestrator(m *metrics.Metrics) (*engine.Orchestrator, error) {
	detectorConfigs, err := config.CreateDetectorConfigs(viper.GetViper())
	if err != nil {
		return nil, err
	}
	detectors, err := detector.Build(detectorConfigs, detector.AllNames)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "detection", nil, err)
	}

	options := []engine.Option{
		engine.WithParallelism(o.Parallel),
		engine.WithMetrics(m),
	}

	if o.Progress {
		options = append(options, engine.WithProgressCallback(func(p engine.Progress) bool {
			fmt.Fprintf(os.Stderr, "\r[%d/%d] %s (%d anomalies)", p.Completed, p.Total, p.Detector, p.Anomalies)
			return true
		}))
	}

	if o.EnrichmentURL != "" {
		enrichmentConfig, err := config.CreateEnrichmentConfig(viper.GetViper())
		if err != nil {
			return nil, err
		}
		client := &http.Client{Timeout: enrichmentConfig.Timeout}
		commentator, err := enrichment.NewResilient("commentary",
			enrichment.NewHTTPCommentator(client, o.EnrichmentURL), enrichmentConfig)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "enrichment", o.EnrichmentURL, err)
		}
		minSeverity := models.Severity(strings.ToUpper(o.EnrichmentMinSeverity))
		options = append(options, engine.WithCommentator(commentator, minSeverity, o.EnrichmentLimit))
	}

	return engine.NewOrchestrator(detectors, options...), nil
}

// parseWarnings turns the rejected rows of one input file into warnings
func parseWarnings(source string, stats *parsers.ParseStats) []string {
	if stats == nil || !stats.HasErrors() {
		return nil
	}

	name := filepath.Base(source)
	var warnings []string
	for _, sample := range stats.GetSampleErrors(maxParseWarnings) {
		warnings = append(warnings, fmt.Sprintf("%s: %s", name, sample))
	}
	if stats.ErrorCount > maxParseWarnings {
		warnings = append(warnings, fmt.Sprintf("%s: ... and %d more rejected rows", name, stats.ErrorCount-maxParseWarnings))
	}
	return warnings
}

// checkOutcome maps the analysis outcome to a command error
func checkOutcome(result *engine.AnalysisResult, failOnCritical bool) error {
	switch {
	case result.Status == engine.RunFailed:
		return errors.AnalysisError(errors.CodeAnalysisAborted, "analyze", fmt.Errorf("%s", result.Error))
	case failOnCritical && result.Summary.Status == engine.SummaryCritical:
		return ErrCriticalFindings
	}
	return nil
}
