package config

import (
	"fmt"
	"reflect"
	"strings"

	"bank-fee-auditor/internal/detector"
	"bank-fee-auditor/internal/enrichment"
	"bank-fee-auditor/internal/matcher"
	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/parsers"
	"bank-fee-auditor/internal/reporter"
	"bank-fee-auditor/pkg/errors"
	"bank-fee-auditor/pkg/logger"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Keys of the configuration trees read from the config file
const (
	DetectionKey  = "detection"
	EnrichmentKey = "enrichment"
	LoggingKey    = "logging"

	// MatchingPresetKey selects the base reconciliation settings that the
	// rest of detection.reconciliation overrides
	MatchingPresetKey = "detection.reconciliation.preset"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// decimalHookFunc converts strings and numbers to decimal.Decimal. Strings
// accept the same formats as statement amounts, decimal comma included.
func decimalHookFunc() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return models.ParseDecimalFromString(v)
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case decimal.Decimal:
			return v, nil
		}
		return data, nil
	}
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		decimalHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}

// CreateDetectorConfigs overlays the detection tree of v on the default
// detector configurations, or on the matching preset it names for
// reconciliation, and validates the result
func CreateDetectorConfigs(v *viper.Viper) (detector.Configs, error) {
	configs := detector.DefaultConfigs()
	if v == nil {
		return configs, nil
	}

	if name := v.GetString(MatchingPresetKey); name != "" {
		preset, err := matcher.PresetConfig(name)
		if err != nil {
			return configs, errors.ConfigurationError(errors.CodeInvalidConfig, MatchingPresetKey, name, err)
		}
		configs.Reconciliation = preset
	}

	if !v.IsSet(DetectionKey) {
		return configs, nil
	}
	if err := v.UnmarshalKey(DetectionKey, &configs, decodeHook()); err != nil {
		return configs, errors.ConfigurationError(errors.CodeInvalidConfig, DetectionKey, nil, err)
	}

	checks := []struct {
		setting string
		check   func() error
	}{
		{"detection.duplicate", configs.Duplicate.Validate},
		{"detection.ghost_fee", configs.GhostFee.Validate},
		{"detection.overcharge", configs.Overcharge.Validate},
		{"detection.interest", configs.Interest.Validate},
		{"detection.reconciliation", configs.Reconciliation.Validate},
	}
	for _, c := range checks {
		if err := c.check(); err != nil {
			return configs, errors.ConfigurationError(errors.CodeInvalidConfig, c.setting, nil, err)
		}
	}
	return configs, nil
}

// CreateEnrichmentConfig overlays the enrichment tree of v on the defaults
func CreateEnrichmentConfig(v *viper.Viper) (enrichment.Config, error) {
	cfg := enrichment.DefaultConfig()
	if v != nil && v.IsSet(EnrichmentKey) {
		if err := v.UnmarshalKey(EnrichmentKey, &cfg, decodeHook()); err != nil {
			return cfg, errors.ConfigurationError(errors.CodeInvalidConfig, EnrichmentKey, nil, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.ConfigurationError(errors.CodeInvalidConfig, EnrichmentKey, nil, err)
	}
	return cfg, nil
}

// CreateLoggerConfig builds the logger configuration. The logging tree of
// v is applied first, then the level, format and file arguments when set.
// A log file keeps stderr output and adds a rotated file.
func CreateLoggerConfig(v *viper.Viper, verbose bool, level, format, file string) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	if verbose {
		cfg = logger.DebugConfig()
	}
	if v != nil && v.IsSet(LoggingKey) {
		if err := v.UnmarshalKey(LoggingKey, cfg); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, LoggingKey, nil, err)
		}
	}

	if level != "" && !verbose {
		cfg.Level = logger.Level(strings.ToLower(level))
	}
	if format != "" {
		cfg.Format = logger.Format(strings.ToLower(format))
	}
	if file != "" {
		cfg.Output = logger.BothOutput
		cfg.File = file
		if cfg.MaxSize == 0 {
			cfg.MaxSize = 100
		}
		if cfg.MaxBackups == 0 {
			cfg.MaxBackups = 5
		}
		if cfg.MaxAge == 0 {
			cfg.MaxAge = 30
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", nil, err)
	}
	return cfg, nil
}

// CreateTransactionParserConfig returns the named statement layout with the
// default account and bank applied
func CreateTransactionParserConfig(layout, accountID, bankID string) (*parsers.TransactionParserConfig, error) {
	cfg := parsers.GetTransactionLayout(layout)
	if cfg == nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "layout", layout,
			fmt.Errorf("unknown statement layout %q (valid: standard, fr)", layout))
	}
	if accountID != "" {
		cfg.DefaultAccountID = accountID
	}
	if bankID != "" {
		cfg.DefaultBankID = bankID
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "layout", layout, err)
	}
	return cfg, nil
}

// CreateRecordParserConfig returns the parser configuration shared by the
// balance, ledger and historical fee files
func CreateRecordParserConfig(accountID string) *parsers.RecordParserConfig {
	cfg := parsers.DefaultRecordParserConfig()
	if accountID != "" {
		cfg.DefaultAccountID = accountID
	}
	return cfg
}

// CreateReportConfig creates the report configuration for a format and a
// minimum severity
func CreateReportConfig(format, minSeverity string, maxAnomalies int) (*reporter.ReportConfig, error) {
	cfg := reporter.DefaultReportConfig()
	cfg.Format = reporter.OutputFormat(strings.ToLower(format))
	cfg.MinSeverity = models.Severity(strings.ToUpper(strings.TrimSpace(minSeverity)))

	switch cfg.Format {
	case reporter.FormatJSON, reporter.FormatCSV:
		cfg.MaxAnomalies = 0
		cfg.IncludeWarnings = true
	}
	if maxAnomalies >= 0 {
		cfg.MaxAnomalies = maxAnomalies
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output", format, err)
	}
	return cfg, nil
}
