package detector

import (
	"fmt"
	"strings"

	"bank-fee-auditor/internal/matcher"
)

// Configs holds the configuration of every detector. Nil entries use defaults.
type Configs struct {
	Duplicate      *DuplicateConfig        `mapstructure:"duplicate"`
	GhostFee       *GhostFeeConfig         `mapstructure:"ghost_fee"`
	Overcharge     *OverchargeConfig       `mapstructure:"overcharge"`
	Interest       *InterestConfig         `mapstructure:"interest"`
	Reconciliation *matcher.MatchingConfig `mapstructure:"reconciliation"`
}

// DefaultConfigs returns the documented defaults of every detector
func DefaultConfigs() Configs {
	return Configs{
		Duplicate:      DefaultDuplicateConfig(),
		GhostFee:       DefaultGhostFeeConfig(),
		Overcharge:     DefaultOverchargeConfig(),
		Interest:       DefaultInterestConfig(),
		Reconciliation: matcher.DefaultMatchingConfig(),
	}
}

// ParseNames parses a list of detector names; an empty list selects all
func ParseNames(raw []string) ([]Name, error) {
	if len(raw) == 0 {
		return append([]Name(nil), AllNames...), nil
	}

	known := make(map[Name]bool, len(AllNames))
	for _, n := range AllNames {
		known[n] = true
	}

	seen := make(map[Name]bool)
	var names []Name
	for _, r := range raw {
		n := Name(strings.ToLower(strings.TrimSpace(r)))
		if n == "" {
			continue
		}
		if !known[n] {
			return nil, fmt.Errorf("unknown detector %q", r)
		}
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no detector selected")
	}
	return names, nil
}

// Build creates the named detectors, in the given order, from configs
func Build(configs Configs, names []Name) ([]Detector, error) {
	detectors := make([]Detector, 0, len(names))
	for _, name := range names {
		var (
			d   Detector
			err error
		)
		switch name {
		case NameDuplicate:
			d, err = NewDuplicateDetector(configs.Duplicate)
		case NameGhostFee:
			d, err = NewGhostFeeDetector(configs.GhostFee)
		case NameOvercharge:
			d, err = NewOverchargeAnalyzer(configs.Overcharge)
		case NameInterest:
			d, err = NewInterestVerifier(configs.Interest)
		case NameReconciliation:
			d, err = NewReconciliationDetector(configs.Reconciliation)
		default:
			err = fmt.Errorf("unknown detector %q", name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to build %s detector: %w", name, err)
		}
		detectors = append(detectors, d)
	}
	return detectors, nil
}
