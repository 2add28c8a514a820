package detector

import (
	"fmt"
	"math"
	"strings"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/similarity"
	"bank-fee-auditor/internal/stats"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

const (
	// nameMatchSimilarity is the token similarity linking a description to a schedule entry name
	nameMatchSimilarity = 0.5

	reasonSchedule   = "exceeds_schedule"
	reasonHistorical = "exceeds_historical_mean"
	reasonOutlier    = "statistical_outlier"
	reasonSpike      = "above_p95"
)

// OverchargeAnalyzer compares each fee with its contractual or historical price
type OverchargeAnalyzer struct {
	config *OverchargeConfig
	log    logger.Logger
}

// NewOverchargeAnalyzer creates an overcharge analyzer
func NewOverchargeAnalyzer(config *OverchargeConfig) (*OverchargeAnalyzer, error) {
	if config == nil {
		config = DefaultOverchargeConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &OverchargeAnalyzer{
		config: config,
		log:    logger.WithComponent("overcharge_analyzer"),
	}, nil
}

// Name returns the detector name
func (o *OverchargeAnalyzer) Name() Name {
	return NameOvercharge
}

// serviceBaseline is the historical reference of one service type
type serviceBaseline struct {
	baseline stats.Baseline
	p95      decimal.Decimal
}

// overchargeCheck collects the outcome of the checks run on one fee
type overchargeCheck struct {
	service  models.ServiceType
	entry    *models.FeeScheduleEntry
	charged  decimal.Decimal
	expected decimal.Decimal
	basis    string
	reasons  []string
	evidence []models.Evidence
}

func (c *overchargeCheck) flagged() bool {
	for _, r := range c.reasons {
		if r == reasonSchedule || r == reasonHistorical {
			return true
		}
	}
	return false
}

// Detect runs the schedule and historical checks on every fee. Without bank
// conditions or historical data the corresponding check is skipped.
func (o *OverchargeAnalyzer) Detect(input *Input) []*models.Anomaly {
	all := filterByDate(input.Transactions, func(*models.Transaction) bool { return true })
	fees := filterByDate(all, func(tx *models.Transaction) bool {
		if o.config.FeesOnly {
			return IsFeeLike(tx)
		}
		return tx.IsDebit() && !IsInterestCharge(tx)
	})

	var baselines map[models.ServiceType]serviceBaseline
	if o.config.UseHistorical {
		baselines = buildServiceBaselines(input.Historical)
	}

	var anomalies []*models.Anomaly
	reviews := 0
	for _, fee := range fees {
		check := o.check(fee, all, input.Conditions, baselines)
		if check.flagged() {
			anomalies = appendAnomaly(anomalies, o.buildAnomaly(fee, check, input.Conditions))
			continue
		}
		if check.entry == nil && check.charged.GreaterThan(o.config.ReviewThreshold) {
			anomalies = appendAnomaly(anomalies, o.buildReview(fee, check))
			reviews++
		}
	}

	o.log.WithFields(logger.Fields{
		"fees":      len(fees),
		"anomalies": len(anomalies),
		"reviews":   reviews,
	}).Debug("Overcharge analysis completed")

	return anomalies
}

func (o *OverchargeAnalyzer) check(fee *models.Transaction, all []*models.Transaction, conditions *models.BankConditions, baselines map[models.ServiceType]serviceBaseline) *overchargeCheck {
	c := &overchargeCheck{
		service: ClassifyService(fee.Description),
		entry:   conditions.InBase(matchScheduleEntry(fee, conditions)),
		charged: fee.AbsAmount(),
	}

	hasExpected := false
	if c.entry != nil {
		if expected, ok := expectedAmount(c.entry, fee, all, c.service); ok {
			c.expected = expected
			c.basis = "schedule"
			hasExpected = true

			limit := expected.Mul(decimal.NewFromFloat(1 + o.config.Tolerance))
			if c.charged.GreaterThan(limit) {
				c.reasons = append(c.reasons, reasonSchedule)
			}
			c.evidence = append(c.evidence, models.Evidence{
				Key:         "schedule_amount",
				Description: fmt.Sprintf("Contractual price of '%s' (%s)", c.entry.Name, c.entry.Kind),
				Value:       expected.StringFixed(2),
				SourceRef:   fmt.Sprintf("bank_conditions:%s#%s", conditions.BankID, c.entry.Code),
			})
		}
	}

	ref, ok := baselines[c.service]
	if !ok || ref.baseline.IsEmpty() {
		return c
	}

	mean := ref.baseline.MeanDecimal()
	if c.charged.GreaterThan(mean.Mul(decimal.NewFromFloat(o.config.HistoricalMultiplier))) {
		c.reasons = append(c.reasons, reasonHistorical)
		if !hasExpected || mean.LessThan(c.expected) {
			c.expected = mean
			c.basis = "historical"
		}
	}
	c.evidence = append(c.evidence, models.Evidence{
		Key:         "historical_mean",
		Description: fmt.Sprintf("Mean of %d past %s fee(s)", ref.baseline.Count, c.service),
		Value:       round2(mean).StringFixed(2),
	})
	if ref.baseline.IsOutlier(c.charged, o.config.OutlierK) {
		c.reasons = append(c.reasons, reasonOutlier)
		c.evidence = append(c.evidence, models.Evidence{
			Key:         "outlier_threshold",
			Description: fmt.Sprintf("Mean + %.1f standard deviations", o.config.OutlierK),
			Value:       round2(ref.baseline.Threshold(o.config.OutlierK)).StringFixed(2),
		})
	}
	if ref.baseline.Count >= 2 && c.charged.GreaterThan(ref.p95) {
		c.reasons = append(c.reasons, reasonSpike)
		c.evidence = append(c.evidence, models.Evidence{
			Key:         "historical_p95",
			Description: "95th percentile of past fees",
			Value:       round2(ref.p95).StringFixed(2),
		})
	}

	return c
}

func (o *OverchargeAnalyzer) buildAnomaly(fee *models.Transaction, c *overchargeCheck, conditions *models.BankConditions) *models.Anomaly {
	excess := c.charged.Sub(c.expected)
	if !excess.IsPositive() {
		return nil
	}

	excessFraction := 1.0
	if c.expected.IsPositive() {
		excessFraction, _ = excess.Div(c.expected).Float64()
	}

	confidence := 0.6
	if c.entry != nil {
		confidence += 0.25
	}
	if excessFraction > 0.3 {
		confidence += 0.1
	}
	if len(c.reasons) >= 2 {
		confidence += 0.05
	}
	confidence = math.Min(confidence, 0.98)

	evidence := append([]models.Evidence{
		{Key: "charged_amount", Description: "Amount actually charged", Value: c.charged.StringFixed(2)},
		{Key: "expected_amount", Description: fmt.Sprintf("Expected amount from the %s reference", c.basis), Value: round2(c.expected).StringFixed(2)},
		{Key: "excess_percent", Description: "Excess over the expected amount", Value: roundScore(excessFraction * 100)},
		{Key: "service_type", Description: "Service classified from the description", Value: string(c.service)},
		{Key: "reasons", Description: "Checks that triggered", Value: strings.Join(c.reasons, ",")},
	}, c.evidence...)

	recommendation := fmt.Sprintf("Ask the bank to justify charging %s for '%s' against an expected %s and to refund the difference of %s.",
		c.charged.StringFixed(2), fee.Description, round2(c.expected).StringFixed(2), round2(excess).StringFixed(2))
	if c.entry != nil && c.basis == "schedule" && conditions != nil {
		recommendation = fmt.Sprintf("The bank conditions price '%s' at %s. Claim the %s charged above the contractual price.",
			c.entry.Name, round2(c.expected).StringFixed(2), round2(excess).StringFixed(2))
	}

	return emit(o.log, models.AnomalyParams{
		Type:           models.AnomalyOvercharge,
		Severity:       severityByExcess(excess),
		Confidence:     confidence,
		Amount:         round2(excess),
		Transactions:   []*models.Transaction{fee},
		Evidence:       evidence,
		Title:          fmt.Sprintf("Overcharge of %.1f%% on %s", excessFraction*100, fee.Description),
		Recommendation: recommendation,
	})
}

// buildReview records a high-value fee with no schedule entry for manual review
func (o *OverchargeAnalyzer) buildReview(fee *models.Transaction, c *overchargeCheck) *models.Anomaly {
	evidence := append([]models.Evidence{
		{Key: "no_schedule_entry", Description: "No contractual fee matches this charge", Value: true},
		{Key: "review_threshold", Description: "Amount above which unmatched fees are reviewed", Value: o.config.ReviewThreshold.StringFixed(2)},
		{Key: "service_type", Description: "Service classified from the description", Value: string(c.service)},
	}, c.evidence...)

	return emit(o.log, models.AnomalyParams{
		Type:           models.AnomalyFeeReview,
		Severity:       models.SeverityLow,
		Confidence:     0.5,
		Amount:         c.charged,
		Transactions:   []*models.Transaction{fee},
		Evidence:       evidence,
		Title:          fmt.Sprintf("High-value fee without contractual reference: %s", fee.Description),
		Recommendation: "Obtain the contractual basis for this charge before deciding whether to dispute it.",
	})
}

// expectedAmount prices entry for fee. Percentage entries use the same-day
// principal operation of the same service as their base, falling back to
// the fixed or minimum amount. The second result is false when no price
// can be derived.
func expectedAmount(entry *models.FeeScheduleEntry, fee *models.Transaction, all []*models.Transaction, service models.ServiceType) (decimal.Decimal, bool) {
	switch entry.Kind {
	case models.PricingPercentage:
		if base, ok := principalBase(fee, all, service); ok && entry.Rate.Valid {
			expected := base.Mul(entry.Rate.Decimal)
			if entry.Min.Valid && expected.LessThan(entry.Min.Decimal) {
				expected = entry.Min.Decimal
			}
			if entry.Max.Valid && expected.GreaterThan(entry.Max.Decimal) {
				expected = entry.Max.Decimal
			}
			return expected, true
		}
		if entry.Amount.IsPositive() {
			return entry.Amount, true
		}
		if entry.Min.Valid {
			return entry.Min.Decimal, true
		}
		return decimal.Zero, false
	default:
		// tiered entries carry the resolved tier amount
		return entry.Amount, true
	}
}

// principalBase returns the amount of the operation a percentage fee was
// charged on: a same-day, same-account, non-fee operation of the same service
func principalBase(fee *models.Transaction, all []*models.Transaction, service models.ServiceType) (decimal.Decimal, bool) {
	if service == models.ServiceOther {
		return decimal.Zero, false
	}
	for _, tx := range all {
		if tx.ID == fee.ID || tx.AccountID != fee.AccountID || !tx.Day().Equal(fee.Day()) {
			continue
		}
		if IsFeeLike(tx) || IsInterestCharge(tx) {
			continue
		}
		if ClassifyService(tx.Description) == service {
			return tx.AbsAmount(), true
		}
	}
	return decimal.Zero, false
}

// matchScheduleEntry finds the fee schedule entry for tx: by code appearing
// as a token, then by name similarity, then by service type
func matchScheduleEntry(tx *models.Transaction, conditions *models.BankConditions) *models.FeeScheduleEntry {
	if conditions == nil || len(conditions.Fees) == 0 {
		return nil
	}

	tokens := similarity.TokenSet(tx.Description)
	for i := range conditions.Fees {
		code := strings.ToLower(strings.TrimSpace(conditions.Fees[i].Code))
		if _, ok := tokens[code]; ok && len([]rune(code)) > 1 {
			return &conditions.Fees[i]
		}
	}

	var best *models.FeeScheduleEntry
	bestScore := nameMatchSimilarity
	for i := range conditions.Fees {
		score := similarity.TokenSimilarity(tx.Description, conditions.Fees[i].Name)
		if score >= bestScore && (best == nil || score > bestScore) {
			best = &conditions.Fees[i]
			bestScore = score
		}
	}
	if best != nil {
		return best
	}

	service := ClassifyService(tx.Description)
	if service == models.ServiceOther {
		return nil
	}
	for i := range conditions.Fees {
		if ClassifyService(conditions.Fees[i].Name) == service {
			return &conditions.Fees[i]
		}
	}
	return nil
}

func buildServiceBaselines(historical models.HistoricalFees) map[models.ServiceType]serviceBaseline {
	out := make(map[models.ServiceType]serviceBaseline, len(historical))
	for service, fees := range historical {
		amounts := make([]decimal.Decimal, 0, len(fees))
		for _, f := range fees {
			amounts = append(amounts, f.Amount.Abs())
		}
		out[service] = serviceBaseline{
			baseline: stats.Compute(amounts),
			p95:      stats.Percentile(amounts, 95),
		}
	}
	return out
}
