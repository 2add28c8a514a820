package detector

import (
	"fmt"
	"sort"
	"time"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// Probable causes of an interest discrepancy
const (
	CauseRateMismatch   = "rate_mismatch"
	CauseDayCountError  = "calculation_or_day_count_error"
	CauseOvercharge     = "overcharge"
	CauseNoDebitBalance = "interest_without_debit_balance"
	CauseUndercharge    = "undercharge"
)

const (
	periodPriorMonth  = "prior_month"
	periodMonthToDate = "month_to_date"
)

// InterestVerifier recomputes debit interest from the daily balance history
type InterestVerifier struct {
	config *InterestConfig
	log    logger.Logger
}

// NewInterestVerifier creates an interest verifier
func NewInterestVerifier(config *InterestConfig) (*InterestVerifier, error) {
	if config == nil {
		config = DefaultInterestConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &InterestVerifier{
		config: config,
		log:    logger.WithComponent("interest_verifier"),
	}, nil
}

// Name returns the detector name
func (v *InterestVerifier) Name() Name {
	return NameInterest
}

// InterestPeriod is the billing period an interest charge covers
type InterestPeriod struct {
	Start time.Time
	End   time.Time
	Kind  string
}

// Days returns the number of calendar days in the period, both ends included
func (p InterestPeriod) Days() int {
	return models.DaysBetween(p.Start, p.End) + 1
}

// InterestComputation is the recomputed interest for one period
type InterestComputation struct {
	Period      InterestPeriod
	Theoretical decimal.Decimal
	DebitDays   int
	// Coverage is the share of days backed by a recorded balance
	Coverage float64
}

// Detect verifies every interest charge. Accounts without any balance data
// and conditions without a debit rate are skipped.
func (v *InterestVerifier) Detect(input *Input) []*models.Anomaly {
	if input.Conditions == nil || !input.Conditions.Interest.DebitRate.IsPositive() {
		v.log.Debug("No contractual debit rate, skipping interest verification")
		return nil
	}
	if len(input.Balances) == 0 {
		v.log.Debug("No daily balances, skipping interest verification")
		return nil
	}

	byAccount := balancesByAccount(input.Balances)
	charges := filterByDate(input.Transactions, IsInterestCharge)

	var anomalies []*models.Anomaly
	for _, charge := range charges {
		series, ok := byAccount[charge.AccountID]
		if !ok {
			v.log.WithField("account_id", charge.AccountID).Debug("No balances for account, skipping interest charge")
			continue
		}

		comp := ComputeInterest(series, BillingPeriod(charge.Day(), series), input.Conditions.Interest)
		anomalies = appendAnomaly(anomalies, v.verify(charge, comp, input.Conditions))
	}

	v.log.WithFields(logger.Fields{
		"charges":   len(charges),
		"anomalies": len(anomalies),
	}).Debug("Interest verification completed")

	return anomalies
}

func (v *InterestVerifier) verify(charge *models.Transaction, comp InterestComputation, conditions *models.BankConditions) *models.Anomaly {
	charged := charge.AbsAmount()
	tolerance := decimal.Max(v.config.FixedTolerance, comp.Theoretical.Mul(decimal.NewFromFloat(v.config.PercentTolerance)))
	excess := charged.Sub(comp.Theoretical)
	if !excess.GreaterThan(tolerance) {
		if v.config.ReportUndercharge && excess.Neg().GreaterThan(tolerance) {
			return v.undercharge(charge, comp, conditions, tolerance)
		}
		return nil
	}

	cause := CauseNoDebitBalance
	ratio := 0.0
	if comp.Theoretical.IsPositive() {
		ratio, _ = charged.Div(comp.Theoretical).Float64()
		switch {
		case ratio > v.config.RateMismatchRatio:
			cause = CauseRateMismatch
		case ratio > v.config.DayCountErrorRatio:
			cause = CauseDayCountError
		default:
			cause = CauseOvercharge
		}
	}

	terms := conditions.Interest
	dayCount := terms.DayCount
	if dayCount == "" {
		dayCount = models.DayCountACT360
	}
	sourceRef := fmt.Sprintf("bank_conditions:%s#interest", conditions.BankID)

	evidence := []models.Evidence{
		{Key: "charged_interest", Description: "Interest actually charged", Value: charged.StringFixed(2)},
		{Key: "theoretical_interest", Description: "Interest recomputed day by day", Value: comp.Theoretical.StringFixed(2)},
		{Key: "tolerance", Description: "Accepted difference", Value: round2(tolerance).StringFixed(2)},
		{Key: "period", Description: fmt.Sprintf("Billing period (%s)", comp.Period.Kind),
			Value: fmt.Sprintf("%s..%s", comp.Period.Start.Format(models.DateLayout), comp.Period.End.Format(models.DateLayout))},
		{Key: "debit_days", Description: "Days with a negative balance", Value: comp.DebitDays},
		{Key: "annual_rate", Description: "Contractual debit rate", Value: terms.DebitRate.String(), SourceRef: sourceRef},
		{Key: "day_count", Description: "Day-count convention", Value: string(dayCount), SourceRef: sourceRef},
		{Key: "balance_coverage", Description: "Share of days backed by a recorded balance", Value: roundScore(comp.Coverage)},
		{Key: "probable_cause", Description: "Most likely origin of the difference", Value: cause},
	}
	if ratio > 0 {
		evidence = append(evidence, models.Evidence{Key: "charge_ratio", Description: "Charged over theoretical interest", Value: roundScore(ratio)})
	}

	return emit(v.log, models.AnomalyParams{
		Type:         models.AnomalyInterestError,
		Severity:     severityByExcess(excess),
		Confidence:   0.5 + 0.45*comp.Coverage,
		Amount:       round2(excess),
		Transactions: []*models.Transaction{charge},
		Evidence:     evidence,
		Title:        fmt.Sprintf("Interest charged %s above the recomputed %s", round2(excess).StringFixed(2), comp.Theoretical.StringFixed(2)),
		Recommendation: fmt.Sprintf("Request the bank's interest computation for %s to %s and a refund of %s (%s).",
			comp.Period.Start.Format(models.DateLayout), comp.Period.End.Format(models.DateLayout), round2(excess).StringFixed(2), cause),
	})
}

// undercharge reports interest charged below the recomputed amount. The
// shortfall favours the client, so the anomaly carries no amount.
func (v *InterestVerifier) undercharge(charge *models.Transaction, comp InterestComputation, conditions *models.BankConditions, tolerance decimal.Decimal) *models.Anomaly {
	charged := charge.AbsAmount()
	shortfall := round2(comp.Theoretical.Sub(charged))
	period := fmt.Sprintf("%s..%s", comp.Period.Start.Format(models.DateLayout), comp.Period.End.Format(models.DateLayout))

	return emit(v.log, models.AnomalyParams{
		Type:         models.AnomalyInterestError,
		Severity:     models.SeverityLow,
		Confidence:   0.5 + 0.45*comp.Coverage,
		Amount:       decimal.Zero,
		Transactions: []*models.Transaction{charge},
		Evidence: []models.Evidence{
			{Key: "charged_interest", Description: "Interest actually charged", Value: charged.StringFixed(2)},
			{Key: "theoretical_interest", Description: "Interest recomputed day by day", Value: comp.Theoretical.StringFixed(2)},
			{Key: "shortfall", Description: "Recomputed minus charged interest", Value: shortfall.StringFixed(2)},
			{Key: "tolerance", Description: "Accepted difference", Value: round2(tolerance).StringFixed(2)},
			{Key: "period", Description: fmt.Sprintf("Billing period (%s)", comp.Period.Kind), Value: period},
			{Key: "annual_rate", Description: "Contractual debit rate", Value: conditions.Interest.DebitRate.String(),
				SourceRef: fmt.Sprintf("bank_conditions:%s#interest", conditions.BankID)},
			{Key: "probable_cause", Description: "Most likely origin of the difference", Value: CauseUndercharge},
		},
		Title: fmt.Sprintf("Interest charged %s below the recomputed %s", shortfall.StringFixed(2), comp.Theoretical.StringFixed(2)),
		Recommendation: fmt.Sprintf("Check whether the bank will regularise the %s shortfall for %s with a later charge.",
			shortfall.StringFixed(2), period),
	})
}

// BillingPeriod returns the full calendar month before chargeDay, or the
// month to date when series holds no balance in that month
func BillingPeriod(chargeDay time.Time, series []*models.DailyBalance) InterestPeriod {
	chargeDay = models.TruncateDay(chargeDay)
	monthStart := time.Date(chargeDay.Year(), chargeDay.Month(), 1, 0, 0, 0, 0, time.UTC)
	prior := InterestPeriod{
		Start: monthStart.AddDate(0, -1, 0),
		End:   monthStart.AddDate(0, 0, -1),
		Kind:  periodPriorMonth,
	}

	for _, b := range series {
		day := models.TruncateDay(b.Date)
		if !day.Before(prior.Start) && !day.After(prior.End) {
			return prior
		}
	}

	end := chargeDay.AddDate(0, 0, -1)
	if end.Before(monthStart) {
		end = chargeDay
	}
	return InterestPeriod{Start: monthStart, End: end, Kind: periodMonthToDate}
}

// ComputeInterest accrues |balance|·rate/daysInYear for every day of period
// with a negative balance. A day without a recorded balance takes the most
// recent earlier one, or zero. series must be sorted by date.
func ComputeInterest(series []*models.DailyBalance, period InterestPeriod, terms models.InterestTerms) InterestComputation {
	dailyRate := terms.DebitRate.Div(decimal.NewFromInt(terms.DayCount.DaysInYear()))

	comp := InterestComputation{Period: period}
	total := decimal.Zero
	current := decimal.Zero
	exactDays := 0
	j := 0

	for day := period.Start; !day.After(period.End); day = day.AddDate(0, 0, 1) {
		exact := false
		for j < len(series) && !models.TruncateDay(series[j].Date).After(day) {
			current = series[j].Balance
			exact = models.TruncateDay(series[j].Date).Equal(day)
			j++
		}
		if exact {
			exactDays++
		}
		if current.IsNegative() {
			total = total.Add(current.Abs().Mul(dailyRate))
			comp.DebitDays++
		}
	}

	comp.Theoretical = total.Round(2)
	if days := period.Days(); days > 0 {
		comp.Coverage = float64(exactDays) / float64(days)
	}
	return comp
}

// balancesByAccount groups balances per account, sorted by date
func balancesByAccount(balances []*models.DailyBalance) map[string][]*models.DailyBalance {
	out := make(map[string][]*models.DailyBalance)
	for _, b := range balances {
		if b == nil || b.Date.IsZero() {
			continue
		}
		out[b.AccountID] = append(out[b.AccountID], b)
	}
	for _, series := range out {
		sort.SliceStable(series, func(i, k int) bool {
			return series[i].Date.Before(series[k].Date)
		})
	}
	return out
}
