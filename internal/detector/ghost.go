package detector

import (
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/similarity"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// GhostFeeDetector flags fees that cannot be tied to any underlying service
type GhostFeeDetector struct {
	config *GhostFeeConfig
	log    logger.Logger
}

// NewGhostFeeDetector creates a ghost fee detector
func NewGhostFeeDetector(config *GhostFeeConfig) (*GhostFeeDetector, error) {
	if config == nil {
		config = DefaultGhostFeeConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &GhostFeeDetector{
		config: config,
		log:    logger.WithComponent("ghost_fee_detector"),
	}, nil
}

// Name returns the detector name
func (g *GhostFeeDetector) Name() Name {
	return NameGhostFee
}

// ghostSignals is the scored rubric of one fee
type ghostSignals struct {
	descriptionSuspicion float64
	associated           *models.Transaction
	roundAmount          bool
	entropy              float64
	recurring            int
	missingReference     bool
	monthEnd             bool
	score                float64
}

// Detect scores every fee-like debit and flags those above the minimum
// confidence that have no associated service transaction
func (g *GhostFeeDetector) Detect(input *Input) []*models.Anomaly {
	all := filterByDate(input.Transactions, func(*models.Transaction) bool { return true })
	fees := filterByDate(all, IsFeeLike)

	associations := make(map[string]*models.Transaction, len(fees))
	for _, fee := range fees {
		if service := g.findAssociatedService(fee, all); service != nil {
			associations[fee.ID] = service
		}
	}

	var anomalies []*models.Anomaly
	for i, fee := range fees {
		signals := g.score(fee, fees[:i], associations)
		if signals.associated != nil || signals.score < g.config.MinConfidence {
			continue
		}
		anomalies = appendAnomaly(anomalies, g.buildAnomaly(fee, signals))
	}

	g.log.WithFields(logger.Fields{
		"fees":      len(fees),
		"anomalies": len(anomalies),
	}).Debug("Ghost fee detection completed")

	return anomalies
}

func (g *GhostFeeDetector) score(fee *models.Transaction, earlier []*models.Transaction, associations map[string]*models.Transaction) ghostSignals {
	s := ghostSignals{
		descriptionSuspicion: DescriptionSuspicion(fee.Description),
		associated:           associations[fee.ID],
		roundAmount:          isRoundAmount(fee.AbsAmount(), g.config.RoundAmountUnit),
		entropy:              ShannonEntropy(fee.Description),
		missingReference:     !fee.HasReference(),
		monthEnd:             isMonthEnd(fee, g.config.MonthEndDays),
	}
	if s.associated == nil {
		s.recurring = g.countRecurrences(fee, earlier, associations)
	}

	score := s.descriptionSuspicion * 0.4
	if s.associated == nil {
		score += 0.3
	}
	if s.roundAmount {
		score += 0.1
	}
	switch {
	case s.entropy < g.config.LowEntropy:
		score += 0.15
	case s.entropy > g.config.HighEntropy:
		score += 0.1
	}
	if s.recurring >= g.config.RecurrenceMinOccurrences {
		score += 0.15
	}
	if s.missingReference {
		score += 0.1
	}
	if s.monthEnd {
		score += 0.05
	}
	s.score = models.ClampUnit(score)

	return s
}

// findAssociatedService returns a nearby service operation related to fee by
// token similarity or a shared specific keyword
func (g *GhostFeeDetector) findAssociatedService(fee *models.Transaction, all []*models.Transaction) *models.Transaction {
	feeKeywords := keywords(fee.Description)

	for _, tx := range all {
		if tx.ID == fee.ID || tx.AccountID != fee.AccountID {
			continue
		}
		if models.DaysBetween(fee.OperationDate, tx.OperationDate) > g.config.ServiceWindowDays {
			continue
		}
		if IsFeeLike(tx) || !MatchesCategory(tx.Description, CategoryService) {
			continue
		}
		if similarity.TokenSimilarity(fee.Description, tx.Description) >= g.config.AssociationTokenSimilarity {
			return tx
		}
		for kw := range keywords(tx.Description) {
			if _, ok := feeKeywords[kw]; ok {
				return tx
			}
		}
	}
	return nil
}

// countRecurrences counts earlier unassociated fees of the same amount and
// wording within the trailing recurrence period
func (g *GhostFeeDetector) countRecurrences(fee *models.Transaction, earlier []*models.Transaction, associations map[string]*models.Transaction) int {
	since := fee.Day().AddDate(0, -g.config.RecurrenceMonths, 0)
	count := 0
	for _, prior := range earlier {
		if prior.AccountID != fee.AccountID || prior.Day().Before(since) || !prior.Day().Before(fee.Day()) {
			continue
		}
		if associations[prior.ID] != nil || !prior.AbsAmount().Equal(fee.AbsAmount()) {
			continue
		}
		if similarity.TokenSimilarity(prior.Description, fee.Description) >= g.config.RecurrenceTokenSimilarity {
			count++
		}
	}
	return count
}

func ghostSeverity(amount decimal.Decimal, recurring bool) models.Severity {
	switch {
	case recurring && amount.GreaterThan(amount5000):
		return models.SeverityCritical
	case amount.GreaterThan(amount20000):
		return models.SeverityHigh
	case amount.GreaterThan(amount5000):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (g *GhostFeeDetector) buildAnomaly(fee *models.Transaction, s ghostSignals) *models.Anomaly {
	recurring := s.recurring >= g.config.RecurrenceMinOccurrences
	amount := fee.AbsAmount()

	evidence := []models.Evidence{
		{Key: "suspicion_score", Description: "Additive suspicion rubric", Value: roundScore(s.score)},
		{Key: "no_associated_service", Description: fmt.Sprintf("No related service operation within %d day(s)", g.config.ServiceWindowDays), Value: true},
		{Key: "description_suspicion", Description: "Vagueness of the fee wording", Value: roundScore(s.descriptionSuspicion)},
		{Key: "description_entropy", Description: "Shannon entropy of the description in bits per character", Value: roundScore(s.entropy)},
	}
	if s.roundAmount {
		evidence = append(evidence, models.Evidence{Key: "round_amount", Description: "Amount is a round figure", Value: amount.StringFixed(2)})
	}
	if recurring {
		evidence = append(evidence, models.Evidence{
			Key:         "recurring_pattern",
			Description: fmt.Sprintf("Same amount and wording charged %d time(s) in the previous %d months", s.recurring, g.config.RecurrenceMonths),
			Value:       s.recurring,
		})
	}
	if s.missingReference {
		evidence = append(evidence, models.Evidence{Key: "missing_reference", Description: "Fee carries no operation reference", Value: true})
	}
	if s.monthEnd {
		evidence = append(evidence, models.Evidence{Key: "month_end", Description: "Charged in the final days of the month", Value: fee.OperationDate.Format(models.DateLayout)})
	}

	recommendation := fmt.Sprintf("Ask the bank to identify the service behind '%s' (%s) and to refund it if none was provided.",
		fee.Description, amount.StringFixed(2))
	if recurring {
		recommendation = fmt.Sprintf("The charge '%s' recurs without any identifiable service. Request the contractual basis and a refund of every occurrence.",
			fee.Description)
	}

	return emit(g.log, models.AnomalyParams{
		Type:           models.AnomalyGhostFee,
		Severity:       ghostSeverity(amount, recurring),
		Confidence:     s.score,
		Amount:         amount,
		Transactions:   []*models.Transaction{fee},
		Evidence:       evidence,
		Title:          fmt.Sprintf("Fee without identifiable service: %s", fee.Description),
		Recommendation: recommendation,
	})
}

// DescriptionSuspicion scores how little a fee description says, in [0,1]
func DescriptionSuspicion(description string) float64 {
	score := 0.0
	if MatchesCategory(description, CategoryVague) {
		score += 0.5
	}

	tokens := similarity.Tokenize(description)
	specific := 0
	for _, tok := range tokens {
		if !IsGenericWord(tok) && !MatchesCategory(tok, CategoryFee) {
			specific++
		}
	}
	if specific == 0 {
		score += 0.3
	}
	if len([]rune(strings.TrimSpace(description))) < 12 {
		score += 0.2
	}

	return models.ClampUnit(score)
}

// ShannonEntropy returns the entropy of the lower-cased, non-space characters
// of s, in bits per character
func ShannonEntropy(s string) float64 {
	counts := make(map[rune]int)
	total := 0
	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}
		counts[r]++
		total++
	}
	if total == 0 {
		return 0
	}

	entropy := 0.0
	for _, c := range counts {
		p := float64(c) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// keywords returns the specific tokens of s, at least four runes and not generic
func keywords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range similarity.Tokenize(s) {
		if len([]rune(tok)) >= 4 && !IsGenericWord(tok) {
			out[tok] = struct{}{}
		}
	}
	return out
}

func isRoundAmount(amount, unit decimal.Decimal) bool {
	if amount.IsZero() || !unit.IsPositive() {
		return false
	}
	return amount.Mod(unit).IsZero()
}

func isMonthEnd(tx *models.Transaction, days int) bool {
	if days <= 0 {
		return false
	}
	day := tx.Day()
	lastOfMonth := time.Date(day.Year(), day.Month()+1, 0, 0, 0, 0, 0, time.UTC)
	return models.DaysBetween(day, lastOfMonth) < days
}
