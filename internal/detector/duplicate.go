package detector

import (
	"fmt"
	"strings"

	"bank-fee-auditor/internal/models"
	"bank-fee-auditor/internal/similarity"
	"bank-fee-auditor/pkg/logger"

	"github.com/shopspring/decimal"
)

// DuplicateDetector groups near-identical debits charged within a short window
type DuplicateDetector struct {
	config *DuplicateConfig
	sim    similarity.Config
	log    logger.Logger
}

// NewDuplicateDetector creates a duplicate detector
func NewDuplicateDetector(config *DuplicateConfig) (*DuplicateDetector, error) {
	if config == nil {
		config = DefaultDuplicateConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	sim := config.Similarity
	sim.MaxDays = config.WindowDays

	return &DuplicateDetector{
		config: config,
		sim:    sim,
		log:    logger.WithComponent("duplicate_detector"),
	}, nil
}

// Name returns the detector name
func (d *DuplicateDetector) Name() Name {
	return NameDuplicate
}

// duplicateGroup is one anchor and the candidates that scored above threshold
type duplicateGroup struct {
	members []*models.Transaction
}

// Detect scans date-sorted debits forward from each unprocessed anchor.
// A transaction belongs to at most one group; the first group formed wins.
func (d *DuplicateDetector) Detect(input *Input) []*models.Anomaly {
	debits := debitsByDate(input.Transactions)
	processed := make(map[string]bool, len(debits))

	var groups []duplicateGroup
	for i, anchor := range debits {
		if processed[anchor.ID] {
			continue
		}
		processed[anchor.ID] = true

		group := duplicateGroup{members: []*models.Transaction{anchor}}
		for j := i + 1; j < len(debits); j++ {
			candidate := debits[j]
			if models.DaysBetween(anchor.OperationDate, candidate.OperationDate) > d.config.WindowDays {
				break
			}
			if processed[candidate.ID] {
				continue
			}
			if d.config.SameAccountOnly && candidate.AccountID != anchor.AccountID {
				continue
			}
			if similarity.TransactionSimilarity(anchor, candidate, d.sim) >= d.config.Threshold {
				group.members = append(group.members, candidate)
			}
		}

		if len(group.members) > 1 {
			for _, member := range group.members {
				processed[member.ID] = true
			}
			groups = append(groups, group)
		}
	}

	var anomalies []*models.Anomaly
	for _, group := range groups {
		anomalies = appendAnomaly(anomalies, d.buildAnomaly(group, input.Conditions))
	}

	d.log.WithFields(logger.Fields{
		"debits":    len(debits),
		"anomalies": len(anomalies),
	}).Debug("Duplicate detection completed")

	return anomalies
}

// meanPairwiseSimilarity averages the similarity of every pair in the group
func (d *DuplicateDetector) meanPairwiseSimilarity(members []*models.Transaction) float64 {
	var sum float64
	pairs := 0
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sum += similarity.TransactionSimilarity(members[i], members[j], d.sim)
			pairs++
		}
	}
	if pairs == 0 {
		return 0
	}
	return sum / float64(pairs)
}

func duplicateSeverity(count int, amount decimal.Decimal) models.Severity {
	switch {
	case count >= 5 || amount.GreaterThan(amount50000):
		return models.SeverityCritical
	case count >= 3 || amount.GreaterThan(amount20000):
		return models.SeverityHigh
	default:
		return models.SeverityMedium
	}
}

func (d *DuplicateDetector) buildAnomaly(group duplicateGroup, conditions *models.BankConditions) *models.Anomaly {
	first := group.members[0]
	last := group.members[len(group.members)-1]

	// the first occurrence is presumed legitimate
	excess := decimal.Zero
	ids := make([]string, 0, len(group.members))
	for i, member := range group.members {
		ids = append(ids, member.ID)
		if i > 0 {
			excess = excess.Add(member.AbsAmount())
		}
	}

	count := len(group.members)
	confidence := d.meanPairwiseSimilarity(group.members)

	evidence := []models.Evidence{
		{Key: "occurrences", Description: "Number of near-identical debits", Value: count},
		{Key: "transaction_ids", Description: "Grouped transactions in date order", Value: strings.Join(ids, ",")},
		{Key: "first_date", Description: "First occurrence", Value: first.OperationDate.Format(models.DateLayout)},
		{Key: "span_days", Description: "Days between first and last occurrence", Value: models.DaysBetween(first.OperationDate, last.OperationDate)},
		{Key: "mean_similarity", Description: "Mean pairwise similarity", Value: roundScore(confidence)},
	}

	recommendation := fmt.Sprintf(
		"Request a refund of %s for %d repeated charge(s) of '%s' and ask the bank to confirm the service was rendered only once.",
		excess.StringFixed(2), count-1, first.Description)

	if d.config.Mode == DuplicateModeWithSourceEvidence {
		if entry := conditions.InBase(matchScheduleEntry(first, conditions)); entry != nil {
			evidence = append(evidence, models.Evidence{
				Key:         "contract_fee",
				Description: fmt.Sprintf("Contractual fee '%s' priced at %s per occurrence", entry.Name, entry.Amount.StringFixed(2)),
				Value:       entry.Code,
				SourceRef:   fmt.Sprintf("bank_conditions:%s#%s", conditions.BankID, entry.Code),
			})
			recommendation = fmt.Sprintf(
				"The contract prices '%s' at %s per occurrence. Claim %s for the %d duplicate charge(s) citing the bank conditions.",
				entry.Name, entry.Amount.StringFixed(2), excess.StringFixed(2), count-1)
		}
	}

	return emit(d.log, models.AnomalyParams{
		Type:           models.AnomalyDuplicateFee,
		Severity:       duplicateSeverity(count, excess),
		Confidence:     confidence,
		Amount:         excess,
		Transactions:   group.members,
		Evidence:       evidence,
		Title:          fmt.Sprintf("%d duplicate charges of %s", count, first.AbsAmount().StringFixed(2)),
		Recommendation: recommendation,
	})
}

func roundScore(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(4).Float64()
	return f
}
