package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AnomalyType tags the kind of finding
type AnomalyType string

const (
	AnomalyDuplicateFee      AnomalyType = "DUPLICATE_FEE"
	AnomalyGhostFee          AnomalyType = "GHOST_FEE"
	AnomalyOvercharge        AnomalyType = "OVERCHARGE"
	AnomalyInterestError     AnomalyType = "INTEREST_ERROR"
	AnomalyReconciliationGap AnomalyType = "RECONCILIATION_GAP"
	// AnomalyFeeReview marks a high-value fee with no contractual reference.
	// It is a review candidate, not a claim, and never counts toward recovery.
	AnomalyFeeReview AnomalyType = "FEE_REVIEW"
)

// Severity is an ordered anomaly severity
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank returns the ordinal of the severity, higher is worse
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Severities lists severities from most to least severe
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}

// AnomalyStatus is the review lifecycle state of an anomaly
type AnomalyStatus string

const (
	StatusPending   AnomalyStatus = "pending"
	StatusConfirmed AnomalyStatus = "confirmed"
	StatusDismissed AnomalyStatus = "dismissed"
	StatusResolved  AnomalyStatus = "resolved"
)

// Evidence is one typed entry of an anomaly's evidence trail
type Evidence struct {
	Key         string      `json:"key"`
	Description string      `json:"description"`
	Value       interface{} `json:"value"`
	SourceRef   string      `json:"source_ref,omitempty"`
}

// Anomaly is a single finding produced by a detector
type Anomaly struct {
	ID             string          `json:"id"`
	Type           AnomalyType     `json:"type"`
	Severity       Severity        `json:"severity"`
	Confidence     float64         `json:"confidence"`
	Amount         decimal.Decimal `json:"amount"`
	Transactions   []*Transaction  `json:"transactions"`
	Evidence       []Evidence      `json:"evidence"`
	Title          string          `json:"title"`
	Recommendation string          `json:"recommendation"`
	Status         AnomalyStatus   `json:"status"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// AnomalyParams collects the fields a detector supplies to NewAnomaly
type AnomalyParams struct {
	Type           AnomalyType
	Severity       Severity
	Confidence     float64
	Amount         decimal.Decimal
	Transactions   []*Transaction
	Evidence       []Evidence
	Title          string
	Recommendation string
	// Aggregate anomalies describe a portfolio-level condition and may carry
	// no transaction, but they must carry evidence.
	Aggregate bool
}

// NewAnomaly builds a pending anomaly, enforcing that it references at least
// one transaction unless it is an aggregate with evidence.
func NewAnomaly(params AnomalyParams) (*Anomaly, error) {
	if params.Type == "" {
		return nil, fmt.Errorf("anomaly type is required")
	}
	if params.Severity.Rank() == 0 {
		return nil, fmt.Errorf("invalid anomaly severity: %q", params.Severity)
	}
	if len(params.Transactions) == 0 {
		if !params.Aggregate {
			return nil, fmt.Errorf("%s anomaly must reference at least one transaction", params.Type)
		}
		if len(params.Evidence) == 0 {
			return nil, fmt.Errorf("aggregate %s anomaly must carry evidence", params.Type)
		}
	}

	txs := make([]*Transaction, len(params.Transactions))
	copy(txs, params.Transactions)
	evidence := make([]Evidence, len(params.Evidence))
	copy(evidence, params.Evidence)

	return &Anomaly{
		ID:             uuid.NewString(),
		Type:           params.Type,
		Severity:       params.Severity,
		Confidence:     ClampUnit(params.Confidence),
		Amount:         params.Amount,
		Transactions:   txs,
		Evidence:       evidence,
		Title:          params.Title,
		Recommendation: params.Recommendation,
		Status:         StatusPending,
		DetectedAt:     time.Now().UTC(),
	}, nil
}

// TransactionIDs returns the IDs of the implicated transactions
func (a *Anomaly) TransactionIDs() []string {
	ids := make([]string, 0, len(a.Transactions))
	for _, tx := range a.Transactions {
		ids = append(ids, tx.ID)
	}
	return ids
}

// EvidenceValue returns the value of the first evidence entry with key
func (a *Anomaly) EvidenceValue(key string) (interface{}, bool) {
	for _, e := range a.Evidence {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// CountsTowardRecovery reports whether the amount is a recoverable claim
func (a *Anomaly) CountsTowardRecovery() bool {
	return a.Type != AnomalyFeeReview
}

// ClampUnit clamps v to [0,1]
func ClampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
