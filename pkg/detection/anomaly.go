package detection

import "time"

// MaxConfidence is the ceiling on any anomaly confidence. The headroom to
// 1.0 is reserved: no algorithm, and no ensemble of algorithms, may claim
// certainty.
const MaxConfidence = 0.95

// CapConfidence clamps a confidence value to [0, MaxConfidence].
func CapConfidence(c float64) float64 {
	if c > MaxConfidence {
		return MaxConfidence
	}
	if c < 0 {
		return 0
	}
	return c
}

// AnomalyType classifies the shape of a detected anomaly.
type AnomalyType string

// Anomaly type constants.
const (
	AnomalyPoint      AnomalyType = "point"
	AnomalyContextual AnomalyType = "contextual"
	AnomalyCollective AnomalyType = "collective"
	AnomalyTrend      AnomalyType = "trend"
)

// Severity is the magnitude classification of an anomaly or alert.
type Severity string

// Severity tiers, highest first.
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Rank returns an ordering value for severities; higher is more severe.
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

// MaxSeverity returns the more severe of two severities.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// AffectedField records one field's part in an anomaly. Contribution values
// across a single anomaly's fields sum to 1.0.
type AffectedField struct {
	FieldName      string  `json:"field_name"`
	ExpectedValue  float64 `json:"expected_value"`
	ActualValue    float64 `json:"actual_value"`
	DeviationScore float64 `json:"deviation_score"`
	Contribution   float64 `json:"contribution_to_anomaly"`
}

// Explanation is the structured statistical evidence behind an anomaly.
// PossibleCauses is appended by the enricher when external text generation
// is available; everything else comes from the detector or ensemble.
type Explanation struct {
	Summary             string     `json:"summary"`
	ZScore              float64    `json:"z_score,omitempty"`
	Percentile          float64    `json:"percentile,omitempty"`
	Probability         float64    `json:"probability,omitempty"`
	ConfidenceInterval  [2]float64 `json:"confidence_interval,omitempty"`
	PatternDeviation    string     `json:"pattern_deviation,omitempty"`
	ContributingFactors []string   `json:"contributing_factors,omitempty"`
	PossibleCauses      []string   `json:"possible_causes,omitempty"`
}

// ImpactCategory classifies the business domain an anomaly touches.
type ImpactCategory string

// Impact categories.
const (
	ImpactFinancial   ImpactCategory = "financial"
	ImpactCompliance  ImpactCategory = "compliance"
	ImpactOperational ImpactCategory = "operational"
)

// Urgency is how quickly the anomaly needs human attention.
type Urgency string

// Urgency levels.
const (
	UrgencyImmediate Urgency = "immediate"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyStandard  Urgency = "standard"
)

// BusinessImpact is the enricher's assessment of an anomaly's consequences.
type BusinessImpact struct {
	Category        ImpactCategory `json:"category"`
	EstimatedImpact float64        `json:"estimated_impact"` // 0..1
	Urgency         Urgency        `json:"urgency"`
}

// AnomalyContext is the snapshot of records surrounding an anomaly.
type AnomalyContext struct {
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowEnd   time.Time `json:"window_end,omitempty"`
	Surrounding []Record  `json:"surrounding,omitempty"`
}

// DetectedAnomaly is one detected anomaly, produced by a detector or the
// ensemble combiner. After enrichment completes it is immutable.
type DetectedAnomaly struct {
	ID             string          `json:"id"`
	Type           AnomalyType     `json:"type"`
	Severity       Severity        `json:"severity"`
	Confidence     float64         `json:"confidence"` // 0..MaxConfidence
	Score          float64         `json:"anomaly_score"`
	Timestamp      time.Time       `json:"timestamp"`
	Algorithm      string          `json:"algorithm"` // detector kind, or "ensemble"
	AffectedFields []AffectedField `json:"affected_fields"`
	Context        AnomalyContext  `json:"context,omitempty"`
	Explanation    Explanation     `json:"explanation"`
	Impact         *BusinessImpact `json:"business_impact,omitempty"`
}

// FieldNames returns the sorted-insertion-order names of affected fields.
func (a *DetectedAnomaly) FieldNames() []string {
	names := make([]string, len(a.AffectedFields))
	for i, f := range a.AffectedFields {
		names[i] = f.FieldName
	}
	return names
}
