// Package enrich attaches business-impact classification and explanation
// text to detected anomalies.
package enrich

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/pkg/detection"
	"github.com/driftwatch/driftwatch/pkg/textgen"
)

// maxCauses bounds how many generated possible-cause lines are kept.
const maxCauses = 5

// Enricher assigns business impact and, when a text generator is wired,
// appends generated possible causes to anomaly explanations. A nil
// generator disables text enrichment entirely.
type Enricher struct {
	gen     textgen.Generator
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an enricher. timeout bounds each generation call; a hung
// collaborator is cut off, logged, and treated as a skipped enrichment.
func New(gen textgen.Generator, timeout time.Duration, logger *zap.Logger) *Enricher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Enricher{gen: gen, timeout: timeout, logger: logger}
}

// Enrich classifies business impact for every anomaly and appends generated
// possible causes where available. It mutates the anomalies in place; after
// Enrich returns, anomalies are immutable.
//
// Text-generation failures degrade the explanation only. They are logged
// and never propagate.
func (e *Enricher) Enrich(ctx context.Context, anomalies []detection.DetectedAnomaly, source *detection.DataSource) {
	for i := range anomalies {
		a := &anomalies[i]
		a.Impact = classify(a)

		if e.gen == nil {
			continue
		}
		causes, err := e.possibleCauses(ctx, a, source)
		if err != nil {
			e.logger.Warn("explanation enrichment skipped",
				zap.String("anomaly_id", a.ID),
				zap.String("data_source_id", source.ID),
				zap.Error(err),
			)
			continue
		}
		a.Explanation.PossibleCauses = causes
	}
}

// classify assigns business impact by field-name heuristics: amount-like
// fields are financial and urgent, compliance-like fields are compliance
// and immediate, everything else is operational.
func classify(a *detection.DetectedAnomaly) *detection.BusinessImpact {
	category := detection.ImpactOperational
	urgency := detection.UrgencyStandard

	for _, f := range a.AffectedFields {
		name := strings.ToLower(f.FieldName)
		switch {
		case containsAny(name, "amount", "price", "cost", "revenue", "balance", "payment", "fee", "spend"):
			category = detection.ImpactFinancial
			urgency = detection.UrgencyUrgent
		case containsAny(name, "compliance", "audit", "regulat", "policy", "consent", "gdpr"):
			// Compliance outranks financial: return immediately.
			return &detection.BusinessImpact{
				Category:        detection.ImpactCompliance,
				EstimatedImpact: estimatedImpact(a),
				Urgency:         detection.UrgencyImmediate,
			}
		}
	}

	return &detection.BusinessImpact{
		Category:        category,
		EstimatedImpact: estimatedImpact(a),
		Urgency:         urgency,
	}
}

// estimatedImpact scales a severity base by the anomaly score.
func estimatedImpact(a *detection.DetectedAnomaly) float64 {
	var base float64
	switch a.Severity {
	case detection.SeverityCritical:
		base = 1.0
	case detection.SeverityHigh:
		base = 0.7
	case detection.SeverityMedium:
		base = 0.4
	default:
		base = 0.2
	}
	impact := base * a.Score
	if impact > 1 {
		impact = 1
	}
	return impact
}

// possibleCauses asks the text-generation collaborator for short cause
// candidates and parses them into a list.
func (e *Enricher) possibleCauses(ctx context.Context, a *detection.DetectedAnomaly, source *detection.DataSource) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.gen.Generate(callCtx, causePrompt(a, source),
		textgen.WithTemperature(0.3),
		textgen.WithMaxTokens(256),
	)
	if err != nil {
		return nil, fmt.Errorf("generate possible causes: %w", err)
	}

	causes := parseCauses(resp.Content)
	if len(causes) == 0 {
		return nil, fmt.Errorf("no usable cause lines in response")
	}
	return causes, nil
}

func causePrompt(a *detection.DetectedAnomaly, source *detection.DataSource) string {
	var sb strings.Builder
	sb.WriteString("You are a data reliability analyst. List up to 5 short, concrete possible causes, one per line, each starting with \"-\".\n\n")
	fmt.Fprintf(&sb, "Data source: %s\n", source.Name)
	fmt.Fprintf(&sb, "Anomaly: %s severity on fields %s at %s\n",
		a.Severity, strings.Join(a.FieldNames(), ", "), a.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&sb, "Evidence: %s\n", a.Explanation.Summary)
	return sb.String()
}

// parseCauses extracts bullet or numbered lines from free text.
func parseCauses(content string) []string {
	var causes []string
	for _, line := range strings.Split(content, "\n") {
		line = stripBullet(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		causes = append(causes, line)
		if len(causes) == maxCauses {
			break
		}
	}
	return causes
}

// stripBullet removes a leading "-", "*", or "1." / "1)" style marker.
func stripBullet(line string) string {
	if len(line) > 1 && (line[0] == '-' || line[0] == '*') {
		return strings.TrimSpace(line[1:])
	}
	if len(line) > 2 && line[0] >= '0' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
		return strings.TrimSpace(line[2:])
	}
	return line
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
