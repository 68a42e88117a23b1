// Package alerting turns detected anomalies into severity-gated alerts,
// applying suppression, throttling, business-hours delay, and escalation
// policy. Delivery to channels is external; this package only produces and
// tracks the alert payloads.
package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/driftwatch/driftwatch/internal/event"
	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Typed alerting errors.
var (
	ErrUnknownAlert      = errors.New("unknown alert")
	ErrInvalidTransition = errors.New("invalid alert status transition")
)

var (
	alertsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "driftwatch_alerts_generated_total",
			Help: "Alerts generated, by severity.",
		},
		[]string{"severity"},
	)
	alertsSuppressed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftwatch_alerts_suppressed_total",
			Help: "Alerts withheld by suppression rules.",
		},
	)
	alertsEscalated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "driftwatch_alerts_escalated_total",
			Help: "Alert escalations performed.",
		},
	)
)

func init() {
	prometheus.MustRegister(alertsGenerated)
	prometheus.MustRegister(alertsSuppressed)
	prometheus.MustRegister(alertsEscalated)
}

// trackedRetention bounds how long an alert stays tracked when no status
// transition ever arrives. Delivery and acknowledgement happen in external
// systems, so without a cap the tracker grows for the life of the process.
const trackedRetention = 24 * time.Hour

// trackedAlert pairs an unresolved alert with the escalation policy it was
// generated under.
type trackedAlert struct {
	alert      *detection.GeneratedAlert
	escalation []detection.EscalationRule
	escalated  time.Time // last escalation (zero until the first)
}

// Generator owns alert creation and the alert state machine. One Generator
// serves all detection runs of a process; suppression windows span runs.
type Generator struct {
	logger  *zap.Logger
	bus     *event.Bus
	limiter *rate.Limiter
	now     func() time.Time

	mu          sync.Mutex
	occurrences map[string][]time.Time  // suppression condition -> sightings
	tracked     map[string]*trackedAlert // alert ID -> state
}

// NewGenerator creates an alert generator. throttlePerMinute bounds overall
// alert emission; excess alerts are delayed, never dropped. Zero disables
// throttling.
func NewGenerator(bus *event.Bus, throttlePerMinute int, logger *zap.Logger) *Generator {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if throttlePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(throttlePerMinute)/60), throttlePerMinute)
	}
	return &Generator{
		logger:      logger,
		bus:         bus,
		limiter:     limiter,
		now:         time.Now,
		occurrences: make(map[string][]time.Time),
		tracked:     make(map[string]*trackedAlert),
	}
}

// Generate maps anomalies to alerts under the given policy. Anomalies below
// their severity tier's score threshold produce nothing; suppressed
// conditions produce nothing and are counted; everything else yields one
// pending alert, possibly stamped with a delivery delay.
func (g *Generator) Generate(ctx context.Context, anomalies []detection.DetectedAnomaly, cfg *detection.AlertConfig, source *detection.DataSource) []detection.GeneratedAlert {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	var out []detection.GeneratedAlert
	for i := range anomalies {
		a := &anomalies[i]

		if cfg.MinSeverity != "" && a.Severity.Rank() < cfg.MinSeverity.Rank() {
			continue
		}
		if a.Score < cfg.ScoreThreshold(a.Severity) {
			continue
		}

		condition := conditionKey(source.ID, a)
		if g.suppressed(condition, cfg.Suppression, now) {
			alertsSuppressed.Inc()
			g.logger.Info("alert suppressed",
				zap.String("condition", condition),
				zap.String("anomaly_id", a.ID),
				zap.String("severity", string(a.Severity)),
			)
			g.bus.PublishAsync(ctx, event.Event{
				Topic:     event.TopicAlertSuppressed,
				Source:    "alerting",
				Timestamp: now,
				Payload:   condition,
			})
			continue
		}

		alert := g.buildAlert(a, cfg, source, condition, now)
		g.tracked[alert.ID] = &trackedAlert{alert: alert, escalation: cfg.Escalation}
		alertsGenerated.WithLabelValues(string(alert.Severity)).Inc()

		g.logger.Warn("alert triggered",
			zap.String("alert_id", alert.ID),
			zap.String("anomaly_id", a.ID),
			zap.String("severity", string(alert.Severity)),
			zap.Time("deliver_after", alert.DeliverAfter),
		)
		g.bus.PublishAsync(ctx, event.Event{
			Topic:     event.TopicAlertTriggered,
			Source:    "alerting",
			Timestamp: now,
			Payload:   *alert,
		})

		out = append(out, *alert)
	}
	return out
}

func (g *Generator) buildAlert(a *detection.DetectedAnomaly, cfg *detection.AlertConfig, source *detection.DataSource, condition string, now time.Time) *detection.GeneratedAlert {
	alert := &detection.GeneratedAlert{
		ID:             uuid.NewString(),
		AnomalyID:      a.ID,
		OrganizationID: source.OrganizationID,
		DataSourceID:   source.ID,
		Severity:       a.Severity,
		Title: fmt.Sprintf("%s anomaly on %s", strings.ToUpper(string(a.Severity)),
			strings.Join(a.FieldNames(), ", ")),
		Message:    a.Explanation.Summary,
		Condition:  condition,
		Channels:   append([]detection.AlertChannel(nil), cfg.Channels...),
		Recipients: append([]string(nil), cfg.Recipients...),
		Status:     detection.AlertPending,
		CreatedAt:  now,
	}

	// Throttle excess emission by delaying delivery rather than dropping.
	if res := g.limiter.Reserve(); res.OK() {
		if delay := res.Delay(); delay > 0 {
			alert.DeliverAfter = now.Add(delay)
		}
	}

	// Business hours delay non-critical alerts until the next working
	// window; critical alerts always go out immediately.
	if cfg.BusinessHours != nil && a.Severity != detection.SeverityCritical {
		if next := nextWorkingTime(now, cfg.BusinessHours); next.After(now) && next.After(alert.DeliverAfter) {
			alert.DeliverAfter = next
		}
	}

	return alert
}

// suppressed records a sighting of the condition and reports whether any
// matching rule's occurrence budget is exhausted. With max_occurrences=2 in
// a window, the first two sightings alert and the third does not.
// Conditions no rule watches are never recorded, so the sighting log stays
// bounded by the configured windows.
func (g *Generator) suppressed(condition string, rules []detection.SuppressionRule, now time.Time) bool {
	var longest time.Duration
	matched := false
	for _, rule := range rules {
		if rule.Condition != "" && rule.Condition != condition {
			continue
		}
		matched = true
		if rule.Duration > longest {
			longest = rule.Duration
		}
	}
	if !matched {
		return false
	}

	g.occurrences[condition] = append(g.occurrences[condition], now)

	// Prune sightings no matching rule can still see. The current sighting
	// always survives, so the slice is never empty here.
	kept := g.occurrences[condition][:0]
	for _, seen := range g.occurrences[condition] {
		if now.Sub(seen) <= longest {
			kept = append(kept, seen)
		}
	}
	g.occurrences[condition] = kept

	suppress := false
	for _, rule := range rules {
		if rule.Condition != "" && rule.Condition != condition {
			continue
		}
		if rule.MaxOccurrences <= 0 {
			continue
		}
		count := 0
		for _, seen := range kept {
			if now.Sub(seen) <= rule.Duration {
				count++
			}
		}
		if count > rule.MaxOccurrences {
			suppress = true
		}
	}
	return suppress
}

// conditionKey builds the suppression grouping key for an anomaly.
func conditionKey(sourceID string, a *detection.DetectedAnomaly) string {
	names := a.FieldNames()
	sort.Strings(names)
	return sourceID + "|" + string(a.Severity) + "|" + strings.Join(names, ",")
}

// -- state machine: pending -> sent -> acknowledged -> resolved --

// MarkSent transitions a pending alert to sent.
func (g *Generator) MarkSent(id string) error {
	return g.transition(id, detection.AlertSent)
}

// Acknowledge transitions a sent alert to acknowledged, ending escalation.
func (g *Generator) Acknowledge(id string) error {
	return g.transition(id, detection.AlertAcknowledged)
}

// Resolve transitions an acknowledged alert to resolved and stops tracking
// it. Resolved is terminal.
func (g *Generator) Resolve(id string) error {
	if err := g.transition(id, detection.AlertResolved); err != nil {
		return err
	}
	g.mu.Lock()
	if t, ok := g.tracked[id]; ok {
		g.bus.PublishAsync(context.Background(), event.Event{
			Topic:     event.TopicAlertResolved,
			Source:    "alerting",
			Timestamp: g.now().UTC(),
			Payload:   *t.alert,
		})
		delete(g.tracked, id)
	}
	g.mu.Unlock()
	return nil
}

// Get returns a snapshot of a tracked alert, or nil when unknown.
func (g *Generator) Get(id string) *detection.GeneratedAlert {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.tracked[id]
	if !ok {
		return nil
	}
	snapshot := *t.alert
	return &snapshot
}

var validNext = map[detection.AlertStatus]detection.AlertStatus{
	detection.AlertPending:      detection.AlertSent,
	detection.AlertSent:         detection.AlertAcknowledged,
	detection.AlertAcknowledged: detection.AlertResolved,
}

func (g *Generator) transition(id string, to detection.AlertStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.tracked[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAlert, id)
	}
	if validNext[t.alert.Status] != to {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.alert.Status, to)
	}

	now := g.now().UTC()
	t.alert.Status = to
	switch to {
	case detection.AlertSent:
		t.alert.SentAt = &now
	case detection.AlertAcknowledged:
		t.alert.AcknowledgedAt = &now
	case detection.AlertResolved:
		t.alert.ResolvedAt = &now
	}
	return nil
}

// -- escalation --

// Sweep performs one escalation pass: every unacknowledged alert whose
// escalation delay has elapsed gains a level and the rule's extra
// recipients, up to the rule's maximum. Alerts that outlive the tracking
// retention are evicted. Call from a background loop or a test clock.
func (g *Generator) Sweep(ctx context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UTC()
	for id, t := range g.tracked {
		a := t.alert
		if now.Sub(a.CreatedAt) >= trackedRetention {
			delete(g.tracked, id)
			g.logger.Info("alert tracking expired",
				zap.String("alert_id", a.ID),
				zap.String("status", string(a.Status)),
			)
			continue
		}
		if a.Status == detection.AlertAcknowledged || a.Status == detection.AlertResolved {
			continue
		}
		if len(t.escalation) == 0 {
			continue
		}

		rule := t.escalation[min(a.EscalationLevel, len(t.escalation)-1)]
		if rule.MaxEscalations > 0 && a.EscalationLevel >= rule.MaxEscalations {
			continue
		}

		since := a.CreatedAt
		if !t.escalated.IsZero() {
			since = t.escalated
		}
		if now.Sub(since) < rule.Delay {
			continue
		}

		a.EscalationLevel++
		a.Recipients = mergeRecipients(a.Recipients, rule.EscalateTo)
		t.escalated = now
		alertsEscalated.Inc()

		g.logger.Warn("alert escalated",
			zap.String("alert_id", a.ID),
			zap.Int("escalation_level", a.EscalationLevel),
			zap.Strings("escalate_to", rule.EscalateTo),
		)
		g.bus.PublishAsync(ctx, event.Event{
			Topic:     event.TopicAlertEscalated,
			Source:    "alerting",
			Timestamp: now,
			Payload:   *a,
		})
	}
}

// Run sweeps escalations on an interval until the context is cancelled.
func (g *Generator) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep(ctx)
		}
	}
}

func mergeRecipients(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		seen[r] = struct{}{}
	}
	for _, r := range extra {
		if _, dup := seen[r]; !dup {
			existing = append(existing, r)
			seen[r] = struct{}{}
		}
	}
	return existing
}
