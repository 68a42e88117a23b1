package detection

import "time"

// AlertStatus is a generated alert's position in the delivery state machine:
// pending -> sent -> acknowledged -> resolved. Resolved is terminal.
type AlertStatus string

// Alert statuses.
const (
	AlertPending      AlertStatus = "pending"
	AlertSent         AlertStatus = "sent"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// AlertChannel names an external delivery sink. DriftWatch only produces the
// payload and channel list; delivery itself is out of scope.
type AlertChannel string

// Alert channels.
const (
	ChannelEmail   AlertChannel = "email"
	ChannelSMS     AlertChannel = "sms"
	ChannelSlack   AlertChannel = "slack"
	ChannelWebhook AlertChannel = "webhook"
	ChannelInApp   AlertChannel = "in_app"
)

// GeneratedAlert is derived 1:1 (or suppressed) from a DetectedAnomaly.
// Only the alert generator's state machine mutates it after creation.
type GeneratedAlert struct {
	ID              string         `json:"id"`
	AnomalyID       string         `json:"anomaly_id"`
	OrganizationID  string         `json:"organization_id"`
	DataSourceID    string         `json:"data_source_id"`
	Severity        Severity       `json:"severity"`
	Title           string         `json:"title"`
	Message         string         `json:"message"`
	Condition       string         `json:"condition"` // suppression grouping key
	Channels        []AlertChannel `json:"channels"`
	Recipients      []string       `json:"recipients"`
	Status          AlertStatus    `json:"status"`
	EscalationLevel int            `json:"escalation_level"`
	CreatedAt       time.Time      `json:"created_at"`
	DeliverAfter    time.Time      `json:"deliver_after,omitempty"` // zero = immediately
	SentAt          *time.Time     `json:"sent_at,omitempty"`
	AcknowledgedAt  *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
}

// SuppressionRule prevents repeated alerts for the same recurring condition:
// once a condition has fired MaxOccurrences times within Duration, further
// matching alerts are not created until the window slides past.
type SuppressionRule struct {
	Condition      string        `json:"condition,omitempty"` // empty matches every condition
	MaxOccurrences int           `json:"max_occurrences"`
	Duration       time.Duration `json:"duration"`
}

// EscalationRule broadens recipients after a delay without acknowledgement.
type EscalationRule struct {
	Delay          time.Duration `json:"delay"`
	EscalateTo     []string      `json:"escalate_to"`
	MaxEscalations int           `json:"max_escalations"`
}

// BusinessHours delays (never cancels) non-critical alert delivery outside
// the working window. Hours are in the location's local time.
type BusinessHours struct {
	StartHour int            `json:"start_hour"` // inclusive, 0-23
	EndHour   int            `json:"end_hour"`   // exclusive, 1-24
	Days      []time.Weekday `json:"days"`
	Location  string         `json:"location,omitempty"` // IANA name, default UTC
}

// AlertConfig is the caller-supplied alerting policy for a detection run.
type AlertConfig struct {
	Enabled       bool                 `json:"enabled"`
	MinSeverity   Severity             `json:"min_severity,omitempty"`
	Thresholds    map[Severity]float64 `json:"score_thresholds,omitempty"` // per-tier minimum anomaly score
	Channels      []AlertChannel       `json:"channels"`
	Recipients    []string             `json:"recipients"`
	Suppression   []SuppressionRule    `json:"suppression,omitempty"`
	Escalation    []EscalationRule     `json:"escalation,omitempty"`
	BusinessHours *BusinessHours       `json:"business_hours,omitempty"`
}

// ScoreThreshold returns the minimum anomaly score required for a severity
// tier to alert, falling back to defaults when unconfigured.
func (c *AlertConfig) ScoreThreshold(s Severity) float64 {
	if v, ok := c.Thresholds[s]; ok {
		return v
	}
	switch s {
	case SeverityCritical:
		return 0.9
	case SeverityHigh:
		return 0.7
	case SeverityMedium:
		return 0.5
	default:
		return 0.3
	}
}
