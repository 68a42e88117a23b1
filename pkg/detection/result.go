package detection

import "time"

// DetectionRequest is the inbound request for one synchronous detection run.
type DetectionRequest struct {
	DataSource  *DataSource       `json:"data_source"`
	Config      *DetectionConfig  `json:"detection_config"`
	AlertConfig *AlertConfig      `json:"alert_config"`
	Context     map[string]string `json:"context,omitempty"`
}

// ResultStatus distinguishes a completed detection run from the
// non-exceptional insufficient-data outcome.
type ResultStatus string

// Result statuses.
const (
	StatusCompleted        ResultStatus = "completed"
	StatusInsufficientData ResultStatus = "insufficient_data"
)

// Summary aggregates a detection run's findings.
type Summary struct {
	TotalRecords    int              `json:"total_records"`
	TotalAnomalies  int              `json:"total_anomalies"`
	BySeverity      map[Severity]int `json:"by_severity,omitempty"`
	HighestSeverity Severity         `json:"highest_severity,omitempty"`
	AnomalyRate     float64          `json:"anomaly_rate"`
}

// ModelPerformance reports how the configured algorithms behaved on a run.
type ModelPerformance struct {
	AlgorithmsRun    int                      `json:"algorithms_run"`
	AlgorithmsFailed int                      `json:"algorithms_failed"`
	RecordsScored    int                      `json:"records_scored"`
	Durations        map[string]time.Duration `json:"durations,omitempty"` // per algorithm
}

// DetectionResult is the outcome of one detection run.
type DetectionResult struct {
	ID               string            `json:"id"`
	OrganizationID   string            `json:"organization_id"`
	DataSourceID     string            `json:"data_source_id"`
	Status           ResultStatus      `json:"status"`
	Anomalies        []DetectedAnomaly `json:"anomalies"`
	Summary          Summary           `json:"summary"`
	Recommendations  []string          `json:"recommendations,omitempty"`
	ModelPerformance ModelPerformance  `json:"model_performance"`
	Alerts           []GeneratedAlert  `json:"alerts,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ProcessorStatus is a liveness snapshot of a stream processor. Snapshots
// are immutable; the owning processor publishes a fresh one after each batch.
type ProcessorStatus struct {
	ProcessorID    string        `json:"processor_id"`
	OrganizationID string        `json:"organization_id"`
	DataSourceID   string        `json:"data_source_id"`
	Running        bool          `json:"is_running"`
	LastProcessed  time.Time     `json:"last_processed,omitempty"`
	TotalProcessed int64         `json:"total_processed"`
	ErrorRate      float64       `json:"error_rate"`
	AvgLatency     time.Duration `json:"avg_latency"`
	QueueSize      int           `json:"queue_size"`
}
