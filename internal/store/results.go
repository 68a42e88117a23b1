package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftwatch/driftwatch/pkg/detection"
)

// Migrations is the detection schema, applied under the "detection" component.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "detection results, anomalies, and alerts",
		Up: func(tx *sql.Tx) error {
			stmts := []string{
				`CREATE TABLE IF NOT EXISTS detection_results (
					id                 TEXT     PRIMARY KEY,
					organization_id    TEXT     NOT NULL,
					data_source_id     TEXT     NOT NULL,
					status             TEXT     NOT NULL,
					total_records      INTEGER  NOT NULL,
					total_anomalies    INTEGER  NOT NULL,
					anomaly_rate       REAL     NOT NULL,
					highest_severity   TEXT     NOT NULL DEFAULT '',
					summary_json       TEXT     NOT NULL,
					performance_json   TEXT     NOT NULL,
					recommendations    TEXT     NOT NULL DEFAULT '[]',
					processing_time_ms INTEGER  NOT NULL,
					created_at         DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_results_org_created
					ON detection_results(organization_id, created_at DESC)`,

				`CREATE TABLE IF NOT EXISTS anomalies (
					id             TEXT     PRIMARY KEY,
					result_id      TEXT     NOT NULL REFERENCES detection_results(id) ON DELETE CASCADE,
					data_source_id TEXT     NOT NULL,
					type           TEXT     NOT NULL,
					severity       TEXT     NOT NULL,
					confidence     REAL     NOT NULL,
					score          REAL     NOT NULL,
					algorithm      TEXT     NOT NULL,
					occurred_at    DATETIME NOT NULL,
					payload_json   TEXT     NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_anomalies_source_occurred
					ON anomalies(data_source_id, occurred_at DESC)`,

				`CREATE TABLE IF NOT EXISTS alerts (
					id               TEXT     PRIMARY KEY,
					anomaly_id       TEXT     NOT NULL,
					organization_id  TEXT     NOT NULL,
					data_source_id   TEXT     NOT NULL,
					severity         TEXT     NOT NULL,
					status           TEXT     NOT NULL,
					escalation_level INTEGER  NOT NULL DEFAULT 0,
					condition        TEXT     NOT NULL,
					created_at       DATETIME NOT NULL,
					payload_json     TEXT     NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_alerts_status_created
					ON alerts(status, created_at DESC)`,
			}
			for _, stmt := range stmts {
				if _, err := tx.Exec(stmt); err != nil {
					return fmt.Errorf("exec migration stmt: %w", err)
				}
			}
			return nil
		},
	},
}

// ResultStore provides database access for detection outcomes.
type ResultStore struct {
	db *sql.DB
}

// NewResultStore creates a ResultStore backed by the given database. The
// caller must have run Migrations first.
func NewResultStore(db *sql.DB) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult persists a detection result with its anomalies and alerts in a
// single transaction.
func (s *ResultStore) SaveResult(ctx context.Context, r *detection.DetectionResult) error {
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	perf, err := json.Marshal(r.ModelPerformance)
	if err != nil {
		return fmt.Errorf("marshal performance: %w", err)
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detection_results (
			id, organization_id, data_source_id, status,
			total_records, total_anomalies, anomaly_rate, highest_severity,
			summary_json, performance_json, recommendations,
			processing_time_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.OrganizationID, r.DataSourceID, string(r.Status),
		r.Summary.TotalRecords, r.Summary.TotalAnomalies, r.Summary.AnomalyRate,
		string(r.Summary.HighestSeverity),
		string(summary), string(perf), string(recs),
		r.ProcessingTimeMs, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	for i := range r.Anomalies {
		a := &r.Anomalies[i]
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("marshal anomaly %s: %w", a.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO anomalies (
				id, result_id, data_source_id, type, severity,
				confidence, score, algorithm, occurred_at, payload_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, r.ID, r.DataSourceID, string(a.Type), string(a.Severity),
			a.Confidence, a.Score, a.Algorithm, a.Timestamp, string(payload),
		)
		if err != nil {
			return fmt.Errorf("insert anomaly %s: %w", a.ID, err)
		}
	}

	for i := range r.Alerts {
		if err := insertAlert(ctx, tx, &r.Alerts[i]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit result: %w", err)
	}
	return nil
}

func insertAlert(ctx context.Context, tx *sql.Tx, a *detection.GeneratedAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts (
			id, anomaly_id, organization_id, data_source_id,
			severity, status, escalation_level, condition, created_at, payload_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AnomalyID, a.OrganizationID, a.DataSourceID,
		string(a.Severity), string(a.Status), a.EscalationLevel,
		a.Condition, a.CreatedAt, string(payload),
	)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// GetResult loads one detection result by ID, including its anomalies.
// Returns sql.ErrNoRows when the ID is unknown.
func (s *ResultStore) GetResult(ctx context.Context, id string) (*detection.DetectionResult, error) {
	var (
		r               detection.DetectionResult
		status          string
		summaryJSON     string
		perfJSON        string
		recsJSON        string
		totalRecords    int
		totalAnomalies  int
		anomalyRate     float64
		highestSeverity string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, data_source_id, status,
			total_records, total_anomalies, anomaly_rate, highest_severity,
			summary_json, performance_json, recommendations,
			processing_time_ms, created_at
		FROM detection_results WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.OrganizationID, &r.DataSourceID, &status,
		&totalRecords, &totalAnomalies, &anomalyRate, &highestSeverity,
		&summaryJSON, &perfJSON, &recsJSON,
		&r.ProcessingTimeMs, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Status = detection.ResultStatus(status)
	if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
		return nil, fmt.Errorf("unmarshal summary: %w", err)
	}
	if err := json.Unmarshal([]byte(perfJSON), &r.ModelPerformance); err != nil {
		return nil, fmt.Errorf("unmarshal performance: %w", err)
	}
	if err := json.Unmarshal([]byte(recsJSON), &r.Recommendations); err != nil {
		return nil, fmt.Errorf("unmarshal recommendations: %w", err)
	}

	anomalies, err := s.anomaliesForResult(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Anomalies = anomalies
	return &r, nil
}

func (s *ResultStore) anomaliesForResult(ctx context.Context, resultID string) ([]detection.DetectedAnomaly, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload_json FROM anomalies WHERE result_id = ? ORDER BY occurred_at",
		resultID,
	)
	if err != nil {
		return nil, fmt.Errorf("query anomalies: %w", err)
	}
	defer rows.Close()

	var out []detection.DetectedAnomaly
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		var a detection.DetectedAnomaly
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListResults returns recent results for an organization, newest first,
// without their anomaly payloads.
func (s *ResultStore) ListResults(ctx context.Context, orgID string, limit int) ([]detection.DetectionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, organization_id, data_source_id, status,
			summary_json, processing_time_ms, created_at
		FROM detection_results
		WHERE organization_id = ?
		ORDER BY created_at DESC LIMIT ?`,
		orgID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []detection.DetectionResult
	for rows.Next() {
		var (
			r           detection.DetectionResult
			status      string
			summaryJSON string
		)
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.DataSourceID, &status,
			&summaryJSON, &r.ProcessingTimeMs, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.Status = detection.ResultStatus(status)
		if err := json.Unmarshal([]byte(summaryJSON), &r.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListAnomalies returns recent anomalies for a data source, newest first.
func (s *ResultStore) ListAnomalies(ctx context.Context, sourceID string, limit int) ([]detection.DetectedAnomaly, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload_json FROM anomalies
		WHERE data_source_id = ?
		ORDER BY occurred_at DESC LIMIT ?`,
		sourceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []detection.DetectedAnomaly
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan anomaly row: %w", err)
		}
		var a detection.DetectedAnomaly
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("unmarshal anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAlerts returns alerts, optionally filtered by status, newest first.
func (s *ResultStore) ListAlerts(ctx context.Context, status detection.AlertStatus, limit int) ([]detection.GeneratedAlert, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if status == "" {
		rows, err = s.db.QueryContext(ctx,
			"SELECT payload_json FROM alerts ORDER BY created_at DESC LIMIT ?", limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			"SELECT payload_json FROM alerts WHERE status = ? ORDER BY created_at DESC LIMIT ?",
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []detection.GeneratedAlert
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		var a detection.GeneratedAlert
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, fmt.Errorf("unmarshal alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAlertStatus records a state-machine transition performed by the
// alert generator. The payload is replaced wholesale so timestamps and
// escalation level stay consistent with the in-memory copy.
func (s *ResultStore) UpdateAlertStatus(ctx context.Context, a *detection.GeneratedAlert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert %s: %w", a.ID, err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts SET status = ?, escalation_level = ?, payload_json = ?
		WHERE id = ?`,
		string(a.Status), a.EscalationLevel, string(payload), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteOldResults removes results (and, via cascade, their anomalies)
// created before the cutoff. Returns the number of results removed.
func (s *ResultStore) DeleteOldResults(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM detection_results WHERE created_at < ?", before)
	if err != nil {
		return 0, fmt.Errorf("delete old results: %w", err)
	}
	return res.RowsAffected()
}
