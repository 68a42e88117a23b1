// Package detection provides the public SDK types for the DriftWatch anomaly
// detection engine: data sources, detection configuration, baselines,
// anomalies, alerts, and the pluggable Detector contract.
package detection

import "time"

// FieldType describes the declared type of a data source field.
type FieldType string

// Field type constants for DataSource schemas.
const (
	FieldNumber    FieldType = "number"
	FieldString    FieldType = "string"
	FieldTimestamp FieldType = "timestamp"
	FieldBoolean   FieldType = "boolean"
)

// DataSource is an immutable batch of records plus the schema metadata the
// engine needs to interpret them. The engine never mutates a DataSource.
type DataSource struct {
	ID             string               `json:"id"`
	OrganizationID string               `json:"organization_id"`
	Name           string               `json:"name"`
	Data           []Record             `json:"data"`
	Schema         map[string]FieldType `json:"schema,omitempty"`
	PrimaryKey     string               `json:"primary_key,omitempty"`
	TimestampField string               `json:"timestamp_field"`
	ValueFields    []string             `json:"value_fields"`
	CategoryFields []string             `json:"category_fields,omitempty"`
	Frequency      time.Duration        `json:"expected_frequency,omitempty"`
	QualityScore   float64              `json:"quality_score,omitempty"`
}

// AlgorithmKind identifies a detection algorithm in the registry.
type AlgorithmKind string

// Built-in algorithm kinds.
const (
	AlgorithmStatistical     AlgorithmKind = "statistical"
	AlgorithmIsolationForest AlgorithmKind = "isolation_forest"
	AlgorithmOneClass        AlgorithmKind = "one_class"
)

// Algorithm selects a detector and its per-call tuning.
type Algorithm struct {
	Kind       AlgorithmKind      `json:"kind"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
	Weight     float64            `json:"weight,omitempty"`
}

// Sensitivity is the coarse detection sensitivity tier.
type Sensitivity string

// Sensitivity tiers. Custom requires DetectionConfig.CustomThreshold.
const (
	SensitivityLow    Sensitivity = "low"
	SensitivityMedium Sensitivity = "medium"
	SensitivityHigh   Sensitivity = "high"
	SensitivityCustom Sensitivity = "custom"
)

// DetectionConfig is the caller-owned configuration for one detection run.
// The engine treats it as read-only.
type DetectionConfig struct {
	Algorithms       []Algorithm   `json:"algorithms"`
	Sensitivity      Sensitivity   `json:"sensitivity,omitempty"`
	CustomThreshold  float64       `json:"custom_threshold,omitempty"`
	Window           time.Duration `json:"aggregation_window,omitempty"`
	MinimumSamples   int           `json:"minimum_samples,omitempty"`
	SeasonalityAware bool          `json:"seasonality_aware,omitempty"`
	Multivariate     bool          `json:"multivariate,omitempty"`
}

// Threshold maps the sensitivity tier to a z-score threshold:
// low=3.0, medium=2.5, high=2.0. Custom returns CustomThreshold when it is
// positive; any unrecognized tier falls back to medium.
func (c *DetectionConfig) Threshold() float64 {
	switch c.Sensitivity {
	case SensitivityLow:
		return 3.0
	case SensitivityMedium:
		return 2.5
	case SensitivityHigh:
		return 2.0
	case SensitivityCustom:
		if c.CustomThreshold > 0 {
			return c.CustomThreshold
		}
	}
	return 2.5
}

// MinSamples returns the configured minimum sample count, defaulting to 10.
func (c *DetectionConfig) MinSamples() int {
	if c.MinimumSamples > 0 {
		return c.MinimumSamples
	}
	return 10
}
