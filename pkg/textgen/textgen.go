// Package textgen defines the narrow request/response interface to the
// external text-generation collaborator used for anomaly explanation
// enrichment. Provider adapters live in internal/textgen/{provider}/.
//
// Failures of this collaborator degrade explanations; they never fail a
// detection run.
package textgen

import "context"

// Generator is implemented by all text-generation provider adapters.
type Generator interface {
	// Generate creates a completion from a single prompt.
	// Use CallOption values to override model or sampling parameters.
	Generate(ctx context.Context, prompt string, opts ...CallOption) (*Response, error)
}

// HealthReporter is optionally implemented by providers that can report
// connectivity. Detected via type assertion.
type HealthReporter interface {
	// Heartbeat checks whether the generation service is reachable.
	Heartbeat(ctx context.Context) error
}

// Response contains the generated text and metadata.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Done    bool   `json:"done"` // false when the output was truncated
}

// CallOption configures a single Generate call.
type CallOption func(*CallConfig)

// CallConfig holds the resolved configuration for a single call. Callers
// use CallOption functions, not this struct directly.
type CallConfig struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// WithModel overrides the provider's default model for this call.
func WithModel(model string) CallOption {
	return func(c *CallConfig) { c.Model = model }
}

// WithTemperature sets the sampling temperature. 0.0 = deterministic.
func WithTemperature(temp float64) CallOption {
	return func(c *CallConfig) { c.Temperature = temp }
}

// WithMaxTokens caps the number of generated tokens.
func WithMaxTokens(n int) CallOption {
	return func(c *CallConfig) { c.MaxTokens = n }
}

// ApplyOptions resolves a CallConfig from options, starting from defaults.
func ApplyOptions(opts ...CallOption) CallConfig {
	cfg := CallConfig{
		Temperature: 0.3,
		MaxTokens:   512,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
