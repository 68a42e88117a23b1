package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/textgen"
)

// statusError carries an HTTP-level failure from the Ollama API.
type statusError struct {
	StatusCode int
	Message    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ollama: %s (status %d)", e.Message, e.StatusCode)
}

// mapError translates Ollama and network errors into typed
// textgen.ProviderError values.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return textgen.NewProviderError(textgen.ErrCodeTimeout, "request timed out or cancelled", err)
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == 429:
			return textgen.NewProviderError(textgen.ErrCodeRateLimit, se.Message, err)
		case se.StatusCode >= 500:
			return textgen.NewProviderError(textgen.ErrCodeServerError, se.Message, err)
		case se.StatusCode >= 400:
			return textgen.NewProviderError(textgen.ErrCodeInvalidRequest, se.Message, err)
		}
	}

	// Connection refused, DNS errors, client-side timeouts.
	msg := err.Error()
	if strings.Contains(msg, "Client.Timeout") || strings.Contains(msg, "deadline exceeded") {
		return textgen.NewProviderError(textgen.ErrCodeTimeout, "request timed out", err)
	}
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "dial tcp") {
		return textgen.NewProviderError(textgen.ErrCodeServerError, "ollama server unreachable", err)
	}

	return textgen.NewProviderError(textgen.ErrCodeServerError, "ollama error", err)
}
