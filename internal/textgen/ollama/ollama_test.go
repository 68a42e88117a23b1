package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/driftwatch/driftwatch/pkg/textgen"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.URL = srv.URL
	cfg.Model = "test-model"

	p, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestGenerate_Success(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("stream requested")
		}
		if req.Model != "test-model" {
			t.Errorf("model = %s", req.Model)
		}
		json.NewEncoder(w).Encode(generateResponse{
			Model:    req.Model,
			Response: "1. Deployment change",
			Done:     true,
		})
	})

	resp, err := p.Generate(context.Background(), "list causes")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "1. Deployment change" || !resp.Done {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGenerate_ModelOverride(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "other-model" {
			t.Errorf("model = %s, want other-model", req.Model)
		}
		json.NewEncoder(w).Encode(generateResponse{Done: true})
	})

	if _, err := p.Generate(context.Background(), "x", textgen.WithModel("other-model")); err != nil {
		t.Fatalf("Generate: %v", err)
	}
}

func TestGenerate_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		check  func(error) bool
	}{
		{"server error", http.StatusInternalServerError, textgen.IsServerError},
		{"rate limit", http.StatusTooManyRequests, textgen.IsRetryable},
		{"bad request", http.StatusBadRequest, func(err error) bool {
			var pe *textgen.ProviderError
			return errors.As(err, &pe) && pe.Code == textgen.ErrCodeInvalidRequest
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"error": "nope"})
			})

			_, err := p.Generate(context.Background(), "x")
			if err == nil {
				t.Fatal("expected error")
			}
			if !tt.check(err) {
				t.Errorf("error not mapped: %v", err)
			}
		})
	}
}

func TestGenerate_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.URL = "http://127.0.0.1:1" // nothing listens here
	p, err := New(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Generate(context.Background(), "x")
	if !textgen.IsRetryable(err) {
		t.Errorf("unreachable server not retryable: %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := p.Heartbeat(context.Background()); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	down := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if err := down.Heartbeat(context.Background()); err == nil {
		t.Error("expected heartbeat failure")
	}
}
