package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthEndpoint(t *testing.T) {
	h := NewHealthHandler("payrail", "1.0.0", nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReadyEndpoint(t *testing.T) {
	healthy := NewHealthHandler("payrail", "1.0.0", map[string]Checker{
		"events": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	healthy.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthy status = %d", rec.Code)
	}

	unhealthy := NewHealthHandler("payrail", "1.0.0", map[string]Checker{
		"events": func(context.Context) error { return errors.New("redis down") },
	})
	rec = httptest.NewRecorder()
	unhealthy.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d", rec.Code)
	}
}

func TestStatusEndpointReportsDependencies(t *testing.T) {
	h := NewHealthHandler("payrail", "1.0.0", map[string]Checker{
		"events":  func(context.Context) error { return errors.New("redis down") },
		"storage": func(context.Context) error { return nil },
	})

	rec := httptest.NewRecorder()
	h.Status(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "degraded" {
		t.Fatalf("status = %v, want degraded", body["status"])
	}
	deps, ok := body["dependencies"].(map[string]any)
	if !ok {
		t.Fatalf("dependencies = %v", body["dependencies"])
	}
	if deps["storage"] != "ok" || deps["events"] != "redis down" {
		t.Fatalf("dependencies = %v", deps)
	}
	if body["app"] != "payrail" || body["version"] != "1.0.0" {
		t.Fatalf("identity = %v %v", body["app"], body["version"])
	}
}
