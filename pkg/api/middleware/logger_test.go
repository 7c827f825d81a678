package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/payrail/payrail/pkg/logger"
)

// fileLogger writes JSON logs into a temp file so tests can read the
// emitted fields back.
func fileLogger(t *testing.T) (logger.Logger, func() []map[string]interface{}) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "access.log")
	log := logger.New(&logger.Config{Level: logger.DebugLevel, Format: "json", Output: path})

	readEntries := func() []map[string]interface{} {
		if err := log.Close(); err != nil {
			t.Fatalf("closing logger: %v", err)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("reading log file: %v", err)
		}
		var entries []map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		for dec.More() {
			var entry map[string]interface{}
			if err := dec.Decode(&entry); err != nil {
				t.Fatalf("decoding log entry: %v", err)
			}
			entries = append(entries, entry)
		}
		return entries
	}
	return log, readEntries
}

func TestLogger_EmitsAccessLog(t *testing.T) {
	log, readEntries := fileLogger(t)

	handler := RequestID()(Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"txn-1"}`))
	})))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/transfer", nil))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}

	entries := readEntries()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	e := entries[0]
	if e["msg"] != "http request" {
		t.Fatalf("msg = %v", e["msg"])
	}
	if e["method"] != "POST" || e["path"] != "/api/v1/transfer" {
		t.Fatalf("method/path = %v/%v", e["method"], e["path"])
	}
	if e["status"] != float64(http.StatusCreated) {
		t.Fatalf("status = %v, want 201", e["status"])
	}
	if e["bytes"] != float64(len(`{"id":"txn-1"}`)) {
		t.Fatalf("bytes = %v", e["bytes"])
	}
	if id, ok := e["request_id"].(string); !ok || id == "" {
		t.Fatalf("request_id = %v, want non-empty", e["request_id"])
	}
}

func TestLogger_PassesResponseThrough(t *testing.T) {
	log, readEntries := fileLogger(t)

	tests := []struct {
		method string
		path   string
		status int
		body   string
	}{
		{http.MethodGet, "/api/v1/transactions", http.StatusOK, `[]`},
		{http.MethodGet, "/api/v1/transactions/missing", http.StatusNotFound, `{"error":"not found"}`},
	}

	for _, tt := range tests {
		handler := Logger(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))

		if w.Code != tt.status {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, w.Code, tt.status)
		}
		if w.Body.String() != tt.body {
			t.Errorf("%s %s: body = %q, want %q", tt.method, tt.path, w.Body.String(), tt.body)
		}
	}

	if entries := readEntries(); len(entries) != len(tests) {
		t.Fatalf("got %d log entries, want %d", len(entries), len(tests))
	}
}
