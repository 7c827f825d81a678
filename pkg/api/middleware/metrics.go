package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// MetricsRecorder is the subset of the metrics manager the HTTP layer needs.
type MetricsRecorder interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	IncActiveConnections()
	DecActiveConnections()
}

// Metrics records request counts, latency, and in-flight connections.
// A panicking handler is still recorded (as a 500) before the panic
// continues up to Recovery.
func Metrics(recorder MetricsRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/metrics") {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			recorder.IncActiveConnections()
			defer recorder.DecActiveConnections()

			sw := wrapWriter(w)
			record := func(status int) {
				recorder.RecordHTTPRequest(
					r.Method,
					normalizePath(r.URL.Path),
					strconv.Itoa(status),
					time.Since(start),
				)
			}

			defer func() {
				if rec := recover(); rec != nil {
					record(http.StatusInternalServerError)
					panic(rec)
				}
			}()

			next.ServeHTTP(sw, r)
			record(sw.status)
		})
	}
}

// normalizePath collapses id-like path segments so metric label cardinality
// stays bounded: UUIDs and bare numbers both become ":id".
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		if looksLikeUUID(seg) || looksLikeNumber(seg) {
			segments[i] = ":id"
		}
	}
	return strings.Join(segments, "/")
}

func looksLikeUUID(s string) bool {
	return len(s) == 36 && strings.Count(s, "-") == 4
}

func looksLikeNumber(s string) bool {
	_, err := strconv.Atoi(s)
	return err == nil
}
