// Package middleware provides the HTTP middleware chain for the API server.
package middleware

import "net/http"

// statusWriter records the status code and byte count a handler produced.
// The first WriteHeader or Write locks the status; handlers that never set
// one are reported as 200.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
	locked bool
}

func wrapWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.locked {
		w.status = code
		w.locked = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.locked = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
