package logging

import (
	"time"

	log "github.com/sirupsen/logrus"
)

// WithEntry builds a log entry enriched with queue entry fields.
func WithEntry(seq int64, id, method, path string) *log.Entry {
	return log.WithFields(log.Fields{
		"seq":    seq,
		"id":     id,
		"method": method,
		"path":   path,
	})
}

// ErrorKind normalizes error categories for logs/metrics.
// It maps HTTP status codes and presence of error to a short string label.
func ErrorKind(status int, hasErr bool) string {
	if hasErr && status == 0 {
		return "network_error"
	}
	switch {
	case status == 401:
		return "auth_401"
	case status == 403:
		return "client_403"
	case status == 429:
		return "server_429"
	case status >= 500 && status < 600:
		return "server_5xx"
	case status >= 400 && status < 500:
		return "client_4xx"
	}
	if hasErr {
		return "error"
	}
	return "ok"
}

// DurationMS converts a duration to integer milliseconds for logging.
func DurationMS(d time.Duration) int64 { return d.Milliseconds() }
