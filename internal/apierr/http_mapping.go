package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// FromStatus maps a non-2xx HTTP status and response body to a typed Error.
// 401 is mapped to an auth error; the transport decides whether a refresh
// attempt precedes surfacing it.
func FromStatus(status int, body []byte) *Error {
	msg := extractMessage(body)

	switch {
	case status == http.StatusUnauthorized:
		return Auth(status, firstNonEmpty(msg, "invalid authentication"))
	case status == http.StatusForbidden:
		return Client(status, "permission_denied", firstNonEmpty(msg, "permission denied"))
	case status == http.StatusNotFound:
		return Client(status, "not_found", firstNonEmpty(msg, "resource not found"))
	case status == http.StatusTooManyRequests:
		return Server(status, "rate_limit_exceeded", firstNonEmpty(msg, "rate limit exceeded"))
	case status >= 400 && status < 500:
		return Client(status, "invalid_request", firstNonEmpty(msg, fmt.Sprintf("HTTP %d", status)))
	case status == http.StatusBadGateway:
		return Server(status, "bad_gateway", firstNonEmpty(msg, "bad gateway"))
	case status == http.StatusServiceUnavailable:
		return Server(status, "service_unavailable", firstNonEmpty(msg, "service temporarily unavailable"))
	case status == http.StatusGatewayTimeout:
		return Server(status, "gateway_timeout", firstNonEmpty(msg, "gateway timeout"))
	case status >= 500:
		return Server(status, "server_error", firstNonEmpty(msg, fmt.Sprintf("HTTP %d", status)))
	default:
		return Server(status, "unknown_error", firstNonEmpty(msg, fmt.Sprintf("unexpected HTTP %d", status)))
	}
}

func extractMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var envelope map[string]interface{}
	if err := json.Unmarshal(body, &envelope); err == nil {
		if errObj, ok := envelope["error"].(map[string]interface{}); ok {
			if msg, ok := errObj["message"].(string); ok && msg != "" {
				return msg
			}
		}
		if msg, ok := envelope["message"].(string); ok && msg != "" {
			return msg
		}
	}
	msg := string(body)
	if len(msg) > 200 {
		return msg[:200] + "..."
	}
	return msg
}

func firstNonEmpty(strs ...string) string {
	for _, s := range strs {
		if s != "" {
			return s
		}
	}
	return ""
}
