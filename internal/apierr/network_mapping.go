package apierr

import (
	"context"
	"errors"
	"net"
	"strings"
)

// FromNetErr maps a transport-level error to a typed network Error.
func FromNetErr(err error) *Error {
	errMsg := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Network("timeout", "request timeout: "+errMsg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network("timeout", "request timeout: "+errMsg, err)
	}
	if errors.Is(err, context.Canceled) {
		return Network("request_canceled", "request was canceled: "+errMsg, err)
	}

	switch {
	case strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "deadline exceeded"):
		return Network("timeout", "request timeout: "+errMsg, err)
	case strings.Contains(errMsg, "connection refused"):
		return Network("connection_refused", "connection refused: "+errMsg, err)
	case strings.Contains(errMsg, "EOF") || strings.Contains(errMsg, "connection reset"):
		return Network("connection_reset", "connection error: "+errMsg, err)
	case strings.Contains(errMsg, "no such host") || strings.Contains(errMsg, "name resolution"):
		return Network("dns_error", "DNS resolution error: "+errMsg, err)
	case strings.Contains(errMsg, "network is unreachable"):
		return Network("unreachable", "network unreachable: "+errMsg, err)
	case strings.Contains(errMsg, "certificate") || strings.Contains(errMsg, "tls"):
		return Network("tls_error", "TLS error: "+errMsg, err)
	default:
		return Network("network_error", "network error: "+errMsg, err)
	}
}
