package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNetErrClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code string
	}{
		{"refused", errors.New("dial tcp 127.0.0.1:9999: connect: connection refused"), "connection_refused"},
		{"dns", errors.New("dial tcp: lookup api.invalid: no such host"), "dns_error"},
		{"reset", errors.New("read tcp: connection reset by peer"), "connection_reset"},
		{"timeout", errors.New("net/http: request canceled (Client.Timeout exceeded)"), "timeout"},
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"canceled", context.Canceled, "request_canceled"},
		{"other", errors.New("something odd"), "network_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := FromNetErr(tc.err)
			assert.Equal(t, KindNetwork, e.Kind)
			assert.Equal(t, tc.code, e.Code)
			assert.True(t, e.Retryable())
		})
	}
}

func TestFromStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindClient},
		{http.StatusNotFound, KindClient},
		{http.StatusUnprocessableEntity, KindClient},
		{http.StatusTooManyRequests, KindServer},
		{http.StatusInternalServerError, KindServer},
		{http.StatusBadGateway, KindServer},
		{http.StatusServiceUnavailable, KindServer},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d", tc.status), func(t *testing.T) {
			e := FromStatus(tc.status, nil)
			assert.Equal(t, tc.kind, e.Kind)
			assert.Equal(t, tc.status, e.Status)
			assert.False(t, e.Retryable())
		})
	}
}

func TestFromStatusExtractsUpstreamMessage(t *testing.T) {
	body := []byte(`{"error":{"message":"name must not be empty"}}`)
	e := FromStatus(http.StatusBadRequest, body)
	assert.Equal(t, "name must not be empty", e.Message)

	flat := []byte(`{"message":"quota exhausted"}`)
	e = FromStatus(http.StatusServiceUnavailable, flat)
	assert.Equal(t, "quota exhausted", e.Message)
}

func TestKindHelpersTraverseWrapping(t *testing.T) {
	inner := Storage("persist entry", errors.New("disk full"))
	wrapped := fmt.Errorf("enqueue: %w", inner)

	require.True(t, IsStorage(wrapped))
	assert.False(t, IsNetwork(wrapped))

	k, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindStorage, k)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestOfflineIsNetwork(t *testing.T) {
	err := Offline()
	assert.True(t, IsNetwork(err))
	assert.Equal(t, "offline", err.Code)
	assert.Zero(t, StatusOf(err))
}
