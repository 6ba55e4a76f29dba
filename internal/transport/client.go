package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"offsync-go/internal/apierr"
	"offsync-go/internal/credential"
	"offsync-go/internal/events"
	"offsync-go/internal/logging"
	"offsync-go/internal/monitoring"
	"offsync-go/internal/monitoring/tracing"
)

// Client sends Requests to the backend with the stored bearer token
// attached. A 401 triggers exactly one coalesced token refresh followed
// by a single retry; if the refresh itself is rejected the stored
// credential is cleared and an auth error surfaces.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	creds       credential.Store
	refresher   TokenRefresher
	coordinator *credential.RefreshCoordinator
	hub         events.Publisher
	now         func() time.Time
	tracer      trace.Tracer
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithNowFunc injects a clock, for tests.
func WithNowFunc(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithHub wires an event hub for token lifecycle events.
func WithHub(hub events.Publisher) ClientOption {
	return func(c *Client) { c.hub = hub }
}

// NewClient builds a transport client rooted at baseURL.
func NewClient(baseURL string, creds credential.Store, refresher TokenRefresher, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		creds:       creds,
		refresher:   refresher,
		coordinator: credential.NewRefreshCoordinator(),
		now:         time.Now,
		tracer:      tracing.Tracer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends req and returns the response, or a typed error. Mutating
// requests are stamped with an Idempotency-Key if they carry none; the
// caller sees the stamped key on the request afterwards, which is how
// the queue captures it before persisting.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	start := c.now()
	ctx, span := c.tracer.Start(ctx, "transport.do", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.Path),
	))
	defer span.End()

	if Mutating(req.Method) && req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	token, err := c.currentToken(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := c.send(ctx, req, token)
	if err == nil && resp.Status == http.StatusUnauthorized {
		resp, err = c.refreshAndRetry(ctx, req)
	}
	c.observe(req, resp, err, c.now().Sub(start))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.Status))

	if resp.Status >= 300 {
		apiErr := apierr.FromStatus(resp.Status, resp.Body)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}
	return resp, nil
}

// currentToken returns the access token to attach, refreshing first if
// the stored one is already expired. An empty token means the call goes
// out unauthenticated.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	cred, err := c.creds.Get(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", nil
	}
	if !cred.Expired(c.now()) {
		return cred.AccessToken, nil
	}

	if err := c.refresh(ctx); err != nil {
		return "", err
	}
	cred, err = c.creds.Get(ctx)
	if err != nil {
		return "", err
	}
	if cred == nil {
		return "", apierr.Auth(http.StatusUnauthorized, "credentials cleared during refresh")
	}
	return cred.AccessToken, nil
}

// refreshAndRetry handles a 401: one coalesced refresh, then one retry
// with the new token. A second 401 surfaces as an auth error without
// another attempt.
func (c *Client) refreshAndRetry(ctx context.Context, req *Request) (*Response, error) {
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	cred, err := c.creds.Get(ctx)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, apierr.Auth(http.StatusUnauthorized, "credentials cleared during refresh")
	}

	resp, err := c.send(ctx, req, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusUnauthorized {
		return nil, apierr.Auth(resp.Status, "request rejected after token refresh")
	}
	return resp, nil
}

// refresh runs one coalesced refresh flight. When the refresh token is
// rejected the stored credential is cleared so the app can prompt for
// login instead of looping.
func (c *Client) refresh(ctx context.Context) error {
	return c.coordinator.Do(ctx, func(ctx context.Context) error {
		cred, err := c.creds.Get(ctx)
		if err != nil {
			return err
		}
		refreshToken := ""
		if cred != nil {
			refreshToken = cred.RefreshToken
		}

		next, err := c.refresher.Refresh(ctx, refreshToken)
		if err != nil {
			if apierr.IsAuth(err) {
				if clearErr := c.creds.Clear(ctx); clearErr != nil {
					logrus.WithError(clearErr).Error("failed to clear rejected credentials")
				}
				c.publish(ctx, events.TopicCredentialsCleared, nil)
			}
			return err
		}
		if err := c.creds.Save(ctx, next); err != nil {
			return err
		}
		c.publish(ctx, events.TopicTokenRefreshed, nil)
		logrus.Debug("access token refreshed")
		return nil
	})
}

func (c *Client) send(ctx context.Context, req *Request, token string) (*Response, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, c.baseURL+req.Path, bodyReader)
	if err != nil {
		return nil, apierr.Network("invalid_request", "build request: "+err.Error(), err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apierr.FromNetErr(err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return nil, apierr.FromNetErr(err)
	}
	return &Response{Status: httpResp.StatusCode, Body: body, Headers: httpResp.Header}, nil
}

func (c *Client) observe(req *Request, resp *Response, err error, elapsed time.Duration) {
	status := 0
	if resp != nil {
		status = resp.Status
	}
	if err != nil {
		status = apierr.StatusOf(err)
	}
	outcome := logging.ErrorKind(status, err != nil)
	monitoring.TransportRequestsTotal.WithLabelValues(req.Method, outcome).Inc()
	monitoring.TransportRequestDuration.WithLabelValues(req.Method, outcome).Observe(elapsed.Seconds())

	entry := logrus.WithFields(logrus.Fields{
		"method":      req.Method,
		"path":        req.Path,
		"status":      status,
		"outcome":     outcome,
		"duration_ms": logging.DurationMS(elapsed),
	})
	if err != nil {
		entry.WithError(err).Warn("request failed")
		return
	}
	entry.Debug("request completed")
}

func (c *Client) publish(ctx context.Context, topic string, payload any) {
	if c.hub != nil {
		c.hub.Publish(ctx, topic, payload, nil)
	}
}
