package connectivity

import (
	"context"
	"net/http"
	"time"
)

// Prober answers a single reachability question. Implementations must be
// safe for concurrent use.
type Prober interface {
	Probe(ctx context.Context) bool
}

// HTTPProber considers the network reachable when a HEAD request to the
// target URL completes with any HTTP response at all. Status codes are
// irrelevant; a 503 from the API still proves the link is up.
type HTTPProber struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewHTTPProber builds a prober against url with the given per-probe timeout.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProber{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		Timeout: timeout,
	}
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return true
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }
