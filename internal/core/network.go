package core

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"paklaw.com/paklaw-assist/internal/logging"
)

// Prober reports whether the hosted model is likely reachable.
type Prober interface {
	IsOnline(ctx context.Context) bool
}

// HTTPProber tries each endpoint in order and reports online on the first 2xx.
// Any failure (timeout, DNS, non-2xx) counts as unreachable.
type HTTPProber struct {
	urls    []string
	timeout time.Duration
	client  *http.Client
	logger  *slog.Logger
}

const defaultProbeTimeout = 3 * time.Second

func NewHTTPProber(urls []string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &HTTPProber{
		urls:    urls,
		timeout: timeout,
		client:  &http.Client{},
		logger:  logging.NewModuleLogger("core", "reachability"),
	}
}

func (p *HTTPProber) IsOnline(ctx context.Context) bool {
	for _, url := range p.urls {
		if p.probe(ctx, url) {
			return true
		}
	}
	p.logger.Debug("No reachability endpoint answered, treating as offline", "endpoints", len(p.urls))
	return false
}

func (p *HTTPProber) probe(ctx context.Context, url string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("Reachability probe failed", "url", url, "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
