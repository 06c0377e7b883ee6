package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPProber treats any 2xx/3xx answer from URL as online.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	return &HTTPProber{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: http %d", p.URL, resp.StatusCode)
	}
	return nil
}
