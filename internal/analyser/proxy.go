package analyser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// profile is one user-agent/header combination the proxy fallback
// rotates through across strategies.
type profile struct {
	name      string
	userAgent string
	headers   map[string]string
}

// proxyProfiles is the fixed strategy order step 5 rotates through.
var proxyProfiles = []profile{
	{
		name:      "desktop-chrome",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		headers:   map[string]string{"Sec-Ch-Ua-Platform": `"Windows"`},
	},
	{
		name:      "desktop-firefox-like",
		userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		headers:   map[string]string{"Accept-Language": "en-US,en;q=0.5"},
	},
	{
		name:      "mobile-safari",
		userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		headers:   map[string]string{"Sec-Ch-Ua-Mobile": "?1"},
	},
}

// profileAt returns the strategy profile for attempt index i, wrapping
// if R exceeds the fixed profile list.
func profileAt(i int) profile {
	return proxyProfiles[i%len(proxyProfiles)]
}

// ProxyConfig controls the rendering-proxy client.
type ProxyConfig struct {
	BaseURL       string
	APIToken      string
	RetryAttempts int
	Timeout       time.Duration
}

// ProxyClient implements linkaudit.RenderingProxy against an external
// rendering-proxy HTTP API: a single-URL fetch, optionally rendered.
type ProxyClient struct {
	cfg    ProxyConfig
	client *http.Client
}

// NewProxyClient builds a ProxyClient. It is Enabled() only when an
// API token is configured.
func NewProxyClient(cfg ProxyConfig) *ProxyClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &ProxyClient{
		cfg: cfg,
		client: &http.Client{
			Transport: newProxyTransport(),
		},
	}
}

// Enabled implements linkaudit.RenderingProxy.
func (c *ProxyClient) Enabled() bool {
	return c.cfg.APIToken != ""
}

type proxyRequestBody struct {
	URL     string            `json:"url"`
	Render  bool              `json:"render"`
	Headers map[string]string `json:"headers,omitempty"`
}

type proxyResponseBody struct {
	Status int    `json:"status"`
	HTML   string `json:"html"`
}

// Fetch implements linkaudit.RenderingProxy.
func (c *ProxyClient) Fetch(ctx context.Context, url string, headers map[string]string, render bool, timeout time.Duration) (linkaudit.ProxyResult, error) {
	if !c.Enabled() {
		return linkaudit.ProxyResult{}, fmt.Errorf("rendering proxy not configured")
	}
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(proxyRequestBody{URL: url, Render: render, Headers: headers})
	if err != nil {
		return linkaudit.ProxyResult{}, fmt.Errorf("encode proxy request: %w", err)
	}
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return linkaudit.ProxyResult{}, fmt.Errorf("build proxy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return linkaudit.ProxyResult{}, fmt.Errorf("proxy fetch: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return linkaudit.ProxyResult{}, fmt.Errorf("read proxy response: %w", err)
	}
	var decoded proxyResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return linkaudit.ProxyResult{}, fmt.Errorf("decode proxy response: %w", err)
	}
	return linkaudit.ProxyResult{
		Status:         decoded.Status,
		HTML:           decoded.HTML,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func newProxyTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
