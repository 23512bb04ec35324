package analyser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// RenderEngineConfig controls the shared browser allocator steps 1 and
// 4 of the pipeline render against.
type RenderEngineConfig struct {
	MaxParallel int
}

// RenderEngine owns one chromedp allocator and hands out isolated
// per-analysis render sessions. Concurrency across sessions is capped
// by MaxParallel; the analyser pool's own concurrency bound (C5) sits
// above this.
type RenderEngine struct {
	cfg         RenderEngineConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewRenderEngine builds a RenderEngine backed by headless Chrome.
func NewRenderEngine(cfg RenderEngineConfig) (*RenderEngine, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &RenderEngine{cfg: cfg, limiter: limiter, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close tears down the shared allocator. Call once at process shutdown.
func (e *RenderEngine) Close() {
	e.allocCancel()
}

// NewSession acquires a concurrency slot and opens a fresh isolated
// tab for one analyser call. The caller must call Close on the
// returned session on every exit path.
func (e *RenderEngine) NewSession(ctx context.Context) (renderSession, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	taskCtx, taskCancel := chromedp.NewContext(e.allocator)
	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)
	return &chromedpSession{
		engine:  e,
		taskCtx: taskCtx,
		cancel:  taskCancel,
		meta:    meta,
	}, nil
}

func (e *RenderEngine) acquire(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	select {
	case e.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (e *RenderEngine) release() {
	if e.limiter == nil {
		return
	}
	select {
	case <-e.limiter:
	default:
	}
}

// renderSession is the subset of linkaudit.Renderer plus Close the
// Analyser depends on; chromedpSession implements it against a real
// browser tab, tests substitute a fake.
type renderSession interface {
	Render(ctx context.Context, url, userAgent string, timeout, settle time.Duration) (linkaudit.RenderResult, error)
	ReloadAndScroll(ctx context.Context, settle, postScrollWait time.Duration) (linkaudit.RenderResult, error)
	Close()
}

// chromedpSession implements renderSession for exactly one analyser
// call: Render then, optionally, one ReloadAndScroll against the same
// tab.
type chromedpSession struct {
	engine  *RenderEngine
	taskCtx context.Context
	cancel  context.CancelFunc
	meta    *responseMeta
	url     string
}

// Render navigates to url, waits for DOM-content-loaded plus settle,
// and returns the outer HTML of the document.
func (s *chromedpSession) Render(ctx context.Context, reqURL, userAgent string, timeout, settle time.Duration) (linkaudit.RenderResult, error) {
	s.url = reqURL
	navCtx, cancel := context.WithTimeout(s.taskCtx, timeout)
	defer cancel()

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		s.setupAction(userAgent),
		chromedp.Navigate(reqURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return linkaudit.RenderResult{}, fmt.Errorf("chromedp render: %w", err)
	}
	status, headers, effectiveURL := s.meta.snapshotWithFallbacks(reqURL, finalURL)
	return linkaudit.RenderResult{
		PrimaryStatus:  status,
		FinalURL:       effectiveURL,
		PrimaryHeaders: headers,
		DOM:            html,
		LoadTimeMs:     time.Since(start).Milliseconds(),
	}, nil
}

// ReloadAndScroll implements step 4: reload, settle, scroll to the
// bottom, wait, re-extract.
func (s *chromedpSession) ReloadAndScroll(ctx context.Context, settle, postScrollWait time.Duration) (linkaudit.RenderResult, error) {
	navCtx, cancel := context.WithTimeout(s.taskCtx, settle+postScrollWait+15*time.Second)
	defer cancel()

	start := time.Now()
	var html, finalURL string
	actions := []chromedp.Action{
		chromedp.Reload(),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settle),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(postScrollWait),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		return linkaudit.RenderResult{}, fmt.Errorf("chromedp reload: %w", err)
	}
	status, headers, effectiveURL := s.meta.snapshotWithFallbacks(s.url, finalURL)
	return linkaudit.RenderResult{
		PrimaryStatus:  status,
		FinalURL:       effectiveURL,
		PrimaryHeaders: headers,
		DOM:            html,
		LoadTimeMs:     time.Since(start).Milliseconds(),
	}, nil
}

// Close tears down the tab and releases the engine's concurrency slot.
func (s *chromedpSession) Close() {
	s.cancel()
	s.engine.release()
}

func (s *chromedpSession) setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if userAgent != "" {
			if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// responseMeta captures the primary document's status and headers
// from network events, never subresources -- precision the
// indexability check depends on.
type responseMeta struct {
	mu      sync.RWMutex
	status  int
	headers map[string][]string
	url     string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{headers: map[string][]string{}}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	headers := map[string][]string{}
	for key, value := range resp.Response.Headers {
		switch v := value.(type) {
		case string:
			headers[key] = append(headers[key], v)
		case []string:
			headers[key] = append(headers[key], v...)
		case []interface{}:
			for _, entry := range v {
				headers[key] = append(headers[key], fmt.Sprint(entry))
			}
		default:
			headers[key] = append(headers[key], fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.headers = headers
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, map[string][]string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	headers := make(map[string][]string, len(m.headers))
	for k, v := range m.headers {
		headers[k] = append([]string(nil), v...)
	}
	return m.status, headers, m.url
}

func (m *responseMeta) snapshotWithFallbacks(requestURL, finalURL string) (int, map[string][]string, string) {
	status, headers, responseURL := m.snapshot()
	switch {
	case responseURL != "":
	case finalURL != "":
		responseURL = finalURL
	default:
		responseURL = requestURL
	}
	if status == 0 {
		status = 200
	}
	return status, headers, responseURL
}
