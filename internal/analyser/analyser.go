package analyser

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/policy/ratelimit"
	"github.com/domainlink/linkauditor/internal/telemetry"
)

// Config controls pipeline timeouts and retry counts. Defaults mirror
// the fixed configuration values of the published external interface.
type Config struct {
	RenderTimeout      time.Duration
	RenderSettle       time.Duration
	ReloadSettle       time.Duration
	PostScrollWait     time.Duration
	ProxyRetryAttempts int
	ProxyTimeout       time.Duration
	UserAgents         []string
}

// DefaultConfig returns the pipeline's documented defaults.
func DefaultConfig() Config {
	return Config{
		RenderTimeout:      60 * time.Second,
		RenderSettle:       3 * time.Second,
		ReloadSettle:       5 * time.Second,
		PostScrollWait:     2 * time.Second,
		ProxyRetryAttempts: 2,
		ProxyTimeout:       60 * time.Second,
		UserAgents: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		},
	}
}

// renderSessionFactory is the subset of RenderEngine the Analyser
// depends on, so tests can substitute a fake session without a real
// browser.
type renderSessionFactory interface {
	NewSession(ctx context.Context) (renderSession, error)
}

// Analyser implements linkaudit.Analyser: the direct render -> extract
// -> classify -> reload-retry -> proxy-fallback -> indexability ->
// verdict pipeline.
type Analyser struct {
	cfg      Config
	engine   renderSessionFactory
	proxy    linkaudit.RenderingProxy
	clock    linkaudit.Clock
	limiter  *ratelimit.Limiter
	uaCursor atomic.Uint64
}

// Option configures optional Analyser behavior.
type Option func(*Analyser)

// WithRateLimiter makes every render attempt wait on a per-domain
// token before navigating, so one slow audited domain cannot starve
// the shared render session pool.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(a *Analyser) { a.limiter = l }
}

// New builds an Analyser. proxy may be nil; Enabled() is checked
// before every fallback attempt.
func New(cfg Config, engine renderSessionFactory, proxy linkaudit.RenderingProxy, clock linkaudit.Clock, opts ...Option) *Analyser {
	if len(cfg.UserAgents) == 0 {
		cfg.UserAgents = DefaultConfig().UserAgents
	}
	a := &Analyser{cfg: cfg, engine: engine, proxy: proxy, clock: clock}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Analyser) nextUserAgent() string {
	i := a.uaCursor.Add(1) - 1
	return a.cfg.UserAgents[int(i%uint64(len(a.cfg.UserAgents)))]
}

// Analyse implements linkaudit.Analyser.
func (a *Analyser) Analyse(ctx context.Context, sourceURL, targetDomain string) (linkaudit.Verdict, error) {
	start := a.clock.Now()
	state := newPipelineState(sourceURL)

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx, sourceURL); err != nil {
			return linkaudit.Verdict{}, err
		}
	}

	sess, sessErr := a.engine.NewSession(ctx)
	if sessErr == nil {
		defer sess.Close()
		a.runDirectRender(ctx, sess, state, targetDomain)
	} else {
		state.navigationFailed = true
	}

	a.maybeProxyFallback(ctx, state, targetDomain)
	a.computeIndexabilityAndCanonical(state)

	verdict := a.finalVerdict(state, start)
	return verdict, nil
}

// pipelineState threads the observable facts gathered across the
// pipeline's steps through to final verdict assembly.
type pipelineState struct {
	requestURL       string
	finalURL         string
	primaryStatus    int
	headers          map[string][]string
	dom              string
	navigationFailed bool

	class     linkaudit.LinkClass
	matched   candidate
	usedProxy bool

	indexable          bool
	nonIndexableReason string
	canonicalURL       string
}

func newPipelineState(requestURL string) *pipelineState {
	return &pipelineState{
		requestURL: requestURL,
		finalURL:   requestURL,
		class:      linkaudit.LinkClassAbsent,
		indexable:  true,
	}
}

func (a *Analyser) runDirectRender(ctx context.Context, sess renderSession, state *pipelineState, targetDomain string) {
	ua := a.nextUserAgent()
	result, err := sess.Render(ctx, state.requestURL, ua, a.cfg.RenderTimeout, a.cfg.RenderSettle)
	if err != nil {
		state.navigationFailed = true
		return
	}
	a.applyRenderResult(state, result)

	base, _ := url.Parse(state.finalURL)
	cands, _ := extractDOM(state.dom, base, targetDomain)
	state.class, state.matched = classify(cands)

	if state.class != linkaudit.LinkClassAbsent {
		return
	}

	// step 4: reload-and-scroll retry, one shot.
	reloaded, err := sess.ReloadAndScroll(ctx, a.cfg.ReloadSettle, a.cfg.PostScrollWait)
	if err != nil {
		return
	}
	a.applyRenderResult(state, reloaded)
	base, _ = url.Parse(state.finalURL)
	cands, _ = extractDOM(state.dom, base, targetDomain)
	state.class, state.matched = classify(cands)
}

func (a *Analyser) applyRenderResult(state *pipelineState, result linkaudit.RenderResult) {
	state.finalURL = result.FinalURL
	state.primaryStatus = result.PrimaryStatus
	state.headers = result.PrimaryHeaders
	state.dom = result.DOM
}

// maybeProxyFallback runs step 5 when the direct pipeline left the
// link absent, returned a 403 on the primary document, or raised a
// navigation error.
func (a *Analyser) maybeProxyFallback(ctx context.Context, state *pipelineState, targetDomain string) {
	needsFallback := state.navigationFailed || state.primaryStatus == 403 || state.class == linkaudit.LinkClassAbsent
	if !needsFallback || a.proxy == nil || !a.proxy.Enabled() {
		return
	}

	attempts := a.cfg.ProxyRetryAttempts
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 3 * time.Second):
			case <-ctx.Done():
				return
			}
		}
		prof := profileAt(attempt)
		result, err := a.proxy.Fetch(ctx, state.requestURL, proxyHeaders(prof), true, a.cfg.ProxyTimeout)
		if err != nil {
			continue
		}
		state.usedProxy = true
		telemetry.ObserveProxyFallback()
		if state.navigationFailed || state.primaryStatus == 0 {
			state.primaryStatus = result.Status
		}
		state.dom = result.HTML
		cands := extractProxyHTML(result.HTML, targetDomain)
		class, matched := classify(cands)
		if class != linkaudit.LinkClassAbsent {
			state.class, state.matched = class, matched
			state.navigationFailed = false
			return
		}
	}
}

func proxyHeaders(p profile) map[string]string {
	headers := map[string]string{"User-Agent": p.userAgent}
	for k, v := range p.headers {
		headers[k] = v
	}
	return headers
}

func (a *Analyser) computeIndexabilityAndCanonical(state *pipelineState) {
	if state.dom == "" {
		return
	}
	headerTag := firstHeader(state.headers, "X-Robots-Tag")
	metaRobots := extractMetaRobots(state.dom)
	indexable, reason := computeIndexability(headerTag, metaRobots)
	state.indexable = indexable
	state.nonIndexableReason = reason

	base, _ := url.Parse(state.finalURL)
	state.canonicalURL = extractCanonical(state.dom, base)
}

func firstHeader(headers map[string][]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

func (a *Analyser) finalVerdict(state *pipelineState, start time.Time) linkaudit.Verdict {
	status := linkaudit.LinkStateOK
	if state.class == linkaudit.LinkClassAbsent || !state.indexable {
		status = linkaudit.LinkStateProblem
	}

	canonicalised := state.canonicalURL != "" && state.canonicalURL != state.finalURL

	nonIndexableReason := ""
	if !state.indexable {
		nonIndexableReason = state.nonIndexableReason
	} else if canonicalised {
		nonIndexableReason = "canonicalised"
	}

	return linkaudit.Verdict{
		Status:             status,
		ResponseCode:       state.primaryStatus,
		Indexable:          state.indexable,
		LinkClass:          state.class,
		CanonicalURL:       state.canonicalURL,
		LoadTimeMs:         time.Since(start).Milliseconds(),
		MatchedAnchorHTML:  state.matched.OuterHTML,
		NonIndexableReason: nonIndexableReason,
		CheckedAt:          a.clock.Now(),
	}
}
