package analyser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/policy/ratelimit"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

type fakeSession struct {
	renderResult linkaudit.RenderResult
	renderErr    error
	reloadResult linkaudit.RenderResult
	reloadErr    error
	reloadCalled bool
	closed       bool
}

func (s *fakeSession) Render(context.Context, string, string, time.Duration, time.Duration) (linkaudit.RenderResult, error) {
	return s.renderResult, s.renderErr
}

func (s *fakeSession) ReloadAndScroll(context.Context, time.Duration, time.Duration) (linkaudit.RenderResult, error) {
	s.reloadCalled = true
	return s.reloadResult, s.reloadErr
}

func (s *fakeSession) Close() { s.closed = true }

type fakeFactory struct {
	session *fakeSession
	err     error
}

func (f *fakeFactory) NewSession(context.Context) (renderSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

type fakeProxy struct {
	enabled bool
	result  linkaudit.ProxyResult
	err     error
	calls   int
}

func (p *fakeProxy) Enabled() bool { return p.enabled }

func (p *fakeProxy) Fetch(context.Context, string, map[string]string, bool, time.Duration) (linkaudit.ProxyResult, error) {
	p.calls++
	return p.result, p.err
}

func TestAnalyseDirectRenderDofollow(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{renderResult: linkaudit.RenderResult{
		PrimaryStatus: 200,
		FinalURL:      "https://source.example/page",
		DOM:           `<html><body><a href="https://target.example/x">l</a></body></html>`,
	}}
	a := New(DefaultConfig(), &fakeFactory{session: sess}, nil, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/page", "target.example")
	require.NoError(t, err)
	require.Equal(t, linkaudit.LinkStateOK, verdict.Status)
	require.Equal(t, linkaudit.LinkClassDofollow, verdict.LinkClass)
	require.Equal(t, 200, verdict.ResponseCode)
	require.True(t, sess.closed)
	require.False(t, sess.reloadCalled)
}

func TestAnalyseRetriesOnAbsentThenReloadFindsLink(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		renderResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html><body>no links here</body></html>`},
		reloadResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html><body><a href="https://target.example/x" rel="sponsored">l</a></body></html>`},
	}
	a := New(DefaultConfig(), &fakeFactory{session: sess}, nil, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/", "target.example")
	require.NoError(t, err)
	require.True(t, sess.reloadCalled)
	require.Equal(t, linkaudit.LinkClassSponsored, verdict.LinkClass)
	require.Equal(t, linkaudit.LinkStateOK, verdict.Status)
}

func TestAnalyseFallsBackToProxyWhenStillAbsent(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		renderResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html><body>none</body></html>`},
		reloadResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html><body>still none</body></html>`},
	}
	proxy := &fakeProxy{enabled: true, result: linkaudit.ProxyResult{
		Status: 200,
		HTML:   `<a href="https://target.example/x" rel="ugc">l</a>`,
	}}
	a := New(DefaultConfig(), &fakeFactory{session: sess}, proxy, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/", "target.example")
	require.NoError(t, err)
	require.Equal(t, 1, proxy.calls)
	require.Equal(t, linkaudit.LinkClassUGC, verdict.LinkClass)
	require.Equal(t, linkaudit.LinkStateOK, verdict.Status)
}

func TestAnalyseAbsentAfterAllStrategiesIsProblem(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{
		renderResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html></html>`},
		reloadResult: linkaudit.RenderResult{PrimaryStatus: 200, FinalURL: "https://source.example/", DOM: `<html></html>`},
	}
	a := New(DefaultConfig(), &fakeFactory{session: sess}, nil, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/", "target.example")
	require.NoError(t, err)
	require.Equal(t, linkaudit.LinkClassAbsent, verdict.LinkClass)
	require.Equal(t, linkaudit.LinkStateProblem, verdict.Status)
}

func TestAnalyseNoindexMakesProblemEvenWithLink(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{renderResult: linkaudit.RenderResult{
		PrimaryStatus: 200,
		FinalURL:      "https://source.example/",
		DOM: `<html><head><meta name="robots" content="noindex"></head>
			<body><a href="https://target.example/x">l</a></body></html>`,
	}}
	a := New(DefaultConfig(), &fakeFactory{session: sess}, nil, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/", "target.example")
	require.NoError(t, err)
	require.False(t, verdict.Indexable)
	require.Equal(t, "noindex", verdict.NonIndexableReason)
	require.Equal(t, linkaudit.LinkStateProblem, verdict.Status)
}

func TestAnalyseNavigationFailureTriggersProxy(t *testing.T) {
	t.Parallel()

	a := New(DefaultConfig(), &fakeFactory{err: context.DeadlineExceeded}, &fakeProxy{
		enabled: true,
		result:  linkaudit.ProxyResult{Status: 200, HTML: `<a href="https://target.example/x">l</a>`},
	}, fakeClock{now: time.Unix(1000, 0)})

	verdict, err := a.Analyse(context.Background(), "https://source.example/", "target.example")
	require.NoError(t, err)
	require.Equal(t, linkaudit.LinkClassDofollow, verdict.LinkClass)
}

func TestAnalyseWithRateLimiterWaitsPerDomain(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{renderResult: linkaudit.RenderResult{
		PrimaryStatus: 200,
		FinalURL:      "https://source.example/page",
		DOM:           `<html><body><a href="https://target.example/x">l</a></body></html>`,
	}}
	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: 1000, DefaultBurst: 1000})
	a := New(DefaultConfig(), &fakeFactory{session: sess}, nil, fakeClock{now: time.Unix(1000, 0)}, WithRateLimiter(limiter))

	verdict, err := a.Analyse(context.Background(), "https://source.example/page", "target.example")
	require.NoError(t, err)
	require.Equal(t, linkaudit.LinkStateOK, verdict.Status)
}
