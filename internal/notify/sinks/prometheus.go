package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/domainlink/linkauditor/internal/linkaudit"
	"github.com/domainlink/linkauditor/internal/notify"
)

// PrometheusSink exports analysis-run metrics via Prometheus: one
// counter per notification kind, a single unlabeled gauge of runs in
// progress (start times are tracked per project), and a histogram of
// completed-run wall time.
type PrometheusSink struct {
	eventsTotal   *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided
// registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkauditor_notify_events_total",
			Help: "Total notification events published, partitioned by kind.",
		}, []string{"kind"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkauditor_analysis_runs_running",
			Help: "Current number of in-flight analysis runs (batch or sheet).",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "linkauditor_analysis_run_duration_seconds",
			Help:    "Wall time from analysis_started to analysis_completed per project.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{s.eventsTotal, s.runsRunning, s.runRuntime} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register notify collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors for every event in batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt notify.Event) {
	s.eventsTotal.WithLabelValues(string(evt.Kind)).Inc()

	switch evt.Kind {
	case linkaudit.EventAnalysisStarted, linkaudit.EventSheetsAnalysisStarted:
		if s.tracker.start(evt.ProjectID, evt.TS) {
			s.runsRunning.Inc()
		}
	case linkaudit.EventAnalysisCompleted, linkaudit.EventSheetsAnalysisCompleted:
		s.finishRun(evt, "success")
	case linkaudit.EventAnalysisError, linkaudit.EventSheetsAnalysisError:
		s.finishRun(evt, "error")
	}
}

func (s *PrometheusSink) finishRun(evt notify.Event, label string) {
	if startedAt, ok := s.tracker.complete(evt.ProjectID); ok {
		s.runsRunning.Dec()
		s.runRuntime.WithLabelValues(label).Observe(evt.TS.Sub(startedAt).Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker maps a project id to the time its current run started,
// so the gauge and histogram stay consistent even when started/
// completed events arrive across different batches.
type runTracker struct {
	mu      sync.Mutex
	started map[string]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{started: make(map[string]time.Time)}
}

func (t *runTracker) start(projectID string, at time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.started[projectID]; ok {
		return false
	}
	t.started[projectID] = at
	return true
}

func (t *runTracker) complete(projectID string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	startedAt, ok := t.started[projectID]
	if !ok {
		return time.Time{}, false
	}
	delete(t.started, projectID)
	return startedAt, true
}
