// Package sinks provides pluggable consumers for the Notifier hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/domainlink/linkauditor/internal/notify"
)

// LogSink emits structured logs for every notification batch. It is
// useful during development or audits where no other sink is wired.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the Sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.logger.Info("notify event",
			zap.String("project_id", evt.ProjectID),
			zap.String("kind", string(evt.Kind)),
			zap.Time("ts", evt.TS),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
