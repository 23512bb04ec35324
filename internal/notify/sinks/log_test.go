package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/domainlink/linkauditor/internal/notify"
)

func TestLogSinkConsumeLogsEachEvent(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	err := sink.Consume(context.Background(), []notify.Event{
		{ProjectID: "proj-1", Kind: "analysis_started", TS: time.Unix(1, 0)},
		{ProjectID: "proj-2", Kind: "link_updated", TS: time.Unix(2, 0)},
	})
	require.NoError(t, err)
	require.Equal(t, 2, logs.Len())
	require.Equal(t, "proj-1", logs.All()[0].ContextMap()["project_id"])
	require.Equal(t, "proj-2", logs.All()[1].ContextMap()["project_id"])
}

func TestLogSinkNilLoggerDoesNotPanic(t *testing.T) {
	t.Parallel()

	sink := NewLogSink(nil)
	require.NoError(t, sink.Consume(context.Background(), []notify.Event{{ProjectID: "p"}}))
	require.NoError(t, sink.Close(context.Background()))
}
