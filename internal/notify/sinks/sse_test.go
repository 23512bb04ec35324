package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/domainlink/linkauditor/internal/notify"
)

func TestSSESinkDeliversToMatchingProjectOnly(t *testing.T) {
	t.Parallel()

	sink := NewSSESink()
	chA, cancelA := sink.Subscribe("proj-a")
	defer cancelA()
	chB, cancelB := sink.Subscribe("proj-b")
	defer cancelB()

	err := sink.Consume(context.Background(), []notify.Event{
		{ProjectID: "proj-a", Kind: "analysis_started", TS: time.Now()},
	})
	require.NoError(t, err)

	select {
	case frame := <-chA:
		require.Contains(t, string(frame), "proj-a")
	case <-time.After(time.Second):
		t.Fatal("expected frame for proj-a subscriber")
	}

	select {
	case frame := <-chB:
		t.Fatalf("unexpected frame for proj-b subscriber: %s", frame)
	default:
	}
}

func TestSSESinkUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	sink := NewSSESink()
	ch, cancel := sink.Subscribe("proj-a")
	cancel()

	_, open := <-ch
	require.False(t, open)
}

func TestSSESinkCloseDisconnectsAll(t *testing.T) {
	t.Parallel()

	sink := NewSSESink()
	ch, _ := sink.Subscribe("proj-a")
	require.NoError(t, sink.Close(context.Background()))

	_, open := <-ch
	require.False(t, open)
}
