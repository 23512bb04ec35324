// Package sinks collects notify.Sink implementations.
package sinks

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/domainlink/linkauditor/internal/notify"
)

// PubSubSink publishes each notification event as a JSON message to a
// Google Cloud Pub/Sub topic, so external systems (billing, support
// tooling, audit logs) can subscribe without depending on the SSE
// stream.
type PubSubSink struct {
	topic *pubsub.Topic
}

// NewPubSubSink wraps an already-configured topic handle.
func NewPubSubSink(topic *pubsub.Topic) *PubSubSink {
	return &PubSubSink{topic: topic}
}

// Consume publishes every event in batch, injecting the current trace
// context into Pub/Sub message attributes so a subscriber can
// continue the trace.
func (s *PubSubSink) Consume(ctx context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		if err := s.publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PubSubSink) publish(ctx context.Context, evt notify.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"project_id": evt.ProjectID, "kind": string(evt.Kind)},
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Attributes))

	result := s.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close stops the topic, flushing any buffered messages.
func (s *PubSubSink) Close(context.Context) error {
	s.topic.Stop()
	return nil
}
