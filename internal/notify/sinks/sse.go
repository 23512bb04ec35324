package sinks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/domainlink/linkauditor/internal/notify"
)

// wireEvent is the JSON shape delivered to SSE subscribers.
type wireEvent struct {
	ProjectID string `json:"projectId"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
	TS        string `json:"ts"`
}

// SSESink fans notification batches out to per-project subscriber
// channels, so an HTTP handler can stream them to clients as
// Server-Sent Events without the Hub knowing anything about HTTP.
type SSESink struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewSSESink constructs an empty SSESink.
func NewSSESink() *SSESink {
	return &SSESink{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber for projectID and returns a
// channel of pre-encoded SSE data frames plus an unsubscribe func.
// The channel is buffered and never blocks the sink; a slow consumer
// has frames dropped rather than stalling other subscribers.
func (s *SSESink) Subscribe(projectID string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)
	s.mu.Lock()
	if s.subs[projectID] == nil {
		s.subs[projectID] = make(map[chan []byte]struct{})
	}
	s.subs[projectID][ch] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subs[projectID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(s.subs, projectID)
			}
		}
	}
	return ch, cancel
}

// Consume implements notify.Sink, publishing each event to the
// subscribers registered for its project id.
func (s *SSESink) Consume(_ context.Context, batch []notify.Event) error {
	for _, evt := range batch {
		s.deliver(evt)
	}
	return nil
}

func (s *SSESink) deliver(evt notify.Event) {
	s.mu.Lock()
	subs := s.subs[evt.ProjectID]
	targets := make([]chan []byte, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	s.mu.Unlock()
	if len(targets) == 0 {
		return
	}
	body, err := json.Marshal(wireEvent{
		ProjectID: evt.ProjectID,
		Kind:      string(evt.Kind),
		Payload:   evt.Payload,
		TS:        evt.TS.Format("2006-01-02T15:04:05.000Z07:00"),
	})
	if err != nil {
		return
	}
	frame := append(append([]byte("data: "), body...), '\n', '\n')
	for _, ch := range targets {
		select {
		case ch <- frame:
		default:
		}
	}
}

// Close disconnects every subscriber across all projects.
func (s *SSESink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for projectID, set := range s.subs {
		for ch := range set {
			close(ch)
		}
		delete(s.subs, projectID)
	}
	return nil
}
