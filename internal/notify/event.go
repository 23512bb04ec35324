// Package notify implements the Notifier capability (C2): a
// publish/subscribe sink keyed by project id, batching events and
// fanning them out to pluggable sinks.
package notify

import (
	"fmt"
	"time"

	"github.com/domainlink/linkauditor/internal/linkaudit"
)

// collapsibleKinds may be superseded by a later event for the same
// project id within one batching window; terminal and per-link events
// are never collapsed, since §5 requires analysis_started to precede
// every link_updated and analysis_completed to follow the last one.
var collapsibleKinds = map[linkaudit.NotificationKind]bool{
	linkaudit.EventAnalysisProgress:       true,
	linkaudit.EventSheetsAnalysisProgress: true,
}

// Event is one published notification.
type Event struct {
	ProjectID string
	Kind      linkaudit.NotificationKind
	Payload   any
	TS        time.Time
}

// Validate rejects events missing the fields the batching pipeline
// and sinks depend on.
func (e Event) Validate() error {
	if e.ProjectID == "" {
		return fmt.Errorf("event missing project id")
	}
	if e.Kind == "" {
		return fmt.Errorf("event missing kind")
	}
	if !validKinds[e.Kind] {
		return fmt.Errorf("event has unknown kind %q", e.Kind)
	}
	return nil
}

// collapseKey identifies events that may supersede one another within
// a batching window.
func (e Event) collapseKey() (string, bool) {
	if !collapsibleKinds[e.Kind] {
		return "", false
	}
	return e.ProjectID + "\x1f" + string(e.Kind), true
}

var validKinds = map[linkaudit.NotificationKind]bool{
	linkaudit.EventLinkUpdated:             true,
	linkaudit.EventAnalysisStarted:         true,
	linkaudit.EventAnalysisProgress:        true,
	linkaudit.EventAnalysisCompleted:       true,
	linkaudit.EventAnalysisError:           true,
	linkaudit.EventSheetsLinkUpdated:       true,
	linkaudit.EventSheetsAnalysisStarted:   true,
	linkaudit.EventSheetsAnalysisProgress:  true,
	linkaudit.EventSheetsAnalysisCompleted: true,
	linkaudit.EventSheetsAnalysisError:     true,
}
