package notify

import "context"

// Sink consumes batches of notification events. Implementations must
// be safe for repeated calls, honor ctx deadlines, and may be invoked
// concurrently with Consume calls for other sinks.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}
