package publish

import "context"

// Noop discards all events.
type Noop struct{}

// Publish drops the event.
func (Noop) Publish(context.Context, string, any) (string, error) { return "", nil }

// Close is a no-op.
func (Noop) Close() error { return nil }
