package snapshot

import "context"

// Noop discards snapshots. Used when snapshotting is disabled.
type Noop struct{}

// PutObject drops the data and returns an empty URI.
func (Noop) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", nil
}
