package monitor

import (
	"context"
	"time"
)

// Extractor is the target-specific field-extraction collaborator. Calls
// are retry-free and may legitimately return empty results; the strategy
// chain wraps them with its own fallback and health logic.
type Extractor interface {
	ExtractPosts(ctx context.Context, page Page) ([]PostRef, error)
	ExtractComments(ctx context.Context, page Page) ([]Comment, error)
	ParsePost(ctx context.Context, page Page, url, id string) (PostData, error)
}

// Store is the durable persistence collaborator.
type Store interface {
	SavePost(ctx context.Context, post PostData) error
	// SaveComments persists new comments for a post and returns the
	// number of rows actually added.
	SaveComments(ctx context.Context, postID string, comments []Comment) (int, error)
	GetPost(ctx context.Context, id string) (*PostData, error)
	// MarkSeen records that the given post IDs were present in a fresh
	// extraction of the page.
	MarkSeen(ctx context.Context, page string, ids []string) error
	// SweepMissing tombstones posts absent from fresh extraction for at
	// least the given duration. Returns the number tombstoned.
	SweepMissing(ctx context.Context, absence time.Duration) (int, error)
	// AddImport queues a post URL for the backlog-import phase.
	AddImport(ctx context.Context, url string) error
	PendingImports(ctx context.Context) ([]string, error)
	MarkImported(ctx context.Context, url string) error
	Close() error
}

// SnapshotStore writes raw page artifacts and returns a URI.
type SnapshotStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes new-post events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
	Close() error
}

// Notifier delivers human-facing alerts.
type Notifier interface {
	Notify(ctx context.Context, title, body string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the real Clock.
type SystemClock struct{}

// Now returns the current wall-clock time in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
