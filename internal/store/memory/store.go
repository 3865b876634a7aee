// Package memory provides an in-memory Store for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bnowain/FB-Monitor/internal/comments"
	"github.com/bnowain/FB-Monitor/internal/monitor"
	"github.com/bnowain/FB-Monitor/internal/store/contenthash"
)

type postRecord struct {
	data     monitor.PostData
	hash     string
	lastSeen time.Time
	deleted  time.Time
	versions []monitor.PostData
}

// Store keeps everything in maps. Matches the Postgres store's
// semantics: content-hash edit detection, new-row comment counting, and
// absence-based tombstoning.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]*postRecord
	comments map[string]map[string]monitor.Comment
	imports  map[string]bool
	clock    monitor.Clock
}

// New constructs an empty Store.
func New(clock monitor.Clock) *Store {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &Store{
		posts:    make(map[string]*postRecord),
		comments: make(map[string]map[string]monitor.Comment),
		imports:  make(map[string]bool),
		clock:    clock,
	}
}

// SavePost inserts or updates a post. When a re-saved post's normalized
// content hash changes, the prior version is retained.
func (s *Store) SavePost(_ context.Context, post monitor.PostData) error {
	if post.ID == "" {
		return fmt.Errorf("post has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := contenthash.Post(post)
	now := s.clock.Now()
	rec, ok := s.posts[post.ID]
	if !ok {
		s.posts[post.ID] = &postRecord{data: post, hash: hash, lastSeen: now}
		return nil
	}
	if rec.hash != hash {
		rec.versions = append(rec.versions, rec.data)
		rec.data = post
		rec.hash = hash
	}
	rec.lastSeen = now
	rec.deleted = time.Time{}
	return nil
}

// SaveComments adds comments the store has not seen for this post and
// returns the count of new rows.
func (s *Store) SaveComments(_ context.Context, postID string, cs []monitor.Comment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey, ok := s.comments[postID]
	if !ok {
		byKey = make(map[string]monitor.Comment)
		s.comments[postID] = byKey
	}
	added := 0
	for _, c := range cs {
		k := comments.Key(c)
		if _, exists := byKey[k]; exists {
			continue
		}
		byKey[k] = c
		added++
	}
	return added, nil
}

// GetPost returns a post by ID, or nil when unknown.
func (s *Store) GetPost(_ context.Context, id string) (*monitor.PostData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.posts[id]
	if !ok {
		return nil, nil
	}
	data := rec.data
	return &data, nil
}

// Versions returns retained prior versions of a post, oldest first.
func (s *Store) Versions(id string) []monitor.PostData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.posts[id]
	if !ok {
		return nil
	}
	out := make([]monitor.PostData, len(rec.versions))
	copy(out, rec.versions)
	return out
}

// MarkSeen refreshes the last-seen timestamp for posts present in a
// fresh extraction.
func (s *Store) MarkSeen(_ context.Context, _ string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, id := range ids {
		if rec, ok := s.posts[id]; ok {
			rec.lastSeen = now
			rec.deleted = time.Time{}
		}
	}
	return nil
}

// SweepMissing tombstones posts absent from fresh extraction for at
// least the given duration. A single missed pass never tombstones.
func (s *Store) SweepMissing(_ context.Context, absence time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	n := 0
	for _, rec := range s.posts {
		if !rec.deleted.IsZero() {
			continue
		}
		if now.Sub(rec.lastSeen) >= absence {
			rec.deleted = now
			n++
		}
	}
	return n, nil
}

// Deleted reports whether a post is tombstoned.
func (s *Store) Deleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.posts[id]
	return ok && !rec.deleted.IsZero()
}

// AddImport queues a URL for the backlog-import phase.
func (s *Store) AddImport(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.imports[url]; !ok {
		s.imports[url] = false
	}
	return nil
}

// PendingImports lists queued URLs not yet imported.
func (s *Store) PendingImports(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for url, done := range s.imports {
		if !done {
			out = append(out, url)
		}
	}
	return out, nil
}

// MarkImported records a backlog URL as processed.
func (s *Store) MarkImported(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imports[url] = true
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }

var _ monitor.Store = (*Store)(nil)
