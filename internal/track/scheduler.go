// Package track owns the set of tracking jobs needing periodic comment
// re-checks, with a decay schedule keyed by post age.
package track

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bnowain/FB-Monitor/internal/logging"
	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Job is the recurring-recheck record for one discovered post.
type Job struct {
	PostID    string    `json:"post_id"`
	URL       string    `json:"url"`
	Page      string    `json:"page"`
	Account   string    `json:"account,omitempty"`
	Created   time.Time `json:"created"`
	LastCheck time.Time `json:"last_check,omitempty"`
	Checks    int       `json:"checks"`
}

// tier is one age band of the decay schedule. Jobs older than the last
// band's limit are pruned unconditionally.
type tier struct {
	maxAge   time.Duration
	interval time.Duration
}

// Recheck intervals lengthen with post age: comment activity decays
// over days, so polling month-old posts at the active cadence wastes
// request budget.
var tiers = []tier{
	{24 * time.Hour, 0}, // 0 = caller-supplied active interval
	{48 * time.Hour, 6 * time.Hour},
	{168 * time.Hour, 24 * time.Hour},
	{720 * time.Hour, 168 * time.Hour},
}

// DefaultMaxLookback is the age past which a job is dropped regardless
// of its check history.
const DefaultMaxLookback = 720 * time.Hour

// Scheduler manages tracking jobs. Safe for concurrent use.
type Scheduler struct {
	mu          sync.Mutex
	jobs        map[string]*Job
	clock       monitor.Clock
	maxLookback time.Duration
}

// NewScheduler creates an empty Scheduler.
func NewScheduler(clock monitor.Clock) *Scheduler {
	if clock == nil {
		clock = monitor.SystemClock{}
	}
	return &Scheduler{
		jobs:        make(map[string]*Job),
		clock:       clock,
		maxLookback: DefaultMaxLookback,
	}
}

// SetMaxLookback overrides the unconditional prune age. Zero or
// negative keeps the default.
func (s *Scheduler) SetMaxLookback(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.maxLookback = d
	s.mu.Unlock()
}

// Add registers a post for tracking. Adding an already-tracked post is
// a no-op; a pruned job is never revived.
func (s *Scheduler) Add(postID, url, page, account string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[postID]; ok {
		return false
	}
	s.jobs[postID] = &Job{
		PostID:  postID,
		URL:     url,
		Page:    page,
		Account: account,
		Created: s.clock.Now(),
	}
	return true
}

// Restore reloads a persisted job, keeping its original lifecycle fields.
func (s *Scheduler) Restore(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := job
	s.jobs[job.PostID] = &j
}

// Due returns jobs whose time since last check exceeds their
// age-appropriate tier interval, oldest-unchecked first. Jobs never
// checked are always due. Expired jobs are pruned as a side effect.
func (s *Scheduler) Due(activeInterval time.Duration) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()

	var due []Job
	for id, job := range s.jobs {
		age := now.Sub(job.Created)
		if age > s.maxLookback {
			delete(s.jobs, id)
			logging.L.Debug("pruned expired tracking job",
				zap.String("post_id", id), zap.Duration("age", age))
			continue
		}
		if job.LastCheck.IsZero() {
			due = append(due, *job)
			continue
		}
		if now.Sub(job.LastCheck) >= intervalFor(age, activeInterval) {
			due = append(due, *job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].LastCheck.Before(due[j].LastCheck)
	})
	return due
}

// MarkChecked records a completed re-check.
func (s *Scheduler) MarkChecked(postID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[postID]
	if !ok {
		return
	}
	job.LastCheck = s.clock.Now()
	job.Checks++
}

// Jobs returns a snapshot of all live jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

// Summary reports job counts per age tier for status output.
func (s *Scheduler) Summary() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := map[string]int{}
	for _, job := range s.jobs {
		out[tierName(now.Sub(job.Created))]++
	}
	out["total"] = len(s.jobs)
	return out
}

func intervalFor(age, activeInterval time.Duration) time.Duration {
	for _, t := range tiers {
		if age <= t.maxAge {
			if t.interval == 0 {
				return activeInterval
			}
			return t.interval
		}
	}
	return tiers[len(tiers)-1].interval
}

func tierName(age time.Duration) string {
	switch {
	case age <= 24*time.Hour:
		return "active"
	case age <= 48*time.Hour:
		return "1-2d"
	case age <= 168*time.Hour:
		return "2-7d"
	default:
		return "7-30d"
	}
}
