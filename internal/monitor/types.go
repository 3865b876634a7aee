// Package monitor defines core types shared across subsystems.
package monitor

import "time"

// PostRef is a lightweight reference to a discovered post.
type PostRef struct {
	URL     string `json:"url"`
	ID      string `json:"id"`
	Preview string `json:"preview,omitempty"`
}

// Comment is one extracted comment on a post.
type Comment struct {
	Author    string `json:"author"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp,omitempty"`
	IsReply   bool   `json:"is_reply,omitempty"`
	Depth     int    `json:"depth,omitempty"`
}

// PostData is the full extracted content of one post.
type PostData struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Page       string         `json:"page"`
	Author     string         `json:"author,omitempty"`
	Text       string         `json:"text"`
	Timestamp  string         `json:"timestamp,omitempty"`
	SharedFrom string         `json:"shared_from,omitempty"`
	Links      []string       `json:"links,omitempty"`
	ImageURLs  []string       `json:"image_urls,omitempty"`
	VideoURLs  []string       `json:"video_urls,omitempty"`
	Engagement map[string]int `json:"engagement,omitempty"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

// Outcome classifies a navigation result. Block walls and dead circuits
// are expected states the caller branches on, not errors.
type Outcome int

// Navigation outcomes.
const (
	OutcomeOK Outcome = iota
	OutcomeBlocked
	OutcomeUnreachable
)

// String renders the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeBlocked:
		return "blocked"
	case OutcomeUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// NavResult is the typed result of one navigation attempt.
type NavResult struct {
	Outcome  Outcome
	HTML     string
	FinalURL string
	Err      error
}

// Page is a loaded page handed to extraction collaborators.
type Page interface {
	HTML() string
	URL() string
}
