// Package comments merges incrementally re-extracted comment sets into
// a cumulative record per post.
package comments

import (
	"strings"
	"unicode/utf8"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// keyPrefixLen bounds the text portion of the identity key. Long
// comments stay stable under trailing edits; short ones use full text.
const keyPrefixLen = 150

// Key computes the content-identity key for a comment. Extraction order
// and completeness differ between passes, so identity has to come from
// content, not position.
func Key(c monitor.Comment) string {
	author := strings.ToLower(strings.TrimSpace(c.Author))
	text := strings.ToLower(strings.Join(strings.Fields(c.Text), " "))
	if len(text) > keyPrefixLen {
		cut := keyPrefixLen
		// Back off to a rune boundary rather than split a multi-byte
		// character.
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
	}
	return author + "|" + text
}

// Merge unions fresh comments into existing by identity key and returns
// the merged set plus the count of newly added comments. When the same
// key appears on both sides, the version carrying more metadata wins;
// existing order is preserved and new comments append in fresh order.
func Merge(existing, fresh []monitor.Comment) ([]monitor.Comment, int) {
	merged := make([]monitor.Comment, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, c := range merged {
		index[Key(c)] = i
	}

	added := 0
	for _, c := range fresh {
		k := Key(c)
		if i, ok := index[k]; ok {
			if richness(c) > richness(merged[i]) {
				merged[i] = c
			}
			continue
		}
		index[k] = len(merged)
		merged = append(merged, c)
		added++
	}
	return merged, added
}

// richness scores how much metadata a comment variant carries.
func richness(c monitor.Comment) int {
	score := 0
	if strings.TrimSpace(c.Timestamp) != "" {
		score += 2
	}
	if strings.TrimSpace(c.Author) != "" {
		score++
	}
	return score
}
