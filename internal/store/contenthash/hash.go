// Package contenthash fingerprints post content for edit detection.
package contenthash

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/bnowain/FB-Monitor/internal/monitor"
)

// Post hashes the fields that constitute the content of a post. Volatile
// fields (fetch time, engagement counts) are excluded so that re-fetching
// an unchanged post yields the same hash.
func Post(p monitor.PostData) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(normalize(s)))
		h.Write([]byte{0})
	}
	write(p.Author)
	write(p.Text)
	write(p.SharedFrom)
	write(p.Timestamp)
	links := append([]string(nil), p.Links...)
	sort.Strings(links)
	for _, l := range links {
		write(l)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// normalize collapses runs of whitespace so cosmetic reflows do not
// count as edits.
func normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
