// Package extract implements the cascading post-extraction strategy
// chain and its per-strategy health tracking.
package extract

import (
	"net/url"
	"regexp"
	"strings"
)

// Post URLs carry a site-assigned ID in one of several shapes. The ID is
// the content-identity key, so it must parse identically no matter which
// strategy found the link.
var postIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/posts/(pfbid\w+)`),
	regexp.MustCompile(`/posts/(\d+)`),
	regexp.MustCompile(`story_fbid=(\d+)`),
	regexp.MustCompile(`/videos/(\d+)`),
	regexp.MustCompile(`/reel/(\d+)`),
	regexp.MustCompile(`/permalink/(\d+)`),
	regexp.MustCompile(`[?&]fbid=(\d+)`),
}

// PostID extracts the stable post identity from a URL. Returns "" when
// the URL does not reference a single post.
func PostID(raw string) string {
	for _, re := range postIDPatterns {
		if m := re.FindStringSubmatch(raw); m != nil {
			return m[1]
		}
	}
	return ""
}

// CanonicalPostURL strips tracking parameters and host variants so the
// same post yields the same URL across desktop and mobile markup.
func CanonicalPostURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Host {
	case "m.facebook.com", "mbasic.facebook.com", "web.facebook.com":
		u.Host = "www.facebook.com"
	case "":
		u.Host = "www.facebook.com"
		u.Scheme = "https"
	}
	q := u.Query()
	for _, param := range []string{"__cft__[0]", "__tn__", "ref", "refid", "comment_tracking", "notif_id", "notif_t"} {
		q.Del(param)
	}
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return strings.TrimSuffix(u.String(), "?")
}
