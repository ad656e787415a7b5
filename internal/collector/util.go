package collector

import (
	"math/rand"
	"net/url"
	"regexp"
	"strings"
)

var (
	htmlTagPattern    = regexp.MustCompile(`<[^>]*>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// cleanText strips residual HTML tags and collapses runs of whitespace.
func cleanText(text string) string {
	text = htmlTagPattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// containsChinese reports whether text contains a CJK ideograph in the core
// Unicode range.
func containsChinese(text string) bool {
	for _, r := range text {
		if r >= 0x4e00 && r <= 0x9fff {
			return true
		}
	}
	return false
}

// isOnlyNumbersOrSymbols reports whether text has no ASCII letter and no CJK
// ideograph, i.e. nothing worth collecting.
func isOnlyNumbersOrSymbols(text string) bool {
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= 0x4e00 && r <= 0x9fff) {
			return false
		}
	}
	return true
}

// Link suffixes and schemes the web strategy never follows.
var excludedLinkPatterns = []string{
	".jpg", ".jpeg", ".png", ".gif", ".pdf", ".doc", ".zip",
	"javascript:", "mailto:", "tel:",
}

// isFollowableLink reports whether link is worth visiting from base: same
// host for absolute URLs, and not a non-text resource or non-HTTP scheme.
func isFollowableLink(link string, base *url.URL) bool {
	if link == "" || link == "#" {
		return false
	}
	lower := strings.ToLower(link)
	for _, pattern := range excludedLinkPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		u, err := url.Parse(link)
		if err != nil {
			return false
		}
		return base != nil && strings.EqualFold(u.Hostname(), base.Hostname())
	}
	return true
}

const fallbackUserAgent = "Mozilla/5.0 (compatible; TextCollector/1.0)"

// pickUserAgent returns a random agent from the pool, or a fallback when the
// pool is empty.
func pickUserAgent(pool []string) string {
	if len(pool) == 0 {
		return fallbackUserAgent
	}
	return pool[rand.Intn(len(pool))]
}
