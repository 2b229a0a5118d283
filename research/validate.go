package research

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// hardBlockPhrases are markers of bot walls, error pages, and paywalls. A page
// containing too many of them is noise, not content.
var hardBlockPhrases = []string{
	"captcha",
	"access denied",
	"request access",
	"403 forbidden",
	"404 not found",
	"page not found",
	"enable javascript",
	"are you a robot",
	"subscribe to continue",
	"sign in to continue",
	"your browser is out of date",
}

// IsBlacklistedDomain reports whether the URL's host matches a configured
// blacklist entry (exact host or suffix match).
func IsBlacklistedDomain(rawURL string, blacklist []string) bool {
	host := hostOf(rawURL)
	if host == "" {
		return false
	}
	for _, domain := range blacklist {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// IsIrrelevantPath reports whether the URL path contains a marker for pages
// that never carry research content (tag indexes, carts, legal boilerplate).
func IsIrrelevantPath(rawURL string, markers []string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(parsed.Path)
	for _, marker := range markers {
		if marker == "" {
			continue
		}
		if strings.Contains(path, strings.ToLower(marker)) {
			return true
		}
	}
	return false
}

// ContentQuality is the verdict of the quality gate with the reason recorded
// for the blocklist.
type ContentQuality struct {
	Acceptable bool
	Reason     string
}

// CheckContentQuality applies the quality heuristic: minimum length, a cap on
// hard-block phrases, and a minimum count of real sentences. The thresholds
// come from config, not constants.
func CheckContentQuality(content string, cfg ScrapeConfig) ContentQuality {
	trimmed := strings.TrimSpace(content)
	if len(trimmed) < cfg.MinContentLength {
		return ContentQuality{Reason: "content too short"}
	}
	lower := strings.ToLower(trimmed)
	blocked := 0
	for _, phrase := range hardBlockPhrases {
		if strings.Contains(lower, phrase) {
			blocked++
		}
	}
	if blocked >= cfg.HardBlockLimit {
		return ContentQuality{Reason: "hard-block phrases"}
	}
	if countRealSentences(trimmed, cfg.MinSentenceWords) < cfg.MinSentences {
		return ContentQuality{Reason: "too few real sentences"}
	}
	return ContentQuality{Acceptable: true}
}

// countRealSentences counts sentences with more than minWords words.
func countRealSentences(content string, minWords int) int {
	count := 0
	for _, sentence := range splitSentences(content) {
		if len(strings.Fields(sentence)) > minWords {
			count++
		}
	}
	return count
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]+\s`)

func splitSentences(content string) []string {
	return sentenceSplitRe.Split(content, -1)
}

// IsStructuredData detects pages that are mostly tables rather than prose.
// Markdown/HTML tables rendered to text are dominated by pipe characters and
// short cell fragments; fact extraction on those produces garbage.
func IsStructuredData(content string) bool {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return false
	}
	pipeLines := 0
	for _, line := range lines {
		if strings.Count(line, "|") >= 2 {
			pipeLines++
		}
	}
	return float64(pipeLines) > 0.4*float64(len(lines))
}

var (
	agedRe  = regexp.MustCompile(`(?i)\baged?\s+(\d{1,3})\b`)
	bornRe  = regexp.MustCompile(`(?i)\bborn\b[^.\n]*?\b(\d{4})\b`)
	ageOfRe = regexp.MustCompile(`(?i)\b(\d{1,3})[\s-]years?[\s-]old\b`)
)

// ExtractApproximateAge scans content for an age or a birth year and returns
// the approximate age, or 0 when nothing plausible is found.
func ExtractApproximateAge(content string, now time.Time) int {
	if m := agedRe.FindStringSubmatch(content); len(m) == 2 {
		if age := plausibleAge(m[1]); age > 0 {
			return age
		}
	}
	if m := ageOfRe.FindStringSubmatch(content); len(m) == 2 {
		if age := plausibleAge(m[1]); age > 0 {
			return age
		}
	}
	if m := bornRe.FindStringSubmatch(content); len(m) == 2 {
		year, err := strconv.Atoi(m[1])
		if err == nil && year > 1850 && year <= now.Year() {
			return now.Year() - year
		}
	}
	return 0
}

func plausibleAge(raw string) int {
	age, err := strconv.Atoi(raw)
	if err != nil || age < 1 || age > 120 {
		return 0
	}
	return age
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(parsed.Hostname())
	return strings.TrimPrefix(host, "www.")
}
