package research

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Source is one parsed block of the notes file.
type Source struct {
	URL            string
	Title          string
	Published      string
	Content        string
	IsCuriosity    bool
	CuriosityTopic string
}

const (
	noteSeparator   = "\n---\n"
	curiosityMarker = "**CURIOSITY DEEP-DIVE: "
)

// FormatNoteBlock renders a source as an append-only notes block:
//
//	### <title> [<domain>](<url>)
//	**Published: <date>**
//	<facts>
//	---
//
// Curiosity blocks additionally carry a deep-dive marker line.
func FormatNoteBlock(src Source) string {
	var sb strings.Builder
	title := src.Title
	if title == "" {
		title = "Untitled source"
	}
	published := src.Published
	if published == "" {
		published = "unknown"
	}
	fmt.Fprintf(&sb, "### %s [%s](%s)\n", title, hostOf(src.URL), src.URL)
	fmt.Fprintf(&sb, "**Published: %s**\n", published)
	if src.IsCuriosity {
		fmt.Fprintf(&sb, "%s%s**\n", curiosityMarker, src.CuriosityTopic)
	}
	sb.WriteString(strings.TrimSpace(src.Content))
	sb.WriteString(noteSeparator)
	return sb.String()
}

var (
	noteHeaderRe = regexp.MustCompile(`^### (.+?) \[([^\]]*)\]\(([^)]+)\)\s*$`)
	publishedRe  = regexp.MustCompile(`^\*\*Published: (.+?)\*\*\s*$`)
	curiosityRe  = regexp.MustCompile(`^\*\*CURIOSITY DEEP-DIVE: (.+?)\*\*\s*$`)
)

// ParseNotes turns the flat notes document back into structured records. The
// notes file is the source of truth; nothing is cached between phases, so the
// parser runs whenever a phase needs structure.
func ParseNotes(content string) []Source {
	var sources []Source
	var current *Source
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(strings.Join(body, "\n"))
		sources = append(sources, *current)
		current = nil
		body = nil
	}

	for _, line := range strings.Split(content, "\n") {
		if m := noteHeaderRe.FindStringSubmatch(line); m != nil {
			flush()
			current = &Source{Title: strings.TrimSpace(m[1]), URL: strings.TrimSpace(m[3])}
			continue
		}
		if current == nil {
			continue
		}
		if m := publishedRe.FindStringSubmatch(line); m != nil {
			current.Published = strings.TrimSpace(m[1])
			continue
		}
		if m := curiosityRe.FindStringSubmatch(line); m != nil {
			current.IsCuriosity = true
			current.CuriosityTopic = strings.TrimSpace(m[1])
			continue
		}
		if strings.TrimSpace(line) == "---" {
			flush()
			continue
		}
		body = append(body, line)
	}
	flush()
	return sources
}

var curiosityListRe = regexp.MustCompile(`(?i)more research required:?\s*`)

// ExtractCuriosityTopics scans the notes for "More research required" bullet
// lists and returns up to max unique topics, in order of first appearance.
func ExtractCuriosityTopics(notes string, max int) []string {
	var topics []string
	seen := make(map[string]bool)
	inList := false
	for _, line := range strings.Split(notes, "\n") {
		trimmed := strings.TrimSpace(line)
		if curiosityListRe.MatchString(trimmed) {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		if !strings.HasPrefix(trimmed, "-") && !strings.HasPrefix(trimmed, "*") {
			inList = false
			continue
		}
		topic := strings.TrimSpace(strings.TrimLeft(trimmed, "-* "))
		topic = strings.TrimSuffix(topic, ".")
		if topic == "" {
			continue
		}
		key := strings.ToLower(topic)
		if seen[key] {
			continue
		}
		seen[key] = true
		topics = append(topics, topic)
		if len(topics) >= max {
			break
		}
	}
	return topics
}

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"of": true, "in": true, "on": true, "to": true, "for": true, "with": true,
	"is": true, "are": true, "was": true, "were": true, "be": true, "been": true,
	"that": true, "this": true, "it": true, "its": true, "as": true, "at": true,
	"by": true, "from": true, "has": true, "have": true, "had": true, "not": true,
	"his": true, "her": true, "their": true, "he": true, "she": true, "they": true,
	"which": true, "who": true, "when": true, "more": true, "also": true,
	"research": true, "required": true,
}

// TopThemes returns the n most frequent non-stopword terms in the sources,
// ordered by frequency then alphabetically for determinism.
func TopThemes(sources []Source, n int) []string {
	freq := make(map[string]int)
	for _, src := range sources {
		for _, word := range strings.Fields(strings.ToLower(src.Content)) {
			word = strings.Trim(word, ".,;:!?()[]{}\"'*")
			if len(word) < 4 || stopwords[word] {
				continue
			}
			freq[word]++
		}
	}
	type entry struct {
		word  string
		count int
	}
	entries := make([]entry, 0, len(freq))
	for w, c := range freq {
		entries = append(entries, entry{w, c})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].word < entries[j].word
	})
	if n > len(entries) {
		n = len(entries)
	}
	themes := make([]string, 0, n)
	for _, e := range entries[:n] {
		themes = append(themes, e.word)
	}
	return themes
}

var entityRe = regexp.MustCompile(`\b([A-Z][a-zA-Z]+(?:\s+[A-Z][a-zA-Z]+){0,2})\b`)

// ExtractEntities returns capitalized word sequences that appear at least
// twice across the sources, most frequent first.
func ExtractEntities(sources []Source, n int) []string {
	freq := make(map[string]int)
	for _, src := range sources {
		for _, m := range entityRe.FindAllString(src.Content, -1) {
			if stopwords[strings.ToLower(m)] {
				continue
			}
			freq[m]++
		}
	}
	type entry struct {
		name  string
		count int
	}
	var entries []entry
	for name, count := range freq {
		if count < 2 {
			continue
		}
		entries = append(entries, entry{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].count != entries[j].count {
			return entries[i].count > entries[j].count
		}
		return entries[i].name < entries[j].name
	})
	if n > len(entries) {
		n = len(entries)
	}
	names := make([]string, 0, n)
	for _, e := range entries[:n] {
		names = append(names, e.name)
	}
	return names
}

var dateRe = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ExtractDates returns the distinct years mentioned across the sources.
func ExtractDates(sources []Source) []string {
	seen := make(map[string]bool)
	var years []string
	for _, src := range sources {
		for _, m := range dateRe.FindAllString(src.Content, -1) {
			if !seen[m] {
				seen[m] = true
				years = append(years, m)
			}
		}
	}
	sort.Strings(years)
	return years
}

// SampleExcerpts returns up to n short excerpts, one per source, for prompt
// embedding.
func SampleExcerpts(sources []Source, n, maxChars int) []string {
	var excerpts []string
	for _, src := range sources {
		if len(excerpts) >= n {
			break
		}
		content := strings.TrimSpace(src.Content)
		if content == "" {
			continue
		}
		if len(content) > maxChars {
			content = content[:maxChars]
		}
		excerpts = append(excerpts, content)
	}
	return excerpts
}
