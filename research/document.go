package research

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Document section names in their canonical order. The outline phase emits
// exactly this skeleton; the write phase fills it in.
const (
	SectionAbstract     = "Abstract"
	SectionTOC          = "Table of Contents"
	SectionIntroduction = "Introduction"
	SectionBackground   = "Background"
	SectionAnalysis     = "Analysis"
	SectionImplications = "Implications"
	SectionConclusion   = "Conclusion"
	SectionSources      = "Sources"
)

// RequiredSections must all be present for the review phase to pass the
// structural check.
var RequiredSections = []string{
	SectionIntroduction,
	SectionBackground,
	SectionAnalysis,
	SectionImplications,
	SectionConclusion,
}

// WriteOrder is the sequence the write phase synthesizes.
var WriteOrder = []string{
	SectionIntroduction,
	SectionBackground,
	SectionAnalysis,
	SectionImplications,
	SectionConclusion,
	SectionSources,
}

const statusLinePrefix = "*Status: "

func sectionHeader(name string) string { return "## " + name }

// PatchSection replaces the body of `## <section>` up to the next `##` header
// (or end of document). When the section is missing it is appended. Sections
// not named are left byte-identical.
func PatchSection(doc, section, content string) string {
	header := sectionHeader(section)
	body := strings.TrimSpace(content)
	start := findHeaderIndex(doc, header)
	if start < 0 {
		if !strings.HasSuffix(doc, "\n") {
			doc += "\n"
		}
		return doc + "\n" + header + "\n\n" + body + "\n"
	}
	contentStart := start + len(header)
	// Skip to end of the header line.
	if nl := strings.Index(doc[contentStart:], "\n"); nl >= 0 {
		contentStart += nl + 1
	} else {
		contentStart = len(doc)
	}
	end := nextHeaderIndex(doc, contentStart)
	return doc[:contentStart] + "\n" + body + "\n\n" + doc[end:]
}

// SectionContent returns the body of a section, or "" when absent.
func SectionContent(doc, section string) string {
	header := sectionHeader(section)
	start := findHeaderIndex(doc, header)
	if start < 0 {
		return ""
	}
	contentStart := start + len(header)
	if nl := strings.Index(doc[contentStart:], "\n"); nl >= 0 {
		contentStart += nl + 1
	} else {
		return ""
	}
	end := nextHeaderIndex(doc, contentStart)
	return strings.TrimSpace(doc[contentStart:end])
}

// findHeaderIndex locates a `## Name` line start, anchored to line beginnings
// so a "## Analysis" inside a code block or sentence does not match.
func findHeaderIndex(doc, header string) int {
	idx := 0
	for {
		pos := strings.Index(doc[idx:], header)
		if pos < 0 {
			return -1
		}
		abs := idx + pos
		lineOK := abs == 0 || doc[abs-1] == '\n'
		restOK := abs+len(header) == len(doc) ||
			doc[abs+len(header)] == '\n' || doc[abs+len(header)] == ' '
		if lineOK && restOK {
			// Reject longer header names sharing the prefix ("## Sources" vs
			// "## Sources Cited") by requiring end-of-line after the name.
			if abs+len(header) == len(doc) || doc[abs+len(header)] == '\n' {
				return abs
			}
		}
		idx = abs + len(header)
	}
}

// nextHeaderIndex finds the next `## ` line at or after from, or len(doc).
func nextHeaderIndex(doc string, from int) int {
	for pos := from; pos < len(doc); {
		atLineStart := pos == 0 || doc[pos-1] == '\n'
		if atLineStart && strings.HasPrefix(doc[pos:], "## ") {
			return pos
		}
		nl := strings.IndexByte(doc[pos:], '\n')
		if nl < 0 {
			break
		}
		pos += nl + 1
	}
	return len(doc)
}

// SectionNames lists every `## ` header in order of appearance.
func SectionNames(doc string) []string {
	var names []string
	for _, line := range strings.Split(doc, "\n") {
		if strings.HasPrefix(line, "## ") {
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "## ")))
		}
	}
	return names
}

var citationRe = regexp.MustCompile(`\]\(https?://[^)]+\)`)

// CountCitations counts inline markdown links to http(s) sources.
func CountCitations(doc string) int {
	return len(citationRe.FindAllString(doc, -1))
}

// slugify converts a topic into a safe filename fragment.
var slugCleanRe = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(topic string) string {
	slug := slugCleanRe.ReplaceAllString(strings.ToLower(topic), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "research"
	}
	if len(slug) > 60 {
		slug = slug[:60]
	}
	return slug
}

// minimalDocument is the smallest valid document skeleton: a title and a
// status line.
func minimalDocument(topic string) string {
	return fmt.Sprintf("# %s\n\n%sin progress*\n", displayTitle(topic), statusLinePrefix)
}

// fallbackDocumentPath and fallbackNotesPath derive deterministic locations
// for the run's files when the store cannot create them at its usual root.
func fallbackDocumentPath(topic string) string {
	return filepath.Join(os.TempDir(), slugify(topic)+".md")
}

func fallbackNotesPath(topic string) string {
	return filepath.Join(os.TempDir(), slugify(topic)+".notes.md")
}

// FileDocumentStore is the default DocumentStore writing markdown files under
// a single output directory.
type FileDocumentStore struct {
	Root string
}

// NewFileDocumentStore builds a store rooted at dir.
func NewFileDocumentStore(dir string) (*FileDocumentStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("document store root required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileDocumentStore{Root: dir}, nil
}

// CreateDocument creates the output document with a title and status line.
// Creation is idempotent: an existing document for the topic is reused, never
// recreated, so the path stays stable across phases.
func (s *FileDocumentStore) CreateDocument(topic string) (string, error) {
	path := filepath.Join(s.Root, slugify(topic)+".md")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	content := minimalDocument(topic)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// CreateNotes creates (or reuses) the notes scratch file for the topic.
func (s *FileDocumentStore) CreateNotes(topic string) (string, error) {
	path := filepath.Join(s.Root, slugify(topic)+".notes.md")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	header := fmt.Sprintf("# Research notes: %s\n\n", topic)
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *FileDocumentStore) ReadDocument(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *FileDocumentStore) WriteDocument(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// UpdateSection patches one section in place on disk.
func (s *FileDocumentStore) UpdateSection(path, section, content string) error {
	doc, err := s.ReadDocument(path)
	if err != nil {
		return err
	}
	return s.WriteDocument(path, PatchSection(doc, section, content))
}

// AppendNotes appends a pre-formatted block to the notes log.
func (s *FileDocumentStore) AppendNotes(notesPath, block string) error {
	f, err := os.OpenFile(notesPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(block)
	return err
}

func (s *FileDocumentStore) ReadNotes(notesPath string) (string, error) {
	data, err := os.ReadFile(notesPath)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Finalize flips the status line to complete and stamps the time.
func (s *FileDocumentStore) Finalize(path string) error {
	doc, err := s.ReadDocument(path)
	if err != nil {
		return err
	}
	stamp := fmt.Sprintf("%scomplete — %s*", statusLinePrefix, time.Now().UTC().Format("2006-01-02"))
	updated := replaceStatusLine(doc, stamp)
	return s.WriteDocument(path, updated)
}

// replaceStatusLine swaps the status line, inserting one after the title when
// missing.
func replaceStatusLine(doc, status string) string {
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, statusLinePrefix) {
			lines[i] = status
			return strings.Join(lines, "\n")
		}
	}
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") {
			out := append([]string{}, lines[:i+1]...)
			out = append(out, "", status)
			out = append(out, lines[i+1:]...)
			return strings.Join(out, "\n")
		}
	}
	return status + "\n" + doc
}

// displayTitle produces a document title from a topic.
func displayTitle(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "Research Report"
	}
	r, size := utf8.DecodeRuneInString(topic)
	if r == utf8.RuneError && size <= 1 {
		return topic
	}
	return string(unicode.ToUpper(r)) + topic[size:]
}
