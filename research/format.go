package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/lexcodex/deepresearch/framework"
)

// FormatDocument is the final polish pass: deduplicate repeated sections
// (keeping the last occurrence, which is the most revised), prepend the
// Abstract, rebuild the Table of Contents, rewrite deictic time words,
// annotate the title with the source count, and normalize blank lines.
// Running the formatter on its own output changes nothing.
func (a *Agent) FormatDocument(ctx context.Context, state *State, doc string) string {
	doc = DeduplicateSections(doc)
	doc = a.insertAbstract(ctx, state, doc)
	doc = rebuildTOC(doc)
	doc = NormalizeTemporalLanguage(doc)
	doc = a.annotateTitle(state, doc)
	doc = NormalizeSpacing(doc)
	return doc
}

// annotateTitle stamps the H1 with the number of sources behind the document.
func (a *Agent) annotateTitle(state *State, doc string) string {
	sources, err := a.loadSources(state)
	if err != nil {
		return doc
	}
	return AnnotateTitle(doc, len(sources))
}

const titleAnnotationSuffix = " sources analyzed)"

// AnnotateTitle appends `(<N> sources analyzed)` to the H1 title. A document
// without citations, or one already annotated, is returned unchanged.
func AnnotateTitle(doc string, sourceCount int) string {
	if sourceCount <= 0 || CountCitations(doc) == 0 {
		return doc
	}
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "# ") {
			continue
		}
		if strings.HasSuffix(strings.TrimSpace(line), titleAnnotationSuffix) {
			return doc
		}
		lines[i] = fmt.Sprintf("%s (%d%s", line, sourceCount, titleAnnotationSuffix)
		return strings.Join(lines, "\n")
	}
	return doc
}

var temporalRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\btoday\b`), "at the time of writing"},
	{regexp.MustCompile(`(?i)\brecently\b`), "in recent years"},
	{regexp.MustCompile(`(?i)\bright now\b`), "at the time of writing"},
	{regexp.MustCompile(`(?i)\bnow\b`), "at present"},
}

var linkTargetRe = regexp.MustCompile(`\]\([^)]+\)`)

// NormalizeTemporalLanguage rewrites deictic time words so the finished
// document reads the same whenever it is opened. Link targets are left
// untouched so URLs keep their exact form.
func NormalizeTemporalLanguage(doc string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range linkTargetRe.FindAllStringIndex(doc, -1) {
		sb.WriteString(replaceTemporal(doc[last:loc[0]]))
		sb.WriteString(doc[loc[0]:loc[1]])
		last = loc[1]
	}
	sb.WriteString(replaceTemporal(doc[last:]))
	return sb.String()
}

func replaceTemporal(text string) string {
	for _, rule := range temporalRules {
		text = rule.re.ReplaceAllStringFunc(text, func(m string) string {
			if m != "" && m[0] >= 'A' && m[0] <= 'Z' {
				return strings.ToUpper(rule.repl[:1]) + rule.repl[1:]
			}
			return rule.repl
		})
	}
	return text
}

// DeduplicateSections removes repeated `## ` sections, keeping the LAST
// occurrence of each name. Revision appends corrected sections, so the last
// copy is the current one.
func DeduplicateSections(doc string) string {
	type span struct {
		name       string
		start, end int
	}
	var spans []span
	pos := nextHeaderIndex(doc, 0)
	prefix := doc[:pos]
	for pos < len(doc) {
		end := nextHeaderIndex(doc, pos+1)
		line := doc[pos:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		spans = append(spans, span{
			name:  strings.TrimSpace(strings.TrimPrefix(line, "## ")),
			start: pos,
			end:   end,
		})
		pos = end
	}
	last := make(map[string]int)
	for i, s := range spans {
		last[s.name] = i
	}
	var sb strings.Builder
	sb.WriteString(prefix)
	for i, s := range spans {
		if last[s.name] != i {
			continue
		}
		sb.WriteString(doc[s.start:s.end])
	}
	return sb.String()
}

// rebuildTOC replaces (or inserts) the Table of Contents listing every
// section after it, each as an anchor link.
func rebuildTOC(doc string) string {
	var entries []string
	for _, name := range SectionNames(doc) {
		if name == SectionTOC || name == SectionAbstract {
			continue
		}
		entries = append(entries, fmt.Sprintf("- [%s](#%s)", name, slugify(name)))
	}
	if len(entries) == 0 {
		return doc
	}
	toc := strings.Join(entries, "\n")
	if containsSection(doc, SectionTOC) {
		return PatchSection(doc, SectionTOC, toc)
	}
	// Insert after the Abstract when present, otherwise before the first
	// content section.
	idx := nextHeaderIndex(doc, 0)
	if abs := findHeaderIndex(doc, sectionHeader(SectionAbstract)); abs >= 0 {
		idx = nextHeaderIndex(doc, abs+1)
	}
	return doc[:idx] + "## " + SectionTOC + "\n\n" + toc + "\n\n" + doc[idx:]
}

func containsSection(doc, name string) bool {
	for _, s := range SectionNames(doc) {
		if s == name {
			return true
		}
	}
	return false
}

// insertAbstract synthesizes the Abstract from the finished sections. An
// existing Abstract is left alone, which keeps the formatter idempotent and
// avoids re-spending tokens on reruns.
func (a *Agent) insertAbstract(ctx context.Context, state *State, doc string) string {
	if containsSection(doc, SectionAbstract) && strings.TrimSpace(SectionContent(doc, SectionAbstract)) != "" {
		return doc
	}
	summaryInput := clipText(SectionContent(doc, SectionIntroduction)+"\n"+SectionContent(doc, SectionConclusion), 4000)
	abstract := ""
	if strings.TrimSpace(summaryInput) != "" {
		prompt := fmt.Sprintf(
			"Write a three-sentence abstract for a research document about %s, based on its introduction and conclusion below. Output the abstract only.\n\n%s",
			state.Topic(), summaryInput)
		if resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
			Model:       a.Config.Model.Name,
			Temperature: a.Config.Model.SynthTemperature,
			MaxTokens:   256,
		}); err == nil {
			abstract = SanitizeSynthesis(resp.Text, SectionAbstract)
		}
	}
	if abstract == "" {
		abstract = fmt.Sprintf("This document presents research findings on %s.", state.Topic())
	}
	if containsSection(doc, SectionAbstract) {
		return PatchSection(doc, SectionAbstract, abstract)
	}
	idx := nextHeaderIndex(doc, 0)
	return doc[:idx] + "## " + SectionAbstract + "\n\n" + abstract + "\n\n" + doc[idx:]
}

var multiBlankRe = regexp.MustCompile(`\n{3,}`)

// NormalizeSpacing collapses runs of blank lines and guarantees one blank
// line after each header.
func NormalizeSpacing(doc string) string {
	doc = multiBlankRe.ReplaceAllString(doc, "\n\n")
	var sb strings.Builder
	lines := strings.Split(doc, "\n")
	for i, line := range lines {
		sb.WriteString(line)
		if i < len(lines)-1 {
			sb.WriteString("\n")
			if strings.HasPrefix(line, "## ") && i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
				sb.WriteString("\n")
			}
		}
	}
	out := sb.String()
	if !strings.HasSuffix(out, "\n") {
		out += "\n"
	}
	return strings.TrimSuffix(out, "\n") + "\n"
}
