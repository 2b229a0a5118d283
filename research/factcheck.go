package research

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// Finding is one factual issue the review pass raised against the document.
type Finding struct {
	Section string
	Claim   string
	Problem string
}

// ReviewReport is the outcome of the review phase.
type ReviewReport struct {
	Findings       []Finding
	TooShort       bool
	TooFewCites    bool
	RawNoteLeak    bool
	MissingSection []string
}

// Passed reports whether the document needs no revision.
func (r *ReviewReport) Passed() bool {
	return len(r.Findings) == 0 && !r.TooShort && !r.TooFewCites && !r.RawNoteLeak && len(r.MissingSection) == 0
}

// Summary renders the report as review notes for the revise phase.
func (r *ReviewReport) Summary() string {
	var sb strings.Builder
	if r.TooShort {
		sb.WriteString("- document is below the minimum length\n")
	}
	if r.TooFewCites {
		sb.WriteString("- document has too few source citations\n")
	}
	if r.RawNoteLeak {
		sb.WriteString("- document contains raw unprocessed note markers\n")
	}
	for _, s := range r.MissingSection {
		fmt.Fprintf(&sb, "- missing required section: %s\n", s)
	}
	for _, f := range r.Findings {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", f.Section, f.Claim, f.Problem)
	}
	return strings.TrimSpace(sb.String())
}

// ReviewDocument runs the structural gates and the two-pass fact check. The
// first pass scans the whole document in slices against the notes; the
// second pass re-verifies each raised finding in isolation, discarding ones
// the verifier cannot reproduce. Flaky single-pass hallucinated findings are
// the main failure mode the second pass exists for.
func (a *Agent) ReviewDocument(ctx context.Context, state *State, doc string, sources []Source) (*ReviewReport, error) {
	report := &ReviewReport{}
	if len(doc) < a.Config.Review.MinDocumentLength {
		report.TooShort = true
	}
	if CountCitations(doc) < a.Config.Review.MinCitations {
		report.TooFewCites = true
	}
	if rawNoteMarkerRe.MatchString(doc) {
		report.RawNoteLeak = true
	}
	present := make(map[string]bool)
	for _, name := range SectionNames(doc) {
		present[name] = true
	}
	for _, required := range RequiredSections {
		if !present[required] {
			report.MissingSection = append(report.MissingSection, required)
		}
	}

	notes := joinSourceBlocks(sources, 10000)
	var raised []Finding
	for _, slice := range SliceDocument(doc, a.Config.Review.SliceMin, a.Config.Review.SliceMax) {
		findings, err := a.factCheckSlice(ctx, state.Topic(), slice, notes)
		if err != nil {
			a.Logger.Warn("fact-check slice failed", zap.Error(err))
			continue
		}
		raised = append(raised, findings...)
		if len(raised) >= a.Config.Review.MaxFindings {
			raised = raised[:a.Config.Review.MaxFindings]
			break
		}
	}
	for _, f := range raised {
		if a.verifyFinding(ctx, f, notes) {
			report.Findings = append(report.Findings, f)
		}
	}
	return report, nil
}

// SliceDocument cuts the document into slices between min and max bytes,
// breaking at paragraph boundaries so no claim is split mid-sentence.
func SliceDocument(doc string, min, max int) []string {
	if max <= 0 || len(doc) <= max {
		return []string{doc}
	}
	if min <= 0 || min > max {
		min = max / 2
	}
	var slices []string
	rest := doc
	for len(rest) > max {
		cut := max
		if idx := strings.LastIndex(rest[min:max], "\n\n"); idx >= 0 {
			cut = min + idx
		}
		slices = append(slices, rest[:cut])
		rest = strings.TrimLeft(rest[cut:], "\n")
	}
	if strings.TrimSpace(rest) != "" {
		slices = append(slices, rest)
	}
	return slices
}

// rawNoteMarkerRe flags note blocks pasted into the document without being
// synthesized into prose.
var rawNoteMarkerRe = regexp.MustCompile(`(?m)^### .*https?://`)

var findingLineRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*FACTUAL ERROR\s*\[([^\]]+)\]\s*:\s*"([^"]+)"\s*[-—]\s*(.+)$`)

func (a *Agent) factCheckSlice(ctx context.Context, topic, slice, notes string) ([]Finding, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Fact-check this excerpt of a research document about %s against the source notes.\n", topic)
	sb.WriteString("Report only claims that contradict or are absent from the notes. For each, print one line:\n")
	sb.WriteString("`N. FACTUAL ERROR [<section>]: \"<claim>\" - <what is wrong>`\n")
	sb.WriteString("If every claim is supported, reply exactly `NO ERRORS`.\n\n")
	fmt.Fprintf(&sb, "Document excerpt:\n%s\n\nSource notes:\n%s\n", slice, notes)
	resp, err := a.Model.Generate(ctx, sb.String(), &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.FactTemperature,
		MaxTokens:   1024,
	})
	if err != nil {
		return nil, err
	}
	if strings.Contains(resp.Text, "NO ERRORS") {
		return nil, nil
	}
	var findings []Finding
	for _, m := range findingLineRe.FindAllStringSubmatch(resp.Text, -1) {
		findings = append(findings, Finding{
			Section: strings.TrimSpace(m[1]),
			Claim:   strings.TrimSpace(m[2]),
			Problem: strings.TrimSpace(m[3]),
		})
	}
	return findings, nil
}

// verifyFinding re-asks about a single finding. Only a clear confirmation
// keeps it.
func (a *Agent) verifyFinding(ctx context.Context, f Finding, notes string) bool {
	prompt := fmt.Sprintf(
		"Source notes:\n%s\n\nIs the claim %q contradicted by or absent from these notes? Answer `confirmed` or `unsupported` only.",
		notes, f.Claim)
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.FactTemperature,
		MaxTokens:   8,
	})
	if err != nil {
		// Unverifiable findings are kept; dropping them silently would let
		// real errors through whenever the model endpoint blips.
		return true
	}
	return strings.Contains(strings.ToLower(resp.Text), "confirmed")
}

// GroupFindings buckets findings by section so each affected section is
// regenerated exactly once.
func GroupFindings(findings []Finding) map[string][]Finding {
	groups := make(map[string][]Finding)
	for _, f := range findings {
		section := f.Section
		if !knownSection(section) {
			section = SectionAnalysis
		}
		groups[section] = append(groups[section], f)
	}
	return groups
}

func knownSection(name string) bool {
	for _, s := range WriteOrder {
		if s == name {
			return true
		}
	}
	return name == SectionAbstract || name == SectionTOC
}

// SortedSections returns group keys in document write order.
func SortedSections(groups map[string][]Finding) []string {
	var keys []string
	for k := range groups {
		keys = append(keys, k)
	}
	order := make(map[string]int, len(WriteOrder))
	for i, s := range WriteOrder {
		order[s] = i
	}
	sort.Slice(keys, func(i, j int) bool { return order[keys[i]] < order[keys[j]] })
	return keys
}

// ReviseSections regenerates each section the review flagged, patching the
// document in place. A regeneration whose output is contaminated with
// fact-check chatter is discarded and the original section kept; a wrong
// section beats a section full of error listings.
func (a *Agent) ReviseSections(ctx context.Context, state *State, doc string, report *ReviewReport, sources []Source) (string, error) {
	groups := GroupFindings(report.Findings)
	for _, section := range SortedSections(groups) {
		findings := groups[section]
		revised, err := a.regenerateSection(ctx, state, section, findings, sources)
		if err != nil {
			a.Logger.Warn("section regeneration failed, keeping original",
				zap.String("section", section), zap.Error(err))
			continue
		}
		if IsContaminated(revised) {
			a.Logger.Warn("regenerated section contaminated with fact-check output, keeping original",
				zap.String("section", section))
			continue
		}
		doc = PatchSection(doc, section, revised)
	}
	return doc, nil
}

func (a *Agent) regenerateSection(ctx context.Context, state *State, section string, findings []Finding, sources []Source) (string, error) {
	var issues strings.Builder
	for _, f := range findings {
		fmt.Fprintf(&issues, "- the claim %q is wrong: %s\n", f.Claim, f.Problem)
	}
	material := sectionMaterial(sources, section)
	prompt := fmt.Sprintf(
		"Rewrite the %q section of a research document about %s. The previous version contained these factual errors, which must not appear in any form:\n%s\nRules:\n- Use only facts present in the source material below.\n- Cite sources inline as markdown links.\n- Output the corrected section prose only. Do not list, mention, or discuss the errors.\n\nSource material:\n%s",
		section, state.Topic(), issues.String(), material)
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:             a.Config.Model.Name,
		Temperature:       a.Config.Model.SynthTemperature,
		RepetitionPenalty: a.Config.Model.RepetitionPenalty,
		MaxTokens:         a.Config.Model.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	body := SanitizeSynthesis(resp.Text, section)
	if body == "" {
		return "", fmt.Errorf("regeneration produced no usable prose")
	}
	return body, nil
}

var reviewNoteRe = regexp.MustCompile(`^-\s*\[([^\]]+)\]\s*(.+?):\s*(.+)$`)

// ParseReviewNotes reconstructs a report from persisted review-note lines.
// Revision may run in a resumed process, so the notes carried in state are
// the only channel between review and revise.
func ParseReviewNotes(notes []string) *ReviewReport {
	report := &ReviewReport{}
	for _, line := range notes {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "- missing required section: "):
			report.MissingSection = append(report.MissingSection,
				strings.TrimPrefix(line, "- missing required section: "))
		case strings.Contains(line, "below the minimum length"):
			report.TooShort = true
		case strings.Contains(line, "too few source citations"):
			report.TooFewCites = true
		case strings.Contains(line, "raw unprocessed note markers"):
			report.RawNoteLeak = true
		default:
			if m := reviewNoteRe.FindStringSubmatch(line); m != nil {
				report.Findings = append(report.Findings, Finding{
					Section: m[1], Claim: m[2], Problem: m[3],
				})
			}
		}
	}
	return report
}

var contaminationRe = regexp.MustCompile(`(?m)^\s*\d+\.\s*FACTUAL ERROR`)

// IsContaminated detects revision output that echoes the fact-check protocol
// instead of prose. Three or more numbered FACTUAL ERROR lines means the
// model pasted its critique into the section body.
func IsContaminated(text string) bool {
	return len(contaminationRe.FindAllString(text, 4)) >= 3
}
