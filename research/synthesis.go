package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// SynthesizeSection writes one document section from the notes file. The
// prompt carries the thesis, the outline of sections already written, and a
// per-section slice of the source material; the RAG store supplies extra
// grounding passages when the notes alone run thin. Empty or refused model
// output falls back to a deterministic template so the document always has
// every required section.
func (a *Agent) SynthesizeSection(ctx context.Context, state *State, section string, sources []Source) (string, error) {
	material := sectionMaterial(sources, section)
	if a.KB != nil {
		if hits, err := a.KB.Search(ctx, state.Topic()+" "+section, 3); err == nil {
			for _, h := range hits {
				material += "\n\n" + h.Content
			}
		}
	}
	prompt := a.buildSectionPrompt(state, section, material)
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:             a.Config.Model.Name,
		Temperature:       a.Config.Model.SynthTemperature,
		RepetitionPenalty: a.Config.Model.RepetitionPenalty,
		MaxTokens:         a.Config.Model.MaxTokens,
	})
	if err != nil {
		a.Logger.Warn("section synthesis failed, using template",
			zap.String("section", section), zap.Error(err))
		return templateSection(section, state, sources), nil
	}
	body := SanitizeSynthesis(resp.Text, section)
	if body == "" {
		return templateSection(section, state, sources), nil
	}
	return body, nil
}

func (a *Agent) buildSectionPrompt(state *State, section string, material string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are writing the %q section of a research document about %s.\n", section, state.Topic())
	if state.ThesisStatement != "" {
		fmt.Fprintf(&sb, "Thesis: %s\n", state.ThesisStatement)
	}
	if len(state.SectionsWritten) > 0 {
		fmt.Fprintf(&sb, "Sections already written: %s. Do not repeat their content.\n",
			strings.Join(state.SectionsWritten, ", "))
	}
	if state.SubjectType == "person" && state.PersonProfile != nil {
		writeDisambiguation(&sb, state)
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Use only facts present in the source material below. Never invent names, dates, or figures.\n")
	sb.WriteString("- Cite sources inline as markdown links, e.g. [example.com](https://example.com/page).\n")
	sb.WriteString("- State dates absolutely (e.g. \"in 2019\"), never relatively (\"two years ago\").\n")
	sb.WriteString("- Write prose paragraphs only. No heading line, no preamble, no closing remarks.\n")
	fmt.Fprintf(&sb, "\nSource material:\n%s\n", material)
	return sb.String()
}

// writeDisambiguation pins the subject identity into person-subject prompts
// so the model does not blend in facts about namesakes.
func writeDisambiguation(sb *strings.Builder, state *State) {
	p := state.PersonProfile
	fmt.Fprintf(sb, "The subject is the specific person %s", state.Topic())
	if p.Occupation != "" {
		fmt.Fprintf(sb, ", the %s", p.Occupation)
	}
	sb.WriteString(". Ignore any material about other people with the same or similar names.\n")
	if p.LifeStatus != "" {
		fmt.Fprintf(sb, "Life status: %s.\n", p.LifeStatus)
	}
}

// sectionMaterial slices the notes per section so each prompt stays within
// context. Early sections get the earliest material, Analysis and later
// sections get the densest blocks, and Sources gets only headers.
func sectionMaterial(sources []Source, section string) string {
	if len(sources) == 0 {
		return "(no source material gathered)"
	}
	switch section {
	case SectionSources:
		var sb strings.Builder
		for _, s := range sources {
			fmt.Fprintf(&sb, "- %s [%s](%s), published %s\n", s.Title, hostOf(s.URL), s.URL, orUnknown(s.Published))
		}
		return sb.String()
	case SectionAnalysis, SectionImplications:
		// Densest blocks first: deep-dive notes carry the sharpest detail.
		ordered := append([]Source(nil), sources...)
		for i, j := 0, 0; i < len(ordered); i++ {
			if ordered[i].IsCuriosity {
				ordered[i], ordered[j] = ordered[j], ordered[i]
				j++
			}
		}
		return joinSourceBlocks(ordered, 12000)
	default:
		return joinSourceBlocks(sources, 12000)
	}
}

func joinSourceBlocks(sources []Source, charLimit int) string {
	if len(sources) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, s := range sources {
		block := fmt.Sprintf("From %s (%s):\n%s\n\n", s.Title, s.URL, s.Content)
		if sb.Len()+len(block) > charLimit {
			break
		}
		sb.WriteString(block)
	}
	if sb.Len() == 0 {
		return clipText(fmt.Sprintf("From %s (%s):\n%s", sources[0].Title, sources[0].URL, sources[0].Content), charLimit)
	}
	return strings.TrimSpace(sb.String())
}

var (
	refusalRe  = regexp.MustCompile(`(?i)^(i can('|no)t|i('m| am) (unable|sorry)|as an ai)`)
	preambleRe = regexp.MustCompile(`(?i)^(sure|certainly|here('s| is)|okay)\b[^\n]*\n+`)
)

// SanitizeSynthesis strips model chrome from a generated section: leading
// preamble lines, an echoed section heading, and code fences. A refusal or
// an empty remainder returns "" so the caller falls back to the template.
func SanitizeSynthesis(text, section string) string {
	body := strings.TrimSpace(text)
	if refusalRe.MatchString(body) {
		return ""
	}
	body = preambleRe.ReplaceAllString(body, "")
	body = strings.TrimPrefix(body, "```markdown\n")
	body = strings.TrimPrefix(body, "```\n")
	body = strings.TrimSuffix(body, "\n```")
	for _, prefix := range []string{"## " + section, "# " + section, "**" + section + "**", section + ":"} {
		if strings.HasPrefix(body, prefix) {
			body = strings.TrimSpace(strings.TrimPrefix(body, prefix))
			break
		}
	}
	return strings.TrimSpace(body)
}

// templateSection produces a minimal citation-bearing section when the model
// cannot. Every fallback still links its sources so the citation floor holds.
func templateSection(section string, state *State, sources []Source) string {
	var sb strings.Builder
	switch section {
	case SectionIntroduction:
		fmt.Fprintf(&sb, "This document surveys %s based on %d gathered sources.", state.Topic(), len(sources))
	case SectionConclusion:
		fmt.Fprintf(&sb, "The gathered material on %s is summarized in the sections above.", state.Topic())
	default:
		fmt.Fprintf(&sb, "Findings on %s drawn from the gathered sources:", state.Topic())
	}
	sb.WriteString("\n")
	count := 0
	for _, s := range sources {
		if count == 5 {
			break
		}
		first := firstSentence(s.Content)
		if first == "" {
			continue
		}
		fmt.Fprintf(&sb, "\n- %s ([%s](%s))", first, hostOf(s.URL), s.URL)
		count++
	}
	if count == 0 {
		sb.WriteString("\nNo usable source material was gathered for this section.")
	}
	return sb.String()
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-* "))
		if len(line) < 20 {
			continue
		}
		if idx := strings.IndexAny(line, ".!?"); idx > 20 {
			return line[:idx+1]
		}
		return line
	}
	return ""
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}

// SynthesizeThesis produces the one-paragraph thesis that anchors every
// section prompt.
func (a *Agent) SynthesizeThesis(ctx context.Context, state *State, sources []Source) (string, error) {
	themes := TopThemes(sources, 5)
	prompt := fmt.Sprintf(
		"Based on research notes about %s covering themes (%s), write a single-paragraph thesis statement for a research document. State the central finding directly. No preamble.",
		state.Topic(), strings.Join(themes, ", "))
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.SynthTemperature,
		MaxTokens:   256,
	})
	if err != nil {
		return fmt.Sprintf("This document examines %s across %d sources.", state.Topic(), len(sources)), nil
	}
	thesis := SanitizeSynthesis(resp.Text, "Thesis")
	if thesis == "" {
		thesis = fmt.Sprintf("This document examines %s across %d sources.", state.Topic(), len(sources))
	}
	return thesis, nil
}
