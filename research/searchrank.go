package research

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// RankedResult is a search result with its relevance score in [0,1].
type RankedResult struct {
	WebResult
	Relevance float64
}

// FilterSearchResults dedupes by URL, drops blacklisted domains, irrelevant
// paths, and already-scraped URLs, scores the remainder by topic-word overlap,
// keeps only results at or above the overlap threshold, and sorts descending.
func FilterSearchResults(results []WebResult, topic string, scraped map[string]bool, cfg SearchConfig) []RankedResult {
	topicWords := topicWordSet(topic)
	seen := make(map[string]bool)
	var ranked []RankedResult
	for _, res := range results {
		if res.URL == "" || seen[res.URL] {
			continue
		}
		seen[res.URL] = true
		if scraped[res.URL] {
			continue
		}
		if IsBlacklistedDomain(res.URL, cfg.BlacklistedDomains) {
			continue
		}
		if IsIrrelevantPath(res.URL, cfg.IrrelevantPathMarkers) {
			continue
		}
		relevance := topicOverlap(topicWords, res.Title+" "+res.Snippet)
		if relevance < cfg.TopicOverlapThreshold {
			continue
		}
		ranked = append(ranked, RankedResult{WebResult: res, Relevance: relevance})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Relevance > ranked[j].Relevance
	})
	return ranked
}

// topicWordSet lowercases and dedupes the meaningful topic words.
func topicWordSet(topic string) []string {
	var words []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(topic)) {
		w = strings.Trim(w, ".,;:!?\"'")
		if len(w) < 3 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

// topicOverlap computes (# topic words present) / (# topic words).
func topicOverlap(topicWords []string, text string) float64 {
	if len(topicWords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	hits := 0
	for _, w := range topicWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(topicWords))
}

var rerankLineRe = regexp.MustCompile(`(?m)^\s*(\d+)\s*[:.]?\s*(0?\.\d+|1\.0|1|0)\s*$`)

// RerankWithLLM asks the model to re-score the top candidates for topical
// fit. Scores outside [0,1] or malformed responses leave the heuristic
// ordering untouched; the reranker can only refine, never break, the list.
func (a *Agent) RerankWithLLM(ctx context.Context, topic string, ranked []RankedResult) []RankedResult {
	limit := a.Config.Search.RerankCandidates
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	if limit == 0 {
		return ranked
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Score each search result for relevance to the topic %q.\n", topic)
	sb.WriteString("Reply with one line per result in the exact form `<number>: <score>` where score is between 0 and 1. No other text.\n\n")
	for i, r := range ranked[:limit] {
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, r.Title, clipText(r.Snippet, 200))
	}
	resp, err := a.Model.Generate(ctx, sb.String(), &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: a.Config.Model.Temperature,
		MaxTokens:   256,
	})
	if err != nil {
		a.Logger.Warn("llm rerank failed, keeping heuristic order", zap.Error(err))
		return ranked
	}
	scores := make(map[int]float64)
	for _, m := range rerankLineRe.FindAllStringSubmatch(resp.Text, -1) {
		idx, err1 := strconv.Atoi(m[1])
		score, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil || idx < 1 || idx > limit || score < 0 || score > 1 {
			continue
		}
		scores[idx-1] = score
	}
	if len(scores) == 0 {
		return ranked
	}
	out := append([]RankedResult(nil), ranked...)
	for i := range out[:limit] {
		if score, ok := scores[i]; ok {
			out[i].Relevance = (out[i].Relevance + score) / 2
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

// AdjustByCrossLinks fetches the outbound link sets of the top candidates and
// grants a bonus proportional to how many of the other candidates each page
// references; a tightly cross-linked cluster signals the right subject. With
// a person profile present, an age-consistency bonus is added. Adjustments
// are additive and clamped so relevance never exceeds 1.0.
func (a *Agent) AdjustByCrossLinks(ctx context.Context, ranked []RankedResult, profile *PersonProfile) []RankedResult {
	limit := a.Config.Search.CrossLinkCandidates
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}
	if limit < 2 {
		return ranked
	}
	hosts := make(map[string]bool, limit)
	for _, r := range ranked[:limit] {
		if h := hostOf(r.URL); h != "" {
			hosts[h] = true
		}
	}
	out := append([]RankedResult(nil), ranked...)
	for i := range out[:limit] {
		page, err := a.Scraper.Scrape(ctx, out[i].URL)
		if err != nil || page == nil {
			continue
		}
		crossRefs := 0
		for _, link := range page.Links {
			if h := hostOf(link); h != "" && hosts[h] && h != hostOf(out[i].URL) {
				crossRefs++
			}
		}
		bonus := 0.05 * float64(crossRefs)
		if bonus > 0.2 {
			bonus = 0.2
		}
		if profile != nil && profile.ApproximateAge > 0 {
			if age := ExtractApproximateAge(page.Content, a.now()); age > 0 {
				diff := age - profile.ApproximateAge
				if diff < 0 {
					diff = -diff
				}
				if diff <= 2 {
					bonus += 0.1
				}
			}
		}
		out[i].Relevance += bonus
		if out[i].Relevance > 1.0 {
			out[i].Relevance = 1.0
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	return out
}

var locationKeywords = []string{
	"city", "river", "mountain", "lake", "island", "country", "province",
	"county", "village", "region", "national park",
}

var subjectTypes = map[string]bool{
	"person": true, "place": true, "organization": true,
	"event": true, "concept": true, "thing": true, "unknown": true,
}

// DetectSubjectType classifies the research subject. Heuristics run first:
// one to three capitalized words look like a person; location keywords mean a
// place. Everything else falls through to a single-word LLM classification.
func (a *Agent) DetectSubjectType(ctx context.Context, topic string) string {
	trimmed := strings.TrimSpace(topic)
	lower := strings.ToLower(trimmed)
	for _, kw := range locationKeywords {
		if strings.Contains(lower, kw) {
			return "place"
		}
	}
	words := strings.Fields(trimmed)
	if len(words) >= 1 && len(words) <= 3 && allCapitalized(words) {
		return "person"
	}
	prompt := fmt.Sprintf(
		"Classify the subject %q as exactly one word from: person, place, organization, event, concept, thing, unknown.\nAnswer with the single word only.",
		trimmed)
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: 0,
		MaxTokens:   8,
	})
	if err != nil {
		a.Logger.Warn("subject classification failed", zap.Error(err))
		return "unknown"
	}
	answer := strings.ToLower(strings.TrimSpace(strings.Trim(resp.Text, ".\"' \n")))
	if subjectTypes[answer] {
		return answer
	}
	return "unknown"
}

func allCapitalized(words []string) bool {
	for _, w := range words {
		r := []rune(w)
		if len(r) == 0 || r[0] < 'A' || r[0] > 'Z' {
			return false
		}
	}
	return true
}

// BuildPersonProfile extracts a light biography profile from early excerpts.
// The profile is consumed by ranking (age consistency) and disambiguation.
func (a *Agent) BuildPersonProfile(ctx context.Context, topic string, excerpts []string) *PersonProfile {
	profile := &PersonProfile{Aliases: nameAliases(topic)}
	joined := strings.Join(excerpts, "\n")
	if age := ExtractApproximateAge(joined, a.now()); age > 0 {
		profile.ApproximateAge = age
	}
	lower := strings.ToLower(joined)
	switch {
	case strings.Contains(lower, "died"), strings.Contains(lower, "late "), strings.Contains(lower, "was a "):
		profile.LifeStatus = "deceased"
	case joined != "":
		profile.LifeStatus = "living"
	}
	prompt := fmt.Sprintf(
		"Based only on these excerpts about %s, state their primary occupation in at most four words. If unclear answer `unknown`.\n\n%s",
		topic, clipText(joined, 2000))
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: 0,
		MaxTokens:   16,
	})
	if err == nil {
		occupation := strings.TrimSpace(strings.Trim(resp.Text, ".\"' \n"))
		if occupation != "" && !strings.EqualFold(occupation, "unknown") && len(strings.Fields(occupation)) <= 6 {
			profile.Occupation = occupation
		}
	}
	return profile
}

// nameAliases derives trivial aliases: full name, first name, last name.
func nameAliases(name string) []string {
	words := strings.Fields(strings.TrimSpace(name))
	if len(words) < 2 {
		return []string{name}
	}
	return []string{name, words[0], words[len(words)-1]}
}

func clipText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
