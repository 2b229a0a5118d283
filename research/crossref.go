package research

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/lexcodex/deepresearch/framework"
)

// CrossRefVerdict records whether a scraped page is actually about the
// research subject, and why it was rejected when it is not.
type CrossRefVerdict struct {
	SameSubject bool
	Reason      string
}

// VerifySubject judges whether a page's content is about the research
// subject. Name collisions are a person-subject problem, so pages for
// non-person subjects pass without any check. The LLM judge sees only an
// excerpt; when it is unreachable the pattern fallback takes over, so a dead
// model endpoint degrades to a looser filter rather than blocking the gather
// phase.
func (a *Agent) VerifySubject(ctx context.Context, topic string, profile *PersonProfile, page *Page) CrossRefVerdict {
	if profile == nil {
		return CrossRefVerdict{SameSubject: true}
	}
	if verdict, decisive := patternVerdict(topic, page); decisive {
		return verdict
	}
	excerpt := clipText(page.Content, a.Config.Scrape.CrossRefExcerpt)
	prompt := buildCrossRefPrompt(topic, profile, page.URL, excerpt)
	resp, err := a.Model.Generate(ctx, prompt, &framework.LLMOptions{
		Model:       a.Config.Model.Name,
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		a.Logger.Warn("cross-ref judge unavailable, using pattern fallback",
			zap.String("url", page.URL), zap.Error(err))
		return patternFallback(topic, page)
	}
	answer := strings.ToLower(strings.TrimSpace(resp.Text))
	switch {
	case strings.HasPrefix(answer, "yes"):
		return CrossRefVerdict{SameSubject: true}
	case strings.HasPrefix(answer, "no"):
		reason := strings.TrimSpace(strings.TrimPrefix(answer, "no"))
		reason = strings.Trim(reason, ".:,- ")
		if reason == "" {
			reason = "judge rejected subject match"
		}
		return CrossRefVerdict{SameSubject: false, Reason: reason}
	default:
		// Ambiguous judge output counts as acceptance; the quality gates
		// and citation checks downstream still apply.
		return CrossRefVerdict{SameSubject: true, Reason: "ambiguous judge output"}
	}
}

func buildCrossRefPrompt(topic string, profile *PersonProfile, url, excerpt string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research subject: %s\n", topic)
	if profile != nil {
		if profile.Occupation != "" {
			fmt.Fprintf(&sb, "Known occupation: %s\n", profile.Occupation)
		}
		if profile.LifeStatus != "" {
			fmt.Fprintf(&sb, "Life status: %s\n", profile.LifeStatus)
		}
		if profile.ApproximateAge > 0 {
			fmt.Fprintf(&sb, "Approximate age: %d\n", profile.ApproximateAge)
		}
	}
	fmt.Fprintf(&sb, "Page URL: %s\n\n", url)
	sb.WriteString("Is the following page content about this exact subject, and not a different person, place, or thing with a similar name?\n")
	sb.WriteString("Answer `yes` or `no: <short reason>` only.\n\n")
	sb.WriteString(excerpt)
	return sb.String()
}

var urlNameSlugRe = regexp.MustCompile(`/([a-z]+(?:-[a-z]+)+)(?:-profile|-bio|-biography)?/?$`)

// patternVerdict applies cheap deterministic checks before the LLM judge.
// The decisive rejection it can make on its own: the URL slug names a person
// whose surname matches the subject but whose given name does not, e.g. a
// /david-smith-profile/ page when researching Joe Smith.
func patternVerdict(topic string, page *Page) (CrossRefVerdict, bool) {
	topicWords := strings.Fields(strings.ToLower(strings.TrimSpace(topic)))
	if len(topicWords) != 2 {
		return CrossRefVerdict{}, false
	}
	first, last := topicWords[0], topicWords[1]
	m := urlNameSlugRe.FindStringSubmatch(strings.ToLower(page.URL))
	if m == nil {
		return CrossRefVerdict{}, false
	}
	slugParts := strings.Split(m[1], "-")
	if len(slugParts) < 2 {
		return CrossRefVerdict{}, false
	}
	slugFirst, slugLast := slugParts[0], slugParts[1]
	if slugLast == last && slugFirst != first {
		return CrossRefVerdict{
			SameSubject: false,
			Reason:      fmt.Sprintf("url names a different person: %s %s", slugFirst, slugLast),
		}, true
	}
	return CrossRefVerdict{}, false
}

// profileSiteHosts are hosting domains where a name-bearing page is weak
// positive evidence on its own.
var profileSiteHosts = map[string]bool{
	"github.com":    true,
	"linkedin.com":  true,
	"twitter.com":   true,
	"x.com":         true,
	"facebook.com":  true,
	"instagram.com": true,
	"medium.com":    true,
}

// patternFallback decides a person-subject page without the LLM judge. The
// full name appearing in the content or the URL passes, as does a known
// profile-hosting site; a same-surname slug with a different given name
// rejects; single-word subjects pass unfiltered.
func patternFallback(topic string, page *Page) CrossRefVerdict {
	if verdict, decisive := patternVerdict(topic, page); decisive {
		return verdict
	}
	words := strings.Fields(strings.ToLower(strings.TrimSpace(topic)))
	if len(words) < 2 {
		return CrossRefVerdict{SameSubject: true, Reason: "single-word subject"}
	}
	fullName := strings.Join(words, " ")
	if strings.Contains(strings.ToLower(page.Content), fullName) {
		return CrossRefVerdict{SameSubject: true, Reason: "full name in content"}
	}
	if strings.Contains(strings.ToLower(page.URL), strings.Join(words, "-")) {
		return CrossRefVerdict{SameSubject: true, Reason: "full name in url"}
	}
	host := strings.TrimPrefix(hostOf(page.URL), "www.")
	if profileSiteHosts[host] {
		return CrossRefVerdict{SameSubject: true, Reason: "profile site"}
	}
	return CrossRefVerdict{SameSubject: false, Reason: "full name absent from content and url"}
}
