package research

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexcodex/deepresearch/framework"
)

// downModel fails every call, standing in for an unreachable endpoint.
type downModel struct{}

func (downModel) Generate(ctx context.Context, prompt string, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	return nil, fmt.Errorf("model endpoint unreachable")
}

func (downModel) GenerateStream(ctx context.Context, prompt string, opts *framework.LLMOptions) (<-chan string, error) {
	return nil, fmt.Errorf("model endpoint unreachable")
}

func (downModel) Chat(ctx context.Context, messages []framework.Message, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	return nil, fmt.Errorf("model endpoint unreachable")
}

func (downModel) ChatWithTools(ctx context.Context, messages []framework.Message, tools []framework.Tool, opts *framework.LLMOptions) (*framework.LLMResponse, error) {
	return nil, fmt.Errorf("model endpoint unreachable")
}

func TestVerifySubjectPassesNonPersonWithoutJudging(t *testing.T) {
	model := &scriptedModel{}
	model.on("Is the following page content about this exact subject", "no: different subject")
	agent := testAgent(t, model, &fakeSearch{}, &fakeScraper{})

	page := &Page{URL: "https://example.com/amazon", Content: "The river drains a vast basin."}
	verdict := agent.VerifySubject(context.Background(), "Amazon River", nil, page)
	assert.True(t, verdict.SameSubject)
	assert.Empty(t, model.prompts, "non-person subjects never reach the judge")
}

func TestVerifySubjectFallsBackToPatternsWhenJudgeDown(t *testing.T) {
	agent := testAgent(t, &scriptedModel{}, &fakeSearch{}, &fakeScraper{})
	agent.Model = downModel{}
	profile := &PersonProfile{Occupation: "engineer"}

	match := &Page{URL: "https://news.example.com/item", Content: "An interview with Joe Smith about bridges."}
	verdict := agent.VerifySubject(context.Background(), "Joe Smith", profile, match)
	assert.True(t, verdict.SameSubject)

	stranger := &Page{URL: "https://people.example.com/david-smith-profile/", Content: "A profile of a sculptor."}
	verdict = agent.VerifySubject(context.Background(), "Joe Smith", profile, stranger)
	assert.False(t, verdict.SameSubject)
}

func TestPatternFallbackVerdicts(t *testing.T) {
	namesake := &Page{URL: "https://people.example.com/david-smith-profile/", Content: "A profile of a sculptor."}
	assert.False(t, patternFallback("Joe Smith", namesake).SameSubject)

	inURL := &Page{URL: "https://example.com/joe-smith-interview", Content: "An engineer discusses bridges."}
	assert.True(t, patternFallback("Joe Smith", inURL).SameSubject)

	profileSite := &Page{URL: "https://github.com/jsmith", Content: "Repositories and contribution graph."}
	assert.True(t, patternFallback("Joe Smith", profileSite).SameSubject)

	unrelated := &Page{URL: "https://example.com/gardening", Content: "How to prune roses in spring."}
	assert.False(t, patternFallback("Joe Smith", unrelated).SameSubject)

	singleWord := &Page{URL: "https://example.com/anything", Content: "No names here."}
	assert.True(t, patternFallback("Cher", singleWord).SameSubject)
}
