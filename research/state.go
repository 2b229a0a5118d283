package research

import (
	"sort"

	"github.com/lexcodex/deepresearch/framework"
)

// PersonProfile is built once when the subject is detected to be a person and
// consumed by ranking and disambiguation.
type PersonProfile struct {
	Occupation     string   `json:"occupation,omitempty"`
	LifeStatus     string   `json:"life_status,omitempty"`
	ApproximateAge int      `json:"approximate_age,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
}

// State is the single context threaded through every phase. It is owned by
// the runner: only the currently executing phase produces changes, and only
// through the Delta it returns, which the runner merges after the phase
// function completes.
type State struct {
	Messages []framework.Message `json:"messages"`

	UserPrompt    string `json:"user_prompt"`
	ResearchTopic string `json:"research_topic"`
	CleanTopic    string `json:"clean_topic"`

	SearchQueries []string `json:"search_queries"`

	DocumentPath string `json:"document_path"`
	NotesPath    string `json:"notes_path"`

	ScrapedURLs     map[string]bool `json:"scraped_urls"`
	SectionsWritten []string        `json:"sections_written"`

	ThesisStatement string   `json:"thesis_statement"`
	ReviewNotes     []string `json:"review_notes"`

	CurrentPhase Phase `json:"current_phase"`

	SubjectType   string         `json:"subject_type,omitempty"`
	PersonProfile *PersonProfile `json:"person_profile,omitempty"`

	RAGLoaded bool   `json:"rag_loaded"`
	Error     string `json:"error,omitempty"`
}

// NewState seeds a run from the raw user prompt.
func NewState(userPrompt string) *State {
	return &State{
		UserPrompt:  userPrompt,
		ScrapedURLs: make(map[string]bool),
	}
}

// Delta is a partial state update returned by a phase. Nil fields leave the
// corresponding State field untouched; merge semantics are append for
// Messages/ReviewNotes, union for ScrapedURLs, and replace for everything
// else. A phase can therefore never erase a field it did not set.
type Delta struct {
	AppendMessages []framework.Message

	ResearchTopic *string
	CleanTopic    *string

	SearchQueries []string

	DocumentPath *string
	NotesPath    *string

	AddScrapedURLs  []string
	SectionsWritten []string

	ThesisStatement *string

	AppendReviewNotes []string
	ClearReviewNotes  bool

	SubjectType   *string
	PersonProfile *PersonProfile

	RAGLoaded *bool
	Error     *string
}

// Merge applies a delta and returns the next state. The receiver is not
// mutated: phases observe a stable state for their whole execution and the
// runner swaps in the merged result afterwards.
func (s *State) Merge(d *Delta) *State {
	next := s.clone()
	if d == nil {
		return next
	}
	next.Messages = append(next.Messages, d.AppendMessages...)
	if d.ResearchTopic != nil {
		next.ResearchTopic = *d.ResearchTopic
	}
	if d.CleanTopic != nil {
		next.CleanTopic = *d.CleanTopic
	}
	if d.SearchQueries != nil {
		next.SearchQueries = append([]string(nil), d.SearchQueries...)
	}
	if d.DocumentPath != nil {
		next.DocumentPath = *d.DocumentPath
	}
	if d.NotesPath != nil {
		next.NotesPath = *d.NotesPath
	}
	for _, u := range d.AddScrapedURLs {
		next.ScrapedURLs[u] = true
	}
	if d.SectionsWritten != nil {
		next.SectionsWritten = append([]string(nil), d.SectionsWritten...)
	}
	if d.ThesisStatement != nil {
		next.ThesisStatement = *d.ThesisStatement
	}
	if d.ClearReviewNotes {
		next.ReviewNotes = nil
	}
	next.ReviewNotes = append(next.ReviewNotes, d.AppendReviewNotes...)
	if d.SubjectType != nil {
		next.SubjectType = *d.SubjectType
	}
	if d.PersonProfile != nil {
		next.PersonProfile = d.PersonProfile
	}
	if d.RAGLoaded != nil {
		next.RAGLoaded = *d.RAGLoaded
	}
	if d.Error != nil {
		next.Error = *d.Error
	}
	return next
}

func (s *State) clone() *State {
	next := *s
	next.Messages = append([]framework.Message(nil), s.Messages...)
	next.SearchQueries = append([]string(nil), s.SearchQueries...)
	next.SectionsWritten = append([]string(nil), s.SectionsWritten...)
	next.ReviewNotes = append([]string(nil), s.ReviewNotes...)
	next.ScrapedURLs = make(map[string]bool, len(s.ScrapedURLs))
	for k, v := range s.ScrapedURLs {
		next.ScrapedURLs[k] = v
	}
	if s.PersonProfile != nil {
		profile := *s.PersonProfile
		profile.Aliases = append([]string(nil), s.PersonProfile.Aliases...)
		next.PersonProfile = &profile
	}
	return &next
}

// ScrapedList returns the scraped URLs in deterministic order.
func (s *State) ScrapedList() []string {
	urls := make([]string, 0, len(s.ScrapedURLs))
	for u := range s.ScrapedURLs {
		urls = append(urls, u)
	}
	sort.Strings(urls)
	return urls
}

// Topic returns the best available search topic.
func (s *State) Topic() string {
	if s.CleanTopic != "" {
		return s.CleanTopic
	}
	if s.ResearchTopic != "" {
		return s.ResearchTopic
	}
	return s.UserPrompt
}

// strPtr is a small helper for building deltas.
func strPtr(s string) *string { return &s }

func boolPtr(b bool) *bool { return &b }
