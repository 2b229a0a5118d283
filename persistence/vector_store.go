package persistence

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/lexcodex/deepresearch/research"
)

// indexedNote is one ingested note block with its term-frequency vector.
type indexedNote struct {
	id       string
	content  string
	metadata map[string]interface{}
	vector   map[string]float64
}

// InMemoryVectorStore indexes note blocks with a TF/cosine model and serves
// the retrieval side of synthesis and revision. It implements both
// research.KnowledgeBase and research.Ingestor; the math is deliberately
// simple so a real embedding backend can replace it without touching the
// pipeline.
type InMemoryVectorStore struct {
	mu    sync.RWMutex
	notes map[string]indexedNote
}

// NewInMemoryVectorStore returns a ready-to-use store.
func NewInMemoryVectorStore() *InMemoryVectorStore {
	return &InMemoryVectorStore{notes: make(map[string]indexedNote)}
}

// Ingest encodes and stores a note block. Re-ingesting an id replaces it.
func (s *InMemoryVectorStore) Ingest(ctx context.Context, id, content string, metadata map[string]interface{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if id == "" {
		return errors.New("note id required")
	}
	note := indexedNote{id: id, content: content, metadata: metadata, vector: embed(content)}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[id] = note
	return nil
}

// Search returns the k note blocks closest to the query by cosine
// similarity. Notes sharing no vocabulary with the query are not returned.
func (s *InMemoryVectorStore) Search(ctx context.Context, query string, k int) ([]research.KBResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if k <= 0 {
		k = 5
	}
	qVec := embed(query)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []research.KBResult
	for _, note := range s.notes {
		score := cosineSimilarity(qVec, note.vector)
		if score == 0 {
			continue
		}
		results = append(results, research.KBResult{Content: note.content, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Delete removes a note block by id.
func (s *InMemoryVectorStore) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, id)
	return nil
}

// embedStopwords never discriminate between research notes, so they are
// excluded from the vectors.
var embedStopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "to": true, "is": true, "was": true, "for": true,
	"with": true, "by": true, "at": true, "it": true, "its": true, "as": true,
	"that": true, "this": true, "from": true,
}

// embed tokenizes text into a lowercase term-frequency vector.
func embed(text string) map[string]float64 {
	vector := make(map[string]float64)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		token = strings.Trim(token, ".,;:!?()[]\"'`*#")
		if len(token) < 2 || embedStopwords[token] {
			continue
		}
		vector[token]++
	}
	return vector
}

// cosineSimilarity measures the angle between vectors, returning higher
// scores for notes that share more vocabulary with the query.
func cosineSimilarity(a, b map[string]float64) float64 {
	var dot, normA, normB float64
	for term, weight := range a {
		dot += weight * b[term]
		normA += weight * weight
	}
	for _, weight := range b {
		normB += weight * weight
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
