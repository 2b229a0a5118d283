package persistence

import (
	"context"
	"testing"
)

// TestInMemoryVectorStore exercises ingest/search/delete to ensure the TF
// model ranks vocabulary overlap as expected.
func TestInMemoryVectorStore(t *testing.T) {
	store := NewInMemoryVectorStore()
	ctx := context.Background()

	notes := map[string]string{
		"1": "Ada Lovelace published the first machine algorithm",
		"2": "deep sea mining regulation under the seabed authority",
		"3": "Lovelace's algorithm computed Bernoulli numbers",
	}
	for id, content := range notes {
		if err := store.Ingest(ctx, id, content, map[string]interface{}{"source": "test"}); err != nil {
			t.Fatalf("ingest note %s: %v", id, err)
		}
	}

	results, err := store.Search(ctx, "Bernoulli numbers algorithm", 2)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) == 0 {
		t.Fatalf("expected at least one result")
	}
	if results[0].Content != notes["3"] {
		t.Fatalf("expected the Bernoulli note to rank first, got %+v", results[0])
	}

	results, err = store.Search(ctx, "quantum chromodynamics", 2)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("disjoint vocabulary should return nothing, got %d results", len(results))
	}

	if err := store.Delete(ctx, "1"); err != nil {
		t.Fatalf("delete error: %v", err)
	}
	results, err = store.Search(ctx, "Ada Lovelace machine", 5)
	if err != nil {
		t.Fatalf("search error: %v", err)
	}
	for _, r := range results {
		if r.Content == notes["1"] {
			t.Fatalf("deleted note still returned")
		}
	}
}

func TestEmbedSkipsStopwords(t *testing.T) {
	vec := embed("The engine and the notes, of 1843.")
	if _, ok := vec["the"]; ok {
		t.Fatalf("stopword survived embedding: %v", vec)
	}
	if vec["engine"] != 1 || vec["notes"] != 1 || vec["1843"] != 1 {
		t.Fatalf("content words missing: %v", vec)
	}
}
