package memory

import (
	"context"
	"testing"
)

func seedDoc(t *testing.T, store *Store, text, category, convID string, vector []float32) *Document {
	t.Helper()
	doc := &Document{
		ConversationID: convID,
		Text:           text,
		Metadata: Metadata{
			Kind:        "note",
			ContentType: ContentFull,
			Category:    category,
			ShouldIndex: true,
		},
	}
	if err := store.CreateDocument(context.Background(), doc, vector); err != nil {
		t.Fatalf("seed document: %v", err)
	}
	return doc
}

func TestSearchSimilarOrdersByScore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	near := seedDoc(t, store, "close match", "", "", []float32{1, 0, 0})
	mid := seedDoc(t, store, "partial match", "", "", []float32{1, 1, 0})
	far := seedDoc(t, store, "unrelated", "", "", []float32{0, 0, 1})

	hits, err := store.SearchSimilar(ctx, []float32{1, 0, 0}, Filters{}, 10)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("got %d hits, want 3", len(hits))
	}
	want := []string{near.ID, mid.ID, far.ID}
	for i, id := range want {
		if hits[i].DocumentID != id {
			t.Errorf("hit %d = %s, want %s", i, hits[i].DocumentID, id)
		}
	}
	if hits[0].Score <= hits[1].Score || hits[1].Score <= hits[2].Score {
		t.Errorf("scores not descending: %v %v %v", hits[0].Score, hits[1].Score, hits[2].Score)
	}
}

func TestSearchSimilarRespectsLimitAndFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedDoc(t, store, "alpha", "work", "conv-1", []float32{1, 0})
	seedDoc(t, store, "beta", "work", "conv-2", []float32{0.9, 0.1})
	seedDoc(t, store, "gamma", "personal", "conv-1", []float32{0.8, 0.2})

	hits, err := store.SearchSimilar(ctx, []float32{1, 0}, Filters{Category: "work"}, 10)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("category filter: got %d hits, want 2", len(hits))
	}
	for _, h := range hits {
		if h.Category != "work" {
			t.Errorf("hit %s has category %q", h.DocumentID, h.Category)
		}
	}

	hits, err = store.SearchSimilar(ctx, []float32{1, 0}, Filters{}, 1)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("limit: got %d hits, want 1", len(hits))
	}
}

func TestSearchSimilarSkipsUnindexed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	hidden := &Document{
		Text:     "not for search",
		Metadata: Metadata{ContentType: ContentFull, ShouldIndex: false},
	}
	if err := store.CreateDocument(ctx, hidden, []float32{1, 0}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	hits, err := store.SearchSimilar(ctx, []float32{1, 0}, Filters{}, 10)
	if err != nil {
		t.Fatalf("vector search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("unindexed document surfaced in vector search: %+v", hits)
	}
}

func TestSearchLexical(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	match := seedDoc(t, store, "the retrieval engine fuses vector and lexical results", "", "", nil)
	seedDoc(t, store, "completely unrelated gardening advice", "", "", nil)

	hits, err := store.SearchLexical(ctx, "retrieval engine", "", 10)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("got %d hits, want 1", len(hits))
	}
	if hits[0].DocumentID != match.ID {
		t.Errorf("hit = %s, want %s", hits[0].DocumentID, match.ID)
	}
	if hits[0].Snippet == "" {
		t.Error("expected a snippet")
	}
}

func TestSearchLexicalFilterExpr(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	work := seedDoc(t, store, "sprint planning notes", "work", "conv-1", nil)
	seedDoc(t, store, "sprint training plan", "personal", "conv-2", nil)

	hits, err := store.SearchLexical(ctx, "sprint", Filters{Category: "work"}.Expr(), 10)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if len(hits) != 1 || hits[0].DocumentID != work.ID {
		t.Fatalf("filtered hits = %+v, want only %s", hits, work.ID)
	}
}

func TestSearchLexicalBlankQuery(t *testing.T) {
	store := newTestStore(t)

	hits, err := store.SearchLexical(context.Background(), "   ", "", 10)
	if err != nil {
		t.Fatalf("lexical search: %v", err)
	}
	if hits != nil {
		t.Errorf("expected no hits for blank query, got %+v", hits)
	}
}

func TestSearchLexicalRejectsBadFilterExpr(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.SearchLexical(context.Background(), "query", "bogus_key:'x'", 10); err == nil {
		t.Error("expected an error for unknown filter key")
	}
}

func TestFiltersExprRoundTrip(t *testing.T) {
	f := Filters{
		Source:         "note",
		ConversationID: "conv-1",
		ContentType:    ContentChunk,
		Category:       "work",
	}
	got, err := ParseFilterExpr(f.Expr())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := map[string]string{
		"source":          "note",
		"conversation_id": "conv-1",
		"content_type":    "chunk",
		"category":        "work",
	}
	if len(got) != len(want) {
		t.Fatalf("got %d constraints, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

func TestFiltersMatch(t *testing.T) {
	hit := VectorHit{
		DocumentID:     "d1",
		ConversationID: "conv-1",
		Kind:           "note",
		ContentType:    ContentMemory,
		Category:       "work",
	}

	if !(Filters{}).Match(hit) {
		t.Error("empty filters must match everything")
	}
	if !(Filters{Source: "note", ContentType: ContentMemory}).Match(hit) {
		t.Error("matching filters rejected the hit")
	}
	if (Filters{ContentType: ContentChunk}).Match(hit) {
		t.Error("content type mismatch accepted")
	}
	if (Filters{ConversationID: "conv-2"}).Match(hit) {
		t.Error("conversation mismatch accepted")
	}
}
