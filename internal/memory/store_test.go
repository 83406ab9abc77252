package memory

import (
	"context"
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil, nil)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestCreateAndGetDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ConversationID: "conv-1",
		Text:           "the quarterly roadmap covers retrieval and caching",
		Metadata: Metadata{
			Kind:        "note",
			ContentType: ContentFull,
			Category:    "planning",
			ShouldIndex: true,
		},
	}
	if err := store.CreateDocument(ctx, doc, []float32{0.1, 0.2, 0.3}); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if doc.ID == "" {
		t.Fatal("expected an assigned id")
	}
	if doc.Metadata.TokenCount == 0 {
		t.Error("expected a token count estimate")
	}

	got, err := store.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get document: %v", err)
	}
	if got == nil {
		t.Fatal("document not found")
	}
	if got.Text != doc.Text {
		t.Errorf("text mismatch: got %q", got.Text)
	}
	if got.Metadata.Category != "planning" {
		t.Errorf("category mismatch: got %q", got.Metadata.Category)
	}
}

func TestGetDocumentCachesPointer(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Text: "cached", Metadata: Metadata{ContentType: ContentFull}}
	if err := store.CreateDocument(ctx, doc, nil); err != nil {
		t.Fatalf("create document: %v", err)
	}

	a, err := store.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("first get: %v", err)
	}
	b, err := store.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("second get: %v", err)
	}
	if a != b {
		t.Error("expected repeated reads within the TTL to return the cached pointer")
	}
}

func TestGetDocumentMissing(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.GetDocumentByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for missing document, got %+v", doc)
	}
}

func TestDeleteDocumentRemovesMemory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Text: "remember this", Metadata: Metadata{ContentType: ContentMemory}}
	if err := store.CreateDocument(ctx, doc, nil); err != nil {
		t.Fatalf("create document: %v", err)
	}
	mem := &Memory{Name: "a fact", DocumentID: doc.ID}
	if err := store.CreateMemory(ctx, mem); err != nil {
		t.Fatalf("create memory: %v", err)
	}

	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	got, err := store.GetDocumentByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if got != nil {
		t.Error("document survived delete")
	}
	m, err := store.GetMemoryByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get memory after delete: %v", err)
	}
	if m != nil {
		t.Error("memory survived document delete")
	}
}

func TestDeleteDocumentsBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		doc := &Document{
			SourceID: "handbook",
			Text:     "section text",
			Metadata: Metadata{ContentType: ContentChunk, ShouldIndex: true},
		}
		if err := store.CreateDocument(ctx, doc, nil); err != nil {
			t.Fatalf("create document: %v", err)
		}
	}
	other := &Document{SourceID: "other", Text: "keep me", Metadata: Metadata{ContentType: ContentFull}}
	if err := store.CreateDocument(ctx, other, nil); err != nil {
		t.Fatalf("create document: %v", err)
	}

	n, err := store.DeleteDocumentsBySource(ctx, "handbook")
	if err != nil {
		t.Fatalf("delete by source: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d documents, want 3", n)
	}

	kept, err := store.GetDocumentByID(ctx, other.ID)
	if err != nil {
		t.Fatalf("get surviving document: %v", err)
	}
	if kept == nil {
		t.Error("document from another source was deleted")
	}
}

func TestCreateErrorDocument(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.CreateErrorDocument(context.Background(), "conv-1", "web_fetch", "connection refused")
	if err != nil {
		t.Fatalf("create error document: %v", err)
	}
	if doc.Metadata.Kind != "error" {
		t.Errorf("kind = %q, want error", doc.Metadata.Kind)
	}
	if doc.Metadata.ShouldIndex {
		t.Error("error documents must not be indexed")
	}
}

func TestMutationHook(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var notified []string
	store.OnMutation(func(convID string) { notified = append(notified, convID) })

	doc := &Document{ConversationID: "conv-9", Text: "hi", Metadata: Metadata{ContentType: ContentFull}}
	if err := store.CreateDocument(ctx, doc, nil); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := store.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("delete document: %v", err)
	}

	if len(notified) != 2 {
		t.Fatalf("hook ran %d times, want 2", len(notified))
	}
	for _, conv := range notified {
		if conv != "conv-9" {
			t.Errorf("hook got conversation %q, want conv-9", conv)
		}
	}
}

func TestMemoryLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{Text: "prefers dark mode", Metadata: Metadata{ContentType: ContentMemory}}
	if err := store.CreateDocument(ctx, doc, nil); err != nil {
		t.Fatalf("create document: %v", err)
	}

	mem := &Memory{Name: "ui preference", DocumentID: doc.ID}
	if err := store.CreateMemory(ctx, mem); err != nil {
		t.Fatalf("create memory: %v", err)
	}
	if mem.ID == "" {
		t.Fatal("expected an assigned memory id")
	}

	got, err := store.GetMemoryByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got == nil || got.ID != mem.ID {
		t.Fatalf("got %+v, want memory %s", got, mem.ID)
	}

	missing, err := store.GetMemoryByDocumentID(ctx, "no-such-doc")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for document without a memory")
	}

	if err := store.LinkMemoryToConversation(ctx, mem.ID, "conv-1"); err != nil {
		t.Fatalf("link memory: %v", err)
	}
	// Linking twice is a no-op.
	if err := store.LinkMemoryToConversation(ctx, mem.ID, "conv-1"); err != nil {
		t.Fatalf("relink memory: %v", err)
	}

	mems, err := store.ListMemoriesByConversation(ctx, "conv-1")
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	if len(mems) != 1 || mems[0].ID != mem.ID {
		t.Fatalf("list = %+v, want exactly the linked memory", mems)
	}

	empty, err := store.ListMemoriesByConversation(ctx, "conv-2")
	if err != nil {
		t.Fatalf("list memories: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected no memories for unlinked conversation, got %d", len(empty))
	}
}
