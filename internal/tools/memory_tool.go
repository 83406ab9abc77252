package tools

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
	"github.com/kestrelworks/kestrel-agent/internal/retrieval"
)

// RecallInput is the payload for the memory tool's recall action.
type RecallInput struct {
	Query       string `json:"query" jsonschema_description:"What to search memory for."`
	ContentType string `json:"content_type,omitempty" jsonschema_description:"Restrict to one content type: chunk, full, or memory."`
	Category    string `json:"category,omitempty" jsonschema_description:"Restrict to one category."`
	Limit       int    `json:"limit,omitempty" jsonschema_description:"Maximum results (default 5)."`
}

// SaveInput is the payload for the memory tool's save action.
type SaveInput struct {
	Name     string `json:"name" jsonschema_description:"Short name for the memory."`
	Text     string `json:"text" jsonschema_description:"The content to remember."`
	Category string `json:"category,omitempty" jsonschema_description:"Optional category."`
}

var (
	recallSchema = GenerateSchema[RecallInput]()
	saveSchema   = GenerateSchema[SaveInput]()
)

// MemoryTool gives the agent recall over past documents and the
// ability to save new memories. Recall is best-effort: a failing
// search yields an empty result, never an error.
type MemoryTool struct {
	engine   *retrieval.Engine
	store    *memory.Store
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewMemoryTool creates the memory tool.
func NewMemoryTool(engine *retrieval.Engine, store *memory.Store, embedder embeddings.Embedder, logger *slog.Logger) *MemoryTool {
	return &MemoryTool{engine: engine, store: store, embedder: embedder, logger: logger}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "Search previously stored documents and memories, or save a new memory."
}

func (t *MemoryTool) Actions() []ActionSpec {
	return []ActionSpec{
		{Name: "recall", Description: "Search stored documents and memories.", Schema: recallSchema},
		{Name: "save", Description: "Store a new named memory.", Schema: saveSchema},
	}
}

func (t *MemoryTool) Execute(ctx context.Context, action string, payload map[string]any) (*memory.Document, error) {
	switch action {
	case "recall":
		return t.recall(ctx, payload)
	case "save":
		return t.save(ctx, payload)
	default:
		return nil, ValidationError(
			fmt.Sprintf("unknown action %q for tool %q", action, t.Name()),
			map[string]any{"tool": t.Name(), "action": action})
	}
}

func (t *MemoryTool) recall(ctx context.Context, payload map[string]any) (*memory.Document, error) {
	query, _ := payload["query"].(string)
	limit := intField(payload, "limit", 5)

	filters := memory.Filters{
		ConversationID: ConversationIDFromContext(ctx),
	}
	if ct, _ := payload["content_type"].(string); ct != "" {
		filters.ContentType = memory.ContentType(ct)
	}
	if cat, _ := payload["category"].(string); cat != "" {
		filters.Category = cat
	}

	results, err := t.engine.Search(ctx, retrieval.Request{
		VectorQuery:  query,
		LexicalQuery: query,
		Filters:      filters,
		Limit:        limit,
	})
	if err != nil {
		// Recall feeds the model context, so a broken search backend
		// degrades to "nothing found" instead of failing the call.
		if t.logger != nil {
			t.logger.Warn("memory recall degraded to empty", "query", query, "error", err)
		}
		results = nil
	}

	return &memory.Document{
		ConversationID: filters.ConversationID,
		Text:           formatRecall(query, results),
		Metadata: memory.Metadata{
			Kind:        "recall",
			ContentType: memory.ContentFull,
			ShouldIndex: false,
		},
	}, nil
}

func (t *MemoryTool) save(ctx context.Context, payload map[string]any) (*memory.Document, error) {
	name, _ := payload["name"].(string)
	text, _ := payload["text"].(string)
	category, _ := payload["category"].(string)
	conversationID := ConversationIDFromContext(ctx)

	var vector []float32
	if t.embedder != nil {
		if v, err := t.embedder.Generate(ctx, text); err == nil {
			vector = v
		} else if t.logger != nil {
			t.logger.Warn("memory saved without embedding", "name", name, "error", err)
		}
	}

	doc := &memory.Document{
		ConversationID: conversationID,
		Text:           text,
		Metadata: memory.Metadata{
			Kind:        "memory",
			ContentType: memory.ContentMemory,
			Category:    category,
			ShouldIndex: true,
		},
	}
	if err := t.store.CreateDocument(ctx, doc, vector); err != nil {
		return nil, Classify(fmt.Errorf("save memory document: %w", err))
	}

	mem := &memory.Memory{Name: name, DocumentID: doc.ID}
	if err := t.store.CreateMemory(ctx, mem); err != nil {
		return nil, Classify(fmt.Errorf("save memory: %w", err))
	}
	if conversationID != "" {
		if err := t.store.LinkMemoryToConversation(ctx, mem.ID, conversationID); err != nil {
			return nil, Classify(fmt.Errorf("link memory: %w", err))
		}
	}
	return doc, nil
}

// RecentContext supplies the memories linked to the conversation as a
// just-in-time document. Failures become an error document so the
// reasoning loop always has something concrete to hand the model.
func (t *MemoryTool) RecentContext(ctx context.Context, conversationID string) (*memory.Document, error) {
	mems, err := t.store.ListMemoriesByConversation(ctx, conversationID)
	if err != nil {
		return t.store.CreateErrorDocument(ctx, conversationID, t.Name(), err.Error())
	}

	var b strings.Builder
	if len(mems) == 0 {
		b.WriteString("No memories are linked to this conversation yet.")
	} else {
		b.WriteString("Memories linked to this conversation:\n")
		for _, m := range mems {
			doc, err := t.store.GetDocumentByID(ctx, m.DocumentID)
			if err != nil || doc == nil {
				continue
			}
			fmt.Fprintf(&b, "- %s: %s\n", m.Name, doc.Text)
		}
	}

	return &memory.Document{
		ConversationID: conversationID,
		Text:           b.String(),
		Metadata: memory.Metadata{
			Kind:        "memory_context",
			ContentType: memory.ContentFull,
			ShouldIndex: false,
		},
	}, nil
}

func formatRecall(query string, results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No stored documents matched %q.", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Documents matching %q:\n", query)
	for i, r := range results {
		label := r.Document.Metadata.Kind
		if r.Memory != nil {
			label = "memory: " + r.Memory.Name
		}
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, label, r.Document.Text)
	}
	return b.String()
}

// intField reads an integer payload field that JSON decoding may have
// delivered as float64.
func intField(payload map[string]any, key string, fallback int) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}
