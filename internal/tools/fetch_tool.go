package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
	"github.com/kestrelworks/kestrel-agent/internal/fetch"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// FetchInput is the payload for the web_fetch tool.
type FetchInput struct {
	URL      string `json:"url" jsonschema_description:"The URL to download."`
	MaxChars int    `json:"max_chars,omitempty" jsonschema_description:"Truncate extracted text to this many characters."`
}

var fetchSchema = GenerateSchema[FetchInput]()

// WebFetchTool downloads a page, extracts its readable text, and
// persists it as an indexed document so later recalls can find it.
type WebFetchTool struct {
	fetcher  *fetch.Fetcher
	store    *memory.Store
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewWebFetchTool creates the web_fetch tool.
func NewWebFetchTool(fetcher *fetch.Fetcher, store *memory.Store, embedder embeddings.Embedder, logger *slog.Logger) *WebFetchTool {
	return &WebFetchTool{fetcher: fetcher, store: store, embedder: embedder, logger: logger}
}

func (t *WebFetchTool) Name() string { return "web_fetch" }

func (t *WebFetchTool) Description() string {
	return "Download a web page and extract its readable text."
}

func (t *WebFetchTool) Actions() []ActionSpec {
	return []ActionSpec{
		{Name: "fetch", Description: "Download a URL and return its readable text.", Schema: fetchSchema},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, action string, payload map[string]any) (*memory.Document, error) {
	if action != "fetch" {
		return nil, ValidationError(
			fmt.Sprintf("unknown action %q for tool %q", action, t.Name()),
			map[string]any{"tool": t.Name(), "action": action})
	}

	rawURL, _ := payload["url"].(string)
	maxChars := intField(payload, "max_chars", 0)

	page, err := t.fetcher.Fetch(ctx, rawURL, maxChars)
	if err != nil {
		return nil, NewError(ErrTypeExternalService, err.Error(), map[string]any{"url": rawURL})
	}
	if page.StatusCode == http.StatusTooManyRequests {
		return nil, NewError(ErrTypeRateLimit,
			fmt.Sprintf("%s answered 429", page.URL),
			map[string]any{"url": page.URL})
	}
	if page.StatusCode >= 400 {
		return nil, NewError(ErrTypeExternalService,
			fmt.Sprintf("%s answered %d", page.URL, page.StatusCode),
			map[string]any{"url": page.URL, "status": page.StatusCode})
	}

	var vector []float32
	if t.embedder != nil {
		if v, embErr := t.embedder.Generate(ctx, page.Text); embErr == nil {
			vector = v
		} else if t.logger != nil {
			t.logger.Warn("page stored without embedding", "url", page.URL, "error", embErr)
		}
	}

	text := page.Text
	if page.Title != "" {
		text = page.Title + "\n\n" + text
	}
	doc := &memory.Document{
		SourceID:       page.URL,
		ConversationID: ConversationIDFromContext(ctx),
		Text:           text,
		Metadata: memory.Metadata{
			Kind:        "webpage",
			ContentType: memory.ContentFull,
			ShouldIndex: true,
		},
	}
	if err := t.store.CreateDocument(ctx, doc, vector); err != nil {
		return nil, Classify(fmt.Errorf("store fetched page: %w", err))
	}
	return doc, nil
}
