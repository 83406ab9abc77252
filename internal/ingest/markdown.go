// Package ingest imports external content into the document store,
// splitting it into indexed chunks the retrieval engine can find.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
	"github.com/kestrelworks/kestrel-agent/internal/memory"
)

// MarkdownIngester splits markdown into heading-delimited chunks and
// stores each as an indexed document with an embedding.
type MarkdownIngester struct {
	store    *memory.Store
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewMarkdownIngester creates a markdown ingester. A nil embedder skips
// vector indexing; chunks remain lexically searchable.
func NewMarkdownIngester(store *memory.Store, embedder embeddings.Embedder, logger *slog.Logger) *MarkdownIngester {
	return &MarkdownIngester{store: store, embedder: embedder, logger: logger}
}

// Chunk is one heading-delimited section of a markdown source.
type Chunk struct {
	Section     string // slash-joined slug path of enclosing headings
	Category    string // top-level heading slug
	Subcategory string // second-level heading slug, if any
	Text        string
}

// IngestFile reads a markdown file and imports it under the given
// source id. Existing documents from the same source are replaced.
func (m *MarkdownIngester) IngestFile(ctx context.Context, sourceID, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read markdown file: %w", err)
	}
	return m.IngestString(ctx, sourceID, string(content))
}

// IngestString imports markdown content under the given source id.
// Returns the number of chunks stored.
func (m *MarkdownIngester) IngestString(ctx context.Context, sourceID, content string) (int, error) {
	chunks := ParseMarkdown(content)

	if _, err := m.store.DeleteDocumentsBySource(ctx, sourceID); err != nil {
		return 0, fmt.Errorf("clear previous import: %w", err)
	}

	count := 0
	for _, chunk := range chunks {
		var vector []float32
		if m.embedder != nil {
			v, err := m.embedder.Generate(ctx, chunk.Text)
			if err != nil {
				if m.logger != nil {
					m.logger.Warn("embedding failed for chunk, storing without vector",
						"source", sourceID, "section", chunk.Section, "error", err)
				}
			} else {
				vector = v
			}
		}

		doc := &memory.Document{
			SourceID: sourceID,
			Text:     chunk.Text,
			Metadata: memory.Metadata{
				Kind:        "markdown",
				ContentType: memory.ContentChunk,
				Category:    chunk.Category,
				Subcategory: chunk.Subcategory,
				ShouldIndex: true,
			},
		}
		if err := m.store.CreateDocument(ctx, doc, vector); err != nil {
			return count, fmt.Errorf("store chunk %q: %w", chunk.Section, err)
		}
		count++
	}

	if m.logger != nil {
		m.logger.Info("markdown ingested", "source", sourceID, "chunks", count)
	}
	return count, nil
}

// ParseMarkdown splits markdown into chunks delimited by headings of
// level three or shallower. Content before the first heading becomes a
// chunk with an empty section path. Deeper headings stay inside their
// parent chunk.
func ParseMarkdown(content string) []Chunk {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	var chunks []Chunk
	var path [3]string // slugs of the current h1/h2/h3
	var buf strings.Builder

	flush := func() {
		body := strings.TrimSpace(buf.String())
		buf.Reset()
		if body == "" {
			return
		}
		var parts []string
		for _, p := range path {
			if p != "" {
				parts = append(parts, p)
			}
		}
		chunks = append(chunks, Chunk{
			Section:     strings.Join(parts, "/"),
			Category:    path[0],
			Subcategory: path[1],
			Text:        body,
		})
	}

	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		if h, ok := child.(*ast.Heading); ok && h.Level <= 3 {
			flush()
			slug := slugify(nodeText(h, source))
			path[h.Level-1] = slug
			for i := h.Level; i < len(path); i++ {
				path[i] = ""
			}
			continue
		}
		if txt := blockText(child, source); txt != "" {
			buf.WriteString(txt)
			buf.WriteString("\n")
		}
	}
	flush()

	return chunks
}

// nodeText collects the inline text of a node, headings in particular.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering {
			if t, ok := node.(*ast.Text); ok {
				b.Write(t.Segment.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// blockText reassembles a block node's raw source lines, descending
// into containers like lists and block quotes.
func blockText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if entering && node.Type() == ast.TypeBlock {
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(source))
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
