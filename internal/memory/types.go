// Package memory provides the document and memory store: SQLite-backed
// persistence for the universal content envelope (Document), long-lived
// memories that reference documents, and the vector and lexical search
// backends the hybrid retrieval engine queries.
package memory

import (
	"time"
)

// ContentType classifies a document's body.
type ContentType string

const (
	// ContentChunk is one section of a larger ingested source.
	ContentChunk ContentType = "chunk"
	// ContentFull is a complete standalone document.
	ContentFull ContentType = "full"
	// ContentMemory is the document body of a saved memory.
	ContentMemory ContentType = "memory"
)

// Metadata describes a document without its body.
type Metadata struct {
	Kind        string      `json:"kind,omitempty"` // e.g. "note", "webpage", "markdown"
	ContentType ContentType `json:"content_type"`
	Category    string      `json:"category,omitempty"`
	Subcategory string      `json:"subcategory,omitempty"`
	TokenCount  int         `json:"token_count"`
	ShouldIndex bool        `json:"should_index"`
}

// Document is the universal content envelope passed between the
// reasoning loop and tools.
type Document struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Text           string    `json:"text"`
	Metadata       Metadata  `json:"metadata"`
	CreatedAt      time.Time `json:"created_at"`
}

// Memory is a named, long-lived pointer to exactly one document.
// Memories join to conversations through a many-to-many table.
type Memory struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	CategoryID string    `json:"category_id,omitempty"`
	DocumentID string    `json:"document_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// VectorHit is one nearest-neighbor result from the vector backend,
// ordered best-first. The payload fields mirror the filterable document
// metadata so the engine can re-check filters without hydration.
type VectorHit struct {
	DocumentID     string
	SourceID       string
	ConversationID string
	Kind           string
	ContentType    ContentType
	Category       string
	Subcategory    string
	Score          float32
}

// LexicalHit is one full-text result from the lexical backend, in
// backend rank order (best first).
type LexicalHit struct {
	DocumentID string
	Snippet    string
}

// EstimateTokens approximates the token count of text. Four characters
// per token is close enough for budget accounting across the models we
// run.
func EstimateTokens(text string) int {
	return len(text) / 4
}
