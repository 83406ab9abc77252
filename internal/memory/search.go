package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
)

// SearchSimilar is the vector nearest-neighbor backend: it scans indexed
// documents with stored embeddings, scores them by cosine similarity
// against the query vector, and returns the best `limit` hits in
// descending score order. Filter fields that map onto document columns
// are pushed into SQL; the engine re-checks the full filter set against
// each hit's payload.
//
// A linear scan is deliberate — the corpus is one user's documents, and
// SQLite keeps the working set hot. Swap in an ANN index behind this
// method if the corpus outgrows it.
func (s *Store) SearchSimilar(ctx context.Context, vector []float32, filters Filters, limit int) ([]VectorHit, error) {
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT id, source_id, conversation_id, kind, content_type,
		       category, subcategory, embedding
		FROM documents
		WHERE should_index = 1 AND embedding IS NOT NULL`
	var args []any
	query, args = appendFilterSQL(query, args, filters)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}
	defer rows.Close()

	var hits []VectorHit
	for rows.Next() {
		var h VectorHit
		var contentType string
		var emb []byte
		if err := rows.Scan(
			&h.DocumentID, &h.SourceID, &h.ConversationID,
			&h.Kind, &contentType, &h.Category, &h.Subcategory, &emb,
		); err != nil {
			return nil, fmt.Errorf("vector scan row: %w", err)
		}
		h.ContentType = ContentType(contentType)

		v, err := embeddings.DecodeVector(emb)
		if err != nil {
			// Skip rows with corrupt embeddings rather than failing the search.
			if s.logger != nil {
				s.logger.Warn("skipping document with corrupt embedding", "id", h.DocumentID)
			}
			continue
		}
		h.Score = embeddings.CosineSimilarity(vector, v)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector scan: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// SearchLexical is the full-text backend: an FTS5 match over indexed
// document text, constrained by a filter expression in the
// key:'value' AND key:'value' format (see [Filters.Expr]). Results come
// back in FTS rank order, best first, at most pageSize of them.
//
// When the SQLite build lacks FTS5 the backend reports no hits rather
// than failing, matching the engine's merge-by-key semantics.
func (s *Store) SearchLexical(ctx context.Context, text, filterExpr string, pageSize int) ([]LexicalHit, error) {
	if !s.ftsEnabled || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if pageSize <= 0 {
		pageSize = 10
	}

	constraints, err := ParseFilterExpr(filterExpr)
	if err != nil {
		return nil, fmt.Errorf("lexical filter: %w", err)
	}

	query := `
		SELECT f.doc_id, snippet(documents_fts, 1, '', '', '…', 16)
		FROM documents_fts f
		JOIN documents d ON d.id = f.doc_id
		WHERE documents_fts MATCH ?`
	args := []any{ftsQuote(text)}

	for key, value := range map[string]string{
		"kind":            constraints["source"],
		"source_id":       constraints["source_id"],
		"conversation_id": constraints["conversation_id"],
		"content_type":    constraints["content_type"],
		"category":        constraints["category"],
		"subcategory":     constraints["subcategory"],
	} {
		if value != "" {
			query += fmt.Sprintf(" AND d.%s = ?", key)
			args = append(args, value)
		}
	}

	query += " ORDER BY rank LIMIT ?"
	args = append(args, pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.DocumentID, &h.Snippet); err != nil {
			return nil, fmt.Errorf("lexical search row: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// appendFilterSQL pushes filterable fields into the WHERE clause.
func appendFilterSQL(query string, args []any, f Filters) (string, []any) {
	if f.Source != "" {
		query += " AND kind = ?"
		args = append(args, f.Source)
	}
	if f.SourceID != "" {
		query += " AND source_id = ?"
		args = append(args, f.SourceID)
	}
	if f.ConversationID != "" {
		query += " AND conversation_id = ?"
		args = append(args, f.ConversationID)
	}
	if f.ContentType != "" {
		query += " AND content_type = ?"
		args = append(args, string(f.ContentType))
	}
	if f.Category != "" {
		query += " AND category = ?"
		args = append(args, f.Category)
	}
	if f.Subcategory != "" {
		query += " AND subcategory = ?"
		args = append(args, f.Subcategory)
	}
	return query, args
}

// ftsQuote wraps each term in double quotes so user text cannot inject
// FTS5 query syntax (NEAR, *, column filters).
func ftsQuote(text string) string {
	fields := strings.Fields(text)
	for i, f := range fields {
		fields[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return strings.Join(fields, " ")
}
