package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kestrelworks/kestrel-agent/internal/cache"
	"github.com/kestrelworks/kestrel-agent/internal/embeddings"
)

// Open opens (and creates if missing) the store database at dbPath with
// WAL journaling and a busy timeout suited to concurrent readers.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open document database: %w", err)
	}
	return db, nil
}

// StoreOptions tune the store's read cache.
type StoreOptions struct {
	CacheTTL   time.Duration // default 5m
	CacheSweep time.Duration // default 1m
}

// Store persists documents and memories and serves the vector and
// lexical search backends. Reads are fronted by a TTL cache; mutations
// invalidate the affected keys and notify registered hooks.
type Store struct {
	db         *sql.DB
	logger     *slog.Logger
	ftsEnabled bool

	docCache *cache.Cache[*Document]
	memCache *cache.Cache[[]*Memory]

	// onMutate hooks run after any document/memory mutation with the
	// affected conversation id (may be empty for global documents).
	// Used by the retrieval engine to drop cached search result sets.
	onMutate []func(conversationID string)
}

// NewStore creates a document store on the given database connection.
// Pass nil for opts to use default cache tuning, nil logger to suppress
// startup logging.
func NewStore(db *sql.DB, logger *slog.Logger, opts *StoreOptions) (*Store, error) {
	if opts == nil {
		opts = &StoreOptions{}
	}
	s := &Store{
		db:       db,
		logger:   logger,
		docCache: cache.New[*Document](opts.CacheTTL, opts.CacheSweep),
		memCache: cache.New[[]*Memory](opts.CacheTTL, opts.CacheSweep),
	}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("document store migrate: %w", err)
	}

	// Try to enable FTS5 — gracefully degrade if not available.
	s.ftsEnabled = s.tryEnableFTS()

	if logger != nil {
		logger.Info("document store initialized", "fts5", s.ftsEnabled)
	}
	return s, nil
}

// Close stops the cache sweepers. The caller owns the *sql.DB.
func (s *Store) Close() {
	s.docCache.Stop()
	s.memCache.Stop()
}

// OnMutation registers a hook invoked after every document or memory
// mutation with the affected conversation id.
func (s *Store) OnMutation(fn func(conversationID string)) {
	s.onMutate = append(s.onMutate, fn)
}

func (s *Store) notifyMutation(conversationID string) {
	for _, fn := range s.onMutate {
		fn(conversationID)
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id              TEXT PRIMARY KEY,
		source_id       TEXT NOT NULL DEFAULT '',
		conversation_id TEXT NOT NULL DEFAULT '',
		text            TEXT NOT NULL,
		kind            TEXT NOT NULL DEFAULT '',
		content_type    TEXT NOT NULL,
		category        TEXT NOT NULL DEFAULT '',
		subcategory     TEXT NOT NULL DEFAULT '',
		token_count     INTEGER NOT NULL DEFAULT 0,
		should_index    INTEGER NOT NULL DEFAULT 1,
		embedding       BLOB,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_documents_conversation ON documents(conversation_id);
	CREATE INDEX IF NOT EXISTS idx_documents_source ON documents(source_id);

	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		category_id TEXT NOT NULL DEFAULT '',
		document_id TEXT NOT NULL UNIQUE,
		created_at  TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS conversation_memories (
		conversation_id TEXT NOT NULL,
		memory_id       TEXT NOT NULL,
		PRIMARY KEY (conversation_id, memory_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// tryEnableFTS creates the FTS5 index table. Returns false when the
// SQLite build lacks FTS5; lexical search then returns no hits.
func (s *Store) tryEnableFTS() bool {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts
		USING fts5(doc_id UNINDEXED, text)
	`)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("FTS5 unavailable, lexical search disabled", "error", err)
		}
		return false
	}
	return true
}

// CreateDocument persists a document. If embedding is non-nil it is
// stored for vector search; the text is indexed for lexical search when
// the document's should-index flag is set. A zero ID is assigned.
func (s *Store) CreateDocument(ctx context.Context, doc *Document, embedding []float32) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if doc.Metadata.TokenCount == 0 {
		doc.Metadata.TokenCount = EstimateTokens(doc.Text)
	}

	var emb []byte
	if embedding != nil {
		var err error
		emb, err = embeddings.EncodeVector(embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents
			(id, source_id, conversation_id, text, kind, content_type,
			 category, subcategory, token_count, should_index, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID, doc.SourceID, doc.ConversationID, doc.Text,
		doc.Metadata.Kind, string(doc.Metadata.ContentType),
		doc.Metadata.Category, doc.Metadata.Subcategory,
		doc.Metadata.TokenCount, boolToInt(doc.Metadata.ShouldIndex),
		emb, doc.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}

	if s.ftsEnabled && doc.Metadata.ShouldIndex {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO documents_fts (doc_id, text) VALUES (?, ?)`,
			doc.ID, doc.Text,
		); err != nil {
			return fmt.Errorf("index document: %w", err)
		}
	}

	s.docCache.Set(docKey(doc.ID), doc)
	s.notifyMutation(doc.ConversationID)
	return nil
}

// CreateErrorDocument records a tool failure as a non-indexed document
// so best-effort context fetchers can hand the model something concrete
// instead of propagating the error.
func (s *Store) CreateErrorDocument(ctx context.Context, conversationID, source, message string) (*Document, error) {
	doc := &Document{
		SourceID:       source,
		ConversationID: conversationID,
		Text:           fmt.Sprintf("The %s tool could not provide context: %s", source, message),
		Metadata: Metadata{
			Kind:        "error",
			ContentType: ContentFull,
			ShouldIndex: false,
		},
	}
	if err := s.CreateDocument(ctx, doc, nil); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocumentByID returns a document, or nil when it does not exist.
// Hits within the cache TTL return the same cached pointer.
func (s *Store) GetDocumentByID(ctx context.Context, id string) (*Document, error) {
	if doc, ok := s.docCache.Get(docKey(id)); ok {
		return doc, nil
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, conversation_id, text, kind, content_type,
		       category, subcategory, token_count, should_index, created_at
		FROM documents WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}

	s.docCache.Set(docKey(id), doc)
	return doc, nil
}

// DeleteDocumentsBySource removes all documents with the given source
// id, along with their index entries and any memories referencing them.
// Ingesters call this before re-importing a source.
func (s *Store) DeleteDocumentsBySource(ctx context.Context, sourceID string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id FROM documents WHERE source_id = ?`, sourceID)
	if err != nil {
		return 0, fmt.Errorf("delete documents by source: %w", err)
	}
	type victim struct{ id, convID string }
	var victims []victim
	for rows.Next() {
		var v victim
		if err := rows.Scan(&v.id, &v.convID); err != nil {
			rows.Close()
			return 0, fmt.Errorf("delete documents by source: %w", err)
		}
		victims = append(victims, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("delete documents by source: %w", err)
	}

	for _, v := range victims {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, v.id); err != nil {
			return 0, fmt.Errorf("delete document: %w", err)
		}
		if s.ftsEnabled {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM documents_fts WHERE doc_id = ?`, v.id)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM memories WHERE document_id = ?`, v.id)
		s.docCache.Delete(docKey(v.id))
	}
	if len(victims) > 0 {
		s.memCache.Flush()
		s.notifyMutation(victims[0].convID)
	}
	return len(victims), nil
}

// DeleteDocument removes a document, its index entry, and any memory
// referencing it.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	doc, err := s.GetDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if s.ftsEnabled {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM documents_fts WHERE doc_id = ?`, id)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM memories WHERE document_id = ?`, id)

	s.docCache.Delete(docKey(id))
	s.memCache.Flush() // memory lists may reference the deleted document
	s.notifyMutation(doc.ConversationID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var contentType, createdAt string
	var shouldIndex int
	err := row.Scan(
		&doc.ID, &doc.SourceID, &doc.ConversationID, &doc.Text,
		&doc.Metadata.Kind, &contentType,
		&doc.Metadata.Category, &doc.Metadata.Subcategory,
		&doc.Metadata.TokenCount, &shouldIndex, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	doc.Metadata.ContentType = ContentType(contentType)
	doc.Metadata.ShouldIndex = shouldIndex != 0
	doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &doc, nil
}

func docKey(id string) string { return "doc:" + id }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
