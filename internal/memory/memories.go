package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateMemory persists a named memory pointing at an existing document
// and assigns an id if unset. A document can back at most one memory;
// creating a second for the same document fails on the unique
// constraint.
func (s *Store) CreateMemory(ctx context.Context, m *Memory) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, name, category_id, document_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, m.ID, m.Name, m.CategoryID, m.DocumentID, m.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("create memory: %w", err)
	}

	s.memCache.Flush()
	return nil
}

// GetMemoryByDocumentID returns the memory backed by the given document,
// or nil when none exists. The retrieval engine uses this to decide
// whether a memory-filtered result actually corresponds to a saved
// memory.
func (s *Store) GetMemoryByDocumentID(ctx context.Context, documentID string) (*Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, category_id, document_id, created_at
		FROM memories WHERE document_id = ?
	`, documentID)

	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory for document %s: %w", documentID, err)
	}
	return m, nil
}

// LinkMemoryToConversation associates a memory with a conversation.
// Linking twice is a no-op.
func (s *Store) LinkMemoryToConversation(ctx context.Context, memoryID, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO conversation_memories (conversation_id, memory_id)
		VALUES (?, ?)
	`, conversationID, memoryID)
	if err != nil {
		return fmt.Errorf("link memory to conversation: %w", err)
	}

	s.memCache.Delete(memListKey(conversationID))
	s.notifyMutation(conversationID)
	return nil
}

// ListMemoriesByConversation returns the memories linked to a
// conversation, oldest first. Results are cached per conversation.
func (s *Store) ListMemoriesByConversation(ctx context.Context, conversationID string) ([]*Memory, error) {
	if mems, ok := s.memCache.Get(memListKey(conversationID)); ok {
		return mems, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.name, m.category_id, m.document_id, m.created_at
		FROM memories m
		JOIN conversation_memories cm ON cm.memory_id = m.id
		WHERE cm.conversation_id = ?
		ORDER BY m.created_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation memories: %w", err)
	}
	defer rows.Close()

	var mems []*Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("list conversation memories: %w", err)
		}
		mems = append(mems, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversation memories: %w", err)
	}

	s.memCache.Set(memListKey(conversationID), mems)
	return mems, nil
}

func scanMemory(row rowScanner) (*Memory, error) {
	var m Memory
	var createdAt string
	if err := row.Scan(&m.ID, &m.Name, &m.CategoryID, &m.DocumentID, &createdAt); err != nil {
		return nil, err
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &m, nil
}

func memListKey(conversationID string) string { return "memlist:" + conversationID }
