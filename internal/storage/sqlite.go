package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/chie/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and
// initializes the schema. Parent directories are created if missing.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS knowledge_bases (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		embedding TEXT NOT NULL,
		store TEXT NOT NULL,
		segment TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		knowledge_base_id TEXT NOT NULL,
		title TEXT,
		source_type TEXT NOT NULL,
		content_ref TEXT,
		status TEXT NOT NULL,
		status_reason TEXT,
		unit_failures TEXT,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (knowledge_base_id) REFERENCES knowledge_bases(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_documents_kb ON documents(knowledge_base_id);
	CREATE INDEX IF NOT EXISTS idx_documents_kb_status ON documents(knowledge_base_id, status);
	CREATE INDEX IF NOT EXISTS idx_documents_ref ON documents(knowledge_base_id, content_ref);

	CREATE TABLE IF NOT EXISTS chunks (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		knowledge_base_id TEXT NOT NULL,
		ordinal INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		content TEXT NOT NULL,
		meta TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (document_id) REFERENCES documents(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_chunks_kb ON chunks(knowledge_base_id);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateKnowledgeBase inserts a knowledge base.
func (s *SQLiteStorage) CreateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	embedding, store, segment, err := marshalPolicies(kb)
	if err != nil {
		return err
	}
	now := time.Now()
	kb.CreatedAt = now
	kb.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_bases (id, name, description, embedding, store, segment, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		kb.ID, kb.Name, kb.Description, embedding, store, segment, kb.CreatedAt, kb.UpdatedAt,
	)
	return err
}

// GetKnowledgeBase returns a knowledge base by id.
func (s *SQLiteStorage) GetKnowledgeBase(ctx context.Context, id string) (*models.KnowledgeBase, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, embedding, store, segment, created_at, updated_at
		 FROM knowledge_bases WHERE id = ?`, id)
	kb, err := scanKnowledgeBase(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("knowledge base %s: %w", id, models.ErrNotFound)
	}
	return kb, err
}

// UpdateKnowledgeBase updates name, description, and policies.
func (s *SQLiteStorage) UpdateKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) error {
	embedding, store, segment, err := marshalPolicies(kb)
	if err != nil {
		return err
	}
	kb.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_bases SET name = ?, description = ?, embedding = ?, store = ?, segment = ?, updated_at = ?
		 WHERE id = ?`,
		kb.Name, kb.Description, embedding, store, segment, kb.UpdatedAt, kb.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("knowledge base %s: %w", kb.ID, models.ErrNotFound)
	}
	return nil
}

// DeleteKnowledgeBase removes a knowledge base and, via foreign keys, its
// documents and chunks.
func (s *SQLiteStorage) DeleteKnowledgeBase(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_bases WHERE id = ?`, id)
	return err
}

// ListKnowledgeBases returns all knowledge bases, newest first.
func (s *SQLiteStorage) ListKnowledgeBases(ctx context.Context) ([]*models.KnowledgeBase, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, embedding, store, segment, created_at, updated_at
		 FROM knowledge_bases ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var kbs []*models.KnowledgeBase
	for rows.Next() {
		kb, err := scanKnowledgeBase(rows)
		if err != nil {
			return nil, err
		}
		kbs = append(kbs, kb)
	}
	return kbs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnowledgeBase(row rowScanner) (*models.KnowledgeBase, error) {
	var kb models.KnowledgeBase
	var description sql.NullString
	var embedding, store, segment string
	err := row.Scan(&kb.ID, &kb.Name, &description, &embedding, &store, &segment, &kb.CreatedAt, &kb.UpdatedAt)
	if err != nil {
		return nil, err
	}
	kb.Description = description.String
	if err := json.Unmarshal([]byte(embedding), &kb.Embedding); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedding policy: %w", err)
	}
	if err := json.Unmarshal([]byte(store), &kb.Store); err != nil {
		return nil, fmt.Errorf("failed to unmarshal store config: %w", err)
	}
	if err := json.Unmarshal([]byte(segment), &kb.Segment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal segment policy: %w", err)
	}
	return &kb, nil
}

func marshalPolicies(kb *models.KnowledgeBase) (embedding, store, segment string, err error) {
	e, err := json.Marshal(kb.Embedding)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal embedding policy: %w", err)
	}
	st, err := json.Marshal(kb.Store)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal store config: %w", err)
	}
	sg, err := json.Marshal(kb.Segment)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to marshal segment policy: %w", err)
	}
	return string(e), string(st), string(sg), nil
}

// CreateDocument inserts a document.
func (s *SQLiteStorage) CreateDocument(ctx context.Context, doc *models.Document) error {
	metadata, failures, err := marshalDocumentJSON(doc)
	if err != nil {
		return err
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, knowledge_base_id, title, source_type, content_ref, status, status_reason, unit_failures, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.KnowledgeBaseID, doc.Title, doc.SourceType, doc.ContentRef,
		doc.Status, doc.StatusReason, failures, metadata, doc.CreatedAt, doc.UpdatedAt,
	)
	return err
}

// GetDocument returns a document by id.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, knowledge_base_id, title, source_type, content_ref, status, status_reason, unit_failures, metadata, created_at, updated_at
		 FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return doc, err
}

// UpdateDocument updates all mutable document fields.
func (s *SQLiteStorage) UpdateDocument(ctx context.Context, doc *models.Document) error {
	metadata, failures, err := marshalDocumentJSON(doc)
	if err != nil {
		return err
	}
	doc.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET title = ?, content_ref = ?, status = ?, status_reason = ?, unit_failures = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		doc.Title, doc.ContentRef, doc.Status, doc.StatusReason, failures, metadata, doc.UpdatedAt, doc.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", doc.ID, models.ErrNotFound)
	}
	return nil
}

// UpdateDocumentStatus transitions a document's ingestion status.
func (s *SQLiteStorage) UpdateDocumentStatus(ctx context.Context, id string, status models.DocumentStatus, reason string, failures []models.UnitFailure) error {
	var failuresJSON any
	if failures != nil {
		data, err := json.Marshal(failures)
		if err != nil {
			return fmt.Errorf("failed to marshal unit failures: %w", err)
		}
		failuresJSON = string(data)
	}

	var result sql.Result
	var err error
	if failures != nil {
		result, err = s.db.ExecContext(ctx,
			`UPDATE documents SET status = ?, status_reason = ?, unit_failures = ?, updated_at = ? WHERE id = ?`,
			status, reason, failuresJSON, time.Now(), id)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE documents SET status = ?, status_reason = ?, updated_at = ? WHERE id = ?`,
			status, reason, time.Now(), id)
	}
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document and, via foreign keys, its chunks.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	return err
}

// ListDocuments returns a knowledge base's documents, newest first. status
// filters when non-empty.
func (s *SQLiteStorage) ListDocuments(ctx context.Context, kbID string, status models.DocumentStatus, offset, limit int) ([]*models.Document, error) {
	query := `SELECT id, knowledge_base_id, title, source_type, content_ref, status, status_reason, unit_failures, metadata, created_at, updated_at
		 FROM documents WHERE knowledge_base_id = ?`
	args := []any{kbID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// FindDocumentByRef returns the document with the given content ref.
func (s *SQLiteStorage) FindDocumentByRef(ctx context.Context, kbID, contentRef string) (*models.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, knowledge_base_id, title, source_type, content_ref, status, status_reason, unit_failures, metadata, created_at, updated_at
		 FROM documents WHERE knowledge_base_id = ? AND content_ref = ? ORDER BY created_at DESC LIMIT 1`,
		kbID, contentRef)
	doc, err := scanDocument(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document for ref %s: %w", contentRef, models.ErrNotFound)
	}
	return doc, err
}

func scanDocument(row rowScanner) (*models.Document, error) {
	var doc models.Document
	var title, contentRef, statusReason, failuresJSON, metadataJSON sql.NullString
	err := row.Scan(&doc.ID, &doc.KnowledgeBaseID, &title, &doc.SourceType, &contentRef,
		&doc.Status, &statusReason, &failuresJSON, &metadataJSON, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.Title = title.String
	doc.ContentRef = contentRef.String
	doc.StatusReason = statusReason.String
	if failuresJSON.String != "" {
		if err := json.Unmarshal([]byte(failuresJSON.String), &doc.UnitFailures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal unit failures: %w", err)
		}
	}
	if metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &doc, nil
}

func marshalDocumentJSON(doc *models.Document) (metadata, failures string, err error) {
	m, err := json.Marshal(doc.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal metadata: %w", err)
	}
	f, err := json.Marshal(doc.UnitFailures)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal unit failures: %w", err)
	}
	return string(m), string(f), nil
}

// BatchCreateChunks inserts chunks in one transaction. Chunks of a
// reprocessed document replace their previous rows by id.
func (s *SQLiteStorage) BatchCreateChunks(ctx context.Context, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO chunks (id, document_id, knowledge_base_id, ordinal, content_type, content, meta, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, c := range chunks {
		meta, err := json.Marshal(c.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal chunk meta: %w", err)
		}
		c.CreatedAt = now
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.KnowledgeBaseID, c.Ordinal, c.ContentType, c.Content, string(meta), c.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetChunk returns a chunk by id.
func (s *SQLiteStorage) GetChunk(ctx context.Context, id string) (*models.Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document_id, knowledge_base_id, ordinal, content_type, content, meta, created_at
		 FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("chunk %s: %w", id, models.ErrNotFound)
	}
	return c, err
}

// GetChunks returns chunks by id. Missing ids are skipped rather than
// failing the lookup; retrieval tolerates an index briefly ahead of
// metadata.
func (s *SQLiteStorage) GetChunks(ctx context.Context, ids []string) ([]*models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, knowledge_base_id, ordinal, content_type, content, meta, created_at
		 FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetChunksByDocumentID returns a document's chunks ordered by ordinal.
func (s *SQLiteStorage) GetChunksByDocumentID(ctx context.Context, docID string) ([]*models.Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, knowledge_base_id, ordinal, content_type, content, meta, created_at
		 FROM chunks WHERE document_id = ? ORDER BY ordinal`, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteChunksByDocumentID removes all chunks for a document.
func (s *SQLiteStorage) DeleteChunksByDocumentID(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID)
	return err
}

func scanChunk(row rowScanner) (*models.Chunk, error) {
	var c models.Chunk
	var meta sql.NullString
	err := row.Scan(&c.ID, &c.DocumentID, &c.KnowledgeBaseID, &c.Ordinal, &c.ContentType, &c.Content, &meta, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	if meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &c.Meta); err != nil {
			return nil, fmt.Errorf("failed to unmarshal chunk meta: %w", err)
		}
	}
	return &c, nil
}

// CountDocuments returns the number of documents in a knowledge base. Empty
// kbID counts all.
func (s *SQLiteStorage) CountDocuments(ctx context.Context, kbID string) (int64, error) {
	var count int64
	var err error
	if kbID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE knowledge_base_id = ?`, kbID).Scan(&count)
	}
	return count, err
}

// CountChunks returns the number of chunks in a knowledge base. Empty kbID
// counts all.
func (s *SQLiteStorage) CountChunks(ctx context.Context, kbID string) (int64, error) {
	var count int64
	var err error
	if kbID == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE knowledge_base_id = ?`, kbID).Scan(&count)
	}
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
