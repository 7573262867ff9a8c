package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the documents, findings and analysis cache tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	total_pages INTEGER NOT NULL DEFAULT 0,
	storage_path TEXT NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status);

CREATE TABLE IF NOT EXISTS findings (
	id BIGSERIAL PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	category TEXT NOT NULL,
	severity TEXT NOT NULL,
	summary TEXT NOT NULL,
	recommendation TEXT,
	page_num INTEGER NOT NULL,
	confidence_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	text_content TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_findings_document ON findings(document_id);
CREATE INDEX IF NOT EXISTS idx_findings_document_category ON findings(document_id, category);

CREATE TABLE IF NOT EXISTS analysis_cache (
	key TEXT PRIMARY KEY,
	value JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (
	id, filename, total_pages, storage_path, status, error_message, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
		doc.ID, doc.Filename, doc.TotalPages, doc.StoragePath, string(doc.Status), doc.Error, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, filename, total_pages, storage_path, status, error_message, created_at, updated_at, completed_at
FROM documents
WHERE id = $1
`, id)

	var doc domain.Document
	var status string
	var completedAt sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.Filename, &doc.TotalPages, &doc.StoragePath, &status, &doc.Error,
		&doc.CreatedAt, &doc.UpdatedAt, &completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", fmt.Errorf("id=%s", id))
		}
		return nil, fmt.Errorf("scan document: %w", err)
	}

	parsed, ok := domain.ParseAnalysisStatus(status)
	if !ok {
		return nil, fmt.Errorf("document %s has unknown status %q", id, status)
	}
	doc.Status = parsed
	if completedAt.Valid {
		t := completedAt.Time
		doc.CompletedAt = &t
	}
	return &doc, nil
}

// UpdateStatus sets status and error; completed_at is stamped on completion.
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.AnalysisStatus, errMessage string) error {
	now := time.Now().UTC()
	var completedAt any
	if status == domain.StatusCompleted {
		completedAt = now
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE documents
SET status = $2, error_message = $3, updated_at = $4, completed_at = COALESCE($5, completed_at)
WHERE id = $1
`, id, string(status), errMessage, now, completedAt)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return ensureAffected(res, "update document status", id)
}

// ResetForReanalysis drops previous findings and returns the document to pending.
func (r *DocumentRepository) ResetForReanalysis(ctx context.Context, id string, totalPages int) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM findings WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete previous findings: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
UPDATE documents
SET status = $2, total_pages = $3, error_message = '', completed_at = NULL, updated_at = $4
WHERE id = $1
`, id, string(domain.StatusPending), totalPages, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reset document: %w", err)
	}
	if err := ensureAffected(res, "reset document", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reset tx: %w", err)
	}
	return nil
}

func ensureAffected(res sql.Result, operation, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrDocumentNotFound, operation, fmt.Errorf("id=%s", id))
	}
	return nil
}
