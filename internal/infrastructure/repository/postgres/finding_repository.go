package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/policy-analyzer/internal/core/domain"
)

type FindingRepository struct {
	db *sql.DB
}

func NewFindingRepository(db *sql.DB) *FindingRepository {
	return &FindingRepository{db: db}
}

const findingColumns = `id, document_id, category, severity, summary, recommendation, page_num, confidence_score, text_content, created_at`

// Save inserts finding and fills in its generated id.
func (r *FindingRepository) Save(ctx context.Context, finding *domain.Finding) error {
	if finding.CreatedAt.IsZero() {
		finding.CreatedAt = time.Now().UTC()
	}
	var recommendation sql.NullString
	if finding.Recommendation != nil {
		recommendation = sql.NullString{String: *finding.Recommendation, Valid: true}
	}

	err := r.db.QueryRowContext(ctx, `
INSERT INTO findings (
	document_id, category, severity, summary, recommendation, page_num, confidence_score, text_content, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
RETURNING id
`,
		finding.DocumentID, string(finding.Category), string(finding.Severity), finding.Summary, recommendation,
		finding.PageNum, finding.ConfidenceScore, finding.TextContent, finding.CreatedAt,
	).Scan(&finding.ID)
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

func (r *FindingRepository) GetByID(ctx context.Context, id int64) (*domain.Finding, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = $1`, id)
	finding, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrFindingNotFound, "get finding", fmt.Errorf("id=%d", id))
		}
		return nil, fmt.Errorf("scan finding: %w", err)
	}
	return finding, nil
}

// ListByDocument orders by severity (HIGH first), then page. CategoryAll disables the filter.
func (r *FindingRepository) ListByDocument(ctx context.Context, documentID string, category domain.Category) ([]domain.Finding, error) {
	query := `SELECT ` + findingColumns + ` FROM findings WHERE document_id = $1`
	args := []any{documentID}
	if category != "" && category != domain.CategoryAll {
		query += ` AND category = $2`
		args = append(args, string(category))
	}
	query += `
ORDER BY CASE severity WHEN 'HIGH' THEN 0 WHEN 'MEDIUM' THEN 1 ELSE 2 END, page_num, id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Finding, 0)
	for rows.Next() {
		finding, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		out = append(out, *finding)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return out, nil
}

func (r *FindingRepository) CountByDocument(ctx context.Context, documentID string) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE document_id = $1`, documentID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count findings: %w", err)
	}
	return count, nil
}

func (r *FindingRepository) DeleteByDocument(ctx context.Context, documentID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM findings WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete findings: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFinding(row rowScanner) (*domain.Finding, error) {
	var f domain.Finding
	var category, severity string
	var recommendation sql.NullString
	if err := row.Scan(
		&f.ID, &f.DocumentID, &category, &severity, &f.Summary, &recommendation,
		&f.PageNum, &f.ConfidenceScore, &f.TextContent, &f.CreatedAt,
	); err != nil {
		return nil, err
	}
	f.Category = domain.Category(category)
	f.Severity = domain.Severity(severity)
	if recommendation.Valid {
		rec := recommendation.String
		f.Recommendation = &rec
	}
	return &f, nil
}
