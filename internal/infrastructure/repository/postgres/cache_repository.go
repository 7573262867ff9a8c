package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// AnalysisCacheRepository stores per-chunk analysis results as JSON.
type AnalysisCacheRepository struct {
	db *sql.DB
}

func NewAnalysisCacheRepository(db *sql.DB) *AnalysisCacheRepository {
	return &AnalysisCacheRepository{db: db}
}

func (r *AnalysisCacheRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := r.db.QueryRowContext(ctx, `SELECT value FROM analysis_cache WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get analysis cache: %w", err)
	}
	return value, true, nil
}

func (r *AnalysisCacheRepository) Put(ctx context.Context, key string, value []byte) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO analysis_cache (key, value, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, created_at = EXCLUDED.created_at
`, key, value)
	if err != nil {
		return fmt.Errorf("put analysis cache: %w", err)
	}
	return nil
}
