package feedback

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lib/pq"

	"github.com/medical-examination-assistant/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL comparison store.
// It expects the schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL comparison store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save stores or replaces a comparison.
func (s *PostgresStore) Save(ctx context.Context, record *domain.ComparisonRecord) error {
	prepare(record)

	enc, err := encode(record)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO comparison_records (
			id, created_at, ai_results, doctor_results, comparison, differences,
			match_score, case_id, session_id, medical_record_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			ai_results = EXCLUDED.ai_results,
			doctor_results = EXCLUDED.doctor_results,
			comparison = EXCLUDED.comparison,
			differences = EXCLUDED.differences,
			match_score = EXCLUDED.match_score,
			case_id = EXCLUDED.case_id,
			session_id = EXCLUDED.session_id,
			medical_record_id = EXCLUDED.medical_record_id
		RETURNING created_at
	`

	err = s.db.QueryRowContext(ctx, query,
		record.ID,
		record.Timestamp,
		string(enc.ai),
		string(enc.doctor),
		string(enc.comparison),
		pq.Array(record.Comparison.Differences),
		record.MatchScore,
		record.CaseID,
		record.SessionID,
		record.MedicalRecordID,
	).Scan(&record.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to save comparison: %w", err)
	}
	return nil
}

const pgSelectColumns = `id, created_at, ai_results, doctor_results, comparison, differences,
	match_score, case_id, session_id, medical_record_id`

func scanPostgresComparison(s scanner) (*domain.ComparisonRecord, error) {
	record := &domain.ComparisonRecord{}
	var enc encodedRecord
	var differences []string

	err := s.Scan(
		&record.ID, &record.Timestamp, &enc.ai, &enc.doctor, &enc.comparison,
		pq.Array(&differences), &record.MatchScore,
		&record.CaseID, &record.SessionID, &record.MedicalRecordID,
	)
	if err != nil {
		return nil, err
	}
	if err := enc.decodeInto(record); err != nil {
		return nil, err
	}
	if differences == nil {
		differences = []string{}
	}
	record.Comparison.Differences = differences
	return record, nil
}

// Get retrieves a comparison by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.ComparisonRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgSelectColumns+` FROM comparison_records WHERE id = $1`, id)

	record, err := scanPostgresComparison(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comparison %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get comparison: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) query(ctx context.Context, query string, args ...any) ([]*domain.ComparisonRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list comparisons: %w", err)
	}
	defer rows.Close()

	var result []*domain.ComparisonRecord
	for rows.Next() {
		record, err := scanPostgresComparison(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}

	return result, rows.Err()
}

// List returns comparisons newest first.
func (s *PostgresStore) List(ctx context.Context, limit, offset int) ([]*domain.ComparisonRecord, error) {
	return s.query(ctx, `
		SELECT `+pgSelectColumns+` FROM comparison_records
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
}

// ListBySession returns the comparisons of a session.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.ComparisonRecord, error) {
	return s.query(ctx, `
		SELECT `+pgSelectColumns+` FROM comparison_records
		WHERE session_id = $1
		ORDER BY created_at DESC`, sessionID)
}

// Count returns the total number of comparisons.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM comparison_records").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count comparisons: %w", err)
	}
	return count, nil
}

// AverageScore returns the mean match score.
func (s *PostgresStore) AverageScore(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(AVG(match_score), 0) FROM comparison_records").Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("failed to average scores: %w", err)
	}
	return avg, nil
}

// Delete removes a comparison by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM comparison_records WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete comparison: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete comparison: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("comparison %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// ExportJSON exports all comparisons to a JSON writer.
func (s *PostgresStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list comparisons: %w", err)
	}
	return writeExport(writer, all)
}

// ImportJSON imports comparisons from a JSON reader.
func (s *PostgresStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importRecords(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
