package feedback

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/medical-examination-assistant/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite comparison store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const selectColumns = `id, created_at, ai_results, doctor_results, comparison, match_score,
	case_id, session_id, medical_record_id`

// scanComparison scans a row into a ComparisonRecord.
func scanComparison(s scanner) (*domain.ComparisonRecord, error) {
	record := &domain.ComparisonRecord{}
	var enc encodedRecord
	var ai, doctor, comparison string

	err := s.Scan(
		&record.ID, &record.Timestamp, &ai, &doctor, &comparison, &record.MatchScore,
		&record.CaseID, &record.SessionID, &record.MedicalRecordID,
	)
	if err != nil {
		return nil, err
	}

	enc.ai, enc.doctor, enc.comparison = []byte(ai), []byte(doctor), []byte(comparison)
	if err := enc.decodeInto(record); err != nil {
		return nil, err
	}
	return record, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS comparison_records (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		ai_results TEXT NOT NULL,
		doctor_results TEXT NOT NULL,
		comparison TEXT NOT NULL,
		differences TEXT NOT NULL DEFAULT '[]',
		match_score REAL NOT NULL,
		case_id TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		medical_record_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_comparisons_session ON comparison_records(session_id);
	CREATE INDEX IF NOT EXISTS idx_comparisons_created_at ON comparison_records(created_at);
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores or replaces a comparison.
func (s *SQLiteStore) Save(ctx context.Context, record *domain.ComparisonRecord) error {
	prepare(record)

	enc, err := encode(record)
	if err != nil {
		return err
	}
	differences, err := json.Marshal(record.Comparison.Differences)
	if err != nil {
		return fmt.Errorf("encoding differences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO comparison_records (
			id, created_at, ai_results, doctor_results, comparison, differences,
			match_score, case_id, session_id, medical_record_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			ai_results = excluded.ai_results,
			doctor_results = excluded.doctor_results,
			comparison = excluded.comparison,
			differences = excluded.differences,
			match_score = excluded.match_score,
			case_id = excluded.case_id,
			session_id = excluded.session_id,
			medical_record_id = excluded.medical_record_id
	`,
		record.ID,
		record.Timestamp.UTC(),
		string(enc.ai),
		string(enc.doctor),
		string(enc.comparison),
		string(differences),
		record.MatchScore,
		record.CaseID,
		record.SessionID,
		record.MedicalRecordID,
	)
	if err != nil {
		return fmt.Errorf("failed to save comparison: %w", err)
	}
	return nil
}

// Get retrieves a comparison by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*domain.ComparisonRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM comparison_records WHERE id = ?`, id)

	record, err := scanComparison(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("comparison %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return record, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*domain.ComparisonRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []*domain.ComparisonRecord
	for rows.Next() {
		record, err := scanComparison(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, record)
	}
	return result, rows.Err()
}

// List returns comparisons newest first.
func (s *SQLiteStore) List(ctx context.Context, limit, offset int) ([]*domain.ComparisonRecord, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM comparison_records
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
}

// ListBySession returns the comparisons of a session.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]*domain.ComparisonRecord, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM comparison_records
		WHERE session_id = ?
		ORDER BY created_at DESC`, sessionID)
}

// Count returns the total number of comparisons.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM comparison_records").Scan(&count)
	return count, err
}

// AverageScore returns the mean match score.
func (s *SQLiteStore) AverageScore(ctx context.Context) (float64, error) {
	var avg float64
	err := s.db.QueryRowContext(ctx, "SELECT COALESCE(AVG(match_score), 0) FROM comparison_records").Scan(&avg)
	return avg, err
}

// Delete removes a comparison by id.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM comparison_records WHERE id = ?", id)
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
func (s *SQLiteStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list comparisons: %w", err)
	}
	return writeExport(writer, all)
}

// ImportJSON imports comparisons from a JSON reader.
func (s *SQLiteStore) ImportJSON(ctx context.Context, reader io.Reader) (imported int, skipped int, err error) {
	return importRecords(ctx, s, reader)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
