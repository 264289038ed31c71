package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

const recordColumns = `id, session_id, subjective, objective, assessment, plan, icd_codes,
	status, created_at, updated_at`

// RecordRepository handles medical record persistence in Postgres
type RecordRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewRecordRepository creates a new medical record repository
func NewRecordRepository(db *pgxpool.Pool, logger *logrus.Logger) *RecordRepository {
	return &RecordRepository{
		db:  db,
		log: logger,
	}
}

func scanRecord(s scanner) (*domain.MedicalRecord, error) {
	var rec domain.MedicalRecord
	var status string
	err := s.Scan(
		&rec.ID, &rec.SessionID, &rec.Subjective, &rec.Objective, &rec.Assessment, &rec.Plan,
		&rec.ICDCodes, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = domain.RecordStatus(status)
	if rec.ICDCodes == nil {
		rec.ICDCodes = []string{}
	}
	return &rec, nil
}

// UpsertRecord inserts the session's record or replaces its content.
// On conflict the existing id and created_at are kept and written back into rec.
func (r *RecordRepository) UpsertRecord(ctx context.Context, rec *domain.MedicalRecord) error {
	codes := rec.ICDCodes
	if codes == nil {
		codes = []string{}
	}

	query := `
		INSERT INTO medical_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			subjective = EXCLUDED.subjective,
			objective = EXCLUDED.objective,
			assessment = EXCLUDED.assessment,
			plan = EXCLUDED.plan,
			icd_codes = EXCLUDED.icd_codes,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.QueryRow(ctx, query,
		rec.ID, rec.SessionID, rec.Subjective, rec.Objective, rec.Assessment, rec.Plan,
		codes, string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": rec.SessionID,
			"error":      err,
		}).Error("Failed to save medical record")
		return fmt.Errorf("saving medical record: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"record_id":  rec.ID,
		"session_id": rec.SessionID,
		"status":     rec.Status,
	}).Info("Medical record saved")
	return nil
}

// GetRecordBySession retrieves the record of a session
func (r *RecordRepository) GetRecordBySession(ctx context.Context, sessionID string) (*domain.MedicalRecord, error) {
	row := r.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE session_id = $1`, sessionID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("medical record not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting medical record: %w", err)
	}
	return rec, nil
}

// ListRecordsBySessions returns the records of the sessions keyed by session id
func (r *RecordRepository) ListRecordsBySessions(ctx context.Context, sessionIDs []string) (map[string]*domain.MedicalRecord, error) {
	out := make(map[string]*domain.MedicalRecord, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+recordColumns+` FROM medical_records WHERE session_id = ANY($1)`, sessionIDs)
	if err != nil {
		return nil, fmt.Errorf("querying medical records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning medical record: %w", err)
		}
		out[rec.SessionID] = rec
	}
	return out, rows.Err()
}
