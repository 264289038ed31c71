package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

const sessionColumns = `s.id, s.patient_id, s.visit_number, s.chief_complaint, s.visit_id,
	s.status, s.created_at, s.updated_at`

// SessionRepository handles examination session persistence in Postgres
type SessionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: logger,
	}
}

func scanSession(s scanner, extra ...any) (*domain.Session, error) {
	var sess domain.Session
	var status string
	dest := append([]any{
		&sess.ID, &sess.PatientID, &sess.VisitNumber, &sess.ChiefComplaint, &sess.VisitID,
		&status, &sess.CreatedAt, &sess.UpdatedAt,
	}, extra...)
	if err := s.Scan(dest...); err != nil {
		return nil, err
	}
	sess.Status = domain.SessionStatus(status)
	return &sess, nil
}

// CreateSession inserts the session; the visit number is computed in the same statement
func (r *SessionRepository) CreateSession(ctx context.Context, s *domain.Session) error {
	query := `
		INSERT INTO examination_sessions (
			id, patient_id, visit_number, chief_complaint, visit_id, status, created_at, updated_at
		) VALUES (
			$1, $2,
			(SELECT COUNT(*) + 1 FROM examination_sessions WHERE patient_id = $2),
			$3, $4, $5, $6, $7
		)
		RETURNING visit_number`

	err := r.db.QueryRow(ctx, query,
		s.ID, s.PatientID, s.ChiefComplaint, s.VisitID, string(s.Status), s.CreatedAt, s.UpdatedAt,
	).Scan(&s.VisitNumber)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": s.ID,
			"patient_id": s.PatientID,
			"error":      err,
		}).Error("Failed to create session")
		return fmt.Errorf("creating session: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"session_id":   s.ID,
		"patient_id":   s.PatientID,
		"visit_number": s.VisitNumber,
	}).Info("Session created successfully")
	return nil
}

// GetSession retrieves a session by id
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRow(ctx, `SELECT `+sessionColumns+` FROM examination_sessions s WHERE s.id = $1`, id)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return s, nil
}

// GetSessionWithPatient retrieves a session joined with its patient
func (r *SessionRepository) GetSessionWithPatient(ctx context.Context, id string) (*domain.SessionWithPatient, error) {
	query := `
		SELECT ` + sessionColumns + `,
			p.id, p.display_id, p.name, p.birth_date, p.gender, p.phone_number, p.medical_history
		FROM examination_sessions s
		JOIN patients p ON p.id = s.patient_id
		WHERE s.id = $1`

	var pb domain.PatientBrief
	s, err := scanSession(r.db.QueryRow(ctx, query, id),
		&pb.ID, &pb.DisplayID, &pb.Name, &pb.BirthDate, &pb.Gender, &pb.PhoneNumber, &pb.MedicalHistory)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &domain.SessionWithPatient{Session: *s, Patient: pb}, nil
}

// ListSessionsForPatient returns a patient's sessions newest first
func (r *SessionRepository) ListSessionsForPatient(ctx context.Context, patientID string) ([]*domain.Session, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+sessionColumns+` FROM examination_sessions s
		WHERE s.patient_id = $1
		ORDER BY s.created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus changes the status of a session
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE examination_sessions SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	return nil
}

// ListRecentSessions returns sessions newest first with patient and diagnosis
func (r *SessionRepository) ListRecentSessions(ctx context.Context, limit, offset int) ([]*domain.SessionSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT s.id, s.patient_id, p.name, p.display_id, s.visit_number, s.chief_complaint,
			s.status, s.created_at, COALESCE(m.assessment, '')
		FROM examination_sessions s
		JOIN patients p ON p.id = s.patient_id
		LEFT JOIN medical_records m ON m.session_id = s.id
		ORDER BY s.created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying recent sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.SessionSummary
	for rows.Next() {
		var s domain.SessionSummary
		var status string
		if err := rows.Scan(&s.ID, &s.PatientID, &s.PatientName, &s.PatientDisplayID, &s.VisitNumber,
			&s.ChiefComplaint, &status, &s.CreatedAt, &s.Diagnosis); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		s.Status = domain.SessionStatus(status)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// CountSessions returns the number of sessions
func (r *SessionRepository) CountSessions(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM examination_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting sessions: %w", err)
	}
	return n, nil
}

// CountSessionsSince returns per-status counts of sessions created at or after since
func (r *SessionRepository) CountSessionsSince(ctx context.Context, since time.Time) (map[domain.SessionStatus]int, error) {
	rows, err := r.db.Query(ctx, `
		SELECT status, COUNT(*) FROM examination_sessions
		WHERE created_at >= $1
		GROUP BY status`, since)
	if err != nil {
		return nil, fmt.Errorf("counting sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.SessionStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning session count: %w", err)
		}
		counts[domain.SessionStatus(status)] = n
	}
	return counts, rows.Err()
}

// VisitStats aggregates session counts and the latest visit per patient
func (r *SessionRepository) VisitStats(ctx context.Context, patientIDs []string) (map[string]domain.VisitStats, error) {
	stats := make(map[string]domain.VisitStats, len(patientIDs))
	if len(patientIDs) == 0 {
		return stats, nil
	}

	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (patient_id)
			patient_id, id, status, created_at,
			COUNT(*) OVER (PARTITION BY patient_id)
		FROM examination_sessions
		WHERE patient_id = ANY($1)
		ORDER BY patient_id, created_at DESC`, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("querying visit stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var patientID, sessionID, status string
		var last time.Time
		var total int
		if err := rows.Scan(&patientID, &sessionID, &status, &last, &total); err != nil {
			return nil, fmt.Errorf("scanning visit stats: %w", err)
		}
		stats[patientID] = domain.VisitStats{
			TotalVisits:     total,
			LastVisitDate:   &last,
			LastVisitStatus: domain.SessionStatus(status),
			LastVisitID:     sessionID,
		}
	}
	return stats, rows.Err()
}
