package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/medical-examination-assistant/internal/domain"
)

// SQLiteStore implements ClinicalStore on a single SQLite file
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	log    *logrus.Logger
}

var _ domain.ClinicalStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and creates if needed) the clinical database
func NewSQLiteStore(dbPath string, logger *logrus.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers; foreign keys are off by default in SQLite
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := createClinicalSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.WithField("path", dbPath).Info("SQLite clinical store opened")
	return &SQLiteStore{db: db, dbPath: dbPath, log: logger}, nil
}

func createClinicalSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS patients (
		id TEXT PRIMARY KEY,
		display_id TEXT NOT NULL UNIQUE,
		external_patient_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		birth_date TEXT NOT NULL DEFAULT '',
		gender TEXT NOT NULL DEFAULT '',
		phone_number TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		address TEXT NOT NULL DEFAULT '',
		medical_history TEXT NOT NULL DEFAULT '',
		allergies TEXT NOT NULL DEFAULT '',
		blood_type TEXT NOT NULL DEFAULT '',
		search_key TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_patients_phone ON patients(phone_number);
	CREATE INDEX IF NOT EXISTS idx_patients_name_birth ON patients(name, birth_date);
	CREATE INDEX IF NOT EXISTS idx_patients_created_at ON patients(created_at);

	CREATE TABLE IF NOT EXISTS examination_sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL REFERENCES patients(id) ON DELETE CASCADE,
		visit_number INTEGER NOT NULL,
		chief_complaint TEXT NOT NULL DEFAULT '',
		visit_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_patient ON examination_sessions(patient_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON examination_sessions(created_at);

	CREATE TABLE IF NOT EXISTS medical_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES examination_sessions(id) ON DELETE CASCADE,
		subjective TEXT NOT NULL DEFAULT '',
		objective TEXT NOT NULL DEFAULT '',
		assessment TEXT NOT NULL DEFAULT '',
		plan TEXT NOT NULL DEFAULT '',
		icd_codes TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'draft',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`

	_, err := db.Exec(schema)
	return err
}

// placeholders returns "?, ?, ?" for n arguments
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// Patients

// CreatePatient inserts a new patient
func (s *SQLiteStore) CreatePatient(ctx context.Context, p *domain.Patient) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO patients (`+patientColumns+`, search_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.DisplayID, p.ExternalPatientID, p.Name, p.BirthDate, p.Gender,
		p.PhoneNumber, p.Email, p.Address, p.MedicalHistory, p.Allergies, p.BloodType,
		p.CreatedAt.UTC(), p.UpdatedAt.UTC(), p.SearchKey(),
	)
	if err != nil {
		return fmt.Errorf("creating patient: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getPatient(ctx context.Context, where string, arg any) (*domain.Patient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+patientColumns+` FROM patients WHERE `+where, arg)
	p, err := scanPatient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return p, nil
}

// GetPatient retrieves a patient by id
func (s *SQLiteStore) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	return s.getPatient(ctx, "id = ?", id)
}

// GetPatientByDisplayID retrieves a patient by display id
func (s *SQLiteStore) GetPatientByDisplayID(ctx context.Context, displayID string) (*domain.Patient, error) {
	return s.getPatient(ctx, "display_id = ?", displayID)
}

// UpdatePatient overwrites the mutable patient fields
func (s *SQLiteStore) UpdatePatient(ctx context.Context, p *domain.Patient) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE patients SET
			external_patient_id = ?, name = ?, birth_date = ?, gender = ?,
			phone_number = ?, email = ?, address = ?, medical_history = ?,
			allergies = ?, blood_type = ?, search_key = ?, updated_at = ?
		WHERE id = ?`,
		p.ExternalPatientID, p.Name, p.BirthDate, p.Gender,
		p.PhoneNumber, p.Email, p.Address, p.MedicalHistory,
		p.Allergies, p.BloodType, p.SearchKey(), p.UpdatedAt.UTC(), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating patient: %w", err)
	}
	return requireAffected(result, "patient")
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s not found: %w", what, domain.ErrNotFound)
	}
	return nil
}

// DeletePatient removes a patient with its sessions and records in one transaction
func (s *SQLiteStore) DeletePatient(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM medical_records
		WHERE session_id IN (SELECT id FROM examination_sessions WHERE patient_id = ?)`, id); err != nil {
		return fmt.Errorf("deleting records: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM examination_sessions WHERE patient_id = ?`, id); err != nil {
		return fmt.Errorf("deleting sessions: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting patient: %w", err)
	}
	if err := requireAffected(result, "patient"); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.log.WithField("patient_id", id).Info("Patient deleted with sessions and records")
	return nil
}

func (s *SQLiteStore) listPatients(ctx context.Context, query string, args ...any) ([]*domain.Patient, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying patients: %w", err)
	}
	defer rows.Close()

	var patients []*domain.Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning patient: %w", err)
		}
		patients = append(patients, p)
	}
	return patients, rows.Err()
}

// FindPatientsByPhone returns patients with exactly this phone number
func (s *SQLiteStore) FindPatientsByPhone(ctx context.Context, phone string) ([]*domain.Patient, error) {
	return s.listPatients(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone_number = ?`, phone)
}

// FindPatientsByNameAndBirthDate returns patients with exactly this name and birth date
func (s *SQLiteStore) FindPatientsByNameAndBirthDate(ctx context.Context, name, birthDate string) ([]*domain.Patient, error) {
	return s.listPatients(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE name = ? AND birth_date = ?`, name, birthDate)
}

// LastDisplayID returns the greatest display id with the prefix
func (s *SQLiteStore) LastDisplayID(ctx context.Context, prefix string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_id FROM patients WHERE display_id LIKE ? ORDER BY display_id DESC LIMIT 1`,
		prefix+"%",
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last display id: %w", err)
	}
	return id, nil
}

// ListPatients returns patients newest first
func (s *SQLiteStore) ListPatients(ctx context.Context, limit, offset int) ([]*domain.Patient, error) {
	return s.listPatients(ctx,
		`SELECT `+patientColumns+` FROM patients ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
}

// SearchPatients returns patients whose search key contains the folded query
func (s *SQLiteStore) SearchPatients(ctx context.Context, foldedQuery string, limit, offset int) ([]*domain.Patient, error) {
	return s.listPatients(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE search_key LIKE ? ESCAPE '\'
		ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		likePattern(foldedQuery), limit, offset)
}

// CountSearchPatients counts SearchPatients matches
func (s *SQLiteStore) CountSearchPatients(ctx context.Context, foldedQuery string) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM patients WHERE search_key LIKE ? ESCAPE '\'`, likePattern(foldedQuery))
}

func (s *SQLiteStore) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting: %w", err)
	}
	return n, nil
}

// CountPatients returns the number of patients
func (s *SQLiteStore) CountPatients(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM patients`)
}

// CountPatientsSince returns the number of patients registered at or after since
func (s *SQLiteStore) CountPatientsSince(ctx context.Context, since time.Time) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM patients WHERE created_at >= ?`, since.UTC())
}

// Sessions

// CreateSession inserts the session; the visit number is computed in the same statement
func (s *SQLiteStore) CreateSession(ctx context.Context, sess *domain.Session) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO examination_sessions (
			id, patient_id, visit_number, chief_complaint, visit_id, status, created_at, updated_at
		) VALUES (
			?1, ?2,
			(SELECT COUNT(*) + 1 FROM examination_sessions WHERE patient_id = ?2),
			?3, ?4, ?5, ?6, ?7
		)
		RETURNING visit_number`,
		sess.ID, sess.PatientID, sess.ChiefComplaint, sess.VisitID, string(sess.Status),
		sess.CreatedAt.UTC(), sess.UpdatedAt.UTC(),
	).Scan(&sess.VisitNumber)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by id
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM examination_sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// GetSessionWithPatient retrieves a session joined with its patient
func (s *SQLiteStore) GetSessionWithPatient(ctx context.Context, id string) (*domain.SessionWithPatient, error) {
	var pb domain.PatientBrief
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`,
			p.id, p.display_id, p.name, p.birth_date, p.gender, p.phone_number, p.medical_history
		FROM examination_sessions s
		JOIN patients p ON p.id = s.patient_id
		WHERE s.id = ?`, id)
	sess, err := scanSession(row,
		&pb.ID, &pb.DisplayID, &pb.Name, &pb.BirthDate, &pb.Gender, &pb.PhoneNumber, &pb.MedicalHistory)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &domain.SessionWithPatient{Session: *sess, Patient: pb}, nil
}

// ListSessionsForPatient returns a patient's sessions newest first
func (s *SQLiteStore) ListSessionsForPatient(ctx context.Context, patientID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM examination_sessions s
		WHERE s.patient_id = ?
		ORDER BY s.created_at DESC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus changes the status of a session
func (s *SQLiteStore) UpdateSessionStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE examination_sessions SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("updating session status: %w", err)
	}
	return requireAffected(result, "session")
}

// ListRecentSessions returns sessions newest first with patient and diagnosis
func (s *SQLiteStore) ListRecentSessions(ctx context.Context, limit, offset int) ([]*domain.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.patient_id, p.name, p.display_id, s.visit_number, s.chief_complaint,
			s.status, s.created_at, COALESCE(m.assessment, '')
		FROM examination_sessions s
		JOIN patients p ON p.id = s.patient_id
		LEFT JOIN medical_records m ON m.session_id = s.id
		ORDER BY s.created_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying recent sessions: %w", err)
	}
	defer rows.Close()

	var out []*domain.SessionSummary
	for rows.Next() {
		var sum domain.SessionSummary
		var status string
		if err := rows.Scan(&sum.ID, &sum.PatientID, &sum.PatientName, &sum.PatientDisplayID, &sum.VisitNumber,
			&sum.ChiefComplaint, &status, &sum.CreatedAt, &sum.Diagnosis); err != nil {
			return nil, fmt.Errorf("scanning session summary: %w", err)
		}
		sum.Status = domain.SessionStatus(status)
		out = append(out, &sum)
	}
	return out, rows.Err()
}

// CountSessions returns the number of sessions
func (s *SQLiteStore) CountSessions(ctx context.Context) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM examination_sessions`)
}

// CountSessionsSince returns per-status counts of sessions created at or after since
func (s *SQLiteStore) CountSessionsSince(ctx context.Context, since time.Time) (map[domain.SessionStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM examination_sessions
		WHERE created_at >= ?
		GROUP BY status`, since.UTC())
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
func (s *SQLiteStore) VisitStats(ctx context.Context, patientIDs []string) (map[string]domain.VisitStats, error) {
	stats := make(map[string]domain.VisitStats, len(patientIDs))
	if len(patientIDs) == 0 {
		return stats, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT patient_id, id, status, created_at, total FROM (
			SELECT patient_id, id, status, created_at,
				COUNT(*) OVER (PARTITION BY patient_id) AS total,
				ROW_NUMBER() OVER (PARTITION BY patient_id ORDER BY created_at DESC) AS rn
			FROM examination_sessions
			WHERE patient_id IN (`+placeholders(len(patientIDs))+`)
		) WHERE rn = 1`, stringArgs(patientIDs)...)
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

// Records

// sqliteRecord adapts the JSON-encoded icd_codes column
type sqliteRecord struct {
	rec   domain.MedicalRecord
	codes string
	state string
}

func scanSQLiteRecord(sc scanner) (*domain.MedicalRecord, error) {
	var r sqliteRecord
	err := sc.Scan(
		&r.rec.ID, &r.rec.SessionID, &r.rec.Subjective, &r.rec.Objective, &r.rec.Assessment, &r.rec.Plan,
		&r.codes, &r.state, &r.rec.CreatedAt, &r.rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.rec.Status = domain.RecordStatus(r.state)
	r.rec.ICDCodes = []string{}
	if err := json.Unmarshal([]byte(r.codes), &r.rec.ICDCodes); err != nil {
		return nil, fmt.Errorf("decoding icd codes: %w", err)
	}
	return &r.rec, nil
}

// UpsertRecord inserts the session's record or replaces its content
func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *domain.MedicalRecord) error {
	codes := rec.ICDCodes
	if codes == nil {
		codes = []string{}
	}
	encoded, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("encoding icd codes: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO medical_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			subjective = excluded.subjective,
			objective = excluded.objective,
			assessment = excluded.assessment,
			plan = excluded.plan,
			icd_codes = excluded.icd_codes,
			status = excluded.status,
			updated_at = excluded.updated_at
		RETURNING id, created_at`,
		rec.ID, rec.SessionID, rec.Subjective, rec.Objective, rec.Assessment, rec.Plan,
		string(encoded), string(rec.Status), rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving medical record: %w", err)
	}
	return nil
}

// GetRecordBySession retrieves the record of a session
func (s *SQLiteStore) GetRecordBySession(ctx context.Context, sessionID string) (*domain.MedicalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM medical_records WHERE session_id = ?`, sessionID)
	rec, err := scanSQLiteRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("medical record not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting medical record: %w", err)
	}
	return rec, nil
}

// ListRecordsBySessions returns the records of the sessions keyed by session id
func (s *SQLiteStore) ListRecordsBySessions(ctx context.Context, sessionIDs []string) (map[string]*domain.MedicalRecord, error) {
	out := make(map[string]*domain.MedicalRecord, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM medical_records WHERE session_id IN (`+placeholders(len(sessionIDs))+`)`,
		stringArgs(sessionIDs)...)
	if err != nil {
		return nil, fmt.Errorf("querying medical records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanSQLiteRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning medical record: %w", err)
		}
		out[rec.SessionID] = rec
	}
	return out, rows.Err()
}

// Health pings the database
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
