package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

const patientColumns = `id, display_id, external_patient_id, name, birth_date, gender,
	phone_number, email, address, medical_history, allergies, blood_type,
	created_at, updated_at`

// PatientRepository handles patient persistence in Postgres
type PatientRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *pgxpool.Pool, logger *logrus.Logger) *PatientRepository {
	return &PatientRepository{
		db:  db,
		log: logger,
	}
}

// scanner is the common surface of pgx.Row and pgx.Rows and of sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanPatient(s scanner) (*domain.Patient, error) {
	var p domain.Patient
	err := s.Scan(
		&p.ID, &p.DisplayID, &p.ExternalPatientID, &p.Name, &p.BirthDate, &p.Gender,
		&p.PhoneNumber, &p.Email, &p.Address, &p.MedicalHistory, &p.Allergies, &p.BloodType,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// likePattern escapes LIKE metacharacters and wraps q for substring matching
func likePattern(q string) string {
	q = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(q)
	return "%" + q + "%"
}

// CreatePatient inserts a new patient
func (r *PatientRepository) CreatePatient(ctx context.Context, p *domain.Patient) error {
	query := `
		INSERT INTO patients (` + patientColumns + `, search_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := r.db.Exec(ctx, query,
		p.ID, p.DisplayID, p.ExternalPatientID, p.Name, p.BirthDate, p.Gender,
		p.PhoneNumber, p.Email, p.Address, p.MedicalHistory, p.Allergies, p.BloodType,
		p.CreatedAt, p.UpdatedAt, p.SearchKey(),
	)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"patient_id": p.ID,
			"display_id": p.DisplayID,
			"error":      err,
		}).Error("Failed to create patient")
		return fmt.Errorf("creating patient: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": p.ID,
		"display_id": p.DisplayID,
	}).Info("Patient created successfully")
	return nil
}

func (r *PatientRepository) getOne(ctx context.Context, where string, arg any) (*domain.Patient, error) {
	row := r.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE `+where, arg)
	p, err := scanPatient(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting patient: %w", err)
	}
	return p, nil
}

// GetPatient retrieves a patient by id
func (r *PatientRepository) GetPatient(ctx context.Context, id string) (*domain.Patient, error) {
	return r.getOne(ctx, "id = $1", id)
}

// GetPatientByDisplayID retrieves a patient by its BN- display id
func (r *PatientRepository) GetPatientByDisplayID(ctx context.Context, displayID string) (*domain.Patient, error) {
	return r.getOne(ctx, "display_id = $1", displayID)
}

// UpdatePatient overwrites the mutable patient fields
func (r *PatientRepository) UpdatePatient(ctx context.Context, p *domain.Patient) error {
	query := `
		UPDATE patients SET
			external_patient_id = $2, name = $3, birth_date = $4, gender = $5,
			phone_number = $6, email = $7, address = $8, medical_history = $9,
			allergies = $10, blood_type = $11, search_key = $12, updated_at = $13
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		p.ID, p.ExternalPatientID, p.Name, p.BirthDate, p.Gender,
		p.PhoneNumber, p.Email, p.Address, p.MedicalHistory,
		p.Allergies, p.BloodType, p.SearchKey(), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating patient: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
	}
	return nil
}

// DeletePatient removes a patient with its sessions and records in one transaction
func (r *PatientRepository) DeletePatient(ctx context.Context, id string) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			DELETE FROM medical_records
			WHERE session_id IN (SELECT id FROM examination_sessions WHERE patient_id = $1)`, id); err != nil {
			return fmt.Errorf("deleting records: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM examination_sessions WHERE patient_id = $1`, id); err != nil {
			return fmt.Errorf("deleting sessions: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting patient: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("patient not found: %w", domain.ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.WithField("patient_id", id).Info("Patient deleted with sessions and records")
	return nil
}

func (r *PatientRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Patient, error) {
	rows, err := r.db.Query(ctx, query, args...)
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
func (r *PatientRepository) FindPatientsByPhone(ctx context.Context, phone string) ([]*domain.Patient, error) {
	return r.list(ctx, `SELECT `+patientColumns+` FROM patients WHERE phone_number = $1`, phone)
}

// FindPatientsByNameAndBirthDate returns patients with exactly this name and birth date
func (r *PatientRepository) FindPatientsByNameAndBirthDate(ctx context.Context, name, birthDate string) ([]*domain.Patient, error) {
	return r.list(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE name = $1 AND birth_date = $2`, name, birthDate)
}

// LastDisplayID returns the greatest display id with the prefix
func (r *PatientRepository) LastDisplayID(ctx context.Context, prefix string) (string, error) {
	var id string
	err := r.db.QueryRow(ctx,
		`SELECT display_id FROM patients WHERE display_id LIKE $1 ORDER BY display_id DESC LIMIT 1`,
		prefix+"%",
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting last display id: %w", err)
	}
	return id, nil
}

// ListPatients returns patients newest first
func (r *PatientRepository) ListPatients(ctx context.Context, limit, offset int) ([]*domain.Patient, error) {
	return r.list(ctx,
		`SELECT `+patientColumns+` FROM patients ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
}

// SearchPatients returns patients whose search key contains the folded query
func (r *PatientRepository) SearchPatients(ctx context.Context, foldedQuery string, limit, offset int) ([]*domain.Patient, error) {
	return r.list(ctx, `
		SELECT `+patientColumns+` FROM patients
		WHERE search_key LIKE $1 ESCAPE '\'
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		likePattern(foldedQuery), limit, offset)
}

// CountSearchPatients counts SearchPatients matches
func (r *PatientRepository) CountSearchPatients(ctx context.Context, foldedQuery string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM patients WHERE search_key LIKE $1 ESCAPE '\'`, likePattern(foldedQuery),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting patients: %w", err)
	}
	return n, nil
}

// CountPatients returns the number of patients
func (r *PatientRepository) CountPatients(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting patients: %w", err)
	}
	return n, nil
}

// CountPatientsSince returns the number of patients registered at or after since
func (r *PatientRepository) CountPatientsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM patients WHERE created_at >= $1`, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting patients: %w", err)
	}
	return n, nil
}
