package repository

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/database"
	"github.com/medical-examination-assistant/internal/domain"
)

// PostgresStore is the Postgres ClinicalStore, one repository per table
type PostgresStore struct {
	*PatientRepository
	*SessionRepository
	*RecordRepository
	db *database.DB
}

var _ domain.ClinicalStore = (*PostgresStore)(nil)

// NewPostgresStore wires the Postgres repositories over one pool
func NewPostgresStore(db *database.DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{
		PatientRepository: NewPatientRepository(db.Pool, logger),
		SessionRepository: NewSessionRepository(db.Pool, logger),
		RecordRepository:  NewRecordRepository(db.Pool, logger),
		db:                db,
	}
}

// Health pings the pool
func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close closes the pool
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
