package domain

import (
	"context"
	"time"
)

// PatientRepository persists patients
type PatientRepository interface {
	CreatePatient(ctx context.Context, patient *Patient) error
	GetPatient(ctx context.Context, id string) (*Patient, error)
	GetPatientByDisplayID(ctx context.Context, displayID string) (*Patient, error)
	UpdatePatient(ctx context.Context, patient *Patient) error
	// DeletePatient removes the patient together with its sessions and their records
	DeletePatient(ctx context.Context, id string) error
	FindPatientsByPhone(ctx context.Context, phone string) ([]*Patient, error)
	FindPatientsByNameAndBirthDate(ctx context.Context, name, birthDate string) ([]*Patient, error)
	// LastDisplayID returns the greatest display id starting with prefix, or "" when none exists
	LastDisplayID(ctx context.Context, prefix string) (string, error)
	ListPatients(ctx context.Context, limit, offset int) ([]*Patient, error)
	// SearchPatients matches a Fold-ed query as a substring of each patient's SearchKey
	SearchPatients(ctx context.Context, foldedQuery string, limit, offset int) ([]*Patient, error)
	CountSearchPatients(ctx context.Context, foldedQuery string) (int, error)
	CountPatients(ctx context.Context) (int, error)
	CountPatientsSince(ctx context.Context, since time.Time) (int, error)
}

// SessionRepository persists examination sessions
type SessionRepository interface {
	// CreateSession inserts the session and assigns its visit number
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetSessionWithPatient(ctx context.Context, id string) (*SessionWithPatient, error)
	ListSessionsForPatient(ctx context.Context, patientID string) ([]*Session, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus) error
	ListRecentSessions(ctx context.Context, limit, offset int) ([]*SessionSummary, error)
	CountSessions(ctx context.Context) (int, error)
	// CountSessionsSince returns per-status counts of sessions created at or after since
	CountSessionsSince(ctx context.Context, since time.Time) (map[SessionStatus]int, error)
	VisitStats(ctx context.Context, patientIDs []string) (map[string]VisitStats, error)
}

// MedicalRecordRepository persists the one record of each session
type MedicalRecordRepository interface {
	// UpsertRecord inserts or replaces the record of record.SessionID
	UpsertRecord(ctx context.Context, record *MedicalRecord) error
	GetRecordBySession(ctx context.Context, sessionID string) (*MedicalRecord, error)
	// ListRecordsBySessions returns the records of the given sessions keyed by session id
	ListRecordsBySessions(ctx context.Context, sessionIDs []string) (map[string]*MedicalRecord, error)
}

// ClinicalStore groups the clinical repositories behind one backend
type ClinicalStore interface {
	PatientRepository
	SessionRepository
	MedicalRecordRepository
	Health(ctx context.Context) error
	Close() error
}

// HISClient pushes finalized records to the hospital information system
type HISClient interface {
	UpdateVisit(ctx context.Context, visitID string, note SOAPNote, icdCodes []string) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
