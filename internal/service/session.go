package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

// CreateSessionRequest accepts both the current body (patientId) and the
// older one that registers the patient inline (patientName).
type CreateSessionRequest struct {
	PatientID      string             `json:"patientId"`
	ChiefComplaint string             `json:"chiefComplaint"`
	VisitID        string             `json:"visitId"`
	PatientName    string             `json:"patientName"`
	PatientInfo    *LegacyPatientInfo `json:"patientInfo"`
	MedicalHistory string             `json:"medicalHistory"`
}

// LegacyPatientInfo is the inline patient block of the older body
type LegacyPatientInfo struct {
	Age         *int   `json:"age"`
	Gender      string `json:"gender"`
	Address     string `json:"address"`
	PhoneNumber string `json:"phoneNumber"`
}

// CreatedSession is a new session, plus the patient when it was registered inline
type CreatedSession struct {
	*domain.Session
	PatientName      string          `json:"patientName,omitempty"`
	PatientDisplayID string          `json:"patientDisplayId,omitempty"`
	Patient          *domain.Patient `json:"patient,omitempty"`
}

// SessionPage is a paginated list of recent sessions
type SessionPage struct {
	Sessions []*domain.SessionSummary `json:"sessions"`
	Total    int                      `json:"total"`
	Pages    int                      `json:"pages"`
	Page     int                      `json:"page"`
	Limit    int                      `json:"limit"`
}

// SessionService manages examination sessions and their medical records
type SessionService struct {
	store    domain.ClinicalStore
	patients *PatientService
	his      domain.HISClient
	now      func() time.Time
	logger   *logrus.Logger
}

// NewSessionService creates a session service. his may be nil when HIS sync is disabled.
func NewSessionService(store domain.ClinicalStore, patients *PatientService, his domain.HISClient, logger *logrus.Logger) *SessionService {
	return &SessionService{
		store:    store,
		patients: patients,
		his:      his,
		now:      time.Now,
		logger:   logger,
	}
}

// Create opens a session, registering the patient first for the older body
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*CreatedSession, error) {
	if req.PatientID != "" {
		session, err := s.create(ctx, domain.SessionInput{
			PatientID:      req.PatientID,
			ChiefComplaint: req.ChiefComplaint,
			VisitID:        req.VisitID,
		})
		if err != nil {
			return nil, err
		}
		return &CreatedSession{Session: session}, nil
	}

	if strings.TrimSpace(req.PatientName) == "" {
		return nil, domain.NewValidationError("patientName", "Tên bệnh nhân hoặc mã bệnh nhân là bắt buộc", "")
	}

	input := domain.PatientInput{
		Name:           req.PatientName,
		MedicalHistory: req.MedicalHistory,
	}
	if info := req.PatientInfo; info != nil {
		input.Gender = info.Gender
		input.Address = info.Address
		input.PhoneNumber = info.PhoneNumber
		if info.Age != nil && *info.Age > 0 {
			input.BirthDate = fmt.Sprintf("%d-01-01", s.now().Year()-*info.Age)
		}
	}

	patient, err := s.patients.Create(ctx, input, true)
	if err != nil {
		return nil, err
	}

	complaint := req.ChiefComplaint
	if complaint == "" {
		complaint = req.MedicalHistory
	}
	session, err := s.create(ctx, domain.SessionInput{
		PatientID:      patient.ID,
		ChiefComplaint: complaint,
		VisitID:        req.VisitID,
	})
	if err != nil {
		return nil, err
	}

	return &CreatedSession{
		Session:          session,
		PatientName:      patient.Name,
		PatientDisplayID: patient.DisplayID,
		Patient:          patient,
	}, nil
}

func (s *SessionService) create(ctx context.Context, input domain.SessionInput) (*domain.Session, error) {
	if _, err := s.store.GetPatient(ctx, input.PatientID); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &domain.Session{
		ID:             "sess_" + uuid.NewString(),
		PatientID:      input.PatientID,
		ChiefComplaint: input.ChiefComplaint,
		VisitID:        input.VisitID,
		Status:         domain.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":   session.ID,
		"patient_id":   session.PatientID,
		"visit_number": session.VisitNumber,
	}).Info("Examination session created")
	return session, nil
}

// Get returns the session with its patient header
func (s *SessionService) Get(ctx context.Context, id string) (*domain.SessionWithPatient, error) {
	return s.store.GetSessionWithPatient(ctx, id)
}

// List returns recent sessions newest first
func (s *SessionService) List(ctx context.Context, page, limit int) (*SessionPage, error) {
	page, limit = normalizePage(page, limit, DefaultPageLimit)

	sessions, err := s.store.ListRecentSessions(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*domain.SessionSummary{}
	}
	total, err := s.store.CountSessions(ctx)
	if err != nil {
		return nil, err
	}

	return &SessionPage{
		Sessions: sessions,
		Total:    total,
		Pages:    pageCount(total, limit),
		Page:     page,
		Limit:    limit,
	}, nil
}

// UpdateStatus moves the session to status
func (s *SessionService) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	if !status.Valid() {
		return domain.NewValidationError("status", "must be one of active, completed, cancelled", string(status))
	}
	if err := s.store.UpdateSessionStatus(ctx, id, status); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": id,
		"status":     status,
	}).Info("Session status updated")
	return nil
}

// Cancel marks the session cancelled
func (s *SessionService) Cancel(ctx context.Context, id string) error {
	return s.UpdateStatus(ctx, id, domain.SessionCancelled)
}

// SaveRecord stores the physician's record for the session. A final record
// needs an assessment and an ICD code, is pushed to HIS when the session has a
// visit id, and completes the session.
func (s *SessionService) SaveRecord(ctx context.Context, sessionID string, input domain.MedicalRecordInput) (*domain.MedicalRecord, error) {
	if input.Status == "" {
		input.Status = domain.RecordDraft
	}
	if input.Status != domain.RecordDraft && input.Status != domain.RecordFinal {
		return nil, domain.NewValidationError("status", "must be draft or final", string(input.Status))
	}

	codes := cleanCodes(input.ICDCodes)
	if input.Status == domain.RecordFinal {
		if strings.TrimSpace(input.Assessment) == "" {
			return nil, fmt.Errorf("assessment is required: %w", domain.ErrRecordIncomplete)
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("at least one ICD-10 code is required: %w", domain.ErrRecordIncomplete)
		}
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	record := &domain.MedicalRecord{
		ID:         "rec_" + uuid.NewString(),
		SessionID:  sessionID,
		Subjective: input.Subjective,
		Objective:  input.Objective,
		Assessment: input.Assessment,
		Plan:       input.Plan,
		ICDCodes:   codes,
		Status:     input.Status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.UpsertRecord(ctx, record); err != nil {
		return nil, err
	}

	logger := s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"record_id":  record.ID,
		"status":     record.Status,
	})
	logger.Info("Medical record saved")

	if record.Status != domain.RecordFinal {
		return record, nil
	}

	if session.VisitID != "" && s.his != nil {
		if err := s.his.UpdateVisit(ctx, session.VisitID, record.SOAP(), record.ICDCodes); err != nil {
			logger.WithError(err).WithField("visit_id", session.VisitID).Error("HIS sync failed")
		} else {
			logger.WithField("visit_id", session.VisitID).Info("Record synced to HIS")
		}
	}

	if err := s.store.UpdateSessionStatus(ctx, sessionID, domain.SessionCompleted); err != nil {
		return nil, err
	}
	return record, nil
}

// GetRecord returns the record of the session
func (s *SessionService) GetRecord(ctx context.Context, sessionID string) (*domain.MedicalRecord, error) {
	return s.store.GetRecordBySession(ctx, sessionID)
}
