package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

// Pagination defaults
const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// PatientService manages patient identities
type PatientService struct {
	store  domain.ClinicalStore
	now    func() time.Time
	logger *logrus.Logger
}

// NewPatientService creates a patient service
func NewPatientService(store domain.ClinicalStore, logger *logrus.Logger) *PatientService {
	return &PatientService{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
}

// Create registers a patient. Unless force is set, a possible duplicate fails
// with a DuplicatePatientError listing the candidates.
func (s *PatientService) Create(ctx context.Context, input domain.PatientInput, force bool) (*domain.Patient, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return nil, domain.NewValidationError("name", "Patient name is required", input.Name)
	}

	if !force {
		duplicates, err := s.findDuplicates(ctx, input)
		if err != nil {
			return nil, err
		}
		if len(duplicates) > 0 {
			s.logger.WithField("candidates", len(duplicates)).Info("Possible duplicate patient")
			return nil, &domain.DuplicatePatientError{Duplicates: duplicates}
		}
	}

	now := s.now().UTC()
	displayID, err := s.NextDisplayID(ctx, now.Year())
	if err != nil {
		return nil, err
	}

	patient := &domain.Patient{
		ID:                "pat_" + uuid.NewString(),
		DisplayID:         displayID,
		ExternalPatientID: input.ExternalPatientID,
		Name:              input.Name,
		BirthDate:         input.BirthDate,
		Gender:            input.Gender,
		PhoneNumber:       strings.TrimSpace(input.PhoneNumber),
		Email:             input.Email,
		Address:           input.Address,
		MedicalHistory:    input.MedicalHistory,
		Allergies:         input.Allergies,
		BloodType:         input.BloodType,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.CreatePatient(ctx, patient); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"patient_id": patient.ID,
		"display_id": patient.DisplayID,
	}).Info("Patient created")
	return patient, nil
}

func (s *PatientService) findDuplicates(ctx context.Context, input domain.PatientInput) ([]*domain.Patient, error) {
	var candidates []*domain.Patient

	if phone := strings.TrimSpace(input.PhoneNumber); phone != "" {
		found, err := s.store.FindPatientsByPhone(ctx, phone)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}
	if input.BirthDate != "" {
		found, err := s.store.FindPatientsByNameAndBirthDate(ctx, input.Name, input.BirthDate)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, found...)
	}

	seen := map[string]bool{}
	unique := candidates[:0]
	for _, p := range candidates {
		if !seen[p.ID] {
			seen[p.ID] = true
			unique = append(unique, p)
		}
	}
	return unique, nil
}

// NextDisplayID returns the next BN-YYYY-NNNNNN id for year
func (s *PatientService) NextDisplayID(ctx context.Context, year int) (string, error) {
	prefix := fmt.Sprintf("BN-%d-", year)
	last, err := s.store.LastDisplayID(ctx, prefix)
	if err != nil {
		return "", err
	}

	next := 1
	if last != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(last, prefix))
		if err != nil {
			return "", fmt.Errorf("malformed display id %q: %w", last, err)
		}
		next = n + 1
	}
	return fmt.Sprintf("%s%06d", prefix, next), nil
}

// Get returns a patient by id
func (s *PatientService) Get(ctx context.Context, id string) (*domain.Patient, error) {
	return s.store.GetPatient(ctx, id)
}

// GetByDisplayID returns a patient by display id
func (s *PatientService) GetByDisplayID(ctx context.Context, displayID string) (*domain.Patient, error) {
	return s.store.GetPatientByDisplayID(ctx, displayID)
}

// Update applies a partial update
func (s *PatientService) Update(ctx context.Context, id string, patch domain.PatientPatch) (*domain.Patient, error) {
	patient, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	patch.Apply(patient)
	patient.Name = strings.TrimSpace(patient.Name)
	if patient.Name == "" {
		return nil, domain.NewValidationError("name", "Patient name cannot be empty", patient.Name)
	}
	patient.UpdatedAt = s.now().UTC()

	if err := s.store.UpdatePatient(ctx, patient); err != nil {
		return nil, err
	}
	s.logger.WithField("patient_id", id).Info("Patient updated")
	return patient, nil
}

// Delete removes the patient with its sessions and records
func (s *PatientService) Delete(ctx context.Context, id string) error {
	if err := s.store.DeletePatient(ctx, id); err != nil {
		return err
	}
	s.logger.WithField("patient_id", id).Info("Patient deleted")
	return nil
}

// Search finds patients whose name, phone or display id contains query, ignoring accents and case
func (s *PatientService) Search(ctx context.Context, query string, page, limit int) (*domain.PatientPage, error) {
	page, limit = normalizePage(page, limit, DefaultPageLimit)
	folded := domain.Fold(strings.TrimSpace(query))

	patients, err := s.store.SearchPatients(ctx, folded, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountSearchPatients(ctx, folded)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, patients, total, page, limit)
}

// List pages through every patient, newest first
func (s *PatientService) List(ctx context.Context, page, limit int) (*domain.PatientPage, error) {
	page, limit = normalizePage(page, limit, DefaultPageLimit)

	patients, err := s.store.ListPatients(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	return s.page(ctx, patients, total, page, limit)
}

func (s *PatientService) page(ctx context.Context, patients []*domain.Patient, total, page, limit int) (*domain.PatientPage, error) {
	stats, err := s.store.VisitStats(ctx, patientIDs(patients))
	if err != nil {
		return nil, err
	}

	summaries := make([]*domain.PatientSummary, 0, len(patients))
	for _, p := range patients {
		st := stats[p.ID]
		summaries = append(summaries, &domain.PatientSummary{
			ID:            p.ID,
			DisplayID:     p.DisplayID,
			Name:          p.Name,
			BirthDate:     p.BirthDate,
			PhoneNumber:   p.PhoneNumber,
			TotalVisits:   st.TotalVisits,
			LastVisitDate: st.LastVisitDate,
		})
	}

	return &domain.PatientPage{
		Patients: summaries,
		Total:    total,
		Pages:    pageCount(total, limit),
		Page:     page,
		Limit:    limit,
	}, nil
}

// History returns the patient with every visit, newest first
func (s *PatientService) History(ctx context.Context, id string) (*domain.PatientHistory, error) {
	patient, err := s.store.GetPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	sessions, err := s.store.ListSessionsForPatient(ctx, id)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	records, err := s.store.ListRecordsBySessions(ctx, ids)
	if err != nil {
		return nil, err
	}

	history := &domain.PatientHistory{Patient: patient, Sessions: []*domain.SessionHistory{}}
	for _, sess := range sessions {
		history.Sessions = append(history.Sessions, &domain.SessionHistory{
			Session: *sess,
			Record:  records[sess.ID],
		})
	}
	return history, nil
}

func patientIDs(patients []*domain.Patient) []string {
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}
	return ids
}

func normalizePage(page, limit, defaultLimit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	return page, limit
}

func pageCount(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

// IsNotFound reports whether err is a missing-entity error
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
