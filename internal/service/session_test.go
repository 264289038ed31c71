package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
)

func newTestSessionService(t *testing.T, his domain.HISClient) (*SessionService, *PatientService) {
	store := newTestStore(t)
	patients := NewPatientService(store, testLogger())
	patients.now = fixedClock(testNow)
	sessions := NewSessionService(store, patients, his, testLogger())
	sessions.now = fixedClock(testNow)
	return sessions, patients
}

func TestSessionService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Visit_Numbers", func(t *testing.T) {
		sessions, patients := newTestSessionService(t, nil)
		p, err := patients.Create(ctx, domain.PatientInput{Name: "Bùi Lan"}, false)
		require.NoError(t, err)

		first, err := sessions.Create(ctx, CreateSessionRequest{PatientID: p.ID, ChiefComplaint: "Đau đầu", VisitID: "V-1"})
		require.NoError(t, err)
		second, err := sessions.Create(ctx, CreateSessionRequest{PatientID: p.ID})
		require.NoError(t, err)

		assert.Equal(t, 1, first.VisitNumber)
		assert.Equal(t, 2, second.VisitNumber)
		assert.Equal(t, domain.SessionActive, first.Status)
		assert.Nil(t, first.Patient)
		assert.Regexp(t, `^sess_`, first.ID)
	})

	t.Run("Unknown_Patient", func(t *testing.T) {
		sessions, _ := newTestSessionService(t, nil)
		_, err := sessions.Create(ctx, CreateSessionRequest{PatientID: "pat_missing"})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Legacy_Body", func(t *testing.T) {
		sessions, _ := newTestSessionService(t, nil)
		age := 40
		created, err := sessions.Create(ctx, CreateSessionRequest{
			PatientName:    "Hoàng Văn Khải",
			MedicalHistory: "Tăng huyết áp",
			PatientInfo:    &LegacyPatientInfo{Age: &age, Gender: "Nam", PhoneNumber: "0988"},
		})
		require.NoError(t, err)

		assert.Equal(t, "Hoàng Văn Khải", created.PatientName)
		assert.Equal(t, "BN-2026-000001", created.PatientDisplayID)
		require.NotNil(t, created.Patient)
		assert.Equal(t, "1986-01-01", created.Patient.BirthDate)
		assert.Equal(t, "0988", created.Patient.PhoneNumber)
		assert.Equal(t, "Tăng huyết áp", created.ChiefComplaint)
		assert.Equal(t, created.Patient.ID, created.PatientID)
	})

	t.Run("Legacy_Body_Skips_Duplicate_Check", func(t *testing.T) {
		sessions, _ := newTestSessionService(t, nil)
		for range 2 {
			_, err := sessions.Create(ctx, CreateSessionRequest{
				PatientName: "Hoàng Văn Khải",
				PatientInfo: &LegacyPatientInfo{PhoneNumber: "0988"},
			})
			require.NoError(t, err)
		}
	})

	t.Run("Neither_Patient_Field", func(t *testing.T) {
		sessions, _ := newTestSessionService(t, nil)
		_, err := sessions.Create(ctx, CreateSessionRequest{ChiefComplaint: "Ho"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSessionService_Status(t *testing.T) {
	ctx := context.Background()
	sessions, patients := newTestSessionService(t, nil)
	p, err := patients.Create(ctx, domain.PatientInput{Name: "Mai Anh"}, false)
	require.NoError(t, err)
	created, err := sessions.Create(ctx, CreateSessionRequest{PatientID: p.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, sessions.UpdateStatus(ctx, created.ID, "archived"), domain.ErrInvalidInput)
	assert.ErrorIs(t, sessions.UpdateStatus(ctx, "sess_missing", domain.SessionCompleted), domain.ErrNotFound)

	require.NoError(t, sessions.Cancel(ctx, created.ID))
	got, err := sessions.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCancelled, got.Status)
	assert.Equal(t, "Mai Anh", got.Patient.Name)

	page, err := sessions.List(ctx, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Sessions, 1)
	assert.Equal(t, p.DisplayID, page.Sessions[0].PatientDisplayID)
}

func TestSessionService_SaveRecord(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, his domain.HISClient, visitID string) (*SessionService, string) {
		sessions, patients := newTestSessionService(t, his)
		p, err := patients.Create(ctx, domain.PatientInput{Name: "Lý Thu"}, false)
		require.NoError(t, err)
		created, err := sessions.Create(ctx, CreateSessionRequest{PatientID: p.ID, VisitID: visitID})
		require.NoError(t, err)
		return sessions, created.ID
	}

	final := domain.MedicalRecordInput{
		Subjective: "Ho khan 1 tuần",
		Assessment: "Viêm phế quản cấp",
		Plan:       "Nghỉ ngơi",
		ICDCodes:   []string{"J20.9", " "},
		Status:     domain.RecordFinal,
	}

	t.Run("Draft_Then_Final", func(t *testing.T) {
		sessions, id := setup(t, nil, "")

		draft, err := sessions.SaveRecord(ctx, id, domain.MedicalRecordInput{Subjective: "Ho"})
		require.NoError(t, err)
		assert.Equal(t, domain.RecordDraft, draft.Status)

		saved, err := sessions.SaveRecord(ctx, id, final)
		require.NoError(t, err)
		assert.Equal(t, draft.ID, saved.ID)
		assert.Equal(t, []string{"J20.9"}, saved.ICDCodes)

		rec, err := sessions.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RecordFinal, rec.Status)

		got, err := sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, got.Status)
	})

	t.Run("Final_Requires_ICD_Code", func(t *testing.T) {
		sessions, id := setup(t, nil, "")

		incomplete := final
		incomplete.ICDCodes = []string{" "}
		_, err := sessions.SaveRecord(ctx, id, incomplete)
		assert.ErrorIs(t, err, domain.ErrRecordIncomplete)

		incomplete = final
		incomplete.Assessment = ""
		_, err = sessions.SaveRecord(ctx, id, incomplete)
		assert.ErrorIs(t, err, domain.ErrRecordIncomplete)

		_, err = sessions.GetRecord(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Unknown_Session", func(t *testing.T) {
		sessions, _ := setup(t, nil, "")
		_, err := sessions.SaveRecord(ctx, "sess_missing", final)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Invalid_Status", func(t *testing.T) {
		sessions, id := setup(t, nil, "")
		_, err := sessions.SaveRecord(ctx, id, domain.MedicalRecordInput{Status: "signed"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Final_Syncs_To_HIS", func(t *testing.T) {
		his := new(MockHIS)
		his.On("UpdateVisit", mock.Anything, "V-42", mock.MatchedBy(func(n domain.SOAPNote) bool {
			return n.Assessment == "Viêm phế quản cấp"
		}), []string{"J20.9"}).Return(nil).Once()

		sessions, id := setup(t, his, "V-42")
		_, err := sessions.SaveRecord(ctx, id, final)
		require.NoError(t, err)
		his.AssertExpectations(t)
	})

	t.Run("HIS_Failure_Does_Not_Fail_Save", func(t *testing.T) {
		his := new(MockHIS)
		his.On("UpdateVisit", mock.Anything, "V-7", mock.Anything, mock.Anything).
			Return(&domain.ExternalServiceError{Service: "his", Err: errors.New("http 502")})

		sessions, id := setup(t, his, "V-7")
		_, err := sessions.SaveRecord(ctx, id, final)
		require.NoError(t, err)

		got, err := sessions.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.SessionCompleted, got.Status)
	})

	t.Run("No_Visit_ID_Skips_HIS", func(t *testing.T) {
		his := new(MockHIS)
		sessions, id := setup(t, his, "")
		_, err := sessions.SaveRecord(ctx, id, final)
		require.NoError(t, err)
		his.AssertNotCalled(t, "UpdateVisit", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
