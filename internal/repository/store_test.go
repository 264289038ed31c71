package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
)

// runClinicalStoreTests exercises a ClinicalStore implementation against an empty database
func runClinicalStoreTests(t *testing.T, newStore func(t *testing.T) domain.ClinicalStore) {
	t.Run("PatientCRUD", func(t *testing.T) { testPatientCRUD(t, newStore(t)) })
	t.Run("PatientSearch", func(t *testing.T) { testPatientSearch(t, newStore(t)) })
	t.Run("SessionsAndRecords", func(t *testing.T) { testSessionsAndRecords(t, newStore(t)) })
	t.Run("CascadeDelete", func(t *testing.T) { testCascadeDelete(t, newStore(t)) })
	t.Run("Stats", func(t *testing.T) { testStats(t, newStore(t)) })
}

var testClock = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestPatient(n int, name, phone string) *domain.Patient {
	created := testClock.Add(time.Duration(n) * time.Minute)
	return &domain.Patient{
		ID:          "pat_" + uuid.NewString(),
		DisplayID:   fmt.Sprintf("BN-2026-%06d", n),
		Name:        name,
		BirthDate:   "1980-01-01",
		Gender:      "Nam",
		PhoneNumber: phone,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func newTestSession(patientID string, at time.Time) *domain.Session {
	return &domain.Session{
		ID:             "sess_" + uuid.NewString(),
		PatientID:      patientID,
		ChiefComplaint: "Đau bụng",
		Status:         domain.SessionActive,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func testPatientCRUD(t *testing.T, store domain.ClinicalStore) {
	ctx := context.Background()

	p := newTestPatient(1, "Nguyễn Văn An", "0901234567")
	require.NoError(t, store.CreatePatient(ctx, p))

	got, err := store.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.Equal(t, p.DisplayID, got.DisplayID)
	assert.True(t, p.CreatedAt.Equal(got.CreatedAt))

	byDisplay, err := store.GetPatientByDisplayID(ctx, p.DisplayID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, byDisplay.ID)

	_, err = store.GetPatient(ctx, "pat_missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got.Address = "Hà Nội"
	got.UpdatedAt = testClock.Add(time.Hour)
	require.NoError(t, store.UpdatePatient(ctx, got))

	updated, err := store.GetPatient(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hà Nội", updated.Address)

	missing := *got
	missing.ID = "pat_missing"
	assert.ErrorIs(t, store.UpdatePatient(ctx, &missing), domain.ErrNotFound)

	byPhone, err := store.FindPatientsByPhone(ctx, "0901234567")
	require.NoError(t, err)
	require.Len(t, byPhone, 1)

	byName, err := store.FindPatientsByNameAndBirthDate(ctx, "Nguyễn Văn An", "1980-01-01")
	require.NoError(t, err)
	require.Len(t, byName, 1)

	last, err := store.LastDisplayID(ctx, "BN-2026-")
	require.NoError(t, err)
	assert.Equal(t, "BN-2026-000001", last)

	none, err := store.LastDisplayID(ctx, "BN-2025-")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testPatientSearch(t *testing.T, store domain.ClinicalStore) {
	ctx := context.Background()

	for i, name := range []string{"Nguyễn Văn An", "Trần Thị Bình", "Đỗ Đức Anh"} {
		require.NoError(t, store.CreatePatient(ctx, newTestPatient(i+1, name, fmt.Sprintf("09000000%02d", i))))
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"nguyen", []string{"Nguyễn Văn An"}},
		{"duc anh", []string{"Đỗ Đức Anh"}},
		{" an", []string{"Đỗ Đức Anh", "Nguyễn Văn An"}},
		{"0900000001", []string{"Trần Thị Bình"}},
		{"bn-2026-000003", []string{"Đỗ Đức Anh"}},
		{"100%", nil},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			folded := domain.Fold(tt.query)
			got, err := store.SearchPatients(ctx, folded, 20, 0)
			require.NoError(t, err)

			var names []string
			for _, p := range got {
				names = append(names, p.Name)
			}
			assert.Equal(t, tt.want, names)

			n, err := store.CountSearchPatients(ctx, folded)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), n)
		})
	}

	page, err := store.ListPatients(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Đỗ Đức Anh", page[0].Name, "newest first")
}

func testSessionsAndRecords(t *testing.T, store domain.ClinicalStore) {
	ctx := context.Background()

	p := newTestPatient(1, "Lê Văn Cường", "0911111111")
	require.NoError(t, store.CreatePatient(ctx, p))

	first := newTestSession(p.ID, testClock)
	second := newTestSession(p.ID, testClock.Add(24*time.Hour))
	require.NoError(t, store.CreateSession(ctx, first))
	require.NoError(t, store.CreateSession(ctx, second))
	assert.Equal(t, 1, first.VisitNumber)
	assert.Equal(t, 2, second.VisitNumber)

	withPatient, err := store.GetSessionWithPatient(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, withPatient.Patient.Name)
	assert.Equal(t, 2, withPatient.VisitNumber)

	sessions, err := store.ListSessionsForPatient(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, second.ID, sessions[0].ID)

	require.NoError(t, store.UpdateSessionStatus(ctx, first.ID, domain.SessionCompleted))
	got, err := store.GetSession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionCompleted, got.Status)
	assert.ErrorIs(t, store.UpdateSessionStatus(ctx, "sess_missing", domain.SessionCancelled), domain.ErrNotFound)

	_, err = store.GetRecordBySession(ctx, first.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	rec := &domain.MedicalRecord{
		ID:         "rec_" + uuid.NewString(),
		SessionID:  first.ID,
		Subjective: "Đau thượng vị 3 ngày",
		Assessment: "Viêm dạ dày",
		ICDCodes:   []string{"K29.7"},
		Status:     domain.RecordDraft,
		CreatedAt:  testClock,
		UpdatedAt:  testClock,
	}
	require.NoError(t, store.UpsertRecord(ctx, rec))
	originalID := rec.ID

	replacement := &domain.MedicalRecord{
		ID:         "rec_" + uuid.NewString(),
		SessionID:  first.ID,
		Subjective: "Đau thượng vị 3 ngày",
		Assessment: "Viêm dạ dày cấp",
		Plan:       "Omeprazole 20mg",
		ICDCodes:   []string{"K29.1", "R10.1"},
		Status:     domain.RecordFinal,
		CreatedAt:  testClock.Add(time.Hour),
		UpdatedAt:  testClock.Add(time.Hour),
	}
	require.NoError(t, store.UpsertRecord(ctx, replacement))
	assert.Equal(t, originalID, replacement.ID, "upsert keeps the first record id")

	saved, err := store.GetRecordBySession(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Viêm dạ dày cấp", saved.Assessment)
	assert.Equal(t, []string{"K29.1", "R10.1"}, saved.ICDCodes)
	assert.Equal(t, domain.RecordFinal, saved.Status)

	records, err := store.ListRecordsBySessions(ctx, []string{first.ID, second.ID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records, first.ID)

	recent, err := store.ListRecentSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, "Viêm dạ dày cấp", recent[1].Diagnosis)
	assert.Equal(t, p.DisplayID, recent[1].PatientDisplayID)
}

func testCascadeDelete(t *testing.T, store domain.ClinicalStore) {
	ctx := context.Background()

	p := newTestPatient(1, "Phạm Thị Dung", "0922222222")
	require.NoError(t, store.CreatePatient(ctx, p))
	sess := newTestSession(p.ID, testClock)
	require.NoError(t, store.CreateSession(ctx, sess))
	require.NoError(t, store.UpsertRecord(ctx, &domain.MedicalRecord{
		ID: "rec_" + uuid.NewString(), SessionID: sess.ID, Status: domain.RecordDraft,
		CreatedAt: testClock, UpdatedAt: testClock,
	}))

	require.NoError(t, store.DeletePatient(ctx, p.ID))

	_, err := store.GetPatient(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetSession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetRecordBySession(ctx, sess.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, store.DeletePatient(ctx, p.ID), domain.ErrNotFound)
}

func testStats(t *testing.T, store domain.ClinicalStore) {
	ctx := context.Background()

	a := newTestPatient(1, "A", "1")
	b := newTestPatient(2, "B", "2")
	c := newTestPatient(3, "C", "3")
	for _, p := range []*domain.Patient{a, b, c} {
		require.NoError(t, store.CreatePatient(ctx, p))
	}

	s1 := newTestSession(a.ID, testClock.Add(-48*time.Hour))
	s2 := newTestSession(a.ID, testClock.Add(time.Hour))
	s3 := newTestSession(b.ID, testClock.Add(2*time.Hour))
	for _, s := range []*domain.Session{s1, s2, s3} {
		require.NoError(t, store.CreateSession(ctx, s))
	}
	require.NoError(t, store.UpdateSessionStatus(ctx, s3.ID, domain.SessionCompleted))

	n, err := store.CountPatients(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = store.CountPatientsSince(ctx, testClock.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.CountSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	counts, err := store.CountSessionsSince(ctx, testClock)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.SessionActive])
	assert.Equal(t, 1, counts[domain.SessionCompleted])

	stats, err := store.VisitStats(ctx, []string{a.ID, b.ID, c.ID})
	require.NoError(t, err)
	assert.Equal(t, 2, stats[a.ID].TotalVisits)
	assert.Equal(t, s2.ID, stats[a.ID].LastVisitID)
	require.NotNil(t, stats[a.ID].LastVisitDate)
	assert.True(t, s2.CreatedAt.Equal(*stats[a.ID].LastVisitDate))
	assert.Equal(t, domain.SessionCompleted, stats[b.ID].LastVisitStatus)
	_, ok := stats[c.ID]
	assert.False(t, ok, "patients without sessions are absent")
}
