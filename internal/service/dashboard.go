package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
)

// DefaultDashboardLimit is the page size of the dashboard patient list
const DefaultDashboardLimit = 50

// DashboardPatientPage is a page of patient overviews
type DashboardPatientPage struct {
	Patients []*domain.PatientOverview `json:"patients"`
	Total    int                       `json:"total"`
	Pages    int                       `json:"pages"`
	Page     int                       `json:"page"`
	Limit    int                       `json:"limit"`
}

// DashboardService builds the landing page summaries
type DashboardService struct {
	store    domain.ClinicalStore
	sessions *SessionService
	logger   *logrus.Logger
}

// NewDashboardService creates a dashboard service
func NewDashboardService(store domain.ClinicalStore, sessions *SessionService, logger *logrus.Logger) *DashboardService {
	return &DashboardService{store: store, sessions: sessions, logger: logger}
}

// Stats counts sessions and patients for today, the last 7 days, this month and overall.
// Day and month boundaries use now's location.
func (d *DashboardService) Stats(ctx context.Context, now time.Time) (*domain.DashboardStats, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	weekAgo := now.AddDate(0, 0, -7)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

	today, err := d.store.CountSessionsSince(ctx, midnight)
	if err != nil {
		return nil, err
	}
	week, err := d.period(ctx, weekAgo)
	if err != nil {
		return nil, err
	}
	month, err := d.period(ctx, monthStart)
	if err != nil {
		return nil, err
	}
	patients, err := d.store.CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	sessions, err := d.store.CountSessions(ctx)
	if err != nil {
		return nil, err
	}

	return &domain.DashboardStats{
		Today: domain.TodayStats{
			TotalSessions:     sumCounts(today),
			CompletedSessions: today[domain.SessionCompleted],
			ActiveSessions:    today[domain.SessionActive],
		},
		ThisWeek:  week,
		ThisMonth: month,
		Total: domain.TotalStats{
			Patients: patients,
			Sessions: sessions,
		},
	}, nil
}

func (d *DashboardService) period(ctx context.Context, since time.Time) (domain.PeriodStats, error) {
	counts, err := d.store.CountSessionsSince(ctx, since)
	if err != nil {
		return domain.PeriodStats{}, err
	}
	newPatients, err := d.store.CountPatientsSince(ctx, since)
	if err != nil {
		return domain.PeriodStats{}, err
	}
	return domain.PeriodStats{TotalSessions: sumCounts(counts), NewPatients: newPatients}, nil
}

func sumCounts(counts map[domain.SessionStatus]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// Patients lists patients with age and last visit information
func (d *DashboardService) Patients(ctx context.Context, page, limit int, now time.Time) (*DashboardPatientPage, error) {
	page, limit = normalizePage(page, limit, DefaultDashboardLimit)

	patients, err := d.store.ListPatients(ctx, limit, (page-1)*limit)
	if err != nil {
		return nil, err
	}
	total, err := d.store.CountPatients(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := d.store.VisitStats(ctx, patientIDs(patients))
	if err != nil {
		return nil, err
	}

	rows := make([]*domain.PatientOverview, 0, len(patients))
	for _, p := range patients {
		row := &domain.PatientOverview{
			ID:              p.ID,
			DisplayID:       p.DisplayID,
			Name:            p.Name,
			Age:             AgeOn(p.BirthDate, now),
			Gender:          p.Gender,
			LastVisitStatus: domain.NeverVisited,
		}
		if st, ok := stats[p.ID]; ok && st.TotalVisits > 0 {
			row.TotalVisits = st.TotalVisits
			row.LastVisitDate = st.LastVisitDate
			row.LastVisitStatus = string(st.LastVisitStatus)
			row.LastVisitID = st.LastVisitID
		}
		rows = append(rows, row)
	}

	return &DashboardPatientPage{
		Patients: rows,
		Total:    total,
		Pages:    pageCount(total, limit),
		Page:     page,
		Limit:    limit,
	}, nil
}

// RecentSessions lists the latest sessions
func (d *DashboardService) RecentSessions(ctx context.Context, page, limit int) (*SessionPage, error) {
	return d.sessions.List(ctx, page, limit)
}

// AgeOn returns the age in whole years at now, or nil for a missing or unparsable birth date
func AgeOn(birthDate string, now time.Time) *int {
	if birthDate == "" {
		return nil
	}
	born, err := time.Parse("2006-01-02", birthDate)
	if err != nil {
		return nil
	}

	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 0 {
		return nil
	}
	return &age
}
