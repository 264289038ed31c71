package domain

import (
	"time"
)

// AnalysisResult is the output of the scribe → ICD-10 → expert pipeline
type AnalysisResult struct {
	SOAP          SOAPNote `json:"soap"`
	ICDCodes      []string `json:"icdCodes"`
	MedicalAdvice string   `json:"medicalAdvice"`
	References    []string `json:"references"`
}

// Pipeline stages
const (
	StageScribe = "scribe"
	StageICD    = "icd"
	StageExpert = "expert"
)

// StageEvent reports progress of one pipeline stage
type StageEvent struct {
	Stage      string `json:"stage"`
	State      string `json:"state"` // started, completed
	DurationMs int64  `json:"durationMs,omitempty"`
}

// Treatment is the physician's treatment summary
type Treatment struct {
	Medications []string `json:"medications"`
	Tests       []string `json:"tests"`
	FollowUp    string   `json:"followUp"`
}

// AIResults is what the assistant proposed
type AIResults struct {
	SOAP          SOAPNote `json:"soap"`
	ICDCodes      []string `json:"icdCodes"`
	MedicalAdvice string   `json:"medicalAdvice,omitempty"`
	References    []string `json:"references,omitempty"`
}

// DoctorResults is what the physician finally entered
type DoctorResults struct {
	SOAP      SOAPNote  `json:"soap"`
	ICDCodes  []string  `json:"icdCodes"`
	Treatment Treatment `json:"treatment,omitempty"`
	Notes     string    `json:"notes,omitempty"`
}

// SOAPMatch holds per-field similarity scores (0-100)
type SOAPMatch struct {
	Subjective int `json:"subjective"`
	Objective  int `json:"objective"`
	Assessment int `json:"assessment"`
	Plan       int `json:"plan"`
}

// ICDMatch splits the two code lists
type ICDMatch struct {
	ExactMatches []string `json:"exactMatches"`
	AIOnly       []string `json:"aiOnly"`
	DoctorOnly   []string `json:"doctorOnly"`
}

// ComparisonResult is the matching engine verdict
type ComparisonResult struct {
	MatchScore  int       `json:"matchScore"`
	SOAPMatch   SOAPMatch `json:"soapMatch"`
	ICDMatch    ICDMatch  `json:"icdMatch"`
	Differences []string  `json:"differences"`
}

// ComparisonRecord persists one AI-vs-doctor comparison
type ComparisonRecord struct {
	ID              string           `json:"id"`
	Timestamp       time.Time        `json:"timestamp"`
	AIResults       AIResults        `json:"aiResults"`
	DoctorResults   DoctorResults    `json:"doctorResults"`
	Comparison      ComparisonResult `json:"comparison"`
	MatchScore      float64          `json:"matchScore"`
	CaseID          string           `json:"caseId,omitempty"`
	SessionID       string           `json:"sessionId,omitempty"`
	MedicalRecordID string           `json:"medicalRecordId,omitempty"`
}

// TodayStats counts today's sessions
type TodayStats struct {
	TotalSessions     int `json:"totalSessions"`
	CompletedSessions int `json:"completedSessions"`
	ActiveSessions    int `json:"activeSessions"`
}

// PeriodStats counts sessions and new patients in a window
type PeriodStats struct {
	TotalSessions int `json:"totalSessions"`
	NewPatients   int `json:"newPatients"`
}

// TotalStats are all-time counters
type TotalStats struct {
	Patients int `json:"patients"`
	Sessions int `json:"sessions"`
}

// DashboardStats is the landing page summary
type DashboardStats struct {
	Today     TodayStats  `json:"today"`
	ThisWeek  PeriodStats `json:"thisWeek"`
	ThisMonth PeriodStats `json:"thisMonth"`
	Total     TotalStats  `json:"total"`
}

// NeverVisited marks a patient without sessions in overviews
const NeverVisited = "never_visited"

// PatientOverview is a dashboard patient row
type PatientOverview struct {
	ID              string     `json:"id"`
	DisplayID       string     `json:"displayId"`
	Name            string     `json:"name"`
	Age             *int       `json:"age"`
	Gender          string     `json:"gender,omitempty"`
	TotalVisits     int        `json:"totalVisits"`
	LastVisitDate   *time.Time `json:"lastVisitDate"`
	LastVisitStatus string     `json:"lastVisitStatus"`
	LastVisitID     string     `json:"lastVisitId,omitempty"`
}

// VisitStats aggregates a patient's sessions
type VisitStats struct {
	TotalVisits     int
	LastVisitDate   *time.Time
	LastVisitStatus SessionStatus
	LastVisitID     string
}
