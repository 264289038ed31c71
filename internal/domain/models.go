package domain

import (
	"time"
)

// Patient is the permanent identity of a person seen at the clinic.
// DisplayID is the human-readable BN-YYYY-NNNNNN form printed on paperwork.
type Patient struct {
	ID                string    `json:"id"`
	DisplayID         string    `json:"displayId"`
	ExternalPatientID string    `json:"externalPatientId,omitempty"`
	Name              string    `json:"name"`
	BirthDate         string    `json:"birthDate,omitempty"`
	Gender            string    `json:"gender,omitempty"`
	PhoneNumber       string    `json:"phoneNumber,omitempty"`
	Email             string    `json:"email,omitempty"`
	Address           string    `json:"address,omitempty"`
	MedicalHistory    string    `json:"medicalHistory,omitempty"`
	Allergies         string    `json:"allergies,omitempty"`
	BloodType         string    `json:"bloodType,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// PatientInput is the payload used to register a patient
type PatientInput struct {
	Name              string `json:"name"`
	BirthDate         string `json:"birthDate,omitempty"`
	Gender            string `json:"gender,omitempty"`
	PhoneNumber       string `json:"phoneNumber,omitempty"`
	Email             string `json:"email,omitempty"`
	Address           string `json:"address,omitempty"`
	MedicalHistory    string `json:"medicalHistory,omitempty"`
	Allergies         string `json:"allergies,omitempty"`
	BloodType         string `json:"bloodType,omitempty"`
	ExternalPatientID string `json:"externalPatientId,omitempty"`
}

// PatientPatch holds the fields to change on update; nil means unchanged.
type PatientPatch struct {
	Name              *string `json:"name,omitempty"`
	BirthDate         *string `json:"birthDate,omitempty"`
	Gender            *string `json:"gender,omitempty"`
	PhoneNumber       *string `json:"phoneNumber,omitempty"`
	Email             *string `json:"email,omitempty"`
	Address           *string `json:"address,omitempty"`
	MedicalHistory    *string `json:"medicalHistory,omitempty"`
	Allergies         *string `json:"allergies,omitempty"`
	BloodType         *string `json:"bloodType,omitempty"`
	ExternalPatientID *string `json:"externalPatientId,omitempty"`
}

// Apply copies the non-nil fields of the patch onto p
func (pp PatientPatch) Apply(p *Patient) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.Name, pp.Name)
	set(&p.BirthDate, pp.BirthDate)
	set(&p.Gender, pp.Gender)
	set(&p.PhoneNumber, pp.PhoneNumber)
	set(&p.Email, pp.Email)
	set(&p.Address, pp.Address)
	set(&p.MedicalHistory, pp.MedicalHistory)
	set(&p.Allergies, pp.Allergies)
	set(&p.BloodType, pp.BloodType)
	set(&p.ExternalPatientID, pp.ExternalPatientID)
}

// PatientSummary is a search/list row enriched with visit information
type PatientSummary struct {
	ID            string     `json:"id"`
	DisplayID     string     `json:"displayId"`
	Name          string     `json:"name"`
	BirthDate     string     `json:"birthDate,omitempty"`
	PhoneNumber   string     `json:"phoneNumber,omitempty"`
	TotalVisits   int        `json:"totalVisits"`
	LastVisitDate *time.Time `json:"lastVisitDate"`
}

// PatientPage is a paginated patient listing
type PatientPage struct {
	Patients []*PatientSummary `json:"patients"`
	Total    int               `json:"total"`
	Pages    int               `json:"pages"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

// SessionStatus is the lifecycle state of an examination session
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Valid reports whether s is a known status
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionActive, SessionCompleted, SessionCancelled:
		return true
	}
	return false
}

// Session is one visit of a patient
type Session struct {
	ID             string        `json:"id"`
	PatientID      string        `json:"patientId"`
	VisitNumber    int           `json:"visitNumber"`
	ChiefComplaint string        `json:"chiefComplaint,omitempty"`
	VisitID        string        `json:"visitId,omitempty"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// SessionInput creates a session for an existing patient
type SessionInput struct {
	PatientID      string `json:"patientId"`
	ChiefComplaint string `json:"chiefComplaint,omitempty"`
	VisitID        string `json:"visitId,omitempty"`
}

// PatientBrief is the patient header shown next to a session
type PatientBrief struct {
	ID             string `json:"id"`
	DisplayID      string `json:"displayId"`
	Name           string `json:"name"`
	BirthDate      string `json:"birthDate,omitempty"`
	Gender         string `json:"gender,omitempty"`
	PhoneNumber    string `json:"phoneNumber,omitempty"`
	MedicalHistory string `json:"medicalHistory,omitempty"`
}

// SessionWithPatient joins a session and its patient
type SessionWithPatient struct {
	Session
	Patient PatientBrief `json:"patient"`
}

// SessionSummary is a row of the recent sessions list
type SessionSummary struct {
	ID               string        `json:"id"`
	PatientID        string        `json:"patientId"`
	PatientName      string        `json:"patientName"`
	PatientDisplayID string        `json:"patientDisplayId"`
	VisitNumber      int           `json:"visitNumber"`
	ChiefComplaint   string        `json:"chiefComplaint,omitempty"`
	Status           SessionStatus `json:"status"`
	CreatedAt        time.Time     `json:"createdAt"`
	Diagnosis        string        `json:"diagnosis,omitempty"`
}

// RecordStatus is the review state of a medical record
type RecordStatus string

const (
	RecordDraft RecordStatus = "draft"
	RecordFinal RecordStatus = "final"
)

// SOAPNote is the Subjective/Objective/Assessment/Plan clinical note
type SOAPNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// MedicalRecord is the reviewed documentation of a session
type MedicalRecord struct {
	ID         string       `json:"id"`
	SessionID  string       `json:"sessionId"`
	Subjective string       `json:"subjective"`
	Objective  string       `json:"objective"`
	Assessment string       `json:"assessment"`
	Plan       string       `json:"plan"`
	ICDCodes   []string     `json:"icdCodes"`
	Status     RecordStatus `json:"status"`
	CreatedAt  time.Time    `json:"createdAt"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// SOAP returns the note part of the record
func (r *MedicalRecord) SOAP() SOAPNote {
	return SOAPNote{
		Subjective: r.Subjective,
		Objective:  r.Objective,
		Assessment: r.Assessment,
		Plan:       r.Plan,
	}
}

// MedicalRecordInput is the physician's save request
type MedicalRecordInput struct {
	Subjective string       `json:"subjective"`
	Objective  string       `json:"objective"`
	Assessment string       `json:"assessment"`
	Plan       string       `json:"plan"`
	ICDCodes   []string     `json:"icdCodes"`
	Status     RecordStatus `json:"status"`
}

// SessionHistory is one visit inside a patient's history
type SessionHistory struct {
	Session
	Record *MedicalRecord `json:"record,omitempty"`
}

// PatientHistory is a patient with every visit
type PatientHistory struct {
	Patient  *Patient          `json:"patient"`
	Sessions []*SessionHistory `json:"sessions"`
}
