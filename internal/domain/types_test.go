package domain

import (
	"testing"
)

func TestSessionStatusValid(t *testing.T) {
	tests := []struct {
		name     string
		value    SessionStatus
		expected bool
	}{
		{"Active", SessionActive, true},
		{"Completed", SessionCompleted, true},
		{"Cancelled", SessionCancelled, true},
		{"Unknown", SessionStatus("archived"), false},
		{"Empty", SessionStatus(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value.Valid() != tt.expected {
				t.Errorf("Expected Valid()=%v for %q", tt.expected, tt.value)
			}
		})
	}
}

func TestPatientPatchApply(t *testing.T) {
	phone := "0909000111"
	empty := ""
	p := &Patient{Name: "Nguyễn Văn A", PhoneNumber: "0123", Address: "Hà Nội"}

	PatientPatch{PhoneNumber: &phone, Address: &empty}.Apply(p)

	if p.Name != "Nguyễn Văn A" {
		t.Errorf("Name should be unchanged, got %s", p.Name)
	}
	if p.PhoneNumber != phone {
		t.Errorf("Expected phone %s, got %s", phone, p.PhoneNumber)
	}
	if p.Address != "" {
		t.Errorf("Address should be cleared, got %s", p.Address)
	}
}

func TestMedicalRecordSOAP(t *testing.T) {
	r := &MedicalRecord{Subjective: "S", Objective: "O", Assessment: "A", Plan: "P"}
	note := r.SOAP()

	if note != (SOAPNote{Subjective: "S", Objective: "O", Assessment: "A", Plan: "P"}) {
		t.Errorf("unexpected note %+v", note)
	}
}

func TestEmptyDiarization(t *testing.T) {
	d := EmptyDiarization()
	if d.Speakers == nil || len(d.Speakers) != 0 {
		t.Errorf("expected empty non-nil speakers, got %v", d.Speakers)
	}
	if d.NumSpeakers != 0 || d.Duration != 0 {
		t.Errorf("expected zero counters, got %+v", d)
	}
}
