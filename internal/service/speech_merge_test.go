package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
)

func TestMergeTranscript(t *testing.T) {
	segments := []domain.TranscriptSegment{
		{Start: 0, End: 2, Text: "Chào bác sĩ"},
		{Start: 2, End: 5, Text: "Anh bị sao?"},
		{Start: 9, End: 10, Text: "Tôi đau đầu"},
	}

	tests := []struct {
		name     string
		trans    *domain.Transcription
		diar     *domain.Diarization
		expected []domain.MergedSegment
	}{
		{
			name:  "No speakers",
			trans: &domain.Transcription{Text: "Chào bác sĩ", Segments: segments[:1]},
			diar:  domain.EmptyDiarization(),
			expected: []domain.MergedSegment{
				{Start: 0, End: 2, Speaker: domain.DefaultSpeaker, Role: domain.DefaultRole, RawText: "Chào bác sĩ"},
			},
		},
		{
			name:  "Nil diarization",
			trans: &domain.Transcription{Text: "Chào bác sĩ", Segments: segments[:1]},
			diar:  nil,
			expected: []domain.MergedSegment{
				{Start: 0, End: 2, Speaker: domain.DefaultSpeaker, Role: domain.DefaultRole, RawText: "Chào bác sĩ"},
			},
		},
		{
			name:  "Text without segments",
			trans: &domain.Transcription{Text: "Xin chào", Segments: nil},
			diar:  domain.EmptyDiarization(),
			expected: []domain.MergedSegment{
				{Start: 0, End: 0, Speaker: domain.DefaultSpeaker, Role: domain.DefaultRole, RawText: "Xin chào"},
			},
		},
		{
			name:  "Midpoint containment and nearest fallback",
			trans: &domain.Transcription{Text: "...", Segments: segments},
			diar: &domain.Diarization{Speakers: []domain.SpeakerSegment{
				{Start: 0, End: 2.5, Speaker: "SPEAKER_01", Role: domain.RolePatient},
				{Start: 2.5, End: 6, Speaker: "SPEAKER_00", Role: domain.RoleDoctor},
				{Start: 11, End: 12, Speaker: "SPEAKER_01", Role: domain.RolePatient},
			}},
			expected: []domain.MergedSegment{
				{Start: 0, End: 2, Speaker: "SPEAKER_01", Role: domain.RolePatient, RawText: "Chào bác sĩ"},
				{Start: 2, End: 5, Speaker: "SPEAKER_00", Role: domain.RoleDoctor, RawText: "Anh bị sao?"},
				// mid 9.5: distance 3.5 to the second turn's end, 1.5 to the third turn's start
				{Start: 9, End: 10, Speaker: "SPEAKER_01", Role: domain.RolePatient, RawText: "Tôi đau đầu"},
			},
		},
		{
			name:  "Missing labels default",
			trans: &domain.Transcription{Text: "...", Segments: segments[:1]},
			diar: &domain.Diarization{Speakers: []domain.SpeakerSegment{
				{Start: 0, End: 3},
			}},
			expected: []domain.MergedSegment{
				{Start: 0, End: 2, Speaker: domain.UnknownSpeaker, Role: domain.DefaultRole, RawText: "Chào bác sĩ"},
			},
		},
		{
			name:     "Nil transcription",
			trans:    nil,
			diar:     domain.EmptyDiarization(),
			expected: []domain.MergedSegment{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeTranscript(tt.trans, tt.diar))
		})
	}
}

func TestMergeTranscript_TieGoesToEarliestTurn(t *testing.T) {
	trans := &domain.Transcription{Segments: []domain.TranscriptSegment{{Start: 4, End: 6, Text: "ừ"}}}
	diar := &domain.Diarization{Speakers: []domain.SpeakerSegment{
		{Start: 0, End: 3, Speaker: "A", Role: "a"},
		{Start: 7, End: 9, Speaker: "B", Role: "b"},
	}}

	merged := MergeTranscript(trans, diar)
	require.Len(t, merged, 1)
	assert.Equal(t, "A", merged[0].Speaker)
}

func TestMergeTranscript_PreservesOrderAndTimings(t *testing.T) {
	trans := &domain.Transcription{Segments: []domain.TranscriptSegment{
		{Start: 5, End: 6, Text: "b"},
		{Start: 1, End: 2, Text: "a"},
	}}
	diar := &domain.Diarization{Speakers: []domain.SpeakerSegment{{Start: 0, End: 10, Speaker: "S", Role: "r"}}}

	merged := MergeTranscript(trans, diar)
	require.Len(t, merged, 2)
	assert.Equal(t, "b", merged[0].RawText)
	assert.Equal(t, 5.0, merged[0].Start)
	assert.Equal(t, 6.0, merged[0].End)
	assert.Equal(t, "a", merged[1].RawText)
}

func TestAssignRoles(t *testing.T) {
	t.Run("Doctor_First", func(t *testing.T) {
		speakers := []domain.SpeakerSegment{
			{Speaker: "SPEAKER_01"},
			{Speaker: "SPEAKER_00"},
			{Speaker: "SPEAKER_01"},
			{Speaker: "SPEAKER_02"},
		}
		mapping := AssignRoles(speakers, true)

		assert.Equal(t, map[string]string{
			"SPEAKER_01": domain.RoleDoctor,
			"SPEAKER_00": domain.RolePatient,
			"SPEAKER_02": "Người 3",
		}, mapping)
		assert.Equal(t, domain.RoleDoctor, speakers[2].Role)
		assert.Equal(t, "Người 3", speakers[3].Role)
	})

	t.Run("Patient_First", func(t *testing.T) {
		speakers := []domain.SpeakerSegment{{Speaker: "A"}, {Speaker: "B"}}
		mapping := AssignRoles(speakers, false)
		assert.Equal(t, domain.RolePatient, mapping["A"])
		assert.Equal(t, domain.RoleDoctor, mapping["B"])
	})

	t.Run("Keeps_Existing_Roles", func(t *testing.T) {
		speakers := []domain.SpeakerSegment{{Speaker: "A", Role: "Y tá"}, {Speaker: "B"}}
		mapping := AssignRoles(speakers, true)
		assert.Equal(t, "Y tá", mapping["A"])
		assert.Equal(t, domain.RolePatient, mapping["B"])
	})
}
