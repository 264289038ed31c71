package service

import (
	"fmt"
	"math"

	"github.com/medical-examination-assistant/internal/domain"
)

// MergeTranscript attaches a speaker to every transcript segment.
// Output order and timings follow the transcript.
func MergeTranscript(transcription *domain.Transcription, diarization *domain.Diarization) []domain.MergedSegment {
	results := []domain.MergedSegment{}
	if transcription == nil {
		return results
	}

	var speakers []domain.SpeakerSegment
	if diarization != nil {
		speakers = diarization.Speakers
	}

	if len(speakers) == 0 {
		for _, seg := range transcription.Segments {
			results = append(results, domain.MergedSegment{
				Start:   seg.Start,
				End:     seg.End,
				Speaker: domain.DefaultSpeaker,
				Role:    domain.DefaultRole,
				RawText: seg.Text,
			})
		}
		if len(transcription.Segments) == 0 && transcription.Text != "" {
			results = append(results, domain.MergedSegment{
				Speaker: domain.DefaultSpeaker,
				Role:    domain.DefaultRole,
				RawText: transcription.Text,
			})
		}
		return results
	}

	for _, seg := range transcription.Segments {
		sp := matchSpeaker(speakers, (seg.Start+seg.End)/2)

		speaker := sp.Speaker
		if speaker == "" {
			speaker = domain.UnknownSpeaker
		}
		role := sp.Role
		if role == "" {
			role = domain.DefaultRole
		}

		results = append(results, domain.MergedSegment{
			Start:   seg.Start,
			End:     seg.End,
			Speaker: speaker,
			Role:    role,
			RawText: seg.Text,
		})
	}
	return results
}

// matchSpeaker returns the first speaker turn containing mid, else the turn
// with the nearest boundary. Ties go to the earliest turn. speakers must be non-empty.
func matchSpeaker(speakers []domain.SpeakerSegment, mid float64) domain.SpeakerSegment {
	for _, sp := range speakers {
		if sp.Start <= mid && mid <= sp.End {
			return sp
		}
	}

	closest := speakers[0]
	best := boundaryDistance(closest, mid)
	for _, sp := range speakers[1:] {
		if d := boundaryDistance(sp, mid); d < best {
			closest, best = sp, d
		}
	}
	return closest
}

func boundaryDistance(sp domain.SpeakerSegment, t float64) float64 {
	return math.Min(math.Abs(sp.Start-t), math.Abs(sp.End-t))
}

// AssignRoles fills missing roles in order of first appearance and returns the speaker mapping.
// With doctorFirst the first voice is the doctor, otherwise the patient.
func AssignRoles(speakers []domain.SpeakerSegment, doctorFirst bool) map[string]string {
	first, second := domain.RoleDoctor, domain.RolePatient
	if !doctorFirst {
		first, second = second, first
	}

	mapping := map[string]string{}
	order := 0
	for _, sp := range speakers {
		if _, ok := mapping[sp.Speaker]; ok {
			continue
		}
		order++
		if sp.Role != "" {
			mapping[sp.Speaker] = sp.Role
			continue
		}
		switch order {
		case 1:
			mapping[sp.Speaker] = first
		case 2:
			mapping[sp.Speaker] = second
		default:
			mapping[sp.Speaker] = fmt.Sprintf("Người %d", order)
		}
	}

	for i := range speakers {
		if speakers[i].Role == "" {
			speakers[i].Role = mapping[speakers[i].Speaker]
		}
	}
	return mapping
}
