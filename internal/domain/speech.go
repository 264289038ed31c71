package domain

// Default labels used when diarization has nothing to say about a segment
const (
	DefaultSpeaker = "SPEAKER_00"
	UnknownSpeaker = "UNKNOWN"
	DefaultRole    = "Người nói"
	RoleDoctor     = "Bác sĩ"
	RolePatient    = "Bệnh nhân"
)

// TranscriptSegment is a timed piece of text from the transcription API
type TranscriptSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the verbose transcription result
type Transcription struct {
	Text     string              `json:"text"`
	Language string              `json:"language,omitempty"`
	Duration float64             `json:"duration,omitempty"`
	Segments []TranscriptSegment `json:"segments"`
}

// SpeakerSegment is an interval attributed to one speaker by diarization
type SpeakerSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Role    string  `json:"role,omitempty"`
}

// Diarization is the diarization service answer
type Diarization struct {
	Speakers       []SpeakerSegment  `json:"speakers"`
	NumSpeakers    int               `json:"num_speakers"`
	Duration       float64           `json:"duration"`
	SpeakerMapping map[string]string `json:"speaker_mapping,omitempty"`
}

// EmptyDiarization is the "no speakers found" fallback
func EmptyDiarization() *Diarization {
	return &Diarization{Speakers: []SpeakerSegment{}}
}

// MergedSegment is a transcript segment with its speaker attached
type MergedSegment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
	Role    string  `json:"role"`
	RawText string  `json:"raw_text"`
}

// ProcessedSegment is a merged segment after medical text correction
type ProcessedSegment struct {
	MergedSegment
	CleanText string `json:"clean_text"`
}

// SpeechResult is the response of the speech pipeline
type SpeechResult struct {
	Success        bool               `json:"success"`
	Segments       []ProcessedSegment `json:"segments"`
	RawText        string             `json:"raw_text"`
	NumSpeakers    int                `json:"num_speakers"`
	SpeakerMapping map[string]string  `json:"speaker_mapping"`
}

// SpeechHealth reports the readiness of the speech dependencies
type SpeechHealth struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}
