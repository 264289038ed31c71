package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/pkg/llm"
)

var testAudio = []byte("RIFF....WAVEfmt ")

func fixerRequest(text string) interface{} {
	return mock.MatchedBy(func(req llm.CompletionRequest) bool {
		return req.SystemPrompt == medicalFixerPrompt &&
			len(req.Messages) == 1 && req.Messages[0].Content == text &&
			req.Temperature == 0.1 && req.MaxTokens == 500
	})
}

func TestMedicalTextFixer_FixText(t *testing.T) {
	ctx := context.Background()

	t.Run("Corrected", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, fixerRequest("đau thượng vịt")).Return(reply(" đau thượng vị \n"), nil)

		fixer := NewMedicalTextFixer(provider, 2, nil, testLogger())
		assert.Equal(t, "đau thượng vị", fixer.FixText(ctx, "đau thượng vịt"))
		provider.AssertExpectations(t)
	})

	t.Run("Provider_Error_Keeps_Raw", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, mock.Anything).Return(nil, errors.New("rate limited"))

		fixer := NewMedicalTextFixer(provider, 2, nil, testLogger())
		assert.Equal(t, "phải sụp", fixer.FixText(ctx, "phải sụp"))
	})

	t.Run("Empty_Answer_Keeps_Raw", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, mock.Anything).Return(reply("   "), nil)

		fixer := NewMedicalTextFixer(provider, 2, nil, testLogger())
		assert.Equal(t, "ho", fixer.FixText(ctx, "ho"))
	})

	t.Run("Whitespace_Skips_Call", func(t *testing.T) {
		provider := new(MockProvider)
		fixer := NewMedicalTextFixer(provider, 2, nil, testLogger())

		assert.Equal(t, "  ", fixer.FixText(ctx, "  "))
		provider.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything)
	})

	t.Run("Nil_Provider", func(t *testing.T) {
		fixer := NewMedicalTextFixer(nil, 0, nil, testLogger())
		assert.Equal(t, "sốt", fixer.FixText(ctx, "sốt"))
	})
}

func TestMedicalTextFixer_FixSegments(t *testing.T) {
	provider := new(MockProvider)
	provider.On("Complete", mock.Anything, fixerRequest("a")).Return(reply("A"), nil)
	provider.On("Complete", mock.Anything, fixerRequest("b")).Return(reply("B"), nil)
	provider.On("Complete", mock.Anything, fixerRequest("c")).Return(nil, errors.New("boom"))

	fixer := NewMedicalTextFixer(provider, 2, nil, testLogger())
	out := fixer.FixSegments(context.Background(), []domain.MergedSegment{
		{Start: 0, End: 1, RawText: "a"},
		{Start: 1, End: 2, RawText: "b"},
		{Start: 2, End: 3, RawText: "c"},
	})

	require.Len(t, out, 3)
	assert.Equal(t, "A", out[0].CleanText)
	assert.Equal(t, "B", out[1].CleanText)
	assert.Equal(t, "c", out[2].CleanText)
	assert.Equal(t, 1.0, out[1].Start)
}

func newTestTranscriptionService(tr *MockTranscriber, di *MockDiarizer, provider *MockProvider, timeout time.Duration) *TranscriptionService {
	var p llm.Provider
	if provider != nil {
		p = provider
	}
	fixer := NewMedicalTextFixer(p, 2, nil, testLogger())
	return NewTranscriptionService(tr, di, fixer, TranscriptionServiceConfig{
		FanoutTimeout: timeout,
		DoctorFirst:   true,
	}, nil, testLogger())
}

func TestTranscriptionService_Process(t *testing.T) {
	ctx := context.Background()

	transcription := &domain.Transcription{
		Text: "Chào anh. Tôi đau bụng.",
		Segments: []domain.TranscriptSegment{
			{Start: 0, End: 1, Text: "Chào anh."},
			{Start: 1, End: 3, Text: "Tôi đau bụng."},
		},
	}

	t.Run("Merges_Speakers_And_Assigns_Roles", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(transcription, nil)
		di := new(MockDiarizer)
		di.On("Diarize", mock.Anything, testAudio).Return(&domain.Diarization{
			Speakers: []domain.SpeakerSegment{
				{Start: 0, End: 1.2, Speaker: "SPEAKER_00"},
				{Start: 1.2, End: 3, Speaker: "SPEAKER_01"},
			},
			NumSpeakers: 2,
		}, nil)

		svc := newTestTranscriptionService(tr, di, nil, time.Second)
		result, err := svc.Process(ctx, testAudio)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Equal(t, 2, result.NumSpeakers)
		assert.Equal(t, transcription.Text, result.RawText)
		require.Len(t, result.Segments, 2)
		assert.Equal(t, domain.RoleDoctor, result.Segments[0].Role)
		assert.Equal(t, domain.RolePatient, result.Segments[1].Role)
		assert.Equal(t, "Tôi đau bụng.", result.Segments[1].CleanText)
		assert.Equal(t, map[string]string{
			"SPEAKER_00": domain.RoleDoctor,
			"SPEAKER_01": domain.RolePatient,
		}, result.SpeakerMapping)
	})

	t.Run("Keeps_Service_Mapping_When_Roles_Missing", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(transcription, nil)
		di := new(MockDiarizer)
		di.On("Diarize", mock.Anything, testAudio).Return(&domain.Diarization{
			Speakers: []domain.SpeakerSegment{
				{Start: 0, End: 1.2, Speaker: "SPEAKER_00"},
				{Start: 1.2, End: 3, Speaker: "SPEAKER_01"},
			},
			NumSpeakers:    2,
			SpeakerMapping: map[string]string{"SPEAKER_00": domain.RolePatient},
		}, nil)

		svc := newTestTranscriptionService(tr, di, nil, time.Second)
		result, err := svc.Process(ctx, testAudio)
		require.NoError(t, err)

		assert.Equal(t, map[string]string{
			"SPEAKER_00": domain.RolePatient,
			"SPEAKER_01": domain.RolePatient,
		}, result.SpeakerMapping)
		require.Len(t, result.Segments, 2)
		assert.Equal(t, domain.RolePatient, result.Segments[0].Role)
	})

	t.Run("Diarization_Error_Falls_Back", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(transcription, nil)
		di := new(MockDiarizer)
		di.On("Diarize", mock.Anything, testAudio).Return(nil, errors.New("connection refused"))

		svc := newTestTranscriptionService(tr, di, nil, time.Second)
		result, err := svc.Process(ctx, testAudio)
		require.NoError(t, err)

		assert.Equal(t, 0, result.NumSpeakers)
		require.Len(t, result.Segments, 2)
		assert.Equal(t, domain.DefaultSpeaker, result.Segments[0].Speaker)
		assert.Equal(t, domain.DefaultRole, result.Segments[1].Role)
	})

	t.Run("Slow_Diarization_Times_Out", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(transcription, nil)
		di := &MockDiarizer{delay: 2 * time.Second}

		svc := newTestTranscriptionService(tr, di, nil, 50*time.Millisecond)
		result, err := svc.Process(ctx, testAudio)
		require.NoError(t, err)

		assert.Equal(t, domain.DefaultSpeaker, result.Segments[0].Speaker)
		di.AssertNotCalled(t, "Diarize", mock.Anything, mock.Anything)
	})

	t.Run("Transcription_Error_Fails", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(nil, &domain.ExternalServiceError{Service: "transcription", Err: errors.New("http 401")})
		di := new(MockDiarizer)
		di.On("Diarize", mock.Anything, testAudio).Return(domain.EmptyDiarization(), nil)

		svc := newTestTranscriptionService(tr, di, nil, time.Second)
		_, err := svc.Process(ctx, testAudio)
		require.Error(t, err)

		var extErr *domain.ExternalServiceError
		assert.ErrorAs(t, err, &extErr)
	})

	t.Run("Empty_Text", func(t *testing.T) {
		tr := new(MockTranscriber)
		tr.On("Transcribe", mock.Anything, testAudio).Return(&domain.Transcription{Text: "  "}, nil)
		di := new(MockDiarizer)
		di.On("Diarize", mock.Anything, testAudio).Return(&domain.Diarization{NumSpeakers: 1}, nil)

		svc := newTestTranscriptionService(tr, di, nil, time.Second)
		result, err := svc.Process(ctx, testAudio)
		require.NoError(t, err)

		assert.True(t, result.Success)
		assert.Empty(t, result.Segments)
		assert.NotNil(t, result.Segments)
		assert.Equal(t, "", result.RawText)
		assert.Equal(t, 0, result.NumSpeakers)
	})

	t.Run("No_Audio", func(t *testing.T) {
		svc := newTestTranscriptionService(new(MockTranscriber), new(MockDiarizer), nil, time.Second)
		_, err := svc.Process(ctx, nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestTranscriptionService_Health(t *testing.T) {
	tr := new(MockTranscriber)
	tr.On("Configured").Return(false)
	di := new(MockDiarizer)
	di.On("Health", mock.Anything).Return("loading")

	svc := newTestTranscriptionService(tr, di, nil, time.Second)
	health := svc.Health(context.Background())

	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, STTMissingKey, health.Services["groq_stt"])
	assert.Equal(t, "loading", health.Services["diarization"])
}
