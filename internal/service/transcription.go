package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/observe"
	"github.com/medical-examination-assistant/pkg/external"
)

// STT service states reported by Health
const (
	STTConfigured = "configured"
	STTMissingKey = "missing_key"
)

// TranscriptionService turns a consultation recording into speaker-labelled, corrected text
type TranscriptionService struct {
	transcriber   external.Transcriber
	diarizer      external.Diarizer
	fixer         *MedicalTextFixer
	fanoutTimeout time.Duration
	doctorFirst   bool
	metrics       *observe.Metrics
	logger        *logrus.Logger
}

// TranscriptionServiceConfig holds the fan-out settings
type TranscriptionServiceConfig struct {
	FanoutTimeout time.Duration
	DoctorFirst   bool
}

// NewTranscriptionService creates a new transcription service
func NewTranscriptionService(
	transcriber external.Transcriber,
	diarizer external.Diarizer,
	fixer *MedicalTextFixer,
	config TranscriptionServiceConfig,
	metrics *observe.Metrics,
	logger *logrus.Logger,
) *TranscriptionService {
	if config.FanoutTimeout <= 0 {
		config.FanoutTimeout = 90 * time.Second
	}
	return &TranscriptionService{
		transcriber:   transcriber,
		diarizer:      diarizer,
		fixer:         fixer,
		fanoutTimeout: config.FanoutTimeout,
		doctorFirst:   config.DoctorFirst,
		metrics:       metrics,
		logger:        logger,
	}
}

// Process transcribes and diarizes audio in parallel, merges speakers into the
// transcript and corrects each segment. Diarization failures degrade to a single speaker.
func (s *TranscriptionService) Process(ctx context.Context, audio []byte) (*domain.SpeechResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("no audio file provided: %w", domain.ErrInvalidInput)
	}

	s.logger.WithField("audio_bytes", len(audio)).Info("Processing consultation audio")

	fanoutCtx, cancel := context.WithTimeout(ctx, s.fanoutTimeout)
	defer cancel()

	var transcription *domain.Transcription
	diarization := domain.EmptyDiarization()

	g, gctx := errgroup.WithContext(fanoutCtx)
	g.Go(func() error {
		start := time.Now()
		result, err := s.transcriber.Transcribe(gctx, audio)
		s.metrics.RecordSTT(gctx, time.Since(start))
		if err != nil {
			s.metrics.RecordExternalError(gctx, "transcription")
			return fmt.Errorf("transcription failed: %w", err)
		}
		transcription = result
		return nil
	})
	g.Go(func() error {
		// never fails the group, so transcription is not cancelled by diarization
		start := time.Now()
		result, err := s.diarizer.Diarize(gctx, audio)
		s.metrics.RecordDiarization(gctx, time.Since(start))
		if err != nil {
			s.metrics.RecordExternalError(gctx, "diarization")
			s.logger.WithError(err).Warn("Diarization unavailable, continuing with a single speaker")
			return nil
		}
		diarization = result
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(transcription.Text) == "" {
		return &domain.SpeechResult{
			Success:  true,
			Segments: []domain.ProcessedSegment{},
			RawText:  "",
		}, nil
	}

	mapping := resolveSpeakerMapping(diarization, s.doctorFirst)

	merged := MergeTranscript(transcription, diarization)
	segments := s.fixer.FixSegments(ctx, merged)

	s.logger.WithFields(logrus.Fields{
		"segments":     len(segments),
		"num_speakers": diarization.NumSpeakers,
	}).Info("Consultation audio processed")

	return &domain.SpeechResult{
		Success:        true,
		Segments:       segments,
		RawText:        transcription.Text,
		NumSpeakers:    diarization.NumSpeakers,
		SpeakerMapping: mapping,
	}, nil
}

// resolveSpeakerMapping fills turns without a role from the service's mapping, then
// by speaking order. Entries the service returned are kept as is.
func resolveSpeakerMapping(diarization *domain.Diarization, doctorFirst bool) map[string]string {
	mapping := make(map[string]string, len(diarization.SpeakerMapping))
	for speaker, role := range diarization.SpeakerMapping {
		mapping[speaker] = role
	}
	if !hasMissingRole(diarization.Speakers) {
		return mapping
	}

	for i, sp := range diarization.Speakers {
		if sp.Role == "" {
			diarization.Speakers[i].Role = mapping[sp.Speaker]
		}
	}
	for speaker, role := range AssignRoles(diarization.Speakers, doctorFirst) {
		if _, ok := mapping[speaker]; !ok {
			mapping[speaker] = role
		}
	}
	return mapping
}

func hasMissingRole(speakers []domain.SpeakerSegment) bool {
	for _, sp := range speakers {
		if sp.Role == "" {
			return true
		}
	}
	return false
}

// Health reports whether the speech dependencies are usable
func (s *TranscriptionService) Health(ctx context.Context) domain.SpeechHealth {
	stt := STTMissingKey
	if s.transcriber.Configured() {
		stt = STTConfigured
	}
	return domain.SpeechHealth{
		Status: "ok",
		Services: map[string]string{
			"groq_stt":    stt,
			"diarization": s.diarizer.Health(ctx),
		},
	}
}
