package external

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/medical-examination-assistant/internal/domain"
)

// Breaker names
const (
	BreakerTranscription = "transcription"
	BreakerDiarization   = "diarization"
	BreakerHIS           = "his"
)

// ResilientClients wraps the speech and HIS clients with circuit breakers
type ResilientClients struct {
	transcriber Transcriber
	diarizer    Diarizer
	his         domain.HISClient

	transcriptionBreaker *gobreaker.CircuitBreaker
	diarizationBreaker   *gobreaker.CircuitBreaker
	hisBreaker           *gobreaker.CircuitBreaker
}

// NewResilientClients creates breakers for each external service. his may be nil when HIS sync is disabled.
func NewResilientClients(transcriber Transcriber, diarizer Diarizer, his domain.HISClient, logger *logrus.Logger) *ResilientClients {
	onStateChange := func(name string, from gobreaker.State, to gobreaker.State) {
		logger.WithFields(logrus.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		}).Warn("Circuit breaker state changed")
	}

	return &ResilientClients{
		transcriber: transcriber,
		diarizer:    diarizer,
		his:         his,
		transcriptionBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        BreakerTranscription,
			MaxRequests: 5,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			OnStateChange: onStateChange,
		}),
		// trips on consecutive failures only; the model may still be loading
		diarizationBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        BreakerDiarization,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     90 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: onStateChange,
		}),
		hisBreaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        BreakerHIS,
			MaxRequests: 3,
			Interval:    30 * time.Second,
			Timeout:     60 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 2 && failureRatio >= 0.5
			},
			OnStateChange: onStateChange,
		}),
	}
}

// Transcriber returns the breaker-guarded transcription client
func (r *ResilientClients) Transcriber() Transcriber {
	return &guardedTranscriber{next: r.transcriber, breaker: r.transcriptionBreaker}
}

// Diarizer returns the breaker-guarded diarization client
func (r *ResilientClients) Diarizer() Diarizer {
	return &guardedDiarizer{next: r.diarizer, breaker: r.diarizationBreaker}
}

// HIS returns the breaker-guarded HIS client, or nil when none was configured
func (r *ResilientClients) HIS() domain.HISClient {
	if r.his == nil {
		return nil
	}
	return &guardedHIS{next: r.his, breaker: r.hisBreaker}
}

// Stats returns the counts of every breaker
func (r *ResilientClients) Stats() map[string]gobreaker.Counts {
	return map[string]gobreaker.Counts{
		BreakerTranscription: r.transcriptionBreaker.Counts(),
		BreakerDiarization:   r.diarizationBreaker.Counts(),
		BreakerHIS:           r.hisBreaker.Counts(),
	}
}

// States returns the state name of every breaker
func (r *ResilientClients) States() map[string]string {
	return map[string]string{
		BreakerTranscription: r.transcriptionBreaker.State().String(),
		BreakerDiarization:   r.diarizationBreaker.State().String(),
		BreakerHIS:           r.hisBreaker.State().String(),
	}
}

// breakerError turns open/half-open rejections into external service errors
func breakerError(service string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ExternalServiceError{Service: service, Err: err}
	}
	return err
}

type guardedTranscriber struct {
	next    Transcriber
	breaker *gobreaker.CircuitBreaker
}

func (g *guardedTranscriber) Configured() bool {
	return g.next.Configured()
}

func (g *guardedTranscriber) Transcribe(ctx context.Context, audio []byte) (*domain.Transcription, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Transcribe(ctx, audio)
	})
	if err != nil {
		return nil, breakerError(BreakerTranscription, err)
	}
	return result.(*domain.Transcription), nil
}

type guardedDiarizer struct {
	next    Diarizer
	breaker *gobreaker.CircuitBreaker
}

func (g *guardedDiarizer) Health(ctx context.Context) string {
	return g.next.Health(ctx)
}

func (g *guardedDiarizer) Diarize(ctx context.Context, audio []byte) (*domain.Diarization, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Diarize(ctx, audio)
	})
	if err != nil {
		return nil, breakerError(BreakerDiarization, err)
	}
	return result.(*domain.Diarization), nil
}

type guardedHIS struct {
	next    domain.HISClient
	breaker *gobreaker.CircuitBreaker
}

func (g *guardedHIS) UpdateVisit(ctx context.Context, visitID string, note domain.SOAPNote, icdCodes []string) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.next.UpdateVisit(ctx, visitID, note, icdCodes)
	})
	if err != nil {
		return breakerError(BreakerHIS, err)
	}
	return nil
}
