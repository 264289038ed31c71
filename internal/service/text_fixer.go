package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/observe"
	"github.com/medical-examination-assistant/pkg/llm"
)

// StageFixer labels LLM metrics of the medical text correction
const StageFixer = "fixer"

// MedicalTextFixer corrects medical terminology in transcribed speech
type MedicalTextFixer struct {
	provider    llm.Provider
	concurrency int
	metrics     *observe.Metrics
	logger      *logrus.Logger
}

// NewMedicalTextFixer creates a fixer. A nil provider leaves text unchanged.
func NewMedicalTextFixer(provider llm.Provider, concurrency int, metrics *observe.Metrics, logger *logrus.Logger) *MedicalTextFixer {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &MedicalTextFixer{
		provider:    provider,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

// FixText returns the corrected text, or text itself when correction fails
func (f *MedicalTextFixer) FixText(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" || f.provider == nil {
		return text
	}

	req := llm.UserPrompt(medicalFixerPrompt, text)
	req.Temperature = 0.1
	req.MaxTokens = 500

	start := time.Now()
	resp, err := f.provider.Complete(ctx, req)
	f.metrics.RecordLLM(ctx, StageFixer, time.Since(start))
	if err != nil {
		f.metrics.RecordExternalError(ctx, "llm")
		f.logger.WithError(err).Warn("Medical text fixer failed, keeping raw text")
		return text
	}

	fixed := strings.TrimSpace(resp.Content)
	if fixed == "" {
		return text
	}
	return fixed
}

// FixSegments cleans every segment concurrently, bounded by the configured limit
func (f *MedicalTextFixer) FixSegments(ctx context.Context, segments []domain.MergedSegment) []domain.ProcessedSegment {
	processed := make([]domain.ProcessedSegment, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, seg := range segments {
		g.Go(func() error {
			processed[i] = domain.ProcessedSegment{
				MergedSegment: seg,
				CleanText:     f.FixText(gctx, seg.RawText),
			}
			return nil
		})
	}
	_ = g.Wait()

	return processed
}
