package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/repository"
	"github.com/medical-examination-assistant/pkg/llm"
)

// MockProvider is a mock implementation of llm.Provider
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.CompletionResponse), args.Error(1)
}

func (m *MockProvider) Name() string {
	return "mock"
}

// MockTranscriber is a mock implementation of external.Transcriber
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte) (*domain.Transcription, error) {
	args := m.Called(ctx, audio)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transcription), args.Error(1)
}

func (m *MockTranscriber) Configured() bool {
	return m.Called().Bool(0)
}

// MockDiarizer is a mock implementation of external.Diarizer
type MockDiarizer struct {
	mock.Mock
	delay time.Duration
}

func (m *MockDiarizer) Diarize(ctx context.Context, audio []byte) (*domain.Diarization, error) {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	args := m.Called(ctx, audio)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Diarization), args.Error(1)
}

func (m *MockDiarizer) Health(ctx context.Context) string {
	return m.Called(ctx).String(0)
}

// MockHIS is a mock implementation of domain.HISClient
type MockHIS struct {
	mock.Mock
}

func (m *MockHIS) UpdateVisit(ctx context.Context, visitID string, note domain.SOAPNote, icdCodes []string) error {
	return m.Called(ctx, visitID, note, icdCodes).Error(0)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func reply(content string) *llm.CompletionResponse {
	return &llm.CompletionResponse{Content: content}
}

func newTestStore(t *testing.T) domain.ClinicalStore {
	t.Helper()
	store, err := repository.NewSQLiteStore(filepath.Join(t.TempDir(), "clinic.db"), testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
