package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/medical-examination-assistant/internal/domain"
)

// TranscriptionClient calls an OpenAI-compatible /audio/transcriptions endpoint
type TranscriptionClient struct {
	baseURL     string
	apiKey      string
	model       string
	language    string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewTranscriptionClient creates a new transcription client
func NewTranscriptionClient(config domain.TranscriptionConfig) *TranscriptionClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	return &TranscriptionClient{
		baseURL:  strings.TrimRight(config.BaseURL, "/"),
		apiKey:   config.APIKey,
		model:    config.Model,
		language: config.Language,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// Configured reports whether an API key is present
func (c *TranscriptionClient) Configured() bool {
	return c.apiKey != ""
}

// Transcribe uploads the audio and returns the verbose transcription
func (c *TranscriptionClient) Transcribe(ctx context.Context, audio []byte) (*domain.Transcription, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
	}
	if c.language != "" {
		fields["language"] = c.language
	}
	body, contentType, err := multipartAudio(audio, fields)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "transcription", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("transcription", resp)
	}

	var result domain.Transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode transcription response: %w", err)
	}
	if result.Segments == nil {
		result.Segments = []domain.TranscriptSegment{}
	}
	return &result, nil
}
