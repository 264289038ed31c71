package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/medical-examination-assistant/internal/domain"
)

// MinDiarizationBytes is the smallest upload the diarization service can segment
const MinDiarizationBytes = 1000

// DiarizationClient talks to the speaker diarization microservice
type DiarizationClient struct {
	baseURL     string
	doctorFirst bool
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// NewDiarizationClient creates a new diarization client
func NewDiarizationClient(config domain.DiarizationConfig) *DiarizationClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 5
	}

	return &DiarizationClient{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		doctorFirst: config.DoctorFirst,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// Diarize returns the speaker turns of the audio with doctor/patient roles
func (c *DiarizationClient) Diarize(ctx context.Context, audio []byte) (*domain.Diarization, error) {
	if len(audio) < MinDiarizationBytes {
		return domain.EmptyDiarization(), nil
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter error: %w", err)
	}

	body, contentType, err := multipartAudio(audio, nil)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/diarize-with-mapping?" + url.Values{
		"doctor_first": {strconv.FormatBool(c.doctorFirst)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "diarization", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError("diarization", resp)
	}

	var result domain.Diarization
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode diarization response: %w", err)
	}
	if result.Speakers == nil {
		result.Speakers = []domain.SpeakerSegment{}
	}
	return &result, nil
}

type diarizationHealth struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

// Health reports ready, loading or unavailable
func (c *DiarizationClient) Health(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return DiarizationUnavailable
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return DiarizationUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DiarizationUnavailable
	}

	var health diarizationHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return DiarizationUnavailable
	}
	if health.ModelLoaded {
		return DiarizationReady
	}
	return DiarizationLoading
}
