package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/medical-examination-assistant/internal/domain"
)

// HISClient pushes finalized medical records to the hospital information system
type HISClient struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

var _ domain.HISClient = (*HISClient)(nil)

// NewHISClient creates a new HIS client
func NewHISClient(config domain.HISConfig) *HISClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	rateLimit := config.RateLimit
	if rateLimit <= 0 {
		rateLimit = 10
	}

	return &HISClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(rateLimit), 1),
	}
}

// visitUpdate is the body of PUT /visits/{visitId}
type visitUpdate struct {
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       string   `json:"plan"`
	ICDCodes   []string `json:"icdCodes"`
}

// UpdateVisit writes the SOAP note and ICD codes onto the HIS visit
func (c *HISClient) UpdateVisit(ctx context.Context, visitID string, note domain.SOAPNote, icdCodes []string) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	payload, err := json.Marshal(visitUpdate{
		Subjective: note.Subjective,
		Objective:  note.Objective,
		Assessment: note.Assessment,
		Plan:       note.Plan,
		ICDCodes:   icdCodes,
	})
	if err != nil {
		return fmt.Errorf("failed to encode visit update: %w", err)
	}

	endpoint := c.baseURL + "/visits/" + url.PathEscape(visitID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.ExternalServiceError{Service: "his", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError("his", resp)
	}
	return nil
}
