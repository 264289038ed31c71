package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/knowledge"
	"github.com/medical-examination-assistant/internal/observe"
	"github.com/medical-examination-assistant/pkg/llm"
)

// ICDParseError is the placeholder code list for an unreadable ICD answer
const ICDParseError = "Error parsing ICD codes"

// Stage event states
const (
	StageStarted   = "started"
	StageCompleted = "completed"
)

// Retriever finds reference literature for the expert stage
type Retriever interface {
	Retrieve(query string, k int) []knowledge.Chunk
}

// StageFunc receives pipeline progress events
type StageFunc func(domain.StageEvent)

// AgentPipeline runs the scribe, ICD-10 and expert agents in sequence
type AgentPipeline struct {
	provider  llm.Provider
	retriever Retriever
	cache     *AnalysisCache
	topK      int
	metrics   *observe.Metrics
	logger    *logrus.Logger
}

// NewAgentPipeline creates the pipeline. retriever and cache may be nil.
func NewAgentPipeline(provider llm.Provider, retriever Retriever, cache *AnalysisCache, topK int, metrics *observe.Metrics, logger *logrus.Logger) *AgentPipeline {
	return &AgentPipeline{
		provider:  provider,
		retriever: retriever,
		cache:     cache,
		topK:      topK,
		metrics:   metrics,
		logger:    logger,
	}
}

// Analyze drafts the SOAP note, ICD-10 codes and expert advice for a transcript
func (p *AgentPipeline) Analyze(ctx context.Context, transcript string, onStage StageFunc) (*domain.AnalysisResult, error) {
	if strings.TrimSpace(transcript) == "" {
		return nil, fmt.Errorf("transcript is required: %w", domain.ErrInvalidInput)
	}
	if onStage == nil {
		onStage = func(domain.StageEvent) {}
	}

	if cached, ok := p.cache.Get(ctx, transcript); ok {
		p.metrics.RecordPipelineRun(ctx, "cached")
		p.logger.Info("Analysis served from cache")
		return cached, nil
	}

	result, err := p.run(ctx, transcript, onStage)
	if err != nil {
		p.metrics.RecordPipelineRun(ctx, "error")
		return nil, err
	}

	p.metrics.RecordPipelineRun(ctx, "ok")
	p.cache.Set(ctx, transcript, result)
	return result, nil
}

func (p *AgentPipeline) run(ctx context.Context, transcript string, onStage StageFunc) (*domain.AnalysisResult, error) {
	var soap domain.SOAPNote
	err := p.stage(ctx, domain.StageScribe, onStage, func() error {
		var err error
		soap, err = p.scribe(ctx, transcript)
		return err
	})
	if err != nil {
		return nil, err
	}

	var codes []string
	err = p.stage(ctx, domain.StageICD, onStage, func() error {
		var err error
		codes, err = p.icd(ctx, soap)
		return err
	})
	if err != nil {
		return nil, err
	}

	var advice string
	var references []string
	err = p.stage(ctx, domain.StageExpert, onStage, func() error {
		var err error
		advice, references, err = p.expert(ctx, soap)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &domain.AnalysisResult{
		SOAP:          soap,
		ICDCodes:      codes,
		MedicalAdvice: advice,
		References:    references,
	}, nil
}

func (p *AgentPipeline) stage(ctx context.Context, name string, onStage StageFunc, fn func() error) error {
	onStage(domain.StageEvent{Stage: name, State: StageStarted})
	start := time.Now()

	err := fn()

	elapsed := time.Since(start)
	p.metrics.RecordLLM(ctx, name, elapsed)
	fields := logrus.Fields{
		"stage":       name,
		"duration_ms": elapsed.Milliseconds(),
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Error("Agent stage failed")
		return err
	}
	p.logger.WithFields(fields).Info("Agent stage completed")
	onStage(domain.StageEvent{Stage: name, State: StageCompleted, DurationMs: elapsed.Milliseconds()})
	return nil
}

func (p *AgentPipeline) complete(ctx context.Context, stage string, req llm.CompletionRequest) (string, error) {
	resp, err := p.provider.Complete(ctx, req)
	if err != nil {
		p.metrics.RecordExternalError(ctx, "llm")
		return "", &domain.LLMError{Stage: stage, Err: err}
	}
	return resp.Content, nil
}

func (p *AgentPipeline) scribe(ctx context.Context, transcript string) (domain.SOAPNote, error) {
	req := llm.UserPrompt("", scribePrompt(transcript))
	req.Temperature = 0.1
	req.JSONMode = true

	content, err := p.complete(ctx, domain.StageScribe, req)
	if err != nil {
		return domain.SOAPNote{}, err
	}

	var soap domain.SOAPNote
	if err := decodeLenient(content, &soap); err != nil {
		return domain.SOAPNote{}, &domain.LLMError{Stage: domain.StageScribe, Err: err}
	}
	return soap, nil
}

func (p *AgentPipeline) icd(ctx context.Context, soap domain.SOAPNote) ([]string, error) {
	req := llm.UserPrompt("", icdPrompt(soap.Assessment, soap.Subjective))
	req.Temperature = 0.1
	req.JSONMode = true

	content, err := p.complete(ctx, domain.StageICD, req)
	if err != nil {
		return nil, err
	}
	return ParseICDAnswer(content), nil
}

func (p *AgentPipeline) expert(ctx context.Context, soap domain.SOAPNote) (string, []string, error) {
	var chunks []knowledge.Chunk
	if p.retriever != nil {
		chunks = p.retriever.Retrieve(soap.Subjective, p.topK)
	}

	req := llm.UserPrompt("", expertPrompt(knowledge.Context(chunks), soap))
	req.Temperature = 0.2

	content, err := p.complete(ctx, domain.StageExpert, req)
	if err != nil {
		return "", nil, err
	}
	return content, knowledge.References(chunks), nil
}

// ParseICDAnswer reads a JSON array of codes, or an object whose "codes" or
// "icd10" value is an array or a single string. Anything else yields the
// parse-error placeholder.
func ParseICDAnswer(content string) []string {
	var list []string
	if err := decodeLenient(content, &list); err == nil {
		return cleanCodes(list)
	}

	var wrapped struct {
		Codes json.RawMessage `json:"codes"`
		ICD10 json.RawMessage `json:"icd10"`
	}
	if err := decodeLenient(content, &wrapped); err != nil {
		return []string{ICDParseError}
	}
	raw := wrapped.Codes
	if raw == nil {
		raw = wrapped.ICD10
	}
	if raw == nil {
		return []string{}
	}

	if err := json.Unmarshal(raw, &list); err == nil {
		return cleanCodes(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return cleanCodes([]string{single})
	}
	return []string{ICDParseError}
}

func cleanCodes(codes []string) []string {
	out := []string{}
	for _, c := range codes {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

var errNoJSON = errors.New("no JSON value in model answer")

// decodeLenient unmarshals content, falling back to the outermost {...} or [...]
// block when the model wrapped its JSON in prose or code fences.
func decodeLenient(content string, dest interface{}) error {
	content = strings.TrimSpace(content)
	if err := json.Unmarshal([]byte(content), dest); err == nil {
		return nil
	}

	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(content, pair[0])
		end := strings.LastIndex(content, pair[1])
		if start < 0 || end <= start {
			continue
		}
		if err := json.Unmarshal([]byte(content[start:end+1]), dest); err == nil {
			return nil
		}
	}
	return errNoJSON
}
