package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/knowledge"
	"github.com/medical-examination-assistant/pkg/llm"
)

const testTranscript = "Bác sĩ: Anh bị sao? Bệnh nhân: Tôi đau thượng vị ba ngày nay, ợ chua."

const scribeAnswer = "```json\n" + `{"subjective": "Đau thượng vị 3 ngày, ợ chua", "objective": "Ấn đau vùng thượng vị", "assessment": "Viêm dạ dày cấp", "plan": "Omeprazol 20mg"}` + "\n```"

func stageRequest(marker string, jsonMode bool, temperature float64) interface{} {
	return mock.MatchedBy(func(req llm.CompletionRequest) bool {
		return len(req.Messages) == 1 &&
			strings.Contains(req.Messages[0].Content, marker) &&
			req.JSONMode == jsonMode &&
			req.Temperature == temperature
	})
}

func testKnowledge(t *testing.T) *knowledge.Base {
	t.Helper()
	base, err := knowledge.Load(fstest.MapFS{
		"viem-da-day.md": {Data: []byte("---\ntitle: Viêm dạ dày\n---\n## Điều trị\nĐau thượng vị kèm ợ chua gợi ý viêm dạ dày. Dùng thuốc ức chế bơm proton.\n")},
		"tang-huyet-ap.md": {Data: []byte("## Chẩn đoán\nHuyết áp trên 140/90 mmHg.\n")},
	}, 3)
	require.NoError(t, err)
	return base
}

type stageRecorder struct {
	mu     sync.Mutex
	events []domain.StageEvent
}

func (r *stageRecorder) record(e domain.StageEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func TestAgentPipeline_Analyze(t *testing.T) {
	ctx := context.Background()

	t.Run("Full_Run", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, stageRequest("Transcript:", true, 0.1)).Return(reply(scribeAnswer), nil).Once()
		provider.On("Complete", mock.Anything, stageRequest("ICD-10", true, 0.1)).Return(reply(`{"codes": ["K29.1 - Viêm dạ dày cấp", " "]}`), nil).Once()
		provider.On("Complete", mock.Anything, stageRequest("Y VĂN", false, 0.2)).Return(reply("Cân nhắc test H. pylori."), nil).Once()

		pipeline := NewAgentPipeline(provider, testKnowledge(t), nil, 3, nil, testLogger())
		rec := &stageRecorder{}
		result, err := pipeline.Analyze(ctx, testTranscript, rec.record)
		require.NoError(t, err)

		assert.Equal(t, "Viêm dạ dày cấp", result.SOAP.Assessment)
		assert.Equal(t, "Omeprazol 20mg", result.SOAP.Plan)
		assert.Equal(t, []string{"K29.1 - Viêm dạ dày cấp"}, result.ICDCodes)
		assert.Equal(t, "Cân nhắc test H. pylori.", result.MedicalAdvice)
		assert.Equal(t, []string{"viem-da-day"}, result.References)
		provider.AssertExpectations(t)

		require.Len(t, rec.events, 6)
		stages := []string{domain.StageScribe, domain.StageICD, domain.StageExpert}
		for i, stage := range stages {
			assert.Equal(t, domain.StageEvent{Stage: stage, State: StageStarted}, rec.events[2*i])
			assert.Equal(t, stage, rec.events[2*i+1].Stage)
			assert.Equal(t, StageCompleted, rec.events[2*i+1].State)
		}
	})

	t.Run("Unparsable_ICD_Continues", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, stageRequest("Transcript:", true, 0.1)).Return(reply(scribeAnswer), nil)
		provider.On("Complete", mock.Anything, stageRequest("ICD-10", true, 0.1)).Return(reply("Tôi không chắc"), nil)
		provider.On("Complete", mock.Anything, stageRequest("Y VĂN", false, 0.2)).Return(reply("ok"), nil)

		pipeline := NewAgentPipeline(provider, nil, nil, 3, nil, testLogger())
		result, err := pipeline.Analyze(ctx, testTranscript, nil)
		require.NoError(t, err)

		assert.Equal(t, []string{ICDParseError}, result.ICDCodes)
		assert.Equal(t, []string{}, result.References)
	})

	t.Run("Invalid_Scribe_JSON", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, stageRequest("Transcript:", true, 0.1)).Return(reply("not json at all"), nil)

		pipeline := NewAgentPipeline(provider, nil, nil, 3, nil, testLogger())
		rec := &stageRecorder{}
		_, err := pipeline.Analyze(ctx, testTranscript, rec.record)
		require.Error(t, err)

		var llmErr *domain.LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, domain.StageScribe, llmErr.Stage)
		assert.Len(t, rec.events, 1)
		provider.AssertNumberOfCalls(t, "Complete", 1)
	})

	t.Run("Provider_Error", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, stageRequest("Transcript:", true, 0.1)).Return(reply(scribeAnswer), nil)
		provider.On("Complete", mock.Anything, stageRequest("ICD-10", true, 0.1)).Return(nil, errors.New("503"))

		pipeline := NewAgentPipeline(provider, nil, nil, 3, nil, testLogger())
		_, err := pipeline.Analyze(ctx, testTranscript, nil)

		var llmErr *domain.LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, domain.StageICD, llmErr.Stage)
	})

	t.Run("Empty_Transcript", func(t *testing.T) {
		pipeline := NewAgentPipeline(new(MockProvider), nil, nil, 3, nil, testLogger())
		_, err := pipeline.Analyze(ctx, " \n", nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("Cache_Hit_Skips_LLM", func(t *testing.T) {
		provider := new(MockProvider)
		provider.On("Complete", mock.Anything, stageRequest("Transcript:", true, 0.1)).Return(reply(scribeAnswer), nil).Once()
		provider.On("Complete", mock.Anything, stageRequest("ICD-10", true, 0.1)).Return(reply(`["K29.1"]`), nil).Once()
		provider.On("Complete", mock.Anything, stageRequest("Y VĂN", false, 0.2)).Return(reply("ok"), nil).Once()

		cache := NewAnalysisCache(AnalysisCacheConfig{MemorySize: 8, MemoryTTL: time.Minute}, nil, testLogger())
		pipeline := NewAgentPipeline(provider, nil, cache, 3, nil, testLogger())

		first, err := pipeline.Analyze(ctx, testTranscript, nil)
		require.NoError(t, err)
		second, err := pipeline.Analyze(ctx, testTranscript, nil)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		provider.AssertNumberOfCalls(t, "Complete", 3)
		assert.Equal(t, int64(1), cache.Stats().MemoryHits)
	})
}

func TestParseICDAnswer(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected []string
	}{
		{"Array", `["J06.9", "R50.9"]`, []string{"J06.9", "R50.9"}},
		{"Codes object", `{"codes": ["J06.9"]}`, []string{"J06.9"}},
		{"ICD10 object", `{"icd10": ["I10 - Tăng huyết áp"]}`, []string{"I10 - Tăng huyết áp"}},
		{"Fenced", "Kết quả:\n```json\n[\"E11\"]\n```", []string{"E11"}},
		{"Codes string", `{"codes": "J06.9"}`, []string{"J06.9"}},
		{"ICD10 string", `{"icd10": " K29.7 - Viêm dạ dày "}`, []string{"K29.7 - Viêm dạ dày"}},
		{"Codes number", `{"codes": 42}`, []string{ICDParseError}},
		{"Empty object", `{}`, []string{}},
		{"Prose", "không rõ", []string{ICDParseError}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseICDAnswer(tt.content))
		})
	}
}

func TestDecodeLenient(t *testing.T) {
	var soap domain.SOAPNote
	require.NoError(t, decodeLenient(`Here you go: {"assessment": "Cảm cúm"} thanks`, &soap))
	assert.Equal(t, "Cảm cúm", soap.Assessment)
	assert.Equal(t, "", soap.Plan)

	assert.ErrorIs(t, decodeLenient("{broken", &soap), errNoJSON)
}
