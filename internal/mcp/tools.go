package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/service"
)

// MergeTranscriptParams defines parameters for merge_transcript
type MergeTranscriptParams struct {
	Segments []domain.TranscriptSegment `json:"segments" jsonschema:"transcript segments with start, end and text"`
	Speakers []domain.SpeakerSegment    `json:"speakers,omitempty" jsonschema:"diarized speaker turns; empty means a single speaker"`
	Text     string                     `json:"text,omitempty" jsonschema:"full transcript, used when there are no segments"`
}

// MergeTranscriptResult defines the result of merge_transcript
type MergeTranscriptResult struct {
	Segments []domain.MergedSegment `json:"segments"`
}

// CompareRecordsParams defines parameters for compare_records
type CompareRecordsParams struct {
	AIResults     domain.AIResults     `json:"aiResults" jsonschema:"what the assistant proposed"`
	DoctorResults domain.DoctorResults `json:"doctorResults" jsonschema:"what the physician signed"`
	SessionID     string               `json:"sessionId,omitempty"`
	Store         bool                 `json:"store,omitempty" jsonschema:"persist the comparison"`
}

// CompareRecordsResult defines the result of compare_records
type CompareRecordsResult struct {
	ID         string                  `json:"id,omitempty"`
	Comparison domain.ComparisonResult `json:"comparison"`
}

// AnalyzeTranscriptParams defines parameters for analyze_transcript
type AnalyzeTranscriptParams struct {
	Transcript string `json:"transcript" jsonschema:"consultation transcript in Vietnamese"`
}

// SearchPatientsParams defines parameters for search_patients
type SearchPatientsParams struct {
	Query string `json:"query,omitempty" jsonschema:"name, display id or phone; empty lists recent patients"`
	Page  int    `json:"page,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// GetSessionRecordParams defines parameters for get_session_record
type GetSessionRecordParams struct {
	SessionID string `json:"sessionId"`
}

// SessionRecordResult defines the result of get_session_record
type SessionRecordResult struct {
	Session domain.Session        `json:"session"`
	Patient domain.PatientBrief   `json:"patient"`
	Record  *domain.MedicalRecord `json:"record,omitempty"`
}

// DashboardStatsParams defines parameters for dashboard_stats
type DashboardStatsParams struct{}

// ListComparisonsParams defines parameters for list_comparisons
type ListComparisonsParams struct {
	SessionID string `json:"sessionId,omitempty" jsonschema:"only comparisons of this session"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ListComparisonsResult defines the result of list_comparisons
type ListComparisonsResult struct {
	Comparisons       []*domain.ComparisonRecord `json:"comparisons"`
	Count             int64                      `json:"count"`
	AverageMatchScore float64                    `json:"average_match_score"`
}

func (s *Server) mergeTranscript(_ context.Context, _ *mcp.CallToolRequest, params MergeTranscriptParams) (*mcp.CallToolResult, MergeTranscriptResult, error) {
	s.logger.WithField("tool", "merge_transcript").Debug("Tool invoked")

	merged := service.MergeTranscript(
		&domain.Transcription{Text: params.Text, Segments: params.Segments},
		&domain.Diarization{Speakers: params.Speakers},
	)
	return nil, MergeTranscriptResult{Segments: merged}, nil
}

func (s *Server) compareRecords(ctx context.Context, _ *mcp.CallToolRequest, params CompareRecordsParams) (*mcp.CallToolResult, CompareRecordsResult, error) {
	s.logger.WithField("tool", "compare_records").Info("Tool invoked")

	result := CompareRecordsResult{
		Comparison: s.services.Matcher.Compare(params.AIResults, params.DoctorResults),
	}
	if !params.Store {
		return nil, result, nil
	}
	if s.services.Comparisons == nil {
		return nil, result, errors.New("comparison storage is not configured")
	}

	record := &domain.ComparisonRecord{
		AIResults:     params.AIResults,
		DoctorResults: params.DoctorResults,
		Comparison:    result.Comparison,
		MatchScore:    float64(result.Comparison.MatchScore),
		SessionID:     params.SessionID,
	}
	if err := s.services.Comparisons.Save(ctx, record); err != nil {
		return nil, result, fmt.Errorf("failed to store comparison: %w", err)
	}
	result.ID = record.ID
	return nil, result, nil
}

func (s *Server) analyzeTranscript(ctx context.Context, _ *mcp.CallToolRequest, params AnalyzeTranscriptParams) (*mcp.CallToolResult, domain.AnalysisResult, error) {
	start := time.Now()
	result, err := s.services.Pipeline.Analyze(ctx, params.Transcript, nil)
	if err != nil {
		return nil, domain.AnalysisResult{}, err
	}
	s.logger.WithField("tool", "analyze_transcript").
		WithField("duration_ms", time.Since(start).Milliseconds()).
		Info("Transcript analyzed")
	return nil, *result, nil
}

func (s *Server) searchPatients(ctx context.Context, _ *mcp.CallToolRequest, params SearchPatientsParams) (*mcp.CallToolResult, domain.PatientPage, error) {
	var (
		page *domain.PatientPage
		err  error
	)
	if params.Query == "" {
		page, err = s.services.Patients.List(ctx, params.Page, params.Limit)
	} else {
		page, err = s.services.Patients.Search(ctx, params.Query, params.Page, params.Limit)
	}
	if err != nil {
		return nil, domain.PatientPage{}, err
	}
	return nil, *page, nil
}

func (s *Server) getSessionRecord(ctx context.Context, _ *mcp.CallToolRequest, params GetSessionRecordParams) (*mcp.CallToolResult, SessionRecordResult, error) {
	session, err := s.services.Sessions.Get(ctx, params.SessionID)
	if err != nil {
		return nil, SessionRecordResult{}, err
	}

	result := SessionRecordResult{Session: session.Session, Patient: session.Patient}
	record, err := s.services.Sessions.GetRecord(ctx, params.SessionID)
	switch {
	case err == nil:
		result.Record = record
	case !service.IsNotFound(err):
		return nil, SessionRecordResult{}, err
	}
	return nil, result, nil
}

func (s *Server) dashboardStats(ctx context.Context, _ *mcp.CallToolRequest, _ DashboardStatsParams) (*mcp.CallToolResult, domain.DashboardStats, error) {
	stats, err := s.services.Dashboard.Stats(ctx, time.Now())
	if err != nil {
		return nil, domain.DashboardStats{}, err
	}
	return nil, *stats, nil
}

func (s *Server) listComparisons(ctx context.Context, _ *mcp.CallToolRequest, params ListComparisonsParams) (*mcp.CallToolResult, ListComparisonsResult, error) {
	store := s.services.Comparisons

	var (
		records []*domain.ComparisonRecord
		err     error
	)
	if params.SessionID != "" {
		records, err = store.ListBySession(ctx, params.SessionID)
	} else {
		limit := params.Limit
		if limit <= 0 {
			limit = 20
		}
		records, err = store.List(ctx, limit, params.Offset)
	}
	if err != nil {
		return nil, ListComparisonsResult{}, err
	}
	if records == nil {
		records = []*domain.ComparisonRecord{}
	}

	count, err := store.Count(ctx)
	if err != nil {
		return nil, ListComparisonsResult{}, err
	}
	avg, err := store.AverageScore(ctx)
	if err != nil {
		return nil, ListComparisonsResult{}, err
	}
	return nil, ListComparisonsResult{Comparisons: records, Count: count, AverageMatchScore: avg}, nil
}
