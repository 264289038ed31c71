package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/service"
)

const defaultComparisonLimit = 50

// icdList accepts either a JSON array of codes or one comma separated string
type icdList []string

func (l *icdList) UnmarshalJSON(data []byte) error {
	var codes []string
	if err := json.Unmarshal(data, &codes); err == nil {
		*l = codes
		return nil
	}
	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("icdCodes must be an array or a string: %w", err)
	}
	*l = service.ParseICDList(joined)
	return nil
}

type doctorResultsInput struct {
	SOAP      domain.SOAPNote  `json:"soap"`
	ICDCodes  icdList          `json:"icdCodes"`
	Treatment domain.Treatment `json:"treatment"`
	Notes     string           `json:"notes"`
}

type aiResultsInput struct {
	SOAP          domain.SOAPNote `json:"soap"`
	ICDCodes      icdList         `json:"icdCodes"`
	MedicalAdvice string          `json:"medicalAdvice"`
	References    []string        `json:"references"`
}

type comparisonRequest struct {
	SessionID       string              `json:"sessionId"`
	MedicalRecordID string              `json:"medicalRecordId"`
	CaseID          string              `json:"caseId"`
	AIResults       *aiResultsInput     `json:"aiResults"`
	DoctorResults   *doctorResultsInput `json:"doctorResults"`
}

// handleCreateComparison scores the AI draft against the physician's record and stores the verdict
func (s *Server) handleCreateComparison(c *gin.Context) {
	var req comparisonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "body", err.Error())
		return
	}
	if req.AIResults == nil || req.DoctorResults == nil {
		s.badRequest(c, "aiResults", "aiResults and doctorResults are required")
		return
	}

	ai := domain.AIResults{
		SOAP:          req.AIResults.SOAP,
		ICDCodes:      req.AIResults.ICDCodes,
		MedicalAdvice: req.AIResults.MedicalAdvice,
		References:    req.AIResults.References,
	}
	doctor := domain.DoctorResults{
		SOAP:      req.DoctorResults.SOAP,
		ICDCodes:  req.DoctorResults.ICDCodes,
		Treatment: req.DoctorResults.Treatment,
		Notes:     req.DoctorResults.Notes,
	}

	ctx := c.Request.Context()
	result := s.services.Matcher.Compare(ai, doctor)
	s.services.Metrics.RecordComparisonScore(ctx, float64(result.MatchScore))

	record := &domain.ComparisonRecord{
		AIResults:       ai,
		DoctorResults:   doctor,
		Comparison:      result,
		MatchScore:      float64(result.MatchScore),
		CaseID:          req.CaseID,
		SessionID:       req.SessionID,
		MedicalRecordID: req.MedicalRecordID,
	}
	if err := s.services.Comparisons.Save(ctx, record); err != nil {
		s.respondError(c, fmt.Errorf("saving comparison: %w", err))
		return
	}

	s.logger.WithField("comparison_id", record.ID).
		WithField("match_score", result.MatchScore).
		Info("Comparison stored")

	c.JSON(http.StatusCreated, gin.H{"success": true, "id": record.ID, "analysis": result})
}

func (s *Server) handleListComparisons(c *gin.Context) {
	limit := intQuery(c, "limit")
	if limit == 0 {
		limit = defaultComparisonLimit
	}

	records, err := s.services.Comparisons.List(c.Request.Context(), limit, intQuery(c, "offset"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.ComparisonRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comparisons": records})
}

func (s *Server) handleComparisonStats(c *gin.Context) {
	ctx := c.Request.Context()
	count, err := s.services.Comparisons.Count(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	avg, err := s.services.Comparisons.AverageScore(ctx)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": count, "average_match_score": avg})
}

func (s *Server) handleGetComparison(c *gin.Context) {
	record, err := s.services.Comparisons.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comparison": record})
}

func (s *Server) handleDeleteComparison(c *gin.Context) {
	if err := s.services.Comparisons.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) handleSessionComparisons(c *gin.Context) {
	records, err := s.services.Comparisons.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if records == nil {
		records = []*domain.ComparisonRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "comparisons": records})
}
