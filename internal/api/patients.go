package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/medical-examination-assistant/internal/domain"
)

type createPatientRequest struct {
	PatientData domain.PatientInput `json:"patientData"`
	Force       bool                `json:"force"`
}

// handleCreatePatient registers a patient, rejecting likely duplicates unless forced
func (s *Server) handleCreatePatient(c *gin.Context) {
	var req createPatientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "patientData", "Request body must be JSON with patientData")
		return
	}

	patient, err := s.services.Patients.Create(c.Request.Context(), req.PatientData, req.Force)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "patient": patient})
}

// handleListPatients searches when q is given, otherwise lists newest first
func (s *Server) handleListPatients(c *gin.Context) {
	page, limit := intQuery(c, "page"), intQuery(c, "limit")
	ctx := c.Request.Context()

	var (
		result *domain.PatientPage
		err    error
	)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		result, err = s.services.Patients.Search(ctx, q, page, limit)
	} else {
		result, err = s.services.Patients.List(ctx, page, limit)
	}
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"patients": result.Patients,
		"pagination": gin.H{
			"total": result.Total,
			"pages": result.Pages,
			"page":  result.Page,
			"limit": result.Limit,
		},
	})
}

func (s *Server) handleGetPatient(c *gin.Context) {
	patient, err := s.services.Patients.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "patient": patient})
}

func (s *Server) handleGetPatientByDisplayID(c *gin.Context) {
	patient, err := s.services.Patients.GetByDisplayID(c.Request.Context(), c.Param("displayId"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "patient": patient})
}

func (s *Server) handleUpdatePatient(c *gin.Context) {
	var patch domain.PatientPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		s.badRequest(c, "body", "Request body must be a JSON object")
		return
	}

	patient, err := s.services.Patients.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "patient": patient})
}

// handleDeletePatient removes the patient with its sessions and records
func (s *Server) handleDeletePatient(c *gin.Context) {
	if err := s.services.Patients.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Đã xóa bệnh nhân"})
}

func (s *Server) handlePatientHistory(c *gin.Context) {
	history, err := s.services.Patients.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": history})
}
