package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/service"
)

// handleCreateSession opens an examination session for an existing patient,
// or registers the patient inline when the older body is used.
func (s *Server) handleCreateSession(c *gin.Context) {
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "body", "Request body must be a JSON object")
		return
	}

	created, err := s.services.Sessions.Create(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Phiên khám đã được tạo thành công",
		"data":    created,
	})
}

func (s *Server) handleListSessions(c *gin.Context) {
	result, err := s.services.Dashboard.RecentSessions(c.Request.Context(), intQuery(c, "page"), intQuery(c, "limit"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

func (s *Server) handleGetSession(c *gin.Context) {
	session, err := s.services.Sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
}

type sessionStatusRequest struct {
	Status domain.SessionStatus `json:"status"`
}

func (s *Server) handleUpdateSessionStatus(c *gin.Context) {
	var req sessionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "status", "Request body must be JSON with a status")
		return
	}

	ctx := c.Request.Context()
	if err := s.services.Sessions.UpdateStatus(ctx, c.Param("id"), req.Status); err != nil {
		s.respondError(c, err)
		return
	}
	session, err := s.services.Sessions.Get(ctx, c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": session})
}

// handleSaveRecord stores a draft or final record; a final record completes the session
func (s *Server) handleSaveRecord(c *gin.Context) {
	var input domain.MedicalRecordInput
	if err := c.ShouldBindJSON(&input); err != nil {
		s.badRequest(c, "body", "Request body must be a JSON object")
		return
	}

	record, err := s.services.Sessions.SaveRecord(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": record})
}

func (s *Server) handleGetRecord(c *gin.Context) {
	record, err := s.services.Sessions.GetRecord(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "record": record})
}
