package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleDashboardStats reports today, week, month and all-time counters
func (s *Server) handleDashboardStats(c *gin.Context) {
	stats, err := s.services.Dashboard.Stats(c.Request.Context(), s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
}

func (s *Server) handleDashboardPatients(c *gin.Context) {
	result, err := s.services.Dashboard.Patients(c.Request.Context(), intQuery(c, "page"), intQuery(c, "limit"), s.now())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}
