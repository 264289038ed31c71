package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const defaultMaxUploadMB = 50

// handleSpeechToText transcribes and diarizes the uploaded consultation audio
func (s *Server) handleSpeechToText(c *gin.Context) {
	maxMB := s.config.Server.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxMB<<20)

	file, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.badRequest(c, "file", fmt.Sprintf("Audio file exceeds %d MB", maxMB))
			return
		}
		s.badRequest(c, "file", "No audio file provided")
		return
	}

	f, err := file.Open()
	if err != nil {
		s.respondError(c, fmt.Errorf("opening upload: %w", err))
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil {
		s.respondError(c, fmt.Errorf("reading upload: %w", err))
		return
	}

	result, err := s.services.Speech.Process(c.Request.Context(), audio)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// handleSpeechHealth reports transcription and diarization readiness
func (s *Server) handleSpeechHealth(c *gin.Context) {
	c.JSON(http.StatusOK, s.services.Speech.Health(c.Request.Context()))
}
