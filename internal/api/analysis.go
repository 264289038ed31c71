package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/medical-examination-assistant/internal/domain"
	"github.com/medical-examination-assistant/internal/middleware"
)

const wsWriteTimeout = 10 * time.Second

// Stream message types
const (
	streamStage  = "stage"
	streamResult = "result"
	streamError  = "error"
)

type analysisRequest struct {
	Transcript string `json:"transcript"`
}

// streamMessage is one frame pushed to the analysis websocket
type streamMessage struct {
	Type   string                 `json:"type"`
	Event  *domain.StageEvent     `json:"event,omitempty"`
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  *domain.AppError       `json:"error,omitempty"`
}

// handleAnalysis runs the scribe, ICD-10 and expert agents on a transcript
func (s *Server) handleAnalysis(c *gin.Context) {
	var req analysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "transcript", "Request body must be JSON with a transcript")
		return
	}

	result, err := s.services.Pipeline.Analyze(c.Request.Context(), req.Transcript, nil)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (s *Server) upgrader() *websocket.Upgrader {
	allowed := make(map[string]bool, len(s.config.Server.CORSOrigins))
	for _, o := range s.config.Server.CORSOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed["*"] || allowed[origin]
		},
	}
}

// handleAnalysisStream runs the agent pipeline for a session over a websocket.
// Each client message {transcript} yields stage events followed by the result.
func (s *Server) handleAnalysisStream(c *gin.Context) {
	sessionID := c.Param("id")
	if _, err := s.services.Sessions.Get(c.Request.Context(), sessionID); err != nil {
		s.respondError(c, err)
		return
	}

	conn, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	logger := s.logger.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"correlation_id": c.GetString(middleware.CorrelationIDKey),
	})
	logger.Info("Analysis stream opened")

	ctx := c.Request.Context()
	for {
		var req analysisRequest
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.WithError(err).Debug("Analysis stream read ended")
			}
			return
		}

		if err := s.streamAnalysis(ctx, conn, c.GetString(middleware.CorrelationIDKey), req.Transcript); err != nil {
			logger.WithError(err).Warn("Analysis stream write failed")
			return
		}
	}
}

func (s *Server) streamAnalysis(ctx context.Context, conn *websocket.Conn, requestID, transcript string) error {
	var writeErr error
	send := func(msg streamMessage) {
		if writeErr != nil {
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		writeErr = conn.WriteJSON(msg)
	}

	result, err := s.services.Pipeline.Analyze(ctx, transcript, func(e domain.StageEvent) {
		send(streamMessage{Type: streamStage, Event: &e})
	})
	if err != nil {
		_, code := errorStatus(err)
		send(streamMessage{
			Type:  streamError,
			Error: domain.NewAppError(code, errorMessages[code], err.Error(), requestID),
		})
		return writeErr
	}

	send(streamMessage{Type: streamResult, Result: result})
	return writeErr
}
