package rest

import (
	"context"
	"net/http"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/system/status
func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.GetCurrentStatus())
}

// POST /api/v1/system/shutdown
func (s *Server) shutdown(c *gin.Context) {
	c.JSON(http.StatusAccepted, gin.H{
		"message": "Shutdown initiated",
	})

	// Trigger shutdown in background, the request context ends with this handler
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lm.Config().Server.ShutdownTimeout)
		defer cancel()
		if err := s.lm.Shutdown(ctx); err != nil {
			s.logger.Error("Shutdown failed", zap.Error(err))
		}
	}()
}

// GET /api/v1/sessions
func (s *Server) listSessions(c *gin.Context) {
	statuses := s.lm.Sessions().Statuses()
	c.JSON(http.StatusOK, gin.H{
		"sessions": statuses,
		"count":    len(statuses),
	})
}

// GET /api/v1/sessions/simulator, /api/v1/sessions/panel/:id
func (s *Server) getSession(c *gin.Context) {
	ref := c.Param("kind")
	if id := c.Param("id"); id != "" {
		ref += "/" + id
	}
	status, ok := s.lm.Sessions().Status(ref)
	if !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("SESSION_404", "Session not found", ref))
		return
	}
	c.JSON(http.StatusOK, status)
}
