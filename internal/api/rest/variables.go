package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeTimeout = 2 * time.Second

type WriteVariableRequest struct {
	// Variable is "NAME (unit)". Either Variable or Event is required.
	Variable string   `json:"variable"`
	Event    string   `json:"event"`
	Value    *float64 `json:"value" binding:"required"`
}

// GET /api/v1/variables
func (s *Server) listVariables(c *gin.Context) {
	snapshots := s.lm.Registry().Snapshots()

	response := make([]gin.H, 0, len(snapshots))
	for _, snap := range snapshots {
		response = append(response, gin.H{
			"variable":   snap.Variable.String(),
			"value":      snap.Value,
			"revision":   snap.Revision,
			"updated_at": snap.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"connected": s.lm.Registry().Connected(),
		"variables": response,
		"count":     len(response),
	})
}

// POST /api/v1/variables/write
func (s *Server) writeVariable(c *gin.Context) {
	var req WriteVariableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid request body", err.Error()))
		return
	}
	if (req.Variable == "") == (req.Event == "") {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Exactly one of variable or event is required", nil))
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), writeTimeout)
	defer cancel()

	var (
		target string
		err    error
	)
	if req.Event != "" {
		target = req.Event
		err = s.lm.Registry().TransmitEvent(ctx, req.Event, *req.Value)
	} else {
		id, perr := types.ParseVariableID(req.Variable)
		if perr != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("VAR_400", "Invalid variable", perr.Error()))
			return
		}
		target = id.String()
		err = s.lm.Registry().Write(ctx, id, *req.Value)
	}

	if err != nil {
		if errors.Is(err, types.ErrSimulatorUnavailable) {
			c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("VAR_503", "Simulator unavailable", err.Error()))
			return
		}
		c.JSON(http.StatusBadGateway, types.NewErrorResponse("VAR_502", "Write failed", err.Error()))
		return
	}

	s.logger.Info("Simulator write via API",
		zap.String("target", target),
		zap.Float64("value", *req.Value))
	c.JSON(http.StatusOK, gin.H{
		"target": target,
		"value":  *req.Value,
	})
}
