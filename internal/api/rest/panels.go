package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/PanelBridge/internal/codec"
	"github.com/KevinKickass/PanelBridge/internal/hub"
	"github.com/KevinKickass/PanelBridge/internal/session"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/panels
func (s *Server) listPanels(c *gin.Context) {
	panels := s.lm.Config().Panels

	response := make([]gin.H, 0, len(panels))
	for _, p := range panels {
		entry := gin.H{
			"id":      p.ID,
			"type":    p.Type,
			"address": p.Address,
			"outputs": len(s.lm.Table().OutputsOf(types.PanelID(p.ID))),
		}
		if status, ok := s.lm.Sessions().Status(session.PanelRef(types.PanelID(p.ID)).String()); ok {
			entry["state"] = status.State
		}
		response = append(response, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"panels": response,
		"count":  len(response),
	})
}

// GET /api/v1/panels/:id/outputs
func (s *Server) getPanelOutputs(c *gin.Context) {
	id := types.PanelID(c.Param("id"))
	if _, ok := s.lm.Config().Panel(id); !ok {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PANEL_404", "Panel not found", string(id)))
		return
	}

	outputs := s.lm.Hub().OutputsOf(id)
	c.JSON(http.StatusOK, gin.H{
		"panel":   id,
		"outputs": outputs,
		"count":   len(outputs),
	})
}

// POST /api/v1/panels/:id/resync
func (s *Server) resyncPanel(c *gin.Context) {
	id := types.PanelID(c.Param("id"))

	sent, err := s.lm.Hub().Resync(c.Request.Context(), id)
	switch {
	case errors.Is(err, hub.ErrUnknownPanel):
		c.JSON(http.StatusNotFound, types.NewErrorResponse("PANEL_404", "Panel not found", string(id)))
		return
	case errors.Is(err, hub.ErrPanelNotConnected):
		c.JSON(http.StatusConflict, types.NewErrorResponse("PANEL_409", "Panel not connected", string(id)))
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("PANEL_503", "Resync failed", err.Error()))
		return
	}

	s.logger.Info("Panel resynced via API", zap.String("panel", string(id)), zap.Int("outputs", sent))
	c.JSON(http.StatusOK, gin.H{
		"panel": id,
		"sent":  sent,
	})
}

// GET /api/v1/panel-types
func (s *Server) listPanelTypes(c *gin.Context) {
	kinds := codec.Kinds()

	response := make([]gin.H, 0, len(kinds))
	for _, kind := range kinds {
		spec, _ := codec.Lookup(kind)
		response = append(response, gin.H{
			"type":          spec.Kind,
			"baud_rate":     spec.BaudRate,
			"settle_delay":  spec.SettleDelay.String(),
			"open_catalog":  spec.OpenCatalog(),
			"elements":      spec.Elements,
			"element_count": len(spec.Elements),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"panel_types": response,
		"count":       len(response),
	})
}
