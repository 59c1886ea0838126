package rest

import (
	"net/http"

	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/mappings?panel=<id>
func (s *Server) listMappings(c *gin.Context) {
	panel := types.PanelID(c.Query("panel"))

	entries := s.lm.Table().Entries()
	response := make([]gin.H, 0, len(entries))
	for _, e := range entries {
		if panel != "" && e.Element.Panel != panel {
			continue
		}
		item := gin.H{
			"index":     e.Index,
			"panel":     e.Element.Panel,
			"element":   e.Element.Element,
			"variable":  e.Variable.String(),
			"direction": e.Direction,
			"transform": e.Transform.Kind(),
		}
		if e.Event != "" {
			item["event"] = e.Event
		}
		response = append(response, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"mappings": response,
		"count":    len(response),
	})
}
