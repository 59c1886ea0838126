package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/PanelBridge/internal/diagnostics"
	"github.com/KevinKickass/PanelBridge/internal/storage"
	"github.com/KevinKickass/PanelBridge/internal/types"
	"github.com/gin-gonic/gin"
)

// GET /api/v1/diagnostics?kind=&endpoint=&since=RFC3339&limit=
func (s *Server) listDiagnostics(c *gin.Context) {
	store := s.lm.Storage()
	if store == nil {
		c.JSON(http.StatusServiceUnavailable, types.NewErrorResponse("DIAG_503", "Diagnostics journal disabled", nil))
		return
	}

	filter := storage.RecordFilter{
		Kind:     diagnostics.Kind(c.Query("kind")),
		Endpoint: c.Query("endpoint"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("DIAG_400", "Invalid since", err.Error()))
			return
		}
		filter.Since = t
	}
	if limit := c.Query("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse("DIAG_400", "Invalid limit", err.Error()))
			return
		}
		filter.Limit = n
	}

	records, err := store.ListRecords(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("DIAG_500", "Journal query failed", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}
