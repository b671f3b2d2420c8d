package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"schednotify/internal/event"
	"schednotify/internal/sse"
)

// DiagnosticsHandler reports the operational state of the notification core.
type DiagnosticsHandler struct {
	bus     *event.Bus
	manager *sse.Manager
}

func NewDiagnosticsHandler(bus *event.Bus, manager *sse.Manager) *DiagnosticsHandler {
	return &DiagnosticsHandler{bus: bus, manager: manager}
}

// Diagnostics handles GET /diagnostics.
func (h *DiagnosticsHandler) Diagnostics(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"bus_available":   h.bus.IsAvailable(),
		"listener":        h.bus.Listening(),
		"handlers":        h.bus.HandlerCounts(),
		"sse_connections": h.manager.ConnectionCount(),
	})
}
