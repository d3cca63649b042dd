package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/pkg/utils"
)

// Health reports service liveness plus a summary of loaded entries and
// their coordinator health
func (h *Handlers) Health(c *gin.Context) {
	loaded := h.lifecycle.LoadedEntryIDs()
	degraded := 0
	for _, entryID := range loaded {
		if coord := h.lifecycle.Coordinator(entryID); coord != nil && !coord.Healthy() {
			degraded++
		}
	}

	utils.SendSuccess(c, gin.H{
		"status":                "healthy",
		"loaded_entries":        len(loaded),
		"degraded_coordinators": degraded,
		"entities":              h.entities.Count(),
		"websocket_clients":     h.hub.GetClientCount(),
		"integrations":          h.integrations.Domains(),
	})
}
