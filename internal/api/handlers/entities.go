package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/pkg/utils"
)

// ListEntities returns all registered entities, optionally filtered to one
// config entry via ?entry_id=
func (h *Handlers) ListEntities(c *gin.Context) {
	if entryID := c.Query("entry_id"); entryID != "" {
		utils.SendSuccess(c, h.entities.ByEntry(entryID))
		return
	}
	utils.SendSuccess(c, h.entities.All())
}

// GetEntity returns one entity by ID
func (h *Handlers) GetEntity(c *gin.Context) {
	entity, err := h.entities.Get(c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusNotFound, "Entity not found")
		return
	}
	utils.SendSuccess(c, entity)
}
