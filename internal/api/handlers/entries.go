package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/pkg/utils"
)

type createEntryRequest struct {
	Domain   string                 `json:"domain" binding:"required"`
	Title    string                 `json:"title" binding:"required"`
	Data     map[string]interface{} `json:"data"`
	Options  map[string]interface{} `json:"options"`
	UniqueID string                 `json:"unique_id"`
}

// CreateEntry creates a config entry directly from a complete payload,
// bypassing the flow wizard. Interactive setup goes through flows; this is
// the programmatic import path.
func (h *Handlers) CreateEntry(c *gin.Context) {
	var req createEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid entry payload")
		return
	}

	if _, err := h.integrations.Get(req.Domain); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Unknown domain "+req.Domain)
		return
	}

	if req.UniqueID != "" {
		existing, err := h.store.GetByUniqueID(c.Request.Context(), req.Domain, req.UniqueID)
		if err != nil {
			utils.SendError(c, http.StatusInternalServerError, "Failed to check for existing entry")
			return
		}
		if existing != nil {
			utils.SendErrorWithDetails(c, http.StatusConflict, "Entry already configured", gin.H{
				"entry_id": existing.EntryID,
			})
			return
		}
	}

	entry := types.NewConfigEntry(req.Domain, req.Title, req.Data, req.Options)
	entry.UniqueID = req.UniqueID
	entry.Source = types.SourceImport
	if err := h.store.Save(c.Request.Context(), entry); err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to persist entry")
		return
	}

	// Setup failures schedule their own retries; the entry is created
	// either way
	if err := h.lifecycle.Setup(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Imported entry setup failed")
	}
	utils.SendCreated(c, entry)
}

// ListEntries returns every config entry
func (h *Handlers) ListEntries(c *gin.Context) {
	entries, err := h.store.List(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to list config entries")
		utils.SendError(c, http.StatusInternalServerError, "Failed to list entries")
		return
	}
	utils.SendSuccess(c, entries)
}

// GetEntry returns one config entry by ID
func (h *Handlers) GetEntry(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to load entry")
		return
	}
	if entry == nil {
		utils.SendError(c, http.StatusNotFound, "Entry not found")
		return
	}
	utils.SendSuccess(c, entry)
}

// ReloadEntry tears the entry down and sets it up again
func (h *Handlers) ReloadEntry(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to load entry")
		return
	}
	if entry == nil {
		utils.SendError(c, http.StatusNotFound, "Entry not found")
		return
	}

	if err := h.lifecycle.Reload(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Entry reload failed")
		utils.SendErrorWithDetails(c, http.StatusConflict, "Reload failed", gin.H{
			"state":  entry.State,
			"reason": entry.Reason,
		})
		return
	}
	utils.SendSuccess(c, entry)
}

// DeleteEntry unloads the entry and removes it permanently
func (h *Handlers) DeleteEntry(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to load entry")
		return
	}
	if entry == nil {
		utils.SendError(c, http.StatusNotFound, "Entry not found")
		return
	}

	if err := h.lifecycle.Remove(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("entry_id", entry.EntryID).Error("Entry removal failed")
		utils.SendError(c, http.StatusConflict, "Removal failed: "+err.Error())
		return
	}
	utils.SendSuccess(c, gin.H{"removed": entry.EntryID})
}

// UpdateOptions replaces the entry's runtime options and reloads it so the
// new options take effect
func (h *Handlers) UpdateOptions(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to load entry")
		return
	}
	if entry == nil {
		utils.SendError(c, http.StatusNotFound, "Entry not found")
		return
	}

	var options map[string]interface{}
	if err := c.ShouldBindJSON(&options); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid options payload")
		return
	}

	entry.Options = options
	if err := h.store.Save(c.Request.Context(), entry); err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to persist options")
		return
	}

	if err := h.lifecycle.Reload(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Reload after options update failed")
	}
	utils.SendSuccess(c, entry)
}

// GetDiagnostics returns a redacted view of the entry plus its
// coordinator's current state, suitable for sharing in bug reports
func (h *Handlers) GetDiagnostics(c *gin.Context) {
	entry, err := h.store.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusInternalServerError, "Failed to load entry")
		return
	}
	if entry == nil {
		utils.SendError(c, http.StatusNotFound, "Entry not found")
		return
	}

	diag := gin.H{
		"entry":    entry.Redacted(),
		"entities": h.entities.ByEntry(entry.EntryID),
	}

	if coord := h.lifecycle.Coordinator(entry.EntryID); coord != nil {
		snap := coord.Snapshot()
		coordInfo := gin.H{
			"healthy":    coord.Healthy(),
			"degraded":   snap.Degraded,
			"has_data":   snap.HasData,
			"generation": snap.Generation,
			"updated_at": snap.UpdatedAt,
			"listeners":  coord.ListenerCount(),
		}
		if snap.Err != nil {
			coordInfo["last_error"] = snap.Err.Error()
		}
		diag["coordinator"] = coordInfo
	}

	utils.SendSuccess(c, diag)
}
