package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/pkg/utils"
)

type startFlowRequest struct {
	Domain string `json:"domain" binding:"required"`
	Source string `json:"source"`
}

// StartFlow begins a config flow for an integration domain
func (h *Handlers) StartFlow(c *gin.Context) {
	var req startFlowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid flow request")
		return
	}

	source := types.FlowSource(req.Source)
	if source == "" {
		source = types.SourceUser
	}

	result, err := h.flows.Start(c.Request.Context(), req.Domain, source, "")
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}
	utils.SendCreated(c, result)
}

// AdvanceFlow submits one step's form input
func (h *Handlers) AdvanceFlow(c *gin.Context) {
	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid flow input")
		return
	}

	result, err := h.flows.Advance(c.Request.Context(), c.Param("id"), input)
	if err != nil {
		utils.SendError(c, http.StatusNotFound, err.Error())
		return
	}
	utils.SendSuccess(c, result)
}

// ListFlows returns all in-progress flows
func (h *Handlers) ListFlows(c *gin.Context) {
	utils.SendSuccess(c, h.flows.List())
}

// GetFlow returns one in-progress flow
func (h *Handlers) GetFlow(c *gin.Context) {
	f, err := h.flows.Get(c.Param("id"))
	if err != nil {
		utils.SendError(c, http.StatusNotFound, "Flow not found")
		return
	}
	utils.SendSuccess(c, f)
}

// AbortFlow cancels an in-progress flow
func (h *Handlers) AbortFlow(c *gin.Context) {
	if err := h.flows.Abort(c.Param("id")); err != nil {
		utils.SendError(c, http.StatusNotFound, "Flow not found")
		return
	}
	utils.SendSuccess(c, gin.H{"aborted": c.Param("id")})
}
