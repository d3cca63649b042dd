package handlers

import (
	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/core/flow"
	"github.com/lumenhub/lumen-backend-go/internal/core/lifecycle"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/internal/websocket"
	"github.com/sirupsen/logrus"
)

// Handlers holds the dependencies the HTTP handlers share
type Handlers struct {
	cfg          *config.Config
	logger       *logrus.Logger
	store        types.EntryStore
	lifecycle    *lifecycle.Manager
	flows        *flow.Manager
	entities     *registry.EntityRegistry
	integrations *registry.IntegrationRegistry
	hub          *websocket.Hub
}

// NewHandlers creates the handler set
func NewHandlers(
	cfg *config.Config,
	logger *logrus.Logger,
	store types.EntryStore,
	lc *lifecycle.Manager,
	flows *flow.Manager,
	entities *registry.EntityRegistry,
	integrations *registry.IntegrationRegistry,
	hub *websocket.Hub,
) *Handlers {
	return &Handlers{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		lifecycle:    lc,
		flows:        flows,
		entities:     entities,
		integrations: integrations,
		hub:          hub,
	}
}
