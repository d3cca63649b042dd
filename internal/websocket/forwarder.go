package websocket

import (
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// EventForwarder bridges core events onto the WebSocket hub so front-ends
// can react to entity and entry changes without polling
type EventForwarder struct {
	hub    *Hub
	logger *logrus.Logger
}

// NewEventForwarder creates an EventForwarder
func NewEventForwarder(hub *Hub, logger *logrus.Logger) *EventForwarder {
	return &EventForwarder{hub: hub, logger: logger}
}

// EntityUpdated pushes an entity's latest snapshot to all clients
func (f *EventForwarder) EntityUpdated(entity *types.Entity) {
	f.hub.BroadcastToAll(EntityUpdatedMessage(entity.ID, entity.State, entity.Available, entity.Attributes))
}

// CoordinatorHealth pushes a degraded or recovered transition for one
// entry's coordinator
func (f *EventForwarder) CoordinatorHealth(entryID, domain string, degraded bool, errMessage string) {
	f.hub.BroadcastToAll(CoordinatorHealthMessage(entryID, domain, degraded, errMessage))

	entry := f.logger.WithFields(logrus.Fields{
		"entry_id": entryID,
		"domain":   domain,
	})
	if degraded {
		entry.WithField("error", errMessage).Warn("Coordinator degraded")
	} else {
		entry.Info("Coordinator recovered")
	}
}

// EntryStateChanged pushes a config entry lifecycle transition
func (f *EventForwarder) EntryStateChanged(entry *types.ConfigEntry) {
	f.hub.BroadcastToAll(EntryStateChangedMessage(entry.EntryID, entry.Domain, string(entry.State), entry.Reason))
}
