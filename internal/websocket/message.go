package websocket

import (
	"encoding/json"
	"time"
)

// Message types pushed to front-end clients
const (
	MessageTypeEntityUpdated        = "entity_updated"
	MessageTypeEntryStateChanged    = "entry_state_changed"
	MessageTypeCoordinatorDegraded  = "coordinator_degraded"
	MessageTypeCoordinatorRecovered = "coordinator_recovered"
	MessageTypeSystemStatus         = "system_status"
)

// Message represents a WebSocket message
type Message struct {
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// ToJSON converts the message to JSON bytes
func (m Message) ToJSON() []byte {
	m.Timestamp = time.Now().UTC()
	data, _ := json.Marshal(m)
	return data
}

// EntityUpdatedMessage creates a message for an entity state change
func EntityUpdatedMessage(entityID string, state interface{}, available bool, attributes map[string]interface{}) Message {
	return Message{
		Type: MessageTypeEntityUpdated,
		Data: map[string]interface{}{
			"entity_id":  entityID,
			"state":      state,
			"available":  available,
			"attributes": attributes,
		},
	}
}

// EntryStateChangedMessage creates a message for a config entry lifecycle
// transition
func EntryStateChangedMessage(entryID, domain, state, reason string) Message {
	return Message{
		Type: MessageTypeEntryStateChanged,
		Data: map[string]interface{}{
			"entry_id": entryID,
			"domain":   domain,
			"state":    state,
			"reason":   reason,
		},
	}
}

// CoordinatorHealthMessage creates a degraded or recovered message for one
// entry's coordinator
func CoordinatorHealthMessage(entryID, domain string, degraded bool, errMessage string) Message {
	msgType := MessageTypeCoordinatorRecovered
	if degraded {
		msgType = MessageTypeCoordinatorDegraded
	}
	return Message{
		Type: msgType,
		Data: map[string]interface{}{
			"entry_id": entryID,
			"domain":   domain,
			"error":    errMessage,
		},
	}
}

// SystemStatusMessage creates a message for system status updates
func SystemStatusMessage(status string, details map[string]interface{}) Message {
	return Message{
		Type: MessageTypeSystemStatus,
		Data: map[string]interface{}{
			"status":  status,
			"details": details,
		},
	}
}
