package types

import (
	"time"
)

// EntityType classifies an entity in the unified model
type EntityType string

const (
	EntityTypeSensor       EntityType = "sensor"
	EntityTypeBinarySensor EntityType = "binary_sensor"
	EntityTypeSwitch       EntityType = "switch"
	EntityTypeLight        EntityType = "light"
	EntityTypeGeneric      EntityType = "generic"
)

// Entity is a single exposed data point in the unified model. Entities are
// owned by exactly one config entry and observe that entry's coordinator;
// they never poll on their own.
type Entity struct {
	ID           string                 `json:"id"`
	EntryID      string                 `json:"entry_id"`
	Type         EntityType             `json:"type"`
	FriendlyName string                 `json:"friendly_name"`
	State        interface{}            `json:"state"`
	Attributes   map[string]interface{} `json:"attributes,omitempty"`
	Unit         string                 `json:"unit,omitempty"`
	Available    bool                   `json:"available"`
	LastUpdated  time.Time              `json:"last_updated"`
}

// Copy returns a detached copy of the entity. The attributes map is copied
// too, so callers can hold the result while the live entity keeps changing.
func (e *Entity) Copy() *Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	return &c
}

// MarkUnavailable flags the entity as degraded while keeping its last
// known state
func (e *Entity) MarkUnavailable() {
	e.Available = false
	e.LastUpdated = time.Now().UTC()
}

// SetState replaces the entity state snapshot and marks it available
func (e *Entity) SetState(state interface{}, attributes map[string]interface{}) {
	e.State = state
	if attributes != nil {
		e.Attributes = attributes
	}
	e.Available = true
	e.LastUpdated = time.Now().UTC()
}
