package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// EntityRegistry holds all entities in the unified model, indexed by entity
// ID and by owning config entry. Removing an entry's entities on unload is
// what keeps a reloaded entry from accumulating stale observers.
//
// The registry owns the live entity structs: Get, All and ByEntry return
// detached copies, and every mutation after registration goes through Apply,
// so readers never share state with the coordinator notification pass.
type EntityRegistry struct {
	entities map[string]*types.Entity
	byEntry  map[string]map[string]bool
	logger   *logrus.Logger
	mutex    sync.RWMutex
}

// NewEntityRegistry creates an empty entity registry
func NewEntityRegistry(logger *logrus.Logger) *EntityRegistry {
	return &EntityRegistry{
		entities: make(map[string]*types.Entity),
		byEntry:  make(map[string]map[string]bool),
		logger:   logger,
	}
}

// Register adds or replaces an entity
func (r *EntityRegistry) Register(entity *types.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity ID is required")
	}
	if entity.EntryID == "" {
		return fmt.Errorf("entity %s has no owning entry", entity.ID)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entities[entity.ID] = entity.Copy()
	if r.byEntry[entity.EntryID] == nil {
		r.byEntry[entity.EntryID] = make(map[string]bool)
	}
	r.byEntry[entity.EntryID][entity.ID] = true

	r.logger.WithFields(logrus.Fields{
		"entity_id": entity.ID,
		"entry_id":  entity.EntryID,
		"type":      entity.Type,
	}).Debug("Registered entity")

	return nil
}

// Apply mutates one entity under the registry lock and returns a copy of
// the result, or nil if the entity is not registered. It is the only way to
// change a registered entity's state.
func (r *EntityRegistry) Apply(entityID string, fn func(entity *types.Entity)) *types.Entity {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	entity, exists := r.entities[entityID]
	if !exists {
		return nil
	}
	fn(entity)
	return entity.Copy()
}

// Get returns a copy of an entity by ID
func (r *EntityRegistry) Get(entityID string) (*types.Entity, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entity, exists := r.entities[entityID]
	if !exists {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return entity.Copy(), nil
}

// All returns copies of all entities sorted by ID
func (r *EntityRegistry) All() []*types.Entity {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	entities := make([]*types.Entity, 0, len(r.entities))
	for _, entity := range r.entities {
		entities = append(entities, entity.Copy())
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

// ByEntry returns copies of the entities owned by one config entry
func (r *EntityRegistry) ByEntry(entryID string) []*types.Entity {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ids := r.byEntry[entryID]
	entities := make([]*types.Entity, 0, len(ids))
	for id := range ids {
		entities = append(entities, r.entities[id].Copy())
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	return entities
}

// RemoveEntry removes all entities owned by a config entry and returns how
// many were removed
func (r *EntityRegistry) RemoveEntry(entryID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ids := r.byEntry[entryID]
	for id := range ids {
		delete(r.entities, id)
	}
	delete(r.byEntry, entryID)

	if len(ids) > 0 {
		r.logger.WithFields(logrus.Fields{
			"entry_id": entryID,
			"removed":  len(ids),
		}).Debug("Removed entities for entry")
	}
	return len(ids)
}

// Count returns the total number of registered entities
func (r *EntityRegistry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.entities)
}
