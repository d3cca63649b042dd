package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumenhub/lumen-backend-go/internal/core/coordinator"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// EntityUpdateFunc folds one coordinator snapshot into one entity's state.
// It runs inside the coordinator's notification pass, under the entity
// registry lock, and must not block.
type EntityUpdateFunc func(entity *types.Entity, snap coordinator.Snapshot)

// AddEntityFunc is handed to integrations during platform setup. It
// registers the entity and, when a coordinator is given, subscribes the
// entity to it; the subscription is cancelled automatically on unload.
type AddEntityFunc func(entity *types.Entity, coord *coordinator.UpdateCoordinator, update EntityUpdateFunc) error

// Provider is implemented by integrations that expose entity platforms
type Provider interface {
	SetupPlatform(ctx context.Context, entry *types.ConfigEntry, platform string, add AddEntityFunc) error
}

// EventSink receives entity and coordinator events for fan-out to
// front-end clients
type EventSink interface {
	EntityUpdated(entity *types.Entity)
	CoordinatorHealth(entryID, domain string, degraded bool, errMessage string)
}

// Registrar implements the platform-forwarding contract: the lifecycle
// manager hands it (entry, platform) pairs and it drives the owning
// integration's platform setup, tracking every subscription so unload can
// guarantee a clean slate.
type Registrar struct {
	integrations *registry.IntegrationRegistry
	entities     *registry.EntityRegistry
	events       EventSink
	logger       *logrus.Logger

	mutex     sync.Mutex
	disposers map[string]map[string][]func()
	degraded  map[string]bool
}

// NewRegistrar creates a platform registrar
func NewRegistrar(integrations *registry.IntegrationRegistry, entities *registry.EntityRegistry, events EventSink, logger *logrus.Logger) *Registrar {
	return &Registrar{
		integrations: integrations,
		entities:     entities,
		events:       events,
		logger:       logger,
		disposers:    make(map[string]map[string][]func()),
		degraded:     make(map[string]bool),
	}
}

// Forward sets up one entity platform for an entry. It is awaited by the
// lifecycle manager; a platform that fails to set up fails the entry.
func (r *Registrar) Forward(ctx context.Context, entry *types.ConfigEntry, platform string) error {
	integration, err := r.integrations.Get(entry.Domain)
	if err != nil {
		return err
	}

	provider, ok := integration.(Provider)
	if !ok {
		return fmt.Errorf("integration %s declares platform %s but provides no platform setup", entry.Domain, platform)
	}

	add := r.adderFor(entry, platform)
	if err := provider.SetupPlatform(ctx, entry, platform, add); err != nil {
		// Roll back whatever the partial setup subscribed
		r.Unload(ctx, entry, platform)
		return fmt.Errorf("platform %s setup failed for %s: %w", platform, entry.EntryID, err)
	}

	r.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
		"platform": platform,
	}).Debug("Platform set up")
	return nil
}

// Unload tears down one entity platform, cancelling all subscriptions it
// registered. Returns true on success per the forwarding contract.
func (r *Registrar) Unload(ctx context.Context, entry *types.ConfigEntry, platform string) bool {
	r.mutex.Lock()
	var cancels []func()
	if platforms := r.disposers[entry.EntryID]; platforms != nil {
		cancels = platforms[platform]
		delete(platforms, platform)
		if len(platforms) == 0 {
			delete(r.disposers, entry.EntryID)
			delete(r.degraded, entry.EntryID)
		}
	}
	r.mutex.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	return true
}

// SubscriptionCount returns the number of live subscriptions for an entry,
// across all platforms
func (r *Registrar) SubscriptionCount(entryID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	count := 0
	for _, cancels := range r.disposers[entryID] {
		count += len(cancels)
	}
	return count
}

// adderFor builds the AddEntityFunc closure for one (entry, platform)
func (r *Registrar) adderFor(entry *types.ConfigEntry, platform string) AddEntityFunc {
	return func(entity *types.Entity, coord *coordinator.UpdateCoordinator, update EntityUpdateFunc) error {
		if entity.EntryID == "" {
			entity.EntryID = entry.EntryID
		}
		if err := r.entities.Register(entity); err != nil {
			return err
		}

		if coord == nil {
			return nil
		}

		entityID := entity.ID
		cancel := coord.AddListener(func(snap coordinator.Snapshot) {
			updated := r.entities.Apply(entityID, func(e *types.Entity) {
				if snap.Degraded {
					// Keep the last known value, flag unavailability
					e.MarkUnavailable()
				} else if update != nil {
					update(e, snap)
				}
			})
			if updated != nil && r.events != nil {
				r.events.EntityUpdated(updated)
			}
			r.observeHealth(entry, snap)
		})

		r.mutex.Lock()
		if r.disposers[entry.EntryID] == nil {
			r.disposers[entry.EntryID] = make(map[string][]func())
		}
		r.disposers[entry.EntryID][platform] = append(r.disposers[entry.EntryID][platform], cancel)
		r.mutex.Unlock()

		return nil
	}
}

// observeHealth emits degraded/recovered events on transitions only, so a
// flapping coordinator does not flood clients
func (r *Registrar) observeHealth(entry *types.ConfigEntry, snap coordinator.Snapshot) {
	r.mutex.Lock()
	was := r.degraded[entry.EntryID]
	r.degraded[entry.EntryID] = snap.Degraded
	r.mutex.Unlock()

	if was == snap.Degraded || r.events == nil {
		return
	}

	errMessage := ""
	if snap.Err != nil {
		errMessage = snap.Err.Error()
	}
	r.events.CoordinatorHealth(entry.EntryID, entry.Domain, snap.Degraded, errMessage)
}
