package platform

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/core/coordinator"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	updates []string
	health  []string
}

func (s *recordingSink) EntityUpdated(entity *types.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, entity.ID)
}

func (s *recordingSink) CoordinatorHealth(entryID, domain string, degraded bool, errMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if degraded {
		s.health = append(s.health, "degraded")
	} else {
		s.health = append(s.health, "recovered")
	}
}

func (s *recordingSink) healthEvents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.health))
	copy(out, s.health)
	return out
}

func (s *recordingSink) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.updates)
}

// probeIntegration exposes two sensors bound to one coordinator
type probeIntegration struct {
	coord    *coordinator.UpdateCoordinator
	setupErr error
}

func (p *probeIntegration) Domain() string { return "probe" }

func (p *probeIntegration) SetupEntry(ctx context.Context, entry *types.ConfigEntry) (*types.RuntimeHandle, error) {
	return &types.RuntimeHandle{Coordinator: p.coord, Platforms: []string{"sensor"}}, nil
}

func (p *probeIntegration) SetupPlatform(ctx context.Context, entry *types.ConfigEntry, platform string, add AddEntityFunc) error {
	for _, key := range []string{"temp", "humidity"} {
		key := key
		entity := &types.Entity{
			ID:   fmt.Sprintf("probe_%s_%s", key, entry.EntryID),
			Type: types.EntityTypeSensor,
		}
		update := func(e *types.Entity, snap coordinator.Snapshot) {
			if values, ok := snap.Data.(map[string]interface{}); ok {
				e.SetState(values[key], nil)
			}
		}
		if err := add(entity, p.coord, update); err != nil {
			return err
		}
	}
	return p.setupErr
}

type registrarHarness struct {
	registrar   *Registrar
	entities    *registry.EntityRegistry
	sink        *recordingSink
	integration *probeIntegration
	entry       *types.ConfigEntry
}

func newRegistrarHarness(t *testing.T, fetch types.FetchFunc) *registrarHarness {
	t.Helper()
	log := logger.NewTest()

	coord := coordinator.New(coordinator.Options{
		Domain:           "probe",
		EntryID:          "entry-1",
		Fetch:            fetch,
		FetchTimeout:     time.Second,
		FailureThreshold: 3,
	}, log)

	integration := &probeIntegration{coord: coord}
	integrations := registry.NewIntegrationRegistry(log)
	require.NoError(t, integrations.Register(integration))

	entities := registry.NewEntityRegistry(log)
	sink := &recordingSink{}

	entry := types.NewConfigEntry("probe", "Probe", nil, nil)
	entry.EntryID = "entry-1"

	return &registrarHarness{
		registrar:   NewRegistrar(integrations, entities, sink, log),
		entities:    entities,
		sink:        sink,
		integration: integration,
		entry:       entry,
	}
}

func TestForwardRegistersAndSubscribesEntities(t *testing.T) {
	h := newRegistrarHarness(t, func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"temp": 21.5, "humidity": 40.0}, nil
	})

	require.NoError(t, h.registrar.Forward(context.Background(), h.entry, "sensor"))
	assert.Equal(t, 2, h.registrar.SubscriptionCount("entry-1"))
	assert.Equal(t, 2, h.entities.Count())

	require.NoError(t, h.integration.coord.RefreshOnce(context.Background()))

	temp, err := h.entities.Get("probe_temp_entry-1")
	require.NoError(t, err)
	assert.Equal(t, 21.5, temp.State)
	assert.True(t, temp.Available)

	humidity, err := h.entities.Get("probe_humidity_entry-1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, humidity.State)

	assert.Equal(t, 2, h.sink.updateCount())
}

func TestUnloadCancelsAllSubscriptions(t *testing.T) {
	h := newRegistrarHarness(t, func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{"temp": 21.5, "humidity": 40.0}, nil
	})

	require.NoError(t, h.registrar.Forward(context.Background(), h.entry, "sensor"))
	assert.True(t, h.registrar.Unload(context.Background(), h.entry, "sensor"))
	assert.Zero(t, h.registrar.SubscriptionCount("entry-1"))
	assert.Zero(t, h.integration.coord.ListenerCount())

	// A cycle after unload reaches nobody
	require.NoError(t, h.integration.coord.RefreshOnce(context.Background()))
	assert.Zero(t, h.sink.updateCount())
}

func TestDegradedCyclesMarkEntitiesUnavailable(t *testing.T) {
	var fail atomic.Bool
	h := newRegistrarHarness(t, func(ctx context.Context) (interface{}, error) {
		if fail.Load() {
			return nil, types.NewConnectivityError("device unreachable", nil)
		}
		return map[string]interface{}{"temp": 21.5, "humidity": 40.0}, nil
	})

	require.NoError(t, h.registrar.Forward(context.Background(), h.entry, "sensor"))
	require.NoError(t, h.integration.coord.RefreshOnce(context.Background()))

	// Two failing cycles: entities keep the stale value but go unavailable,
	// and exactly one degraded event is emitted
	fail.Store(true)
	require.Error(t, h.integration.coord.RefreshOnce(context.Background()))
	require.Error(t, h.integration.coord.RefreshOnce(context.Background()))

	temp, err := h.entities.Get("probe_temp_entry-1")
	require.NoError(t, err)
	assert.False(t, temp.Available)
	assert.Equal(t, 21.5, temp.State)
	assert.Equal(t, []string{"degraded"}, h.sink.healthEvents())

	// Recovery flips availability back and emits exactly one recovered event
	fail.Store(false)
	require.NoError(t, h.integration.coord.RefreshOnce(context.Background()))

	temp, err = h.entities.Get("probe_temp_entry-1")
	require.NoError(t, err)
	assert.True(t, temp.Available)
	assert.Equal(t, []string{"degraded", "recovered"}, h.sink.healthEvents())
}

func TestForwardFailureRollsBackSubscriptions(t *testing.T) {
	h := newRegistrarHarness(t, func(ctx context.Context) (interface{}, error) {
		return map[string]interface{}{}, nil
	})
	h.integration.setupErr = fmt.Errorf("driver init failed")

	require.Error(t, h.registrar.Forward(context.Background(), h.entry, "sensor"))
	assert.Zero(t, h.registrar.SubscriptionCount("entry-1"))
	assert.Zero(t, h.integration.coord.ListenerCount())
}

type flatIntegration struct{}

func (flatIntegration) Domain() string { return "flat" }
func (flatIntegration) SetupEntry(ctx context.Context, entry *types.ConfigEntry) (*types.RuntimeHandle, error) {
	return &types.RuntimeHandle{}, nil
}

func TestForwardRejectsIntegrationWithoutPlatformSupport(t *testing.T) {
	log := logger.NewTest()
	integrations := registry.NewIntegrationRegistry(log)
	require.NoError(t, integrations.Register(flatIntegration{}))

	registrar := NewRegistrar(integrations, registry.NewEntityRegistry(log), nil, log)
	entry := types.NewConfigEntry("flat", "Flat", nil, nil)
	assert.Error(t, registrar.Forward(context.Background(), entry, "sensor"))
}
