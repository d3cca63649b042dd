package flow

import (
	"context"
	"sync"
	"testing"

	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu      sync.Mutex
	entries map[string]*types.ConfigEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]*types.ConfigEntry)}
}

func (s *memoryStore) List(ctx context.Context) ([]*types.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.ConfigEntry, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e)
	}
	return out, nil
}

func (s *memoryStore) Get(ctx context.Context, entryID string) (*types.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[entryID], nil
}

func (s *memoryStore) GetByUniqueID(ctx context.Context, domain, uniqueID string) (*types.ConfigEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Domain == domain && e.UniqueID == uniqueID {
			return e, nil
		}
	}
	return nil, nil
}

func (s *memoryStore) Save(ctx context.Context, entry *types.ConfigEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.EntryID] = entry
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, entryID)
	return nil
}

// recordingLifecycle counts setup and reload calls without doing real work
type recordingLifecycle struct {
	mu      sync.Mutex
	setups  []string
	reloads []string
}

func (l *recordingLifecycle) Setup(ctx context.Context, entry *types.ConfigEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setups = append(l.setups, entry.EntryID)
	return nil
}

func (l *recordingLifecycle) Reload(ctx context.Context, entry *types.ConfigEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reloads = append(l.reloads, entry.EntryID)
	return nil
}

// wizardIntegration is a two-step flow handler: a host step followed by an
// options step
type wizardIntegration struct {
	steps []string
}

func (w *wizardIntegration) Domain() string { return "wizard" }

func (w *wizardIntegration) SetupEntry(ctx context.Context, entry *types.ConfigEntry) (*types.RuntimeHandle, error) {
	return &types.RuntimeHandle{}, nil
}

func (w *wizardIntegration) Steps(source types.FlowSource) []string {
	if source == types.SourceReauth {
		return []string{"reauth"}
	}
	return w.steps
}

func (w *wizardIntegration) Schema(stepID string) types.FormSchema {
	return types.FormSchema{
		Fields: []types.FormField{{Name: "host", Type: "string", Required: true}},
	}
}

func (w *wizardIntegration) Validate(ctx context.Context, stepID string, input map[string]interface{}) (*types.FlowValidation, error) {
	if stepID == "reauth" {
		token, _ := input["token"].(string)
		if token == "" {
			return &types.FlowValidation{Errors: map[string]string{"token": "required"}}, nil
		}
		return &types.FlowValidation{}, nil
	}

	host, _ := input["host"].(string)
	if stepID == "user" && host == "" {
		return &types.FlowValidation{Errors: map[string]string{"host": "required"}}, nil
	}
	return &types.FlowValidation{
		Title:    "Wizard at " + host,
		UniqueID: host,
	}, nil
}

type flowHarness struct {
	manager   *Manager
	store     *memoryStore
	lifecycle *recordingLifecycle
}

func newFlowHarness(t *testing.T, steps ...string) *flowHarness {
	t.Helper()
	if len(steps) == 0 {
		steps = []string{"user"}
	}
	log := logger.NewTest()
	integrations := registry.NewIntegrationRegistry(log)
	require.NoError(t, integrations.Register(&wizardIntegration{steps: steps}))

	store := newMemoryStore()
	lc := &recordingLifecycle{}
	return &flowHarness{
		manager:   NewManager(integrations, store, lc, log),
		store:     store,
		lifecycle: lc,
	}
}

func TestSingleStepFlowCreatesEntry(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	started, err := h.manager.Start(ctx, "wizard", types.SourceUser, "")
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, started.Type)
	assert.Equal(t, "user", started.StepID)
	require.NotNil(t, started.Schema)

	result, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"host": "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeCreateEntry, result.Type)
	require.NotNil(t, result.Entry)
	assert.Equal(t, "Wizard at 10.0.0.2", result.Entry.Title)
	assert.Equal(t, "10.0.0.2", result.Entry.UniqueID)
	assert.Equal(t, "10.0.0.2", result.Entry.Data["host"])

	// Entry persisted, setup attempted, flow gone
	stored, err := h.store.Get(ctx, result.Entry.EntryID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, []string{result.Entry.EntryID}, h.lifecycle.setups)
	assert.Empty(t, h.manager.List())
}

func TestValidationErrorsReshowForm(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	started, err := h.manager.Start(ctx, "wizard", types.SourceUser, "")
	require.NoError(t, err)

	result, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, result.Type)
	assert.Equal(t, map[string]string{"host": "required"}, result.Errors)

	// The flow survives a failed validation and can be completed
	assert.Len(t, h.manager.List(), 1)
	result, err = h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"host": "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeCreateEntry, result.Type)
}

func TestMultiStepFlowCollectsAllInput(t *testing.T) {
	h := newFlowHarness(t, "user", "options")
	ctx := context.Background()

	started, err := h.manager.Start(ctx, "wizard", types.SourceUser, "")
	require.NoError(t, err)

	second, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"host": "10.0.0.2"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, second.Type)
	assert.Equal(t, "options", second.StepID)

	result, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"interval": "30s"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeCreateEntry, result.Type)
	require.NotNil(t, result.Entry)
	assert.Equal(t, "10.0.0.2", result.Entry.Data["host"])
	assert.Equal(t, "30s", result.Entry.Data["interval"])
}

func TestUniqueIDDedupUpdatesExistingEntry(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	existing := types.NewConfigEntry("wizard", "Wizard at 10.0.0.2", map[string]interface{}{"host": "10.0.0.2"}, nil)
	existing.UniqueID = "10.0.0.2"
	require.NoError(t, h.store.Save(ctx, existing))

	started, err := h.manager.Start(ctx, "wizard", types.SourceUser, "")
	require.NoError(t, err)
	result, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"host": "10.0.0.2", "port": float64(8080)})
	require.NoError(t, err)

	// No duplicate entry; the existing one absorbs the new data and reloads
	assert.Equal(t, ResultTypeAbort, result.Type)
	assert.Equal(t, AbortAlreadyConfigured, result.Reason)
	entries, err := h.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.Equal(t, float64(8080), existing.Data["port"])
	assert.Equal(t, []string{existing.EntryID}, h.lifecycle.reloads)
	assert.Empty(t, h.lifecycle.setups)
}

func TestStartReauthDeduplicatesPerEntry(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	entry := types.NewConfigEntry("wizard", "Wizard", map[string]interface{}{"token": "old"}, nil)
	require.NoError(t, h.store.Save(ctx, entry))

	first, err := h.manager.StartReauth(ctx, entry)
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, first.Type)

	_, err = h.manager.StartReauth(ctx, entry)
	assert.Error(t, err)
}

func TestReauthFlowReplacesCredentialsAndReloads(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	entry := types.NewConfigEntry("wizard", "Wizard", map[string]interface{}{"host": "10.0.0.2", "token": "old"}, nil)
	require.NoError(t, h.store.Save(ctx, entry))

	started, err := h.manager.StartReauth(ctx, entry)
	require.NoError(t, err)

	result, err := h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"token": "new"})
	require.NoError(t, err)
	assert.Equal(t, ResultTypeAbort, result.Type)
	assert.Equal(t, AbortReauthSuccessful, result.Reason)

	// Credentials replaced in place; other data untouched; entry reloaded
	assert.Equal(t, "new", entry.Data["token"])
	assert.Equal(t, "10.0.0.2", entry.Data["host"])
	assert.Equal(t, []string{entry.EntryID}, h.lifecycle.reloads)
	assert.Empty(t, h.manager.List())
}

func TestStartDiscoveryIgnoresKnownDevices(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	existing := types.NewConfigEntry("wizard", "Wizard", nil, nil)
	existing.UniqueID = "device-1"
	require.NoError(t, h.store.Save(ctx, existing))

	result, err := h.manager.StartDiscovery(ctx, "wizard", "device-1")
	require.NoError(t, err)
	assert.Equal(t, ResultTypeAbort, result.Type)
	assert.Equal(t, AbortAlreadyConfigured, result.Reason)

	// A new device starts a flow once; the second sighting is ignored
	first, err := h.manager.StartDiscovery(ctx, "wizard", "device-2")
	require.NoError(t, err)
	assert.Equal(t, ResultTypeForm, first.Type)

	second, err := h.manager.StartDiscovery(ctx, "wizard", "device-2")
	require.NoError(t, err)
	assert.Equal(t, ResultTypeAbort, second.Type)
	assert.Equal(t, "already_in_progress", second.Reason)
}

func TestAbortDiscardsFlow(t *testing.T) {
	h := newFlowHarness(t)
	ctx := context.Background()

	started, err := h.manager.Start(ctx, "wizard", types.SourceUser, "")
	require.NoError(t, err)

	require.NoError(t, h.manager.Abort(started.FlowID))
	assert.Empty(t, h.manager.List())
	assert.Error(t, h.manager.Abort(started.FlowID))

	_, err = h.manager.Advance(ctx, started.FlowID, map[string]interface{}{"host": "x"})
	assert.Error(t, err)
}

func TestStartUnknownDomainFails(t *testing.T) {
	h := newFlowHarness(t)
	_, err := h.manager.Start(context.Background(), "nosuch", types.SourceUser, "")
	assert.Error(t, err)
}
