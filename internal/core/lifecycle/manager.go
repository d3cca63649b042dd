package lifecycle

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/core/coordinator"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Manager drives the setup -> (reload) -> unload lifecycle of config
// entries. It is the only component that mutates entry state, and the only
// one that turns a fetch error into a visible state transition.
type Manager struct {
	integrations *registry.IntegrationRegistry
	entities     *registry.EntityRegistry
	store        types.EntryStore
	platforms    types.PlatformRegistrar
	cfg          config.CoordinatorConfig
	logger       *logrus.Logger

	mutex       sync.Mutex
	entryLocks  map[string]*sync.Mutex
	runtimes    map[string]*entryRuntime
	retryTimers map[string]*time.Timer
	tries       map[string]int
	reauthSent  map[string]bool

	onStateChange func(entry *types.ConfigEntry)
	onReauth      func(entry *types.ConfigEntry)
}

// entryRuntime is the live per-entry state held while an entry is loaded
type entryRuntime struct {
	handle    *types.RuntimeHandle
	listeners []func()
}

// NewManager creates a lifecycle manager. Registries and the store are
// passed in explicitly; the manager keeps no global state.
func NewManager(
	integrations *registry.IntegrationRegistry,
	entities *registry.EntityRegistry,
	store types.EntryStore,
	platforms types.PlatformRegistrar,
	cfg config.CoordinatorConfig,
	logger *logrus.Logger,
) *Manager {
	return &Manager{
		integrations: integrations,
		entities:     entities,
		store:        store,
		platforms:    platforms,
		cfg:          cfg,
		logger:       logger,
		entryLocks:   make(map[string]*sync.Mutex),
		runtimes:     make(map[string]*entryRuntime),
		retryTimers:  make(map[string]*time.Timer),
		tries:        make(map[string]int),
		reauthSent:   make(map[string]bool),
	}
}

// SetStateListener registers the callback invoked after every entry state
// transition. Used by the websocket layer to push entry_state_changed.
func (m *Manager) SetStateListener(fn func(entry *types.ConfigEntry)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onStateChange = fn
}

// SetReauthHandler registers the callback that starts a reauth flow when an
// entry's credentials are rejected
func (m *Manager) SetReauthHandler(fn func(entry *types.ConfigEntry)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.onReauth = fn
}

// lockFor returns the per-entry mutex, creating it on first use. The
// per-entry lock is what makes Reload atomic with respect to concurrent
// reload requests.
func (m *Manager) lockFor(entryID string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	lock, exists := m.entryLocks[entryID]
	if !exists {
		lock = &sync.Mutex{}
		m.entryLocks[entryID] = lock
	}
	return lock
}

// Setup loads a config entry: resolves its integration, constructs the
// runtime, validates connectivity with a first refresh, forwards entity
// platforms, and starts the polling loop. Connectivity failures schedule a
// retry; auth failures park the entry in setup_error and request reauth.
func (m *Manager) Setup(ctx context.Context, entry *types.ConfigEntry) error {
	lock := m.lockFor(entry.EntryID)
	lock.Lock()
	defer lock.Unlock()
	return m.setupLocked(ctx, entry)
}

func (m *Manager) setupLocked(ctx context.Context, entry *types.ConfigEntry) error {
	if entry.State == types.EntryStateLoaded {
		return fmt.Errorf("entry %s is already loaded", entry.EntryID)
	}
	if entry.State == types.EntryStateLoading || entry.State == types.EntryStateUnloading {
		return fmt.Errorf("entry %s has an operation in progress", entry.EntryID)
	}
	if entry.State == types.EntryStateFailedUnload {
		return fmt.Errorf("entry %s failed to unload and needs intervention", entry.EntryID)
	}

	log := m.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	})

	integration, err := m.integrations.Get(entry.Domain)
	if err != nil {
		m.setState(ctx, entry, types.EntryStateSetupError, err.Error())
		return err
	}

	m.setState(ctx, entry, types.EntryStateLoading, "")

	handle, err := integration.SetupEntry(ctx, entry)
	if err != nil {
		return m.handleSetupFailure(ctx, entry, err)
	}

	// First refresh validates connectivity before the entry is marked
	// loaded. An auth failure here must never leave the entry loaded.
	if handle.Coordinator != nil {
		if err := handle.Coordinator.RefreshOnce(ctx); err != nil {
			m.closeHandle(ctx, handle)
			return m.handleSetupFailure(ctx, entry, err)
		}
	}

	runtime := &entryRuntime{handle: handle}

	// Watch steady-state fetches for credential rejections. Transient
	// failures stay inside the coordinator; auth failures escalate here.
	if uc, ok := handle.Coordinator.(*coordinator.UpdateCoordinator); ok {
		cancel := uc.AddListener(func(snap coordinator.Snapshot) {
			if snap.Err != nil && types.IsAuthError(snap.Err) {
				m.requestReauth(entry)
			}
		})
		runtime.listeners = append(runtime.listeners, cancel)
	}

	// Platform setup is awaited, not detached; a platform that fails to
	// set up fails the entry
	for _, platform := range handle.Platforms {
		if err := m.platforms.Forward(ctx, entry, platform); err != nil {
			m.teardownRuntime(ctx, entry, runtime)
			return m.handleSetupFailure(ctx, entry,
				types.NewUnexpectedError(fmt.Sprintf("platform %s setup failed", platform), err))
		}
	}

	if handle.Coordinator != nil {
		if err := handle.Coordinator.Start(m.intervalFor(entry)); err != nil {
			m.teardownRuntime(ctx, entry, runtime)
			m.setState(ctx, entry, types.EntryStateSetupError, err.Error())
			return err
		}
	}

	m.mutex.Lock()
	m.runtimes[entry.EntryID] = runtime
	m.tries[entry.EntryID] = 0
	m.reauthSent[entry.EntryID] = false
	m.mutex.Unlock()

	m.setState(ctx, entry, types.EntryStateLoaded, "")
	log.Info("Config entry loaded")
	return nil
}

// handleSetupFailure maps a setup-time error onto the entry state machine
func (m *Manager) handleSetupFailure(ctx context.Context, entry *types.ConfigEntry, err error) error {
	log := m.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	})

	if types.IsAuthError(err) {
		log.WithError(err).Error("Config entry setup rejected credentials")
		m.setState(ctx, entry, types.EntryStateSetupError, err.Error())
		m.requestReauth(entry)
		return err
	}

	// Connectivity and unexpected errors both retry on a backoff schedule
	m.mutex.Lock()
	m.tries[entry.EntryID]++
	tries := m.tries[entry.EntryID]
	ceiling := m.cfg.SetupRetryCeiling
	m.mutex.Unlock()

	if ceiling > 0 && tries > ceiling {
		log.WithError(err).WithField("tries", tries).Error("Config entry setup exceeded retry ceiling")
		m.setState(ctx, entry, types.EntryStateSetupError, "retry ceiling exceeded")
		return err
	}

	wait := retryBackoff(tries)
	log.WithError(err).WithFields(logrus.Fields{
		"tries":    tries,
		"retry_in": wait.String(),
	}).Warn("Config entry setup failed, scheduling retry")
	m.setState(ctx, entry, types.EntryStateSetupRetry, err.Error())

	m.mutex.Lock()
	if old := m.retryTimers[entry.EntryID]; old != nil {
		old.Stop()
	}
	m.retryTimers[entry.EntryID] = time.AfterFunc(wait, func() {
		m.retrySetup(entry.EntryID)
	})
	m.mutex.Unlock()

	return err
}

// retryBackoff computes the setup retry delay: exponential with a cap,
// plus jitter so a fleet of entries does not retry in lockstep
func retryBackoff(tries int) time.Duration {
	exp := tries - 1
	if exp > 4 {
		exp = 4
	}
	base := 5 * time.Second * (1 << exp)
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return base + jitter
}

// retrySetup re-attempts setup from a scheduled retry timer. The entry may
// have been reloaded or removed while the timer was pending, so the stored
// entry is authoritative; anything but setup_retry means the retry is stale.
func (m *Manager) retrySetup(entryID string) {
	lock := m.lockFor(entryID)
	lock.Lock()
	defer lock.Unlock()

	entry, err := m.store.Get(context.Background(), entryID)
	if err != nil {
		m.logger.WithError(err).WithField("entry_id", entryID).Warn("Setup retry aborted, entry load failed")
		return
	}
	if entry == nil || entry.State != types.EntryStateSetupRetry {
		return
	}
	entry.State = types.EntryStateNotLoaded
	if err := m.setupLocked(context.Background(), entry); err != nil {
		m.logger.WithError(err).WithField("entry_id", entryID).Debug("Setup retry failed")
	}
}

// Unload tears an entry down: stop the coordinator, unload entity
// platforms, deregister every subscription and release the runtime handle.
// After Unload returns, a subsequent Setup starts from a clean slate.
func (m *Manager) Unload(ctx context.Context, entry *types.ConfigEntry) error {
	lock := m.lockFor(entry.EntryID)
	lock.Lock()
	defer lock.Unlock()
	return m.unloadLocked(ctx, entry)
}

func (m *Manager) unloadLocked(ctx context.Context, entry *types.ConfigEntry) error {
	log := m.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	})

	// Cancel any pending setup retry
	m.mutex.Lock()
	if timer := m.retryTimers[entry.EntryID]; timer != nil {
		timer.Stop()
		delete(m.retryTimers, entry.EntryID)
	}
	runtime := m.runtimes[entry.EntryID]
	delete(m.runtimes, entry.EntryID)
	m.mutex.Unlock()

	switch entry.State {
	case types.EntryStateNotLoaded, types.EntryStateUnloaded:
		return nil
	case types.EntryStateSetupRetry, types.EntryStateSetupError:
		// Nothing live to tear down beyond the cancelled retry timer
		m.setState(ctx, entry, types.EntryStateUnloaded, "")
		return nil
	}

	m.setState(ctx, entry, types.EntryStateUnloading, "")

	unloadOK := true
	if runtime != nil {
		m.teardownRuntime(ctx, entry, runtime)
		for _, platform := range runtime.handle.Platforms {
			if !m.platforms.Unload(ctx, entry, platform) {
				log.WithField("platform", platform).Error("Platform unload failed")
				unloadOK = false
			}
		}
	}

	removed := m.entities.RemoveEntry(entry.EntryID)

	if !unloadOK {
		m.setState(ctx, entry, types.EntryStateFailedUnload, "one or more platforms failed to unload")
		return fmt.Errorf("entry %s failed to unload", entry.EntryID)
	}

	m.setState(ctx, entry, types.EntryStateUnloaded, "")
	log.WithField("entities_removed", removed).Info("Config entry unloaded")
	return nil
}

// teardownRuntime stops the coordinator, cancels manager subscriptions and
// closes the integration client
func (m *Manager) teardownRuntime(ctx context.Context, entry *types.ConfigEntry, runtime *entryRuntime) {
	for _, cancel := range runtime.listeners {
		cancel()
	}
	runtime.listeners = nil
	m.closeHandle(ctx, runtime.handle)
}

func (m *Manager) closeHandle(ctx context.Context, handle *types.RuntimeHandle) {
	if handle.Coordinator != nil {
		handle.Coordinator.Stop()
	}
	if handle.Close != nil {
		if err := handle.Close(ctx); err != nil {
			m.logger.WithError(err).Warn("Error closing integration client")
		}
	}
}

// Reload unloads and sets up an entry again, used after configuration or
// option changes. A concurrent reload of the same entry waits for the
// in-flight one to finish before running; the two never interleave.
func (m *Manager) Reload(ctx context.Context, entry *types.ConfigEntry) error {
	lock := m.lockFor(entry.EntryID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.unloadLocked(ctx, entry); err != nil {
		return fmt.Errorf("reload of %s aborted: %w", entry.EntryID, err)
	}
	return m.setupLocked(ctx, entry)
}

// Remove unloads an entry and deletes it from the store
func (m *Manager) Remove(ctx context.Context, entry *types.ConfigEntry) error {
	lock := m.lockFor(entry.EntryID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.unloadLocked(ctx, entry); err != nil {
		return err
	}

	if err := m.store.Delete(ctx, entry.EntryID); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", entry.EntryID, err)
	}

	m.mutex.Lock()
	delete(m.entryLocks, entry.EntryID)
	delete(m.tries, entry.EntryID)
	delete(m.reauthSent, entry.EntryID)
	m.mutex.Unlock()

	m.logger.WithField("entry_id", entry.EntryID).Info("Config entry removed")
	return nil
}

// SetupAll loads every enabled entry from the store, used at startup
func (m *Manager) SetupAll(ctx context.Context) error {
	entries, err := m.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	for _, entry := range entries {
		if entry.DisabledBy != "" {
			continue
		}
		entry.State = types.EntryStateNotLoaded
		if err := m.Setup(ctx, entry); err != nil {
			// Setup failures schedule their own retries; startup continues
			m.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Entry setup failed at startup")
		}
	}
	return nil
}

// Coordinator returns the live coordinator for a loaded entry, or nil
func (m *Manager) Coordinator(entryID string) *coordinator.UpdateCoordinator {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	runtime := m.runtimes[entryID]
	if runtime == nil || runtime.handle.Coordinator == nil {
		return nil
	}
	if uc, ok := runtime.handle.Coordinator.(*coordinator.UpdateCoordinator); ok {
		return uc
	}
	return nil
}

// LoadedEntryIDs returns the IDs of entries with a live runtime
func (m *Manager) LoadedEntryIDs() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	ids := make([]string, 0, len(m.runtimes))
	for id := range m.runtimes {
		ids = append(ids, id)
	}
	return ids
}

// requestReauth starts a reauth flow at most once per credential failure
func (m *Manager) requestReauth(entry *types.ConfigEntry) {
	m.mutex.Lock()
	if m.reauthSent[entry.EntryID] {
		m.mutex.Unlock()
		return
	}
	m.reauthSent[entry.EntryID] = true
	handler := m.onReauth
	m.mutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	}).Warn("Credentials rejected, reauthentication required")

	if handler != nil {
		handler(entry)
	}
}

// setState applies a state transition, persists it and notifies the state
// listener
func (m *Manager) setState(ctx context.Context, entry *types.ConfigEntry, state types.EntryState, reason string) {
	entry.State = state
	entry.Reason = reason
	entry.ModifiedAt = time.Now().UTC()

	if err := m.store.Save(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Failed to persist entry state")
	}

	m.mutex.Lock()
	listener := m.onStateChange
	m.mutex.Unlock()
	if listener != nil {
		listener(entry)
	}
}

// intervalFor resolves the polling interval for an entry: a scan_interval
// option wins over the configured default
func (m *Manager) intervalFor(entry *types.ConfigEntry) time.Duration {
	if raw, ok := entry.Options["scan_interval"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			return d
		}
	}
	return m.cfg.DefaultIntervalDuration()
}
