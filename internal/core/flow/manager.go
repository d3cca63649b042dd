package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// Result types returned from flow steps
const (
	ResultTypeForm        = "form"
	ResultTypeCreateEntry = "create_entry"
	ResultTypeAbort       = "abort"
)

// Abort reasons
const (
	AbortAlreadyConfigured = "already_configured"
	AbortReauthSuccessful  = "reauth_successful"
)

// Lifecycle is the slice of the lifecycle manager the flow manager needs
// to act on finished flows
type Lifecycle interface {
	Setup(ctx context.Context, entry *types.ConfigEntry) error
	Reload(ctx context.Context, entry *types.ConfigEntry) error
}

// Flow is one in-progress configuration wizard. Flows live in memory only;
// a restart discards them.
type Flow struct {
	FlowID    string           `json:"flow_id"`
	Domain    string           `json:"domain"`
	Source    types.FlowSource `json:"source"`
	StepID    string           `json:"step_id"`
	Schema    types.FormSchema `json:"schema"`
	UniqueID  string           `json:"unique_id,omitempty"`
	EntryID   string           `json:"entry_id,omitempty"`
	CreatedAt time.Time        `json:"created_at"`

	steps     []string
	stepIndex int
	collected map[string]interface{}
}

// Result is the outcome of starting or advancing a flow
type Result struct {
	Type    string             `json:"type"`
	FlowID  string             `json:"flow_id"`
	StepID  string             `json:"step_id,omitempty"`
	Schema  *types.FormSchema  `json:"schema,omitempty"`
	Errors  map[string]string  `json:"errors,omitempty"`
	Reason  string             `json:"reason,omitempty"`
	Entry   *types.ConfigEntry `json:"entry,omitempty"`
	Title   string             `json:"title,omitempty"`
}

// Manager owns all in-progress config and reauth flows
type Manager struct {
	integrations *registry.IntegrationRegistry
	store        types.EntryStore
	lifecycle    Lifecycle
	logger       *logrus.Logger

	mutex sync.Mutex
	flows map[string]*Flow
}

// NewManager creates a flow manager
func NewManager(integrations *registry.IntegrationRegistry, store types.EntryStore, lc Lifecycle, logger *logrus.Logger) *Manager {
	return &Manager{
		integrations: integrations,
		store:        store,
		lifecycle:    lc,
		logger:       logger,
		flows:        make(map[string]*Flow),
	}
}

// Start begins a new flow for a domain. For reauth flows, entryID names the
// entry whose credentials are being replaced.
func (m *Manager) Start(ctx context.Context, domain string, source types.FlowSource, entryID string) (*Result, error) {
	handler, err := m.integrations.GetFlowHandler(domain)
	if err != nil {
		return nil, err
	}

	steps := handler.Steps(source)
	if len(steps) == 0 {
		return nil, fmt.Errorf("integration %s defines no steps for source %s", domain, source)
	}

	flow := &Flow{
		FlowID:    uuid.New().String(),
		Domain:    domain,
		Source:    source,
		StepID:    steps[0],
		Schema:    handler.Schema(steps[0]),
		EntryID:   entryID,
		CreatedAt: time.Now().UTC(),
		steps:     steps,
		collected: make(map[string]interface{}),
	}

	m.mutex.Lock()
	m.flows[flow.FlowID] = flow
	m.mutex.Unlock()

	m.logger.WithFields(logrus.Fields{
		"flow_id": flow.FlowID,
		"domain":  domain,
		"source":  source,
	}).Info("Config flow started")

	return &Result{
		Type:   ResultTypeForm,
		FlowID: flow.FlowID,
		StepID: flow.StepID,
		Schema: &flow.Schema,
	}, nil
}

// StartReauth begins a reauth flow for an entry unless one is already in
// progress for it
func (m *Manager) StartReauth(ctx context.Context, entry *types.ConfigEntry) (*Result, error) {
	m.mutex.Lock()
	for _, flow := range m.flows {
		if flow.Source == types.SourceReauth && flow.EntryID == entry.EntryID {
			m.mutex.Unlock()
			return nil, fmt.Errorf("reauth flow already in progress for entry %s", entry.EntryID)
		}
	}
	m.mutex.Unlock()

	return m.Start(ctx, entry.Domain, types.SourceReauth, entry.EntryID)
}

// StartDiscovery begins a discovery flow for a found device. A unique ID
// that is already configured, or already has a flow in progress, is
// ignored so each device is suggested at most once.
func (m *Manager) StartDiscovery(ctx context.Context, domain, uniqueID string) (*Result, error) {
	if existing, err := m.store.GetByUniqueID(ctx, domain, uniqueID); err == nil && existing != nil {
		return &Result{Type: ResultTypeAbort, Reason: AbortAlreadyConfigured}, nil
	}

	m.mutex.Lock()
	for _, flow := range m.flows {
		if flow.Domain == domain && flow.UniqueID == uniqueID {
			m.mutex.Unlock()
			return &Result{Type: ResultTypeAbort, Reason: "already_in_progress"}, nil
		}
	}
	m.mutex.Unlock()

	result, err := m.Start(ctx, domain, types.SourceDiscovery, "")
	if err != nil {
		return nil, err
	}

	m.mutex.Lock()
	if flow := m.flows[result.FlowID]; flow != nil {
		flow.UniqueID = uniqueID
	}
	m.mutex.Unlock()

	return result, nil
}

// Advance feeds user input to the current step. Validation errors re-show
// the form; a passed final step finishes the flow.
func (m *Manager) Advance(ctx context.Context, flowID string, input map[string]interface{}) (*Result, error) {
	m.mutex.Lock()
	flow, exists := m.flows[flowID]
	m.mutex.Unlock()
	if !exists {
		return nil, fmt.Errorf("flow %s not found", flowID)
	}

	handler, err := m.integrations.GetFlowHandler(flow.Domain)
	if err != nil {
		return nil, err
	}

	validation, err := handler.Validate(ctx, flow.StepID, input)
	if err != nil {
		return nil, fmt.Errorf("flow step validation failed: %w", err)
	}

	if len(validation.Errors) > 0 {
		return &Result{
			Type:   ResultTypeForm,
			FlowID: flow.FlowID,
			StepID: flow.StepID,
			Schema: &flow.Schema,
			Errors: validation.Errors,
		}, nil
	}

	for k, v := range input {
		flow.collected[k] = v
	}
	for k, v := range validation.Data {
		flow.collected[k] = v
	}

	if flow.stepIndex < len(flow.steps)-1 {
		flow.stepIndex++
		flow.StepID = flow.steps[flow.stepIndex]
		flow.Schema = handler.Schema(flow.StepID)
		return &Result{
			Type:   ResultTypeForm,
			FlowID: flow.FlowID,
			StepID: flow.StepID,
			Schema: &flow.Schema,
		}, nil
	}

	return m.finish(ctx, flow, validation)
}

// finish creates or updates a config entry from a completed flow
func (m *Manager) finish(ctx context.Context, flow *Flow, validation *types.FlowValidation) (*Result, error) {
	defer m.remove(flow.FlowID)

	if flow.Source == types.SourceReauth {
		return m.finishReauth(ctx, flow)
	}

	uniqueID := validation.UniqueID
	if uniqueID == "" {
		uniqueID = flow.UniqueID
	}

	// Unique-ID dedup: a second flow for an already-configured device
	// refreshes that entry's data instead of creating a duplicate
	if uniqueID != "" {
		if existing, err := m.store.GetByUniqueID(ctx, flow.Domain, uniqueID); err == nil && existing != nil {
			for k, v := range flow.collected {
				existing.Data[k] = v
			}
			existing.ModifiedAt = time.Now().UTC()
			if err := m.store.Save(ctx, existing); err != nil {
				return nil, fmt.Errorf("failed to update existing entry: %w", err)
			}
			if err := m.lifecycle.Reload(ctx, existing); err != nil {
				m.logger.WithError(err).WithField("entry_id", existing.EntryID).Warn("Reload after flow update failed")
			}
			return &Result{Type: ResultTypeAbort, Reason: AbortAlreadyConfigured, Entry: existing}, nil
		}
	}

	entry := types.NewConfigEntry(flow.Domain, validation.Title, flow.collected, nil)
	entry.Source = flow.Source
	entry.UniqueID = uniqueID

	if err := m.store.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save entry: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"flow_id":  flow.FlowID,
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	}).Info("Config flow finished, entry created")

	// Setup failures park the entry in a retry/error state; the flow
	// itself still finished
	if err := m.lifecycle.Setup(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Entry setup failed after flow")
	}

	return &Result{
		Type:   ResultTypeCreateEntry,
		FlowID: flow.FlowID,
		Title:  entry.Title,
		Entry:  entry,
	}, nil
}

// finishReauth replaces the target entry's credentials and reloads it
func (m *Manager) finishReauth(ctx context.Context, flow *Flow) (*Result, error) {
	entry, err := m.store.Get(ctx, flow.EntryID)
	if err != nil {
		return nil, fmt.Errorf("reauth target entry not found: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("reauth target entry %s no longer exists", flow.EntryID)
	}

	for k, v := range flow.collected {
		entry.Data[k] = v
	}
	entry.ModifiedAt = time.Now().UTC()
	if err := m.store.Save(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save reauthenticated entry: %w", err)
	}

	if err := m.lifecycle.Reload(ctx, entry); err != nil {
		m.logger.WithError(err).WithField("entry_id", entry.EntryID).Warn("Reload after reauth failed")
	}

	m.logger.WithFields(logrus.Fields{
		"entry_id": entry.EntryID,
		"domain":   entry.Domain,
	}).Info("Reauthentication completed")

	return &Result{Type: ResultTypeAbort, Reason: AbortReauthSuccessful, Entry: entry}, nil
}

// Get returns an in-progress flow
func (m *Manager) Get(flowID string) (*Flow, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	flow, exists := m.flows[flowID]
	if !exists {
		return nil, fmt.Errorf("flow %s not found", flowID)
	}
	return flow, nil
}

// List returns all in-progress flows
func (m *Manager) List() []*Flow {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	flows := make([]*Flow, 0, len(m.flows))
	for _, flow := range m.flows {
		flows = append(flows, flow)
	}
	return flows
}

// Abort discards an in-progress flow
func (m *Manager) Abort(flowID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.flows[flowID]; !exists {
		return fmt.Errorf("flow %s not found", flowID)
	}
	delete(m.flows, flowID)
	return nil
}

func (m *Manager) remove(flowID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.flows, flowID)
}
