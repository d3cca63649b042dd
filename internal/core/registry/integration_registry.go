package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/sirupsen/logrus"
)

// IntegrationRegistry maps integration domains to their implementations.
// It is constructed once at startup and passed to the lifecycle manager;
// there is no module-level registry.
type IntegrationRegistry struct {
	integrations map[string]types.Integration
	flowHandlers map[string]types.FlowHandler
	logger       *logrus.Logger
	mutex        sync.RWMutex
}

// NewIntegrationRegistry creates an empty integration registry
func NewIntegrationRegistry(logger *logrus.Logger) *IntegrationRegistry {
	return &IntegrationRegistry{
		integrations: make(map[string]types.Integration),
		flowHandlers: make(map[string]types.FlowHandler),
		logger:       logger,
	}
}

// Register adds an integration implementation for its domain
func (r *IntegrationRegistry) Register(integration types.Integration) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	domain := integration.Domain()
	if _, exists := r.integrations[domain]; exists {
		return fmt.Errorf("integration %s already registered", domain)
	}
	r.integrations[domain] = integration

	if fh, ok := integration.(types.FlowHandler); ok {
		r.flowHandlers[domain] = fh
	}

	r.logger.WithField("domain", domain).Info("Registered integration")
	return nil
}

// Get returns the integration for a domain
func (r *IntegrationRegistry) Get(domain string) (types.Integration, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	integration, exists := r.integrations[domain]
	if !exists {
		return nil, fmt.Errorf("integration %s not registered", domain)
	}
	return integration, nil
}

// GetFlowHandler returns the flow handler for a domain, if the integration
// supports interactive configuration
func (r *IntegrationRegistry) GetFlowHandler(domain string) (types.FlowHandler, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	fh, exists := r.flowHandlers[domain]
	if !exists {
		return nil, fmt.Errorf("integration %s has no config flow", domain)
	}
	return fh, nil
}

// Domains returns all registered integration domains sorted by name
func (r *IntegrationRegistry) Domains() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	domains := make([]string, 0, len(r.integrations))
	for domain := range r.integrations {
		domains = append(domains, domain)
	}
	sort.Strings(domains)
	return domains
}
