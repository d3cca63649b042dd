package discovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/sirupsen/logrus"
)

// announceService is the mDNS service type the hub announces itself under
const announceService = "_lumen-hub._tcp"

// FlowStarter is the slice of the flow manager discovery needs: start a
// discovery-sourced config flow for a found device
type FlowStarter interface {
	StartDiscovery(ctx context.Context, domain, uniqueID string) (interface{}, error)
}

// Matcher maps an mDNS service type to the integration domain that can
// configure devices of that type
type Matcher struct {
	ServiceType string
	Domain      string
}

// Service browses the local network for devices and suggests config flows
// for the ones no entry covers yet. It also announces the hub itself.
type Service struct {
	cfg      config.DiscoveryConfig
	port     int
	flows    FlowStarter
	matchers []Matcher
	logger   *logrus.Logger

	mutex   sync.Mutex
	seen    map[string]bool
	cancel  context.CancelFunc
	server  *zeroconf.Server
	running bool
}

// NewService creates a discovery service
func NewService(cfg config.DiscoveryConfig, port int, flows FlowStarter, logger *logrus.Logger) *Service {
	return &Service{
		cfg:    cfg,
		port:   port,
		flows:  flows,
		logger: logger,
		seen:   make(map[string]bool),
	}
}

// AddMatcher registers a service-type to integration-domain mapping
func (s *Service) AddMatcher(serviceType, domain string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.matchers = append(s.matchers, Matcher{ServiceType: serviceType, Domain: domain})
}

// Start begins announcing and browsing. Idempotent Stop is required to
// release the mDNS sockets.
func (s *Service) Start(ctx context.Context) error {
	s.mutex.Lock()
	if s.running {
		s.mutex.Unlock()
		return fmt.Errorf("discovery already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	matchers := make([]Matcher, len(s.matchers))
	copy(matchers, s.matchers)
	s.mutex.Unlock()

	if s.cfg.Announce {
		server, err := zeroconf.Register("lumen-hub", announceService, "local.", s.port, nil, nil)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to announce hub over mDNS")
		} else {
			s.mutex.Lock()
			s.server = server
			s.mutex.Unlock()
			s.logger.WithField("service", announceService).Info("Hub announced over mDNS")
		}
	}

	for _, matcher := range matchers {
		go s.browse(ctx, matcher)
	}
	return nil
}

// browse watches one service type and starts a discovery flow per new
// instance
func (s *Service) browse(ctx context.Context, matcher Matcher) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		s.logger.WithError(err).Error("Failed to create mDNS resolver")
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for entry := range entries {
			s.handleFound(ctx, matcher, entry)
		}
	}()

	if err := resolver.Browse(ctx, matcher.ServiceType, "local.", entries); err != nil {
		s.logger.WithError(err).WithField("service_type", matcher.ServiceType).Error("mDNS browse failed")
	}
	<-ctx.Done()
}

func (s *Service) handleFound(ctx context.Context, matcher Matcher, entry *zeroconf.ServiceEntry) {
	uniqueID := fmt.Sprintf("%s.%s", entry.Instance, matcher.ServiceType)

	s.mutex.Lock()
	if s.seen[uniqueID] {
		s.mutex.Unlock()
		return
	}
	s.seen[uniqueID] = true
	s.mutex.Unlock()

	s.logger.WithFields(logrus.Fields{
		"instance":     entry.Instance,
		"service_type": matcher.ServiceType,
		"domain":       matcher.Domain,
	}).Info("Discovered device, suggesting config flow")

	if _, err := s.flows.StartDiscovery(ctx, matcher.Domain, uniqueID); err != nil {
		s.logger.WithError(err).Debug("Discovery flow not started")
	}
}

// Stop halts browsing and withdraws the hub announcement. Idempotent.
func (s *Service) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.running {
		return
	}
	s.running = false
	if s.cancel != nil {
		s.cancel()
	}
	if s.server != nil {
		s.server.Shutdown()
		s.server = nil
	}
	s.logger.Info("Discovery stopped")
}
