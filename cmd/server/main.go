package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/api"
	"github.com/lumenhub/lumen-backend-go/internal/api/handlers"
	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/core/discovery"
	"github.com/lumenhub/lumen-backend-go/internal/core/flow"
	"github.com/lumenhub/lumen-backend-go/internal/core/lifecycle"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/scheduler"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/internal/database"
	"github.com/lumenhub/lumen-backend-go/internal/integrations/sysmon"
	"github.com/lumenhub/lumen-backend-go/internal/platform"
	"github.com/lumenhub/lumen-backend-go/internal/websocket"
	"github.com/lumenhub/lumen-backend-go/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Logging.Level)

	// Initialize database
	db, err := database.Initialize(cfg.Database.Path, cfg.Database.MaxConnections)
	if err != nil {
		log.Fatal("Failed to initialize database: ", err)
	}
	defer db.Close()

	// Run migrations
	if err := database.Migrate(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations: ", err)
	}

	store := database.NewEntryStore(db)

	// Create WebSocket hub and event forwarder
	wsHub := websocket.NewHub(log)
	go wsHub.Run()
	forwarder := websocket.NewEventForwarder(wsHub, log)

	// Core registries and services
	integrations := registry.NewIntegrationRegistry(log)
	entities := registry.NewEntityRegistry(log)
	platforms := platform.NewRegistrar(integrations, entities, forwarder, log)
	lcManager := lifecycle.NewManager(integrations, entities, store, platforms, cfg.Coordinator, log)
	lcManager.SetStateListener(forwarder.EntryStateChanged)

	flowManager := flow.NewManager(integrations, store, lcManager, log)
	lcManager.SetReauthHandler(func(entry *types.ConfigEntry) {
		if _, err := flowManager.StartReauth(context.Background(), entry); err != nil {
			log.WithError(err).WithField("entry_id", entry.EntryID).Warn("Failed to start reauth flow")
		}
	})

	// Built-in integrations
	if err := integrations.Register(sysmon.New(cfg.Coordinator, log)); err != nil {
		log.Fatal("Failed to register sysmon integration: ", err)
	}

	// Bring up every stored entry
	setupCtx, cancelSetup := context.WithTimeout(context.Background(), 60*time.Second)
	if err := lcManager.SetupAll(setupCtx); err != nil {
		log.WithError(err).Warn("Some entries failed to set up")
	}
	cancelSetup()

	// Seed the built-in system monitor entry on first boot
	if cfg.SysMon.Enabled {
		if err := seedSysMonEntry(context.Background(), cfg, store, lcManager); err != nil {
			log.WithError(err).Warn("Failed to seed system monitor entry")
		}
	}

	// Network discovery
	var disco *discovery.Service
	if cfg.Discovery.Enabled {
		disco = discovery.NewService(cfg.Discovery, cfg.Server.Port, discoveryFlows{flowManager}, log)
		for _, serviceType := range cfg.Discovery.ServiceTypes {
			disco.AddMatcher(serviceType, domainForService(serviceType))
		}
		if err := disco.Start(context.Background()); err != nil {
			log.WithError(err).Warn("Failed to start discovery")
		}
	}

	// Maintenance scheduler
	maint := scheduler.New(lcManager, log)
	if err := maint.Start(); err != nil {
		log.WithError(err).Warn("Failed to start maintenance scheduler")
	}

	// Initialize router
	h := handlers.NewHandlers(cfg, log, store, lcManager, flowManager, entities, integrations, wsHub)
	router := api.NewRouter(cfg, h, log, wsHub)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	go func() {
		log.Infof("Starting Lumen Hub on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server: ", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	maint.Stop()
	if disco != nil {
		disco.Stop()
	}

	// Unload every loaded entry so integrations close their connections
	for _, entryID := range lcManager.LoadedEntryIDs() {
		entry, err := store.Get(ctx, entryID)
		if err != nil || entry == nil {
			continue
		}
		if err := lcManager.Unload(ctx, entry); err != nil {
			log.WithError(err).WithField("entry_id", entryID).Warn("Failed to unload entry during shutdown")
		}
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}

	log.Info("Server exited")
}

// seedSysMonEntry creates and loads the single system monitor entry when no
// entry for the local host exists yet
func seedSysMonEntry(ctx context.Context, cfg *config.Config, store types.EntryStore, lc *lifecycle.Manager) error {
	existing, err := store.GetByUniqueID(ctx, sysmon.DomainName, "local_host")
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	name := cfg.SysMon.Name
	if name == "" {
		name = "System Monitor"
	}
	entry := types.NewConfigEntry(sysmon.DomainName, name, map[string]interface{}{}, nil)
	entry.UniqueID = "local_host"
	entry.Source = types.SourceImport
	if cfg.SysMon.Interval != "" {
		entry.Options = map[string]interface{}{"scan_interval": cfg.SysMon.Interval}
	}

	if err := store.Save(ctx, entry); err != nil {
		return err
	}
	return lc.Setup(ctx, entry)
}

// discoveryFlows adapts *flow.Manager to discovery.FlowStarter, whose
// StartDiscovery returns interface{} instead of *flow.Result
type discoveryFlows struct {
	m *flow.Manager
}

func (d discoveryFlows) StartDiscovery(ctx context.Context, domain, uniqueID string) (interface{}, error) {
	return d.m.StartDiscovery(ctx, domain, uniqueID)
}

// domainForService maps a configured mDNS service type onto the integration
// domain responsible for it. Only the built-in mapping exists for now.
func domainForService(serviceType string) string {
	return sysmon.DomainName
}
