package sysmon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/core/coordinator"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/internal/platform"
	"github.com/sirupsen/logrus"
)

// DomainName identifies this integration
const DomainName = "sysmon"

// PlatformSensor is the single entity platform sysmon provides
const PlatformSensor = "sensor"

// Integration exposes local system metrics (CPU, memory, disk, uptime) as
// sensor entities. It is the built-in reference integration exercising the
// full config-entry pipeline.
type Integration struct {
	cfg    config.CoordinatorConfig
	logger *logrus.Logger

	// newClient is swappable for tests
	newClient func(diskPath string) *Client

	mutex  sync.Mutex
	coords map[string]*coordinator.UpdateCoordinator
}

// New creates the sysmon integration
func New(cfg config.CoordinatorConfig, logger *logrus.Logger) *Integration {
	return &Integration{
		cfg:       cfg,
		logger:    logger,
		newClient: NewClient,
		coords:    make(map[string]*coordinator.UpdateCoordinator),
	}
}

// Domain returns the integration domain
func (i *Integration) Domain() string { return DomainName }

// SetupEntry constructs the metrics client and its coordinator for one
// config entry. The first refresh is performed by the lifecycle manager,
// not here.
func (i *Integration) SetupEntry(ctx context.Context, entry *types.ConfigEntry) (*types.RuntimeHandle, error) {
	diskPath, _ := entry.Data["disk_path"].(string)
	client := i.newClient(diskPath)

	coord := coordinator.New(coordinator.Options{
		Domain:           DomainName,
		EntryID:          entry.EntryID,
		Fetch:            client.Fetch,
		FetchTimeout:     i.cfg.FetchTimeoutDuration(),
		FailureThreshold: i.cfg.FailureThreshold,
	}, i.logger)

	i.mutex.Lock()
	i.coords[entry.EntryID] = coord
	i.mutex.Unlock()

	entryID := entry.EntryID
	return &types.RuntimeHandle{
		Client:      client,
		Coordinator: coord,
		Platforms:   []string{PlatformSensor},
		Close: func(ctx context.Context) error {
			i.mutex.Lock()
			delete(i.coords, entryID)
			i.mutex.Unlock()
			return nil
		},
	}, nil
}

// SetupPlatform registers the sensor entities and subscribes each to the
// entry's coordinator
func (i *Integration) SetupPlatform(ctx context.Context, entry *types.ConfigEntry, name string, add platform.AddEntityFunc) error {
	if name != PlatformSensor {
		return fmt.Errorf("sysmon does not provide platform %s", name)
	}

	i.mutex.Lock()
	coord := i.coords[entry.EntryID]
	i.mutex.Unlock()
	if coord == nil {
		return fmt.Errorf("no coordinator available for entry %s", entry.EntryID)
	}

	sensors := []struct {
		key    string
		name   string
		unit   string
		update platform.EntityUpdateFunc
	}{
		{
			key: "cpu_percent", name: "CPU Usage", unit: "%",
			update: func(e *types.Entity, snap coordinator.Snapshot) {
				if s, ok := snap.Data.(*Snapshot); ok {
					e.SetState(s.CPUPercent, nil)
				}
			},
		},
		{
			key: "memory_percent", name: "Memory Usage", unit: "%",
			update: func(e *types.Entity, snap coordinator.Snapshot) {
				if s, ok := snap.Data.(*Snapshot); ok {
					e.SetState(s.MemoryUsedPercent, map[string]interface{}{"used_mb": s.MemoryUsedMB})
				}
			},
		},
		{
			key: "disk_percent", name: "Disk Usage", unit: "%",
			update: func(e *types.Entity, snap coordinator.Snapshot) {
				if s, ok := snap.Data.(*Snapshot); ok {
					e.SetState(s.DiskUsedPercent, nil)
				}
			},
		},
		{
			key: "uptime", name: "Uptime", unit: "s",
			update: func(e *types.Entity, snap coordinator.Snapshot) {
				if s, ok := snap.Data.(*Snapshot); ok {
					e.SetState(s.UptimeSeconds, nil)
				}
			},
		},
	}

	for _, s := range sensors {
		entity := &types.Entity{
			ID:           fmt.Sprintf("%s_%s_%s", DomainName, s.key, entry.EntryID),
			EntryID:      entry.EntryID,
			Type:         types.EntityTypeSensor,
			FriendlyName: fmt.Sprintf("%s %s", entry.Title, s.name),
			Unit:         s.unit,
			Available:    true,
			LastUpdated:  time.Now().UTC(),
		}
		if err := add(entity, coord, s.update); err != nil {
			return err
		}
	}
	return nil
}

// Steps returns the flow steps per source
func (i *Integration) Steps(source types.FlowSource) []string {
	return []string{"user"}
}

// Schema returns the form schema for a step
func (i *Integration) Schema(stepID string) types.FormSchema {
	return types.FormSchema{
		Fields: []types.FormField{
			{Name: "name", Type: "string", Required: true, Default: "System Monitor"},
			{Name: "scan_interval", Type: "duration", Required: false, Default: "15s"},
			{Name: "disk_path", Type: "string", Required: false, Default: "/"},
		},
	}
}

// Validate validates flow input; a single host is deduplicated by a fixed
// unique ID so only one sysmon entry can exist
func (i *Integration) Validate(ctx context.Context, stepID string, input map[string]interface{}) (*types.FlowValidation, error) {
	errors := make(map[string]string)

	name, _ := input["name"].(string)
	if name == "" {
		errors["name"] = "required"
	}

	if raw, ok := input["scan_interval"].(string); ok && raw != "" {
		if _, err := time.ParseDuration(raw); err != nil {
			errors["scan_interval"] = "invalid_interval"
		}
	}

	if len(errors) > 0 {
		return &types.FlowValidation{Errors: errors}, nil
	}

	return &types.FlowValidation{
		Title:    name,
		UniqueID: "local_host",
		Data:     map[string]interface{}{},
	}, nil
}
