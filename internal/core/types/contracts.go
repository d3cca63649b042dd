package types

import (
	"context"
	"time"
)

// FetchFunc is the contract between a coordinator and its integration: a
// no-argument fetch returning the integration's payload or one of the
// taxonomy errors (ConnectivityError, AuthError, UnexpectedError). The
// coordinator does not know the payload's internal shape.
type FetchFunc func(ctx context.Context) (interface{}, error)

// RuntimeHandle is the opaque per-entry runtime an integration returns from
// SetupEntry. The lifecycle manager owns its disposal on unload.
type RuntimeHandle struct {
	// Client is the integration's API client or equivalent
	Client interface{}

	// Coordinator drives polling for this entry; may be nil for
	// push-only integrations
	Coordinator Refresher

	// Platforms lists the entity platforms set up for this entry
	Platforms []string

	// Close releases the client; may be nil
	Close func(ctx context.Context) error
}

// Refresher is the slice of the update coordinator the lifecycle manager
// needs: validate connectivity once during setup, then stop on unload.
type Refresher interface {
	Start(interval time.Duration) error
	RefreshOnce(ctx context.Context) error
	Stop()
}

// Integration is implemented once per supported device/service domain.
// SetupEntry constructs the API client and coordinator for one entry and
// must not perform the first refresh itself; the lifecycle manager does
// that so connectivity failures map onto entry states uniformly.
type Integration interface {
	Domain() string
	SetupEntry(ctx context.Context, entry *ConfigEntry) (*RuntimeHandle, error)
}

// FlowHandler is implemented by integrations that support interactive
// configuration. Steps mirror a form-based wizard: each step returns either
// another form or a finished flow result.
type FlowHandler interface {
	// Steps returns the ordered step IDs for the given flow source
	Steps(source FlowSource) []string

	// Schema returns the form schema for a step
	Schema(stepID string) FormSchema

	// Validate validates user input for a step; on the final step it
	// returns the entry title, unique ID, and data for entry creation
	Validate(ctx context.Context, stepID string, input map[string]interface{}) (*FlowValidation, error)
}

// FormSchema describes the fields shown for one flow step
type FormSchema struct {
	Fields []FormField `json:"fields"`
}

// FormField describes a single form input
type FormField struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
	Secret   bool   `json:"secret,omitempty"`
}

// FlowValidation is the result of validating a flow step
type FlowValidation struct {
	// Errors maps field name to error code; non-empty re-shows the form
	Errors map[string]string

	// Title, UniqueID and Data are consumed when the final step passes
	Title    string
	UniqueID string
	Data     map[string]interface{}
}

// PlatformRegistrar is the external entity-platform contract. Forward sets
// up the named platform for an entry; Unload tears it down and reports
// success per platform.
type PlatformRegistrar interface {
	Forward(ctx context.Context, entry *ConfigEntry, platform string) error
	Unload(ctx context.Context, entry *ConfigEntry, platform string) bool
}

// EntryStore persists config entries across restarts. Coordinator caches
// are memory-only and rebuilt from the first fetch after start.
type EntryStore interface {
	List(ctx context.Context) ([]*ConfigEntry, error)
	Get(ctx context.Context, entryID string) (*ConfigEntry, error)
	GetByUniqueID(ctx context.Context, domain, uniqueID string) (*ConfigEntry, error)
	Save(ctx context.Context, entry *ConfigEntry) error
	Delete(ctx context.Context, entryID string) error
}
