package types

import (
	"time"

	"github.com/google/uuid"
)

// EntryState represents the lifecycle state of a config entry
type EntryState string

const (
	EntryStateNotLoaded    EntryState = "not_loaded"
	EntryStateLoading      EntryState = "loading"
	EntryStateLoaded       EntryState = "loaded"
	EntryStateSetupError   EntryState = "setup_error"
	EntryStateSetupRetry   EntryState = "setup_retry"
	EntryStateUnloading    EntryState = "unloading"
	EntryStateUnloaded     EntryState = "unloaded"
	EntryStateFailedUnload EntryState = "failed_unload"
)

// Recoverable reports whether an entry in this state may be set up again
// without user intervention
func (s EntryState) Recoverable() bool {
	switch s {
	case EntryStateNotLoaded, EntryStateUnloaded, EntryStateSetupRetry:
		return true
	}
	return false
}

// FlowSource identifies how a config flow was initiated
type FlowSource string

const (
	SourceUser      FlowSource = "user"
	SourceDiscovery FlowSource = "discovery"
	SourceReauth    FlowSource = "reauth"
	SourceImport    FlowSource = "import"
)

// ConfigEntry is a persisted record of one configured integration instance.
// Data holds credentials and connection settings established by a config
// flow; Options hold user-tunable settings changeable without reauth.
// State is mutated only by the lifecycle manager.
type ConfigEntry struct {
	EntryID    string                 `json:"entry_id" db:"entry_id"`
	Domain     string                 `json:"domain" db:"domain"`
	Title      string                 `json:"title" db:"title"`
	Data       map[string]interface{} `json:"data" db:"-"`
	Options    map[string]interface{} `json:"options" db:"-"`
	UniqueID   string                 `json:"unique_id,omitempty" db:"unique_id"`
	State      EntryState             `json:"state" db:"state"`
	Source     FlowSource             `json:"source" db:"source"`
	DisabledBy string                 `json:"disabled_by,omitempty" db:"disabled_by"`
	Reason     string                 `json:"reason,omitempty" db:"-"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
	ModifiedAt time.Time              `json:"modified_at" db:"modified_at"`
}

// NewConfigEntry creates an entry in the not_loaded state
func NewConfigEntry(domain, title string, data, options map[string]interface{}) *ConfigEntry {
	if data == nil {
		data = make(map[string]interface{})
	}
	if options == nil {
		options = make(map[string]interface{})
	}
	now := time.Now().UTC()
	return &ConfigEntry{
		EntryID:    uuid.New().String(),
		Domain:     domain,
		Title:      title,
		Data:       data,
		Options:    options,
		State:      EntryStateNotLoaded,
		Source:     SourceUser,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// secretKeys are Data/Options keys masked in diagnostics output
var secretKeys = map[string]bool{
	"password":      true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"api_key":       true,
	"secret":        true,
	"pin":           true,
}

// Redacted returns a shallow copy of the entry with secret values in Data
// and Options masked, suitable for diagnostics dumps
func (e *ConfigEntry) Redacted() *ConfigEntry {
	out := *e
	out.Data = Redacted(e.Data)
	out.Options = Redacted(e.Options)
	return &out
}

// Redacted returns a copy of the given map with secret values masked,
// suitable for diagnostics dumps
func Redacted(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if secretKeys[k] {
			out[k] = "**REDACTED**"
			continue
		}
		out[k] = v
	}
	return out
}
