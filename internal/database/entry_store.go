package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
)

// EntryStore implements types.EntryStore on SQLite. Entry data and options
// are stored as JSON blobs; the coordinator cache is deliberately not
// persisted and is rebuilt from the first fetch after a restart.
type EntryStore struct {
	db *sqlx.DB
}

// NewEntryStore creates a new EntryStore
func NewEntryStore(db *sqlx.DB) *EntryStore {
	return &EntryStore{db: db}
}

// entryRow is the database shape of a config entry
type entryRow struct {
	EntryID    string         `db:"entry_id"`
	Domain     string         `db:"domain"`
	Title      string         `db:"title"`
	Data       string         `db:"data"`
	Options    string         `db:"options"`
	UniqueID   sql.NullString `db:"unique_id"`
	State      string         `db:"state"`
	Source     string         `db:"source"`
	DisabledBy sql.NullString `db:"disabled_by"`
	CreatedAt  time.Time      `db:"created_at"`
	ModifiedAt time.Time      `db:"modified_at"`
}

func (r *entryRow) toEntry() (*types.ConfigEntry, error) {
	entry := &types.ConfigEntry{
		EntryID:    r.EntryID,
		Domain:     r.Domain,
		Title:      r.Title,
		UniqueID:   r.UniqueID.String,
		State:      types.EntryState(r.State),
		Source:     types.FlowSource(r.Source),
		DisabledBy: r.DisabledBy.String,
		CreatedAt:  r.CreatedAt,
		ModifiedAt: r.ModifiedAt,
	}
	if err := json.Unmarshal([]byte(r.Data), &entry.Data); err != nil {
		return nil, fmt.Errorf("failed to decode entry data: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Options), &entry.Options); err != nil {
		return nil, fmt.Errorf("failed to decode entry options: %w", err)
	}
	return entry, nil
}

// List returns all persisted config entries
func (s *EntryStore) List(ctx context.Context) ([]*types.ConfigEntry, error) {
	var rows []entryRow
	query := `SELECT entry_id, domain, title, data, options, unique_id, state, source, disabled_by, created_at, modified_at
		FROM config_entries ORDER BY created_at`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	entries := make([]*types.ConfigEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toEntry()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Get retrieves a config entry by ID, or nil if no such entry exists
func (s *EntryStore) Get(ctx context.Context, entryID string) (*types.ConfigEntry, error) {
	var row entryRow
	query := `SELECT entry_id, domain, title, data, options, unique_id, state, source, disabled_by, created_at, modified_at
		FROM config_entries WHERE entry_id = ?`
	err := s.db.GetContext(ctx, &row, query, entryID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return row.toEntry()
}

// GetByUniqueID retrieves the entry for a domain's unique ID, or nil if
// none is configured
func (s *EntryStore) GetByUniqueID(ctx context.Context, domain, uniqueID string) (*types.ConfigEntry, error) {
	if uniqueID == "" {
		return nil, nil
	}
	var row entryRow
	query := `SELECT entry_id, domain, title, data, options, unique_id, state, source, disabled_by, created_at, modified_at
		FROM config_entries WHERE domain = ? AND unique_id = ?`
	err := s.db.GetContext(ctx, &row, query, domain, uniqueID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry by unique id: %w", err)
	}
	return row.toEntry()
}

// Save creates or updates a config entry
func (s *EntryStore) Save(ctx context.Context, entry *types.ConfigEntry) error {
	data, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to encode entry data: %w", err)
	}
	options, err := json.Marshal(entry.Options)
	if err != nil {
		return fmt.Errorf("failed to encode entry options: %w", err)
	}

	query := `INSERT INTO config_entries
		(entry_id, domain, title, data, options, unique_id, state, source, disabled_by, created_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_id) DO UPDATE SET
			title = excluded.title,
			data = excluded.data,
			options = excluded.options,
			unique_id = excluded.unique_id,
			state = excluded.state,
			disabled_by = excluded.disabled_by,
			modified_at = excluded.modified_at`

	_, err = s.db.ExecContext(ctx, query,
		entry.EntryID, entry.Domain, entry.Title, string(data), string(options),
		nullable(entry.UniqueID), string(entry.State), string(entry.Source),
		nullable(entry.DisabledBy), entry.CreatedAt, entry.ModifiedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// Delete removes a config entry
func (s *EntryStore) Delete(ctx context.Context, entryID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM config_entries WHERE entry_id = ?`, entryID)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("entry not found: %s", entryID)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
