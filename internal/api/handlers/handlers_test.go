package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/lumenhub/lumen-backend-go/internal/config"
	"github.com/lumenhub/lumen-backend-go/internal/core/flow"
	"github.com/lumenhub/lumen-backend-go/internal/core/lifecycle"
	"github.com/lumenhub/lumen-backend-go/internal/core/registry"
	"github.com/lumenhub/lumen-backend-go/internal/core/types"
	"github.com/lumenhub/lumen-backend-go/internal/websocket"
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

type noopRegistrar struct{}

func (noopRegistrar) Forward(ctx context.Context, entry *types.ConfigEntry, platform string) error {
	return nil
}
func (noopRegistrar) Unload(ctx context.Context, entry *types.ConfigEntry, platform string) bool {
	return true
}

// echoIntegration is a minimal configurable integration with no coordinator
type echoIntegration struct{}

func (echoIntegration) Domain() string { return "echo" }
func (echoIntegration) SetupEntry(ctx context.Context, entry *types.ConfigEntry) (*types.RuntimeHandle, error) {
	return &types.RuntimeHandle{}, nil
}
func (echoIntegration) Steps(source types.FlowSource) []string { return []string{"user"} }
func (echoIntegration) Schema(stepID string) types.FormSchema {
	return types.FormSchema{Fields: []types.FormField{{Name: "host", Type: "string", Required: true}}}
}
func (echoIntegration) Validate(ctx context.Context, stepID string, input map[string]interface{}) (*types.FlowValidation, error) {
	host, _ := input["host"].(string)
	if host == "" {
		return &types.FlowValidation{Errors: map[string]string{"host": "required"}}, nil
	}
	return &types.FlowValidation{Title: "Echo " + host, UniqueID: host}, nil
}

type apiHarness struct {
	router *gin.Engine
	store  *memoryStore
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.NewTest()

	store := newMemoryStore()
	integrations := registry.NewIntegrationRegistry(log)
	require.NoError(t, integrations.Register(echoIntegration{}))
	entities := registry.NewEntityRegistry(log)

	cfg := &config.Config{}
	cfg.Coordinator = config.CoordinatorConfig{DefaultInterval: "1h", FetchTimeout: "1s", FailureThreshold: 3}

	lcManager := lifecycle.NewManager(integrations, entities, store, noopRegistrar{}, cfg.Coordinator, log)
	flowManager := flow.NewManager(integrations, store, lcManager, log)
	hub := websocket.NewHub(log)

	h := NewHandlers(cfg, log, store, lcManager, flowManager, entities, integrations, hub)

	router := gin.New()
	router.GET("/health", h.Health)
	router.GET("/api/v1/entries", h.ListEntries)
	router.POST("/api/v1/entries", h.CreateEntry)
	router.GET("/api/v1/entries/:id", h.GetEntry)
	router.DELETE("/api/v1/entries/:id", h.DeleteEntry)
	router.POST("/api/v1/entries/:id/reload", h.ReloadEntry)
	router.PUT("/api/v1/entries/:id/options", h.UpdateOptions)
	router.GET("/api/v1/entries/:id/diagnostics", h.GetDiagnostics)
	router.POST("/api/v1/flows", h.StartFlow)
	router.POST("/api/v1/flows/:id", h.AdvanceFlow)
	router.GET("/api/v1/entities", h.ListEntities)

	return &apiHarness{router: router, store: store}
}

func (h *apiHarness) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec, decoded
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])

	data := body["data"].(map[string]interface{})
	assert.Equal(t, "healthy", data["status"])
}

func TestEntriesEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	entry := types.NewConfigEntry("echo", "Echo Device", map[string]interface{}{"host": "10.0.0.2"}, nil)
	require.NoError(t, h.store.Save(context.Background(), entry))

	rec, body := h.do(t, http.MethodGet, "/api/v1/entries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]interface{}), 1)

	rec, body = h.do(t, http.MethodGet, "/api/v1/entries/"+entry.EntryID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	got := body["data"].(map[string]interface{})
	assert.Equal(t, "Echo Device", got["title"])

	rec, _ = h.do(t, http.MethodGet, "/api/v1/entries/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/entries/"+entry.EntryID+"/reload", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodDelete, "/api/v1/entries/"+entry.EntryID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = h.do(t, http.MethodGet, "/api/v1/entries/"+entry.EntryID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEntryImport(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, http.MethodPost, "/api/v1/entries", map[string]interface{}{
		"domain":    "echo",
		"title":     "Imported Echo",
		"data":      map[string]interface{}{"host": "10.0.0.3"},
		"unique_id": "10.0.0.3",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, string(types.SourceImport), data["source"])
	assert.Equal(t, string(types.EntryStateLoaded), data["state"])

	// A second import with the same unique ID is rejected
	rec, _ = h.do(t, http.MethodPost, "/api/v1/entries", map[string]interface{}{
		"domain":    "echo",
		"title":     "Imported Echo",
		"unique_id": "10.0.0.3",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/entries", map[string]interface{}{
		"domain": "nosuch",
		"title":  "Nope",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Title is required
	rec, _ = h.do(t, http.MethodPost, "/api/v1/entries", map[string]interface{}{
		"domain": "echo",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateOptions(t *testing.T) {
	h := newAPIHarness(t)
	entry := types.NewConfigEntry("echo", "Echo Device", nil, nil)
	require.NoError(t, h.store.Save(context.Background(), entry))

	rec, body := h.do(t, http.MethodPut, "/api/v1/entries/"+entry.EntryID+"/options",
		map[string]interface{}{"scan_interval": "30s"})
	assert.Equal(t, http.StatusOK, rec.Code)

	got := body["data"].(map[string]interface{})
	options := got["options"].(map[string]interface{})
	assert.Equal(t, "30s", options["scan_interval"])
}

func TestDiagnosticsRedactsSecrets(t *testing.T) {
	h := newAPIHarness(t)
	entry := types.NewConfigEntry("echo", "Echo Device", map[string]interface{}{
		"host":  "10.0.0.2",
		"token": "super-secret",
	}, nil)
	require.NoError(t, h.store.Save(context.Background(), entry))

	rec, body := h.do(t, http.MethodGet, fmt.Sprintf("/api/v1/entries/%s/diagnostics", entry.EntryID), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	data := body["data"].(map[string]interface{})
	diagEntry := data["entry"].(map[string]interface{})
	entryData := diagEntry["data"].(map[string]interface{})
	assert.Equal(t, "10.0.0.2", entryData["host"])
	assert.Equal(t, "**REDACTED**", entryData["token"])
}

func TestFlowEndpoints(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, http.MethodPost, "/api/v1/flows", map[string]interface{}{"domain": "echo"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "form", data["type"])
	flowID := data["flow_id"].(string)

	// Invalid input re-shows the form with field errors
	rec, body = h.do(t, http.MethodPost, "/api/v1/flows/"+flowID, map[string]interface{}{})
	assert.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, "form", data["type"])
	assert.NotEmpty(t, data["errors"])

	rec, body = h.do(t, http.MethodPost, "/api/v1/flows/"+flowID, map[string]interface{}{"host": "10.0.0.9"})
	assert.Equal(t, http.StatusOK, rec.Code)
	data = body["data"].(map[string]interface{})
	assert.Equal(t, "create_entry", data["type"])

	// The created entry is visible through the entries API
	rec, body = h.do(t, http.MethodGet, "/api/v1/entries", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["data"].([]interface{}), 1)

	rec, _ = h.do(t, http.MethodPost, "/api/v1/flows", map[string]interface{}{"domain": "nosuch"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEntitiesEndpoint(t *testing.T) {
	h := newAPIHarness(t)

	rec, body := h.do(t, http.MethodGet, "/api/v1/entities", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["data"])
}
