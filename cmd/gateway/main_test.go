package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericksa/docchat/internal/audit"
	"github.com/ericksa/docchat/internal/config"
)

const testToken = "test-secret"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{DocChat: config.DocChatConfig{
		Server:   config.ServerConfig{Addr: ":0", CORSOrigins: []string{"*"}},
		Auth:     config.AuthConfig{Token: testToken},
		Chat:     config.ChatConfig{Provider: "echo"},
		Analysis: config.AnalysisConfig{StepDelay: "0s", MaxFileSize: "1MB"},
		Storage:  config.StorageConfig{Backend: "local", LocalPath: t.TempDir()},
		Audit:    config.AuditConfig{Enabled: true, Driver: "sqlite3", DSN: ":memory:"},
	}}
}

func newTestGateway(t *testing.T) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gw, err := newGateway(context.Background(), testConfig(t), logger)
	require.NoError(t, err)
	t.Cleanup(gw.Close)
	return gw.router()
}

func request(t *testing.T, h http.Handler, method, target, body string, auth bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestGateway_HealthNeedsNoToken(t *testing.T) {
	h := newTestGateway(t)
	w := request(t, h, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestGateway_RequiresToken(t *testing.T) {
	h := newTestGateway(t)
	w := request(t, h, http.MethodPost, "/sessions", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = request(t, h, http.MethodPost, "/sessions?token="+testToken, "", false)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestGateway_ChatIsAudited(t *testing.T) {
	h := newTestGateway(t)

	w := request(t, h, http.MethodPost, "/sessions", "", true)
	require.Equal(t, http.StatusCreated, w.Code)
	var snap struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))

	w = request(t, h, http.MethodPost, "/sessions/"+snap.ID+"/messages", `{"content":"Hello"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "You said: Hello")

	w = request(t, h, http.MethodGet, "/audit?session="+snap.ID, "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string][]audit.AuditEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	var ops []string
	for _, e := range resp["entries"] {
		ops = append(ops, e.Operation)
	}
	assert.Equal(t, []string{"send_message", "create_session"}, ops)

	w = request(t, h, http.MethodGet, "/audit?limit=abc", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGateway_ConfigureMasksToken(t *testing.T) {
	h := newTestGateway(t)
	w := request(t, h, http.MethodGet, "/configure", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), testToken)
}

func TestNewGateway_UnknownProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocChat.Chat.Provider = "carrier-pigeon"
	_, err := newGateway(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
