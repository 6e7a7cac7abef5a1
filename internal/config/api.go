package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

// ConfigAPI provides HTTP endpoints to view, validate and reload configuration
type ConfigAPI struct {
	cfg    *Config
	mu     sync.RWMutex
	router *mux.Router
	load   func() (*Config, error)
}

func NewConfigAPI(cfg *Config) *ConfigAPI {
	api := &ConfigAPI{
		cfg:    cfg,
		router: mux.NewRouter(),
		load:   Load,
	}
	api.routes()
	return api
}

func (api *ConfigAPI) Router() *mux.Router {
	return api.router
}

// AuthToken returns the current auth token, including one applied by a
// reload.
func (api *ConfigAPI) AuthToken() string {
	api.mu.RLock()
	defer api.mu.RUnlock()
	return api.cfg.DocChat.Auth.Token
}

func (api *ConfigAPI) routes() {
	api.router.HandleFunc("/configure", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/", api.getConfig).Methods("GET")
	api.router.HandleFunc("/configure/reload", api.reloadConfig).Methods("POST")
	api.router.HandleFunc("/configure/validate", api.validateConfig).Methods("POST")
	api.router.HandleFunc("/configure/{section}", api.getSection).Methods("GET")
}

func (api *ConfigAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	writeJSON(w, api.safeConfigCopy())
}

// reloadConfig re-reads config.yaml and the environment. The auth token takes
// effect immediately through AuthToken; other settings need a restart.
func (api *ConfigAPI) reloadConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.Lock()
	defer api.mu.Unlock()
	reloadedCfg, err := api.load()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to reload config: %v", err), http.StatusInternalServerError)
		return
	}
	if err := reloadedCfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	*api.cfg = *reloadedCfg
	writeJSON(w, api.safeConfigCopy())
}

func (api *ConfigAPI) validateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]interface{}{"valid": true, "message": "configuration is valid"})
}

func (api *ConfigAPI) getSection(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	safe := api.safeConfigCopy().DocChat
	var section interface{}

	switch mux.Vars(r)["section"] {
	case "server":
		section = safe.Server
	case "logging":
		section = safe.Logging
	case "chat":
		section = safe.Chat
	case "analysis":
		section = safe.Analysis
	case "storage":
		section = safe.Storage
	case "audit":
		section = safe.Audit
	case "sessions":
		section = safe.Sessions
	default:
		http.Error(w, fmt.Sprintf("unknown section: %s", mux.Vars(r)["section"]), http.StatusNotFound)
		return
	}

	writeJSON(w, section)
}

func (api *ConfigAPI) safeConfigCopy() *Config {
	bytes, _ := json.Marshal(api.cfg)
	var copyCfg Config
	json.Unmarshal(bytes, &copyCfg)
	mask := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	mask(&copyCfg.DocChat.Auth.Token)
	mask(&copyCfg.DocChat.Chat.APIKey)
	mask(&copyCfg.DocChat.Storage.MinIO.AccessKey)
	mask(&copyCfg.DocChat.Storage.MinIO.SecretKey)
	if copyCfg.DocChat.Audit.Driver == "postgres" {
		mask(&copyCfg.DocChat.Audit.DSN)
	}
	return &copyCfg
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
