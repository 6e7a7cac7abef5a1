package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/ericksa/docchat/internal/analysis"
	"github.com/ericksa/docchat/internal/api"
	"github.com/ericksa/docchat/internal/audit"
	"github.com/ericksa/docchat/internal/chat"
	"github.com/ericksa/docchat/internal/config"
	"github.com/ericksa/docchat/internal/contract"
	"github.com/ericksa/docchat/internal/middleware"
	"github.com/ericksa/docchat/internal/session"
	"github.com/ericksa/docchat/internal/storage"
	"github.com/ericksa/docchat/pkg/mcp"
)

// gateway holds everything the HTTP routes need.
type gateway struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    storage.Store
	auditor  *audit.Auditor
	sessions *session.Manager
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, closeLog := config.SetupLogger(cfg.DocChat.Logging)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gw, err := newGateway(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}
	defer gw.Close()

	go gw.sessions.Run(ctx)

	chatTimeout := config.Duration(cfg.DocChat.Chat.Timeout, 180*time.Second)
	srv := &http.Server{
		Addr:        cfg.DocChat.Server.Addr,
		Handler:     gw.router(),
		ReadTimeout: config.Duration(cfg.DocChat.Server.Timeout, 30*time.Second),
		// a chat request waits for the agent's reply
		WriteTimeout: chatTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting docchat gateway", "addr", cfg.DocChat.Server.Addr, "chat_provider", cfg.DocChat.Chat.Provider, "storage", cfg.DocChat.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

// newGateway opens storage and the audit log, picks the chat transport and
// builds the session manager.
func newGateway(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*gateway, error) {
	dc := cfg.DocChat
	gw := &gateway{cfg: cfg, logger: logger}

	store, err := storage.New(ctx, storage.Options{
		Backend:   dc.Storage.Backend,
		LocalPath: dc.Storage.LocalPath,
		MinIO: storage.MinIOConfig{
			Endpoint:  dc.Storage.MinIO.Endpoint,
			AccessKey: dc.Storage.MinIO.AccessKey,
			SecretKey: dc.Storage.MinIO.SecretKey,
			Bucket:    dc.Storage.MinIO.Bucket,
			UseSSL:    dc.Storage.MinIO.UseSSL,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open document storage: %w", err)
	}
	gw.store = store

	var recorder session.Recorder
	if dc.Audit.Enabled {
		gw.auditor, err = audit.Open(dc.Audit.Driver, dc.Audit.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		recorder = gw.auditor
	}

	transport, err := chat.New(chat.Options{
		Provider:     dc.Chat.Provider,
		Endpoint:     dc.Chat.Endpoint,
		Model:        dc.Chat.Model,
		APIKey:       dc.Chat.APIKey,
		SystemPrompt: dc.Chat.SystemPrompt,
		MaxTokens:    dc.Chat.MaxTokens,
		Timeout:      config.Duration(dc.Chat.Timeout, 180*time.Second),
		Logger:       logger,
	})
	if err != nil {
		gw.Close()
		return nil, err
	}

	analyzer := contract.NewAnalyzer(logger)
	if dc.Analysis.LLMSummary {
		if caller, ok := transport.(contract.LLMCaller); ok {
			analyzer.SetLLMCaller(caller)
		} else {
			logger.Warn("chat provider cannot write summaries, using generated summaries", "provider", dc.Chat.Provider)
		}
	}

	trackerOpts := analysis.TrackerOptions{
		StepDelay:   config.Duration(dc.Analysis.StepDelay, 800*time.Millisecond),
		MaxFileSize: config.Bytes(dc.Analysis.MaxFileSize, 20<<20),
		Extensions:  dc.Analysis.Extensions,
		Store:       store,
		Logger:      logger,
	}
	gw.sessions = session.NewManager(transport, func() session.Tracker {
		return analysis.NewTracker(analyzer, trackerOpts)
	}, session.ManagerOptions{
		IdleTimeout: config.Duration(dc.Sessions.IdleTimeout, 2*time.Hour),
		Logger:      logger,
		Recorder:    recorder,
	})
	return gw, nil
}

func (gw *gateway) router() http.Handler {
	router := mux.NewRouter()
	configAPI := config.NewConfigAPI(gw.cfg)
	middleware.Register(router, gw.cfg, configAPI.AuthToken, gw.logger)

	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/audit", gw.auditHandler).Methods("GET")

	var recorder session.Recorder
	if gw.auditor != nil {
		recorder = gw.auditor
	}
	router.PathPrefix("/mcp").Handler(mcp.NewHandler(gw.sessions, recorder, gw.logger))
	router.PathPrefix("/configure").Handler(configAPI.Router())

	api.NewServer(gw.sessions, api.Options{
		Store:         gw.store,
		MaxUploadSize: config.Bytes(gw.cfg.DocChat.Analysis.MaxFileSize, 20<<20),
		Logger:        gw.logger,
	}).Register(router)

	return router
}

func (gw *gateway) Close() {
	if gw.sessions != nil {
		gw.sessions.Close()
	}
	if gw.auditor != nil {
		if err := gw.auditor.Close(); err != nil {
			gw.logger.Warn("failed to close audit log", "error", err)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// auditHandler lists recent audit entries, optionally for one session.
func (gw *gateway) auditHandler(w http.ResponseWriter, r *http.Request) {
	if gw.auditor == nil {
		http.Error(w, "audit log disabled", http.StatusNotFound)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	var (
		entries []audit.AuditEntry
		err     error
	)
	if id := r.URL.Query().Get("session"); id != "" {
		entries, err = gw.auditor.SessionLogs(id, limit)
	} else {
		entries, err = gw.auditor.GetLogs(limit)
	}
	if err != nil {
		middleware.LoggerFromContext(r.Context(), gw.logger).Error("failed to read audit log", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]audit.AuditEntry{"entries": entries})
}
