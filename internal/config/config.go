package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete docchat configuration
// The structure matches the config.yaml file and can be overridden by environment variables

type Config struct {
	DocChat DocChatConfig `json:"docchat" mapstructure:"docchat"`
}

// DocChatConfig contains the main docchat configuration

type DocChatConfig struct {
	Server   ServerConfig   `json:"server" mapstructure:"server"`
	Auth     AuthConfig     `json:"auth" mapstructure:"auth"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
	Chat     ChatConfig     `json:"chat" mapstructure:"chat"`
	Analysis AnalysisConfig `json:"analysis" mapstructure:"analysis"`
	Storage  StorageConfig  `json:"storage" mapstructure:"storage"`
	Audit    AuditConfig    `json:"audit" mapstructure:"audit"`
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`
}

// ServerConfig contains server-specific configuration

type ServerConfig struct {
	Addr        string   `json:"addr" mapstructure:"addr"`
	Timeout     string   `json:"timeout" mapstructure:"timeout"`
	CORSOrigins []string `json:"cors_origins" mapstructure:"cors_origins"`
}

// AuthConfig contains authentication configuration

type AuthConfig struct {
	Token string `json:"token" mapstructure:"token"`
}

type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
	File  string `json:"file" mapstructure:"file"`
}

// ChatConfig selects and configures the chat transport.
// Provider is one of "agent", "lmstudio" or "echo".

type ChatConfig struct {
	Provider     string `json:"provider" mapstructure:"provider"`
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
	Model        string `json:"model" mapstructure:"model"`
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	MaxTokens    int    `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout      string `json:"timeout" mapstructure:"timeout"`
}

// AnalysisConfig contains document analysis pipeline configuration

type AnalysisConfig struct {
	StepDelay   string   `json:"step_delay" mapstructure:"step_delay"`
	MaxFileSize string   `json:"max_file_size" mapstructure:"max_file_size"`
	Extensions  []string `json:"extensions" mapstructure:"extensions"`
	LLMSummary  bool     `json:"llm_summary" mapstructure:"llm_summary"`
}

// StorageConfig selects where uploaded documents are kept.
// Backend is one of "local" or "minio".

type StorageConfig struct {
	Backend   string      `json:"backend" mapstructure:"backend"`
	LocalPath string      `json:"local_path" mapstructure:"local_path"`
	MinIO     MinIOConfig `json:"minio" mapstructure:"minio"`
}

type MinIOConfig struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	Bucket    string `json:"bucket" mapstructure:"bucket"`
}

// AuditConfig contains the audit log database configuration

type AuditConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Driver  string `json:"driver" mapstructure:"driver"`
	DSN     string `json:"dsn" mapstructure:"dsn"`
}

type SessionsConfig struct {
	IdleTimeout string `json:"idle_timeout" mapstructure:"idle_timeout"`
}

var envKeyReplacer = strings.NewReplacer(".", "_")

// Load loads the configuration from file and environment variables
func Load() (*Config, error) {
	// Load .env first (ignore error if not present)
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.docchat")
	viper.SetEnvPrefix("DOCCHAT")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("no config file found, using defaults")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.DocChat.Storage.LocalPath = resolvePath(cfg.DocChat.Storage.LocalPath)
	cfg.DocChat.Logging.File = resolvePath(cfg.DocChat.Logging.File)
	if cfg.DocChat.Audit.Driver == "sqlite3" {
		cfg.DocChat.Audit.DSN = resolvePath(cfg.DocChat.Audit.DSN)
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("docchat.server.addr", ":8080")
	viper.SetDefault("docchat.server.timeout", "30s")
	viper.SetDefault("docchat.server.cors_origins", []string{"*"})

	viper.SetDefault("docchat.auth.token", "default-secret-token")

	viper.SetDefault("docchat.logging.level", "info")
	viper.SetDefault("docchat.logging.file", "~/.docchat/docchat.log")

	// Chat defaults
	viper.SetDefault("docchat.chat.provider", "lmstudio")
	viper.SetDefault("docchat.chat.endpoint", "http://localhost:1234")
	viper.SetDefault("docchat.chat.model", "local-model")
	viper.SetDefault("docchat.chat.system_prompt", "You are a legal assistant helping the user understand contracts and documents they upload.")
	viper.SetDefault("docchat.chat.max_tokens", 512)
	viper.SetDefault("docchat.chat.timeout", "180s")

	// Analysis defaults
	viper.SetDefault("docchat.analysis.step_delay", "800ms")
	viper.SetDefault("docchat.analysis.max_file_size", "20MB")
	viper.SetDefault("docchat.analysis.extensions", []string{".pdf", ".txt", ".md", ".html", ".htm"})
	viper.SetDefault("docchat.analysis.llm_summary", false)

	// Storage defaults
	viper.SetDefault("docchat.storage.backend", "local")
	viper.SetDefault("docchat.storage.local_path", "~/.docchat/documents")
	viper.SetDefault("docchat.storage.minio.endpoint", "127.0.0.1:9000")
	viper.SetDefault("docchat.storage.minio.access_key", "minioadmin")
	viper.SetDefault("docchat.storage.minio.secret_key", "minioadmin")
	viper.SetDefault("docchat.storage.minio.use_ssl", false)
	viper.SetDefault("docchat.storage.minio.bucket", "docchat-documents")

	// Audit defaults
	viper.SetDefault("docchat.audit.enabled", true)
	viper.SetDefault("docchat.audit.driver", "sqlite3")
	viper.SetDefault("docchat.audit.dsn", "~/.docchat/audit.db")

	viper.SetDefault("docchat.sessions.idle_timeout", "2h")
}

// Duration parses a duration setting, falling back to def when the value is empty or invalid
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

// Bytes parses a human readable size such as "20MB", falling back to def
func Bytes(value string, def int64) int64 {
	if value == "" {
		return def
	}
	n, err := humanize.ParseBytes(value)
	if err != nil {
		return def
	}
	return int64(n)
}

// resolvePath resolves ~ to home directory and cleans the path
func resolvePath(p string) string {
	if p == "" {
		return p
	}
	if p[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return filepath.Clean(p)
}
