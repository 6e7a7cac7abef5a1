package config

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"
)

var bucketNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	// Validate server configuration
	if c.DocChat.Server.Addr == "" {
		return errors.New("server address cannot be empty")
	}

	// Validate address format and port
	if _, err := net.ResolveTCPAddr("tcp", c.DocChat.Server.Addr); err != nil {
		return fmt.Errorf("invalid server address: %v", err)
	}

	// Validate auth configuration
	if c.DocChat.Auth.Token == "" {
		return errors.New("auth token cannot be empty")
	}

	if _, err := parseLevel(c.DocChat.Logging.Level); err != nil {
		return err
	}

	// Validate chat configuration
	switch c.DocChat.Chat.Provider {
	case "agent", "lmstudio":
		if c.DocChat.Chat.Endpoint == "" {
			return fmt.Errorf("chat endpoint cannot be empty for provider %s", c.DocChat.Chat.Provider)
		}
	case "echo":
	default:
		return fmt.Errorf("unknown chat provider: %q", c.DocChat.Chat.Provider)
	}

	// Validate analysis configuration
	for _, d := range []string{c.DocChat.Analysis.StepDelay, c.DocChat.Chat.Timeout, c.DocChat.Sessions.IdleTimeout} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration %q: %v", d, err)
		}
	}
	if Bytes(c.DocChat.Analysis.MaxFileSize, -1) <= 0 {
		return fmt.Errorf("invalid analysis max_file_size: %q", c.DocChat.Analysis.MaxFileSize)
	}
	for _, ext := range c.DocChat.Analysis.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("analysis extension must start with a dot: %q", ext)
		}
	}

	// Validate storage configuration
	switch c.DocChat.Storage.Backend {
	case "local":
		if c.DocChat.Storage.LocalPath == "" {
			return errors.New("storage local_path cannot be empty when backend is local")
		}
	case "minio":
		m := c.DocChat.Storage.MinIO
		if m.Endpoint == "" {
			return errors.New("minio endpoint cannot be empty when backend is minio")
		}
		if m.AccessKey == "" {
			return errors.New("minio access key cannot be empty when backend is minio")
		}
		if m.SecretKey == "" {
			return errors.New("minio secret key cannot be empty when backend is minio")
		}
		if !isValidBucketName(m.Bucket) {
			return fmt.Errorf("invalid minio bucket name: %s", m.Bucket)
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.DocChat.Storage.Backend)
	}

	// Validate audit configuration
	if c.DocChat.Audit.Enabled {
		switch c.DocChat.Audit.Driver {
		case "sqlite3", "postgres":
		default:
			return fmt.Errorf("unsupported audit driver: %q", c.DocChat.Audit.Driver)
		}
		if c.DocChat.Audit.DSN == "" {
			return errors.New("audit dsn cannot be empty when audit is enabled")
		}
	}

	return nil
}

// isValidBucketName checks if a bucket name is valid according to MinIO/S3 rules
func isValidBucketName(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return bucketNamePattern.MatchString(name)
}
