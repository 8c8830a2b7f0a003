// Package ormconfig loads the client and server process configuration from
// environment variables, following the env-var > config-file > default
// priority the teacher's internal/syncconfig and internal/api config use.
package ormconfig

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ClientConfig configures an embedding client process.
type ClientConfig struct {
	DBPath       string        `json:"dbPath"`
	ServerURL    string        `json:"serverUrl"`
	NodeName     string        `json:"nodeName"`
	AutoSync     bool          `json:"autoSync"`
	SyncInterval time.Duration `json:"syncInterval"`
	MaxMemoryMb  int           `json:"maxMemoryMb"`
}

// LoadClientConfig reads client configuration from environment variables,
// falling back to the persisted config file, then to defaults.
func LoadClientConfig() ClientConfig {
	cfg := ClientConfig{
		DBPath:       "./ormsync.db",
		ServerURL:    "http://localhost:8080",
		NodeName:     "",
		AutoSync:     true,
		SyncInterval: 5 * time.Second,
		MaxMemoryMb:  50,
	}

	if fileCfg, err := loadClientConfigFile(); err == nil {
		cfg = fileCfg
	}

	if v := os.Getenv("ORMSYNC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ORMSYNC_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("ORMSYNC_NODE_NAME"); v != "" {
		cfg.NodeName = v
	}
	if v := os.Getenv("ORMSYNC_AUTO_SYNC"); v != "" {
		cfg.AutoSync = parseBoolEnv(v, cfg.AutoSync)
	}
	if v := os.Getenv("ORMSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SyncInterval = d
		}
	}
	if v := os.Getenv("ORMSYNC_MAX_MEMORY_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxMemoryMb = n
		}
	}

	return cfg
}

// SaveClientConfig persists cfg to ~/.config/ormsync/config.json.
func SaveClientConfig(cfg ClientConfig) error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "config.json"), b, 0o644)
}

func loadClientConfigFile() (ClientConfig, error) {
	var cfg ClientConfig
	dir, err := configDir()
	if err != nil {
		return cfg, err
	}
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return cfg, err
	}
	err = json.Unmarshal(b, &cfg)
	return cfg, err
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ormsync"), nil
}

// ServerConfig configures the ormsyncd daemon, loaded from environment
// variables with sensible defaults, mirroring internal/api.Config.
type ServerConfig struct {
	ListenAddr      string
	ServerDBPath    string
	ShutdownTimeout time.Duration
	LogFormat       string
	LogLevel        string

	RateLimitPush  int
	RateLimitPull  int
	RateLimitOther int

	CORSAllowedOrigins []string
}

// LoadServerConfig reads ormsyncd configuration from environment variables.
func LoadServerConfig() ServerConfig {
	cfg := ServerConfig{
		ListenAddr:      ":8080",
		ServerDBPath:    "./data/ormsync-server.db",
		ShutdownTimeout: 30 * time.Second,
		LogFormat:       "json",
		LogLevel:        "info",

		RateLimitPush:  60,
		RateLimitPull:  120,
		RateLimitOther: 300,
	}

	if v := os.Getenv("ORMSYNC_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("ORMSYNC_SERVER_DB_PATH"); v != "" {
		cfg.ServerDBPath = v
	}
	if v := os.Getenv("ORMSYNC_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}
	if v := os.Getenv("ORMSYNC_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("ORMSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ORMSYNC_RATE_LIMIT_PUSH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPush = n
		}
	}
	if v := os.Getenv("ORMSYNC_RATE_LIMIT_PULL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitPull = n
		}
	}
	if v := os.Getenv("ORMSYNC_RATE_LIMIT_OTHER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RateLimitOther = n
		}
	}
	if v := os.Getenv("ORMSYNC_CORS_ALLOWED_ORIGINS"); v != "" {
		for _, o := range strings.Split(v, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
			}
		}
	}

	return cfg
}

func parseBoolEnv(v string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
