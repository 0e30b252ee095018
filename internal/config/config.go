package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"flowdeck/internal/global"
)

type Config struct {
	ServerURL       string
	QueueID         string
	LogLevel        string
	LogFormat       string
	PollInterval    time.Duration
	LogPollInterval time.Duration
	LogLines        int
	ConfigDir       string
	DBPath          string
	SessionToken    string
}

// LoadDotEnv reads KEY=VALUE pairs from path into the environment. Variables
// already set win, and a missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// LoadConfig overlays FLOWDECK_* environment variables on the values from
// config.toml. Command-line flags are applied later by the caller.
func LoadConfig(configDir string, file global.GlobalConfig) Config {
	cfg := Config{
		ServerURL:       file.ServerURL,
		QueueID:         file.QueueID,
		LogLevel:        file.LogLevel,
		LogFormat:       file.LogFormat,
		PollInterval:    time.Duration(file.PollIntervalSeconds) * time.Second,
		LogPollInterval: time.Duration(file.LogPollIntervalSeconds) * time.Second,
		LogLines:        file.LogLines,
		ConfigDir:       configDir,
	}

	if v := env("FLOWDECK_SERVER_URL"); v != "" {
		cfg.ServerURL = strings.TrimRight(v, "/")
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = global.DefaultServerURL
	}
	if v := env("FLOWDECK_QUEUE_ID"); v != "" {
		cfg.QueueID = v
	}
	if v := env("FLOWDECK_LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if v := env("FLOWDECK_LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "json"
	}
	cfg.PollInterval = durationOrDefault(env("FLOWDECK_POLL_INTERVAL"), cfg.PollInterval, 5*time.Second)
	cfg.LogPollInterval = durationOrDefault(env("FLOWDECK_LOG_POLL_INTERVAL"), cfg.LogPollInterval, 3*time.Second)
	if v := env("FLOWDECK_LOG_LINES"); v != "" {
		cfg.LogLines = atoiOrDefault(v, cfg.LogLines)
	}

	cfg.DBPath = env("FLOWDECK_DB_PATH")
	if cfg.DBPath == "" && cfg.ConfigDir != "" {
		cfg.DBPath = filepath.Join(cfg.ConfigDir, "flowdeck.db")
	}
	cfg.SessionToken = env("FLOWDECK_SESSION_TOKEN")
	return cfg
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// durationOrDefault accepts Go durations ("750ms", "5s") or bare seconds.
func durationOrDefault(v string, current, fallback time.Duration) time.Duration {
	if v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
		if n := atoiOrDefault(v, 0); n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	if current > 0 {
		return current
	}
	return fallback
}

func atoiOrDefault(v string, fallback int) int {
	if v == "" {
		return fallback
	}
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return fallback
		}
		n = n*10 + int(v[i]-'0')
	}
	return n
}
