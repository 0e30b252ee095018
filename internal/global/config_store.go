package global

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	configTOMLFileName = "config.toml"

	DefaultServerURL              = "http://127.0.0.1:8000"
	defaultPollIntervalSeconds    = 5
	defaultLogPollIntervalSeconds = 3
)

type GlobalConfig struct {
	ServerURL              string `json:"server_url" toml:"server_url"`
	QueueID                string `json:"queue_id,omitempty" toml:"queue_id,omitempty"`
	LogLevel               string `json:"log_level" toml:"log_level"`
	LogFormat              string `json:"log_format" toml:"log_format"`
	PollIntervalSeconds    int    `json:"poll_interval_seconds" toml:"poll_interval_seconds"`
	LogPollIntervalSeconds int    `json:"log_poll_interval_seconds" toml:"log_poll_interval_seconds"`
	LogLines               int    `json:"log_lines" toml:"log_lines"`
}

type ConfigStore struct {
	dir string
}

func NewConfigStore(dir string) *ConfigStore {
	return &ConfigStore{dir: dir}
}

func (s *ConfigStore) Dir() string {
	return s.dir
}

func (s *ConfigStore) Path() string {
	return filepath.Join(s.dir, configTOMLFileName)
}

func (s *ConfigStore) LoadOrInit() (GlobalConfig, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return GlobalConfig{}, err
	}

	path := s.Path()
	if b, err := os.ReadFile(path); err == nil {
		var cfg GlobalConfig
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return GlobalConfig{}, err
		}
		return normalizeConfig(cfg), nil
	} else if !os.IsNotExist(err) {
		return GlobalConfig{}, err
	}

	cfg := normalizeConfig(GlobalConfig{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return GlobalConfig{}, err
	}
	return cfg, nil
}

func (s *ConfigStore) Save(cfg GlobalConfig) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(s.Path(), normalizeConfig(cfg))
}

func normalizeConfig(cfg GlobalConfig) GlobalConfig {
	cfg.ServerURL = strings.TrimRight(strings.TrimSpace(cfg.ServerURL), "/")
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	cfg.QueueID = strings.TrimSpace(cfg.QueueID)

	switch level := strings.ToLower(strings.TrimSpace(cfg.LogLevel)); level {
	case "debug", "info", "warn", "error":
		cfg.LogLevel = level
	case "warning":
		cfg.LogLevel = "warn"
	default:
		cfg.LogLevel = "info"
	}
	switch format := strings.ToLower(strings.TrimSpace(cfg.LogFormat)); format {
	case "json", "text":
		cfg.LogFormat = format
	default:
		cfg.LogFormat = "json"
	}

	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if cfg.LogPollIntervalSeconds <= 0 {
		cfg.LogPollIntervalSeconds = defaultLogPollIntervalSeconds
	}
	if cfg.LogLines < 0 {
		cfg.LogLines = 0
	}
	return cfg
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
