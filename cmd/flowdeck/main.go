package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"flowdeck/internal/api"
	"flowdeck/internal/command"
	"flowdeck/internal/config"
	"flowdeck/internal/db"
	"flowdeck/internal/global"
	"flowdeck/internal/logging"
	"flowdeck/internal/orderdb"
	"flowdeck/internal/pushconn"
)

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		Setup: setupEnv,
		Out:   os.Stdout,
	})
	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Format: "text", Writer: os.Stderr, Component: "flowdeck"}).Error("flowdeck failed", "err", err)
		os.Exit(1)
	}
}

// setupEnv resolves configuration in order: config.toml, .env and FLOWDECK_*
// variables, then command-line flags.
func setupEnv(_ context.Context, o command.Overrides) (*command.Env, error) {
	if err := config.LoadDotEnv(""); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	configDir, err := global.DefaultConfigDir()
	if err != nil {
		return nil, err
	}
	configStore := global.NewConfigStore(configDir)
	file, err := configStore.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := applyOverrides(config.LoadConfig(configDir, file), o)

	logger := logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Writer:    os.Stderr,
		Component: "flowdeck",
	})

	gdb, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	store, err := orderdb.NewStore(gdb)
	if err != nil {
		return nil, errors.Join(err, db.Close(gdb))
	}

	token := cfg.SessionToken
	if token == "" {
		if token, err = store.LoadSession(cfg.ServerURL); err != nil {
			logger.Warn("stored session unavailable", "server", cfg.ServerURL, "err", err)
			token = ""
		}
	}
	client, err := api.NewClient(cfg.ServerURL,
		api.WithDialer(pushconn.RealDialer{}),
		api.WithSessionToken(token),
		api.WithLogLines(cfg.LogLines),
	)
	if err != nil {
		return nil, errors.Join(err, db.Close(gdb))
	}

	logger.Debug("environment ready", "server", cfg.ServerURL, "queue", cfg.QueueID, "db", cfg.DBPath)
	return &command.Env{
		Config:      cfg,
		Logger:      logger,
		Client:      client,
		Store:       store,
		ConfigStore: configStore,
		Close: func() error {
			return db.Close(gdb)
		},
	}, nil
}

func applyOverrides(cfg config.Config, o command.Overrides) config.Config {
	if v := strings.TrimSpace(o.ServerURL); v != "" {
		cfg.ServerURL = strings.TrimRight(v, "/")
	}
	if v := strings.TrimSpace(o.QueueID); v != "" {
		cfg.QueueID = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(o.LogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if o.LogLines > 0 {
		cfg.LogLines = o.LogLines
	}
	return cfg
}
