package main

import (
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/odvcencio/steward/pkg/bus"
	"github.com/odvcencio/steward/pkg/config"
	"github.com/odvcencio/steward/pkg/logging"
	"github.com/odvcencio/steward/pkg/storage"
)

// loadConfig loads from an explicit path when given, else from the default
// locations.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func openStore(cfg *config.Config) (*storage.Store, error) {
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.Storage.Path, err)
	}
	return store, nil
}

// newLogger creates the JSONL run logger. Logging failures never stop a
// command; callers get a nop logger on error.
func newLogger(cfg *config.Config) *logging.Logger {
	logger, err := logging.NewLogger(cfg.Logging.Dir, ulid.Make().String())
	if err != nil {
		fmt.Printf("Warning: logging disabled: %v\n", err)
		return logging.NewNopLogger()
	}
	if level, ok := logging.ParseLevel(cfg.Logging.Level); ok {
		logger.SetMinLevel(level)
	}
	return logger
}

// newBus connects to NATS when configured, else uses the in-process bus.
func newBus(cfg *config.Config) (bus.MessageBus, error) {
	if cfg.Bus.URL != "" {
		return bus.NewNATSBus(cfg.Bus.URL, "steward")
	}
	return bus.NewMemoryBus(), nil
}
