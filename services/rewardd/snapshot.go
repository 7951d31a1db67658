package rewardd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"capsupply/core"
	"capsupply/core/state"
	"capsupply/storage"
)

// OpenDatabase opens the configured state backend.
func OpenDatabase(cfg StorageConfig) (storage.Database, error) {
	if cfg.Backend == BackendMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch cfg.Backend {
	case BackendBolt:
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "state.bolt"), nil)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendLevelDB, "":
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("storage backend %q not supported", cfg.Backend)
	}
}

// Snapshotter periodically persists the engine.
type Snapshotter struct {
	engine   *core.Engine
	manager  *state.Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter builds a snapshotter that saves every interval.
func NewSnapshotter(engine *core.Engine, manager *state.Manager, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Snapshotter{engine: engine, manager: manager, interval: interval, logger: logger}
}

// Run saves on every tick until ctx is cancelled, then saves once more.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Save()
		case <-ticker.C:
			if err := s.Save(); err != nil {
				s.logger.Error("periodic snapshot failed", "error", err)
			}
		}
	}
}

// Save persists the engine once.
func (s *Snapshotter) Save() error {
	if err := s.engine.Save(s.manager); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
