package internal

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/pinboard/internal/docstore"
	"github.com/starford/pinboard/internal/noteservice"
	"github.com/starford/pinboard/internal/storage"
	"github.com/starford/pinboard/internal/workspace"
)

var errConfigRequired = errors.New("config is required")

// newLogger installs a JSON logger whose level can change at runtime.
func (a *application) newLogger() (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(a.config.App.LogLevel)
	logger := slog.New(slog.NewJSONHandler(a.logOutput, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, level
}

// openStore connects the configured document store.
func openStore(cfg StoreConfig, logger *slog.Logger) (docstore.Store, error) {
	switch cfg.Driver {
	case StoreDriverRedis:
		s, err := docstore.OpenRedis(cfg.Redis.URL, logger)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		return s, nil
	default:
		s, err := docstore.OpenSQLite(cfg.SQLite.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, nil
	}
}

// openExports returns the export directory provider, or nil when saving
// exports is disabled.
func openExports(dir string) (storage.Provider, error) {
	if dir == "" {
		return nil, nil
	}
	fs, err := storage.NewFS(dir)
	if err != nil {
		return nil, fmt.Errorf("init export dir: %w", err)
	}
	return fs, nil
}

func workspaceOptions(cfg BoardConfig) workspace.Options {
	return workspace.Options{
		MinGap:             cfg.RebalanceMinGap,
		DefaultNoteContent: cfg.DefaultNoteContent,
	}
}

// services are the long-lived parts every command shares.
type services struct {
	store  docstore.Store
	spaces *workspace.Manager
	svc    *noteservice.Service
}

func (a *application) newServices(logger *slog.Logger, notify workspace.Notifier) (*services, error) {
	store, err := openStore(a.config.Store, logger)
	if err != nil {
		return nil, err
	}
	exports, err := openExports(a.config.Board.ExportDir)
	if err != nil {
		store.Close()
		return nil, err
	}
	if exports != nil {
		logger.Info("Saving exports", slog.String("dir", exports.Root()))
	}
	spaces := workspace.NewManager(store, notify, logger, workspaceOptions(a.config.Board))
	return &services{
		store:  store,
		spaces: spaces,
		svc:    noteservice.NewService(spaces, exports),
	}, nil
}

// Close releases every workspace before the store goes away.
func (s *services) Close(logger *slog.Logger) {
	s.spaces.Close()
	if err := s.store.Close(); err != nil {
		logger.Warn("store close failed", slog.String("error", err.Error()))
	}
}
