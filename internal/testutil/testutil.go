// Package testutil provides shared test helpers for setting up stores and services.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/pinboard/internal/docstore"
	"github.com/starford/pinboard/internal/noteservice"
	"github.com/starford/pinboard/internal/storage"
	"github.com/starford/pinboard/internal/workspace"
)

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary SQLite document store that is automatically cleaned up.
func TestStore(t *testing.T) *docstore.SQLite {
	t.Helper()
	dbFile, err := os.CreateTemp("", "pinboard-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	store, err := docstore.OpenSQLite(dbFile.Name(), Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TestExports creates a temporary export directory with a storage.Provider.
func TestExports(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	exports, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, exports
}

// TestService builds a board service over a temporary store and export
// directory. notify may be nil.
func TestService(t *testing.T, notify workspace.Notifier) *noteservice.Service {
	t.Helper()
	store := TestStore(t)
	_, exports := TestExports(t)
	spaces := workspace.NewManager(store, notify, Logger(), workspace.Options{})
	t.Cleanup(spaces.Close)
	return noteservice.NewService(spaces, exports)
}
