package internal

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/api"
	"github.com/starford/pinboard/internal/export"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.App.LogLevel = slog.LevelError
	cfg.Store.SQLite.Path = filepath.Join(dir, "board.db")
	cfg.Board.ExportDir = filepath.Join(dir, "exports")
	return cfg
}

func TestRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err != errConfigRequired {
		t.Errorf("Run err = %v", err)
	}
	if _, err := ExportBoard(context.Background(), "u", ""); err != errConfigRequired {
		t.Errorf("ExportBoard err = %v", err)
	}
}

func TestExportBoard(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	// Seed the store through the same services the command uses.
	app, err := newApplication([]Option{WithConfig(cfg), WithLogOutput(io.Discard)})
	if err != nil {
		t.Fatal(err)
	}
	logger, _ := app.newLogger()
	svcs, err := app.newServices(logger, nil)
	if err != nil {
		t.Fatal(err)
	}
	l, err := svcs.svc.AddList(ctx, "alice", "Books")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svcs.svc.AddNote(ctx, "alice", l.ID, "Dune"); err != nil {
		t.Fatal(err)
	}
	svcs.Close(logger)

	out := filepath.Join(t.TempDir(), "nested", "alice.yaml")
	path, err := ExportBoard(ctx, "alice", out, WithConfig(cfg), WithLogOutput(io.Discard))
	if err != nil {
		t.Fatal(err)
	}
	if path != out {
		t.Errorf("path = %q", path)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := export.Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if doc.User != "alice" || len(doc.Lists) != 1 || doc.Lists[0].Notes[0].Content != "Dune" {
		t.Errorf("export = %+v", doc)
	}
}

func TestIssueToken(t *testing.T) {
	cfg := testConfig(t)
	if _, err := IssueToken("alice", 0, WithConfig(cfg)); err == nil || !strings.Contains(err.Error(), "not used") {
		t.Errorf("disabled auth err = %v", err)
	}

	cfg.Auth.Mode = AuthModeJWT
	cfg.Auth.Secret = "s3cret"
	token, err := IssueToken("alice", time.Minute, WithConfig(cfg))
	if err != nil {
		t.Fatal(err)
	}
	user, err := api.ParseToken("s3cret", token)
	if err != nil || user != "alice" {
		t.Errorf("ParseToken = %q, %v", user, err)
	}
}
