package internal

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/starford/pinboard/internal/api"
	"github.com/starford/pinboard/internal/export"
	"github.com/starford/pinboard/internal/mcpserver"
	"github.com/starford/pinboard/internal/storage"
)

// RunMCP serves user's board to an MCP client over stdio. An empty user
// falls back to auth.local_user.
func RunMCP(ctx context.Context, user string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger, _ := app.newLogger()
	if user == "" {
		user = app.config.Auth.LocalUser
	}

	svcs, err := app.newServices(logger, nil)
	if err != nil {
		return err
	}
	defer svcs.Close(logger)

	logger.Info("MCP server starting", slog.String("user", user))
	srv := mcpserver.New(svcs.svc, user, app.version)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeStdio() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// ExportBoard writes user's board as YAML to out. An empty out writes a
// timestamped file in the current directory. It returns the written path.
func ExportBoard(ctx context.Context, user, out string, opts ...Option) (string, error) {
	app, err := newApplication(opts)
	if err != nil {
		return "", err
	}
	logger, _ := app.newLogger()
	if user == "" {
		user = app.config.Auth.LocalUser
	}
	if out == "" {
		out = export.FileName(time.Now())
	}

	svcs, err := app.newServices(logger, nil)
	if err != nil {
		return "", err
	}
	defer svcs.Close(logger)

	data, sum, err := svcs.svc.Export(ctx, user)
	if err != nil {
		return "", fmt.Errorf("export %s: %w", user, err)
	}

	dir, err := storage.NewFS(filepath.Dir(out))
	if err != nil {
		return "", err
	}
	if err := dir.Write(filepath.Base(out), data); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	logger.Info("Board exported",
		slog.String("user", user),
		slog.String("path", out),
		slog.String("checksum", sum))
	return out, nil
}

// IssueToken signs a bearer token for user with the configured secret.
func IssueToken(user string, ttl time.Duration, opts ...Option) (string, error) {
	app, err := newApplication(opts)
	if err != nil {
		return "", err
	}
	auth := app.config.Auth
	if !auth.AuthEnabled() {
		return "", fmt.Errorf("auth mode is %q: tokens are not used", auth.Mode)
	}
	if ttl == 0 {
		ttl = auth.TokenTTL
	}
	return api.IssueToken(auth.Secret, user, ttl)
}
