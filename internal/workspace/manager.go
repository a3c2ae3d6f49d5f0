package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/docstore"
)

// Manager owns the live workspaces, one per user.
type Manager struct {
	store  docstore.Store
	notify Notifier
	logger *slog.Logger
	opts   Options

	mu     sync.Mutex
	spaces map[string]*Workspace
	closed bool
}

// NewManager creates a manager whose workspaces share store and notify.
func NewManager(store docstore.Store, notify Notifier, logger *slog.Logger, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		notify: notify,
		logger: logger,
		opts:   opts,
		spaces: make(map[string]*Workspace),
	}
}

// Open returns user's workspace, starting it if needed, once its initial
// sync has completed.
func (m *Manager) Open(ctx context.Context, user string) (*Workspace, error) {
	w, err := m.get(user)
	if err != nil {
		return nil, err
	}
	if err := w.Ready(ctx); err != nil {
		return nil, fmt.Errorf("workspace: sync %s: %w", user, err)
	}
	return w, nil
}

func (m *Manager) get(user string) (*Workspace, error) {
	if user == "" {
		return nil, fmt.Errorf("workspace: %w", apperr.ErrUnauthenticated)
	}
	if err := ValidateUser(user); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if w, ok := m.spaces[user]; ok {
		return w, nil
	}
	w, err := New(user, m.store, m.notify, m.logger, m.opts)
	if err != nil {
		return nil, err
	}
	m.spaces[user] = w
	m.logger.Info("workspace: opened", slog.String("user", user))
	return w, nil
}

// Release stops user's workspace and drops its subscriptions.
func (m *Manager) Release(user string) {
	m.mu.Lock()
	w, ok := m.spaces[user]
	delete(m.spaces, user)
	m.mu.Unlock()
	if ok {
		w.Close()
		m.logger.Info("workspace: released", slog.String("user", user))
	}
}

// Len returns the number of live workspaces.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.spaces)
}

// Close stops every workspace. Later Open calls fail with ErrClosed.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	spaces := m.spaces
	m.spaces = make(map[string]*Workspace)
	m.mu.Unlock()

	for _, w := range spaces {
		w.Close()
	}
}
