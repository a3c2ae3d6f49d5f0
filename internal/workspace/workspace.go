// Package workspace mirrors one user's board from the document store and
// applies board operations against it.
//
// Concurrency model: a single event loop per workspace owns the
// subscription registry and is the only writer of the board. Public
// methods and store callbacks reach it through channels. Readers load the
// current board through an atomic pointer and always see a whole board.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/board"
	"github.com/starford/pinboard/internal/docstore"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/ordering"
)

// ErrClosed is returned by operations on a released workspace.
var ErrClosed = fmt.Errorf("workspace: closed: %w", apperr.ErrUnavailable)

// listsKey is the registry key of the list collection subscription.
// Note subscriptions are keyed by list id, which is never empty.
const listsKey = ""

// Notifier receives board change events and user-facing notices.
// *sse.Broker satisfies it.
type Notifier interface {
	PublishBoardEvent(user, kind string, data any)
	Toast(user, message string)
}

// Options tune workspace behaviour.
type Options struct {
	// MinGap is the smallest adjacent key distance tolerated before a
	// sequence is renumbered.
	MinGap float64
	// DefaultNoteContent is used when a note is added without content.
	DefaultNoteContent string
}

func (o Options) withDefaults() Options {
	if o.MinGap <= 0 {
		o.MinGap = ordering.DefaultMinGap
	}
	if o.DefaultNoteContent == "" {
		o.DefaultNoteContent = "Click to Edit"
	}
	return o
}

// Workspace is one user's live board.
type Workspace struct {
	user   string
	store  docstore.Store
	notify Notifier
	logger *slog.Logger
	opts   Options

	state atomic.Pointer[board.Board]

	cmdCh   chan command
	snapCh  chan snapshotMsg
	ready   chan struct{}
	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool

	// Owned by the event loop.
	subs      map[string]*subscription
	nextToken uint64
	isReady   bool
}

type subscription struct {
	token   uint64
	version uint64
	// minRev is the revision of the last local commit to the collection.
	// Snapshots read before it would revert that write.
	minRev uint64
	cancel func()
}

type snapshotMsg struct {
	key   string
	token uint64
	snap  docstore.Snapshot
}

type command struct {
	fn   func() error
	done chan error
}

// New starts a workspace for user and subscribes it to the user's lists.
func New(user string, store docstore.Store, notify Notifier, logger *slog.Logger, opts Options) (*Workspace, error) {
	if user == "" {
		return nil, fmt.Errorf("workspace: %w", apperr.ErrUnauthenticated)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = nopNotifier{}
	}

	w := &Workspace{
		user:    user,
		store:   store,
		notify:  notify,
		logger:  logger.With(slog.String("user", user)),
		opts:    opts.withDefaults(),
		cmdCh:   make(chan command),
		snapCh:  make(chan snapshotMsg, 16),
		ready:   make(chan struct{}),
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
		subs:    make(map[string]*subscription),
	}
	w.state.Store(&board.Board{})

	go w.run()

	if err := w.do(context.Background(), func() error { return w.watch(listsKey, listsPath(user)) }); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

// User returns the workspace owner.
func (w *Workspace) User() string { return w.user }

// Board returns a copy of the current board.
func (w *Workspace) Board() board.Board {
	return w.state.Load().Clone()
}

// Ready blocks until the first snapshot of the lists and of every list's
// notes has been applied.
func (w *Workspace) Ready(ctx context.Context) error {
	select {
	case <-w.ready:
		return nil
	case <-w.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down every subscription and stops the event loop.
func (w *Workspace) Close() {
	if w.closed.CompareAndSwap(false, true) {
		close(w.stopCh)
	}
	<-w.stopped
}

func (w *Workspace) run() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stopCh:
			for key, s := range w.subs {
				s.cancel()
				delete(w.subs, key)
			}
			return

		case cmd := <-w.cmdCh:
			cmd.done <- cmd.fn()

		case msg := <-w.snapCh:
			w.applySnapshot(msg)
		}
	}
}

// do runs fn on the event loop and returns its error.
func (w *Workspace) do(ctx context.Context, fn func() error) error {
	if w.closed.Load() {
		return ErrClosed
	}
	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case w.cmdCh <- cmd:
	case <-w.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-w.stopped:
		return ErrClosed
	}
}

// watch subscribes the collection under key unless already subscribed.
func (w *Workspace) watch(key, collection string) error {
	if _, ok := w.subs[key]; ok {
		return nil
	}
	w.nextToken++
	token := w.nextToken
	cancel, err := w.store.Subscribe(context.Background(), collection, func(snap docstore.Snapshot) {
		select {
		case w.snapCh <- snapshotMsg{key: key, token: token, snap: snap}:
		case <-w.stopCh:
		}
	})
	if err != nil {
		return fmt.Errorf("workspace: subscribe %s: %w", collection, err)
	}
	w.subs[key] = &subscription{token: token, cancel: cancel}
	return nil
}

func (w *Workspace) unwatch(key string) {
	if s, ok := w.subs[key]; ok {
		s.cancel()
		delete(w.subs, key)
	}
}

func (w *Workspace) watchNotes(listID string) {
	if err := w.watch(listID, notesPath(w.user, listID)); err != nil {
		w.logger.Warn("workspace: watch notes failed",
			slog.String("list", listID),
			slog.String("error", err.Error()))
	}
}

func (w *Workspace) applySnapshot(msg snapshotMsg) {
	s, ok := w.subs[msg.key]
	if !ok || s.token != msg.token {
		// Delivered by a subscription that has since been torn down.
		return
	}
	if msg.snap.Version <= s.version || msg.snap.Rev < s.minRev {
		return
	}
	s.version = msg.snap.Version

	if msg.key == listsKey {
		lists := make([]models.List, len(msg.snap.Docs))
		live := make(map[string]struct{}, len(lists))
		for i, d := range msg.snap.Docs {
			lists[i] = listFromDoc(d)
			live[d.ID] = struct{}{}
		}
		w.mirror(board.ReplaceLists{Lists: lists})

		for key := range w.subs {
			if _, ok := live[key]; !ok && key != listsKey {
				w.unwatch(key)
			}
		}
		for _, l := range lists {
			w.watchNotes(l.ID)
		}
	} else {
		notes := make([]models.Note, len(msg.snap.Docs))
		for i, d := range msg.snap.Docs {
			notes[i] = noteFromDoc(d)
		}
		if err := w.apply(board.ReplaceNotes{ListID: msg.key, Notes: notes}); err != nil {
			w.logger.Debug("workspace: notes snapshot dropped",
				slog.String("list", msg.key),
				slog.String("error", err.Error()))
		}
	}
	w.checkReady()
}

func (w *Workspace) checkReady() {
	if w.isReady {
		return
	}
	for _, s := range w.subs {
		if s.version == 0 {
			return
		}
	}
	if _, ok := w.subs[listsKey]; !ok {
		return
	}
	w.isReady = true
	close(w.ready)
}

// commit writes ops and raises the revision floor of every subscription
// whose collection the batch touched.
func (w *Workspace) commit(ctx context.Context, ops ...docstore.Op) (docstore.Result, error) {
	res, err := w.store.Commit(ctx, ops)
	if err != nil {
		return res, err
	}
	for _, op := range ops {
		parent := op.Path
		if op.Kind != docstore.OpCreate {
			parent, _, _ = docstore.Split(op.Path)
		}
		if s, ok := w.subs[w.keyOf(parent)]; ok && res.Rev > s.minRev {
			s.minRev = res.Rev
		}
	}
	return res, nil
}

// keyOf maps a collection path to its registry key. Unknown paths map to
// a key that is never registered.
func (w *Workspace) keyOf(collection string) string {
	if collection == listsPath(w.user) {
		return listsKey
	}
	listID, ok := strings.CutPrefix(collection, listsPath(w.user)+"/")
	if !ok {
		return "/"
	}
	listID, ok = strings.CutSuffix(listID, "/"+notesColl)
	if !ok || listID == "" {
		return "/"
	}
	return listID
}

// apply installs the result of a on success and leaves the board untouched on error.
func (w *Workspace) apply(a board.Action) error {
	next, err := board.Apply(*w.state.Load(), a)
	if err != nil {
		return err
	}
	w.state.Store(&next)
	return nil
}

// mirror applies a after a committed write. A rejection means the board
// drifted from the store; the next snapshot repairs it.
func (w *Workspace) mirror(a board.Action) {
	if err := w.apply(a); err != nil {
		w.logger.Debug("workspace: mirror update dropped",
			slog.String("action", fmt.Sprintf("%T", a)),
			slog.String("error", err.Error()))
	}
}

// fail reports err to the user and returns it.
func (w *Workspace) fail(notice string, err error) error {
	w.logger.Warn("workspace: "+notice, slog.String("error", err.Error()))
	if !errors.Is(err, apperr.ErrInvalidMove) {
		w.notify.Toast(w.user, notice)
	}
	return err
}

func (w *Workspace) publish(kind string, data any) {
	w.notify.PublishBoardEvent(w.user, kind, data)
}

type nopNotifier struct{}

func (nopNotifier) PublishBoardEvent(string, string, any) {}
func (nopNotifier) Toast(string, string)                  {}
