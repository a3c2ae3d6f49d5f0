package docstore

import (
	"context"
	"log/slog"
	"sync"
)

// loadFunc reads a collection and the store revision observed before reading it.
type loadFunc func(ctx context.Context, collection string) ([]Document, uint64, error)

// hub fans change notifications out to collection subscribers.
//
// Each subscription runs its own goroutine that re-reads the collection
// when marked dirty, so a burst of writes collapses into one snapshot and
// a subscriber always receives the latest state in delivery order.
type hub struct {
	load   loadFunc
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	collection string
	fn         SnapshotFunc
	dirty      chan struct{}
	done       chan struct{}
	once       sync.Once
}

func newHub(load loadFunc, logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &hub{
		load:   load,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

func (h *hub) subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	if err := validate(collection, true); err != nil {
		return nil, err
	}
	s := &subscription{
		collection: collection,
		fn:         fn,
		dirty:      make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	s.dirty <- struct{}{}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	set, ok := h.subs[collection]
	if !ok {
		set = make(map[*subscription]struct{})
		h.subs[collection] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	go h.run(s)

	unsub := func() { h.remove(s) }
	stop := context.AfterFunc(ctx, unsub)
	return func() {
		stop()
		unsub()
	}, nil
}

func (h *hub) run(s *subscription) {
	var version uint64
	for {
		select {
		case <-s.done:
			return
		case <-h.ctx.Done():
			return
		case <-s.dirty:
		}

		docs, rev, err := h.load(h.ctx, s.collection)
		if err != nil {
			h.logger.Warn("docstore: snapshot load failed",
				slog.String("collection", s.collection),
				slog.String("error", err.Error()))
			continue
		}

		select {
		case <-s.done:
			return
		default:
		}
		version++
		s.fn(Snapshot{Collection: s.collection, Version: version, Rev: rev, Docs: docs})
	}
}

func (h *hub) remove(s *subscription) {
	s.once.Do(func() {
		close(s.done)
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[s.collection]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, s.collection)
			}
		}
	})
}

// notify marks every subscriber of the given collections dirty.
func (h *hub) notify(collections ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range collections {
		for s := range h.subs[c] {
			select {
			case s.dirty <- struct{}{}:
			default:
				// Already pending; the next load picks up this change too.
			}
		}
	}
}

// count returns the number of live subscriptions.
func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*subscription
	for _, set := range h.subs {
		for s := range set {
			all = append(all, s)
		}
	}
	h.mu.Unlock()

	h.cancel()
	for _, s := range all {
		h.remove(s)
	}
}

func parentsOf(ops []Op) []string {
	seen := make(map[string]struct{}, len(ops))
	var out []string
	for _, op := range ops {
		p := op.Path
		if op.Kind != OpCreate {
			p, _, _ = Split(op.Path)
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
