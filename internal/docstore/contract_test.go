package docstore

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/apperr"
)

// waitSnapshot returns the first snapshot from ch that satisfies ok.
func waitSnapshot(t *testing.T, ch <-chan Snapshot, ok func(Snapshot) bool) Snapshot {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case snap := <-ch:
			if ok(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal("timeout waiting for snapshot")
			return Snapshot{}
		}
	}
}

func collect(t *testing.T, s Store, collection string) (<-chan Snapshot, func()) {
	t.Helper()
	ch := make(chan Snapshot, 64)
	unsub, err := s.Subscribe(context.Background(), collection, func(snap Snapshot) {
		ch <- snap
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	t.Cleanup(unsub)
	return ch, unsub
}

func docIDs(snap Snapshot) []string {
	out := make([]string, len(snap.Docs))
	for i, d := range snap.Docs {
		out[i] = d.ID
	}
	sort.Strings(out)
	return out
}

// runStoreContract exercises the behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()
	const lists = "users/u1/lists"

	t.Run("CreateUpdateDelete", func(t *testing.T) {
		s := newStore(t)
		id, err := s.Create(ctx, lists, Fields{"name": "Todo", "isEditable": false, "index": 0})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if id == "" {
			t.Fatal("empty id")
		}
		path := Join(lists, id)
		if err := s.Update(ctx, path, Fields{"name": "Doing"}); err != nil {
			t.Fatalf("Update: %v", err)
		}

		ch, _ := collect(t, s, lists)
		snap := waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Docs) == 1 })
		f := snap.Docs[0].Fields
		if f.String("name") != "Doing" {
			t.Errorf("name = %q, want Doing", f.String("name"))
		}
		if f.Float("index") != 0 || f.Bool("isEditable") {
			t.Errorf("untouched fields changed: %+v", f)
		}

		if err := s.Delete(ctx, path); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, path); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("second delete err = %v, want ErrNotFound", err)
		}
		waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Docs) == 0 })
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.Update(ctx, Join(lists, "ghost"), Fields{"name": "x"})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("InvalidPaths", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Create(ctx, "users/u1", Fields{}); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("create under document path: err = %v", err)
		}
		if err := s.Update(ctx, lists, Fields{}); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("update collection path: err = %v", err)
		}
		if _, err := s.Subscribe(ctx, "users//lists", func(Snapshot) {}); !errors.Is(err, ErrInvalidPath) {
			t.Errorf("subscribe empty segment: err = %v", err)
		}
	})

	t.Run("CommitIsAtomic", func(t *testing.T) {
		s := newStore(t)
		src := Join(lists, "A", "notes")
		dst := Join(lists, "B", "notes")
		id, err := s.Create(ctx, src, Fields{"content": "hello", "index": 5})
		if err != nil {
			t.Fatal(err)
		}

		// Failing batch: the delete target does not exist, so the create
		// must not land either.
		_, err = s.Commit(ctx, []Op{
			CreateOp(dst, Fields{"content": "hello", "index": 0}),
			DeleteOp(Join(src, "missing")),
		})
		if !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}

		dstCh, _ := collect(t, s, dst)
		snap := waitSnapshot(t, dstCh, func(Snapshot) bool { return true })
		if len(snap.Docs) != 0 {
			t.Fatalf("failed batch leaked %d docs", len(snap.Docs))
		}

		res, err := s.Commit(ctx, []Op{
			CreateOp(dst, Fields{"content": "hello", "index": 0}),
			DeleteOp(Join(src, id)),
		})
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		ids := res.IDs
		if len(ids) != 2 || ids[0] == "" || ids[1] != "" {
			t.Fatalf("ids = %v", ids)
		}
		if res.Rev == 0 {
			t.Error("commit reported revision 0")
		}
		snap = waitSnapshot(t, dstCh, func(s Snapshot) bool { return len(s.Docs) == 1 })
		if snap.Docs[0].ID != ids[0] || snap.Docs[0].Fields.String("content") != "hello" {
			t.Errorf("moved doc = %+v", snap.Docs[0])
		}
		if snap.Rev < res.Rev {
			t.Errorf("snapshot rev %d older than commit rev %d", snap.Rev, res.Rev)
		}

		srcCh, _ := collect(t, s, src)
		waitSnapshot(t, srcCh, func(s Snapshot) bool { return len(s.Docs) == 0 })
	})

	t.Run("SubscribeInitialAndChanges", func(t *testing.T) {
		s := newStore(t)
		ch, unsub := collect(t, s, lists)

		first := waitSnapshot(t, ch, func(Snapshot) bool { return true })
		if len(first.Docs) != 0 {
			t.Fatalf("initial snapshot has %d docs", len(first.Docs))
		}

		a, _ := s.Create(ctx, lists, Fields{"name": "a"})
		b, _ := s.Create(ctx, lists, Fields{"name": "b"})
		snap := waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Docs) == 2 })
		if snap.Version <= first.Version {
			t.Errorf("version did not increase: %d -> %d", first.Version, snap.Version)
		}
		got := docIDs(snap)
		want := []string{a, b}
		sort.Strings(want)
		if got[0] != want[0] || got[1] != want[1] {
			t.Errorf("ids = %v, want %v", got, want)
		}

		// Writes to other collections do not wake this subscriber.
		_, _ = s.Create(ctx, "users/u2/lists", Fields{"name": "other"})

		unsub()
		_, _ = s.Create(ctx, lists, Fields{"name": "c"})
		select {
		case snap := <-ch:
			if len(snap.Docs) == 3 {
				t.Error("snapshot delivered after unsubscribe")
			}
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("ContextCancelUnsubscribes", func(t *testing.T) {
		s := newStore(t)
		cctx, cancel := context.WithCancel(ctx)
		ch := make(chan Snapshot, 16)
		if _, err := s.Subscribe(cctx, lists, func(snap Snapshot) { ch <- snap }); err != nil {
			t.Fatal(err)
		}
		waitSnapshot(t, ch, func(Snapshot) bool { return true })
		cancel()
		time.Sleep(50 * time.Millisecond)
		_, _ = s.Create(ctx, lists, Fields{"name": "late"})
		select {
		case <-ch:
			t.Error("snapshot delivered after context cancel")
		case <-time.After(200 * time.Millisecond):
		}
	})

	t.Run("MalformedFieldsDefault", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, lists, Fields{"name": 42, "index": "high"})
		if err != nil {
			t.Fatal(err)
		}
		ch, _ := collect(t, s, lists)
		snap := waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Docs) == 1 })
		f := snap.Docs[0].Fields
		if f.String("name") != "" || f.Float("index") != 0 || f.Bool("isEditable") {
			t.Errorf("malformed fields did not default: %+v", f)
		}
	})
}
