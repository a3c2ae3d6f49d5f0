package docstore

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func testRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := OpenRedis("redis://"+mr.Addr(), slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisContract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := testRedis(t)
		return s
	})
}

func TestRedis_BadURL(t *testing.T) {
	if _, err := OpenRedis("not-a-url", nil); err == nil {
		t.Error("expected error for bad url")
	}
}

func TestRedis_KeyLayout(t *testing.T) {
	s, mr := testRedis(t)
	ctx := context.Background()
	id, err := s.Create(ctx, "users/u1/lists", Fields{"name": "Todo"})
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists(redisDocPrefix + "users/u1/lists/" + id) {
		t.Error("document key missing")
	}
	ok, err := mr.SIsMember(redisCollPrefix+"users/u1/lists", id)
	if err != nil || !ok {
		t.Errorf("collection membership missing: %v", err)
	}
	if rev, err := mr.Get(redisRevKey); err != nil || rev != "1" {
		t.Errorf("revision = %q, %v; want 1", rev, err)
	}
}

func TestRedis_LoadSkipsDanglingMembers(t *testing.T) {
	s, mr := testRedis(t)
	ctx := context.Background()
	id, _ := s.Create(ctx, "users/u1/lists", Fields{"name": "keep"})
	if _, err := mr.SAdd(redisCollPrefix+"users/u1/lists", "dangling"); err != nil {
		t.Fatal(err)
	}

	docs, rev, err := s.load(ctx, "users/u1/lists")
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].ID != id {
		t.Errorf("docs = %+v", docs)
	}
	if rev != 1 {
		t.Errorf("rev = %d, want 1", rev)
	}
}

func TestRedis_ExternalPublishWakesSubscribers(t *testing.T) {
	s, mr := testRedis(t)
	ch, _ := collect(t, s, "users/u1/lists")
	waitSnapshot(t, ch, func(Snapshot) bool { return true })

	// Another process writes directly and announces the change.
	mr.Set(redisDocPrefix+"users/u1/lists/ext", `{"name":"external"}`)
	_, _ = mr.SAdd(redisCollPrefix+"users/u1/lists", "ext")
	mr.Publish(redisChannel, "users/u1/lists")

	snap := waitSnapshot(t, ch, func(s Snapshot) bool { return len(s.Docs) == 1 })
	if snap.Docs[0].Fields.String("name") != "external" {
		t.Errorf("doc = %+v", snap.Docs[0])
	}
}
