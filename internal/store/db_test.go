package store_test

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentdb/segment/internal/protocol"
	"github.com/segmentdb/segment/internal/shutdown"
	"github.com/segmentdb/segment/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDatabaseCreateAndDrop(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())

	created := db.Create([]byte("ks"), store.EvictorNop, false)
	if created.Tag != protocol.TagBoolean || !created.Bool {
		t.Fatalf("Create = %+v, want true", created)
	}

	dup := db.Create([]byte("ks"), store.EvictorNop, false)
	if dup.Tag != protocol.TagError {
		t.Fatalf("duplicate Create = %+v, want Error", dup)
	}

	dupIfNotExists := db.Create([]byte("ks"), store.EvictorNop, true)
	if dupIfNotExists.Tag != protocol.TagBoolean || dupIfNotExists.Bool {
		t.Fatalf("duplicate Create with ifNotExists = %+v, want false", dupIfNotExists)
	}

	dropped := db.Drop([]byte("ks"), false)
	if dropped.Tag != protocol.TagBoolean || !dropped.Bool {
		t.Fatalf("Drop = %+v, want true", dropped)
	}

	missing := db.Drop([]byte("ks"), false)
	if missing.Tag != protocol.TagError {
		t.Fatalf("Drop of missing keyspace = %+v, want Error", missing)
	}

	missingIfExists := db.Drop([]byte("ks"), true)
	if missingIfExists.Tag != protocol.TagBoolean || missingIfExists.Bool {
		t.Fatalf("Drop of missing keyspace with ifExists = %+v, want false", missingIfExists)
	}

	n.Shutdown()
	db.Wait()
}

func TestDatabaseDropTerminatesEvictors(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())

	db.Create([]byte("ks"), store.EvictorNop, false)
	db.Drop([]byte("ks"), false)

	done := make(chan struct{})
	go func() {
		db.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("evictor goroutines did not exit after Drop")
	}
}

func TestDatabaseKeyspaces(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())

	db.Create([]byte("a"), store.EvictorNop, false)
	db.Create([]byte("b"), store.EvictorNop, false)

	got := db.Keyspaces()
	if got.Tag != protocol.TagArray || len(got.Items) != 2 {
		t.Fatalf("Keyspaces = %+v, want 2 items", got)
	}

	n.Shutdown()
	db.Wait()
}

func TestDatabaseSetGetDelAgainstMissingKeyspace(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())

	if got := db.Set([]byte("absent"), []byte("k"), []byte("v"), nil, false, false); got.Tag != protocol.TagError {
		t.Fatalf("Set against missing keyspace = %+v, want Error", got)
	}
	if got := db.Get([]byte("absent"), []byte("k")); got.Tag != protocol.TagError {
		t.Fatalf("Get against missing keyspace = %+v, want Error", got)
	}
	if got := db.Del([]byte("absent"), []byte("k")); got.Tag != protocol.TagError {
		t.Fatalf("Del against missing keyspace = %+v, want Error", got)
	}
	if got := db.Count([]byte("absent")); got.Tag != protocol.TagError {
		t.Fatalf("Count against missing keyspace = %+v, want Error", got)
	}
	if got := db.Ttl([]byte("absent"), []byte("k")); got.Tag != protocol.TagError {
		t.Fatalf("Ttl against missing keyspace = %+v, want Error", got)
	}
}

func TestDatabaseSetGetDispatch(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())
	db.Create([]byte("ks"), store.EvictorNop, false)

	set := db.Set([]byte("ks"), []byte("k"), []byte("v"), nil, false, false)
	if set.Tag != protocol.TagBoolean || !set.Bool {
		t.Fatalf("Set = %+v", set)
	}

	get := db.Get([]byte("ks"), []byte("k"))
	if get.Tag != protocol.TagString || string(get.Str) != "v" {
		t.Fatalf("Get = %+v", get)
	}

	count := db.Count([]byte("ks"))
	if count.Int != 1 {
		t.Fatalf("Count = %d, want 1", count.Int)
	}

	del := db.Del([]byte("ks"), []byte("k"))
	if del.Tag != protocol.TagBoolean || !del.Bool {
		t.Fatalf("Del = %+v", del)
	}

	n.Shutdown()
	db.Wait()
}

func TestDatabaseSetIfExistsIfNotExistsDispatch(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())
	db.Create([]byte("ks"), store.EvictorNop, false)

	first := db.Set([]byte("ks"), []byte("k"), []byte("v1"), nil, false, true)
	if first.Tag != protocol.TagBoolean || !first.Bool {
		t.Fatalf("Set ifNotExists on absent key = %+v, want true", first)
	}
	second := db.Set([]byte("ks"), []byte("k"), []byte("v2"), nil, false, true)
	if second.Tag != protocol.TagBoolean || second.Bool {
		t.Fatalf("Set ifNotExists on present key = %+v, want false", second)
	}

	replace := db.Set([]byte("ks"), []byte("k"), []byte("v3"), nil, true, false)
	if replace.Tag != protocol.TagBoolean || !replace.Bool {
		t.Fatalf("Set ifExists on present key = %+v, want true", replace)
	}

	n.Shutdown()
	db.Wait()
}

func TestDatabasePing(t *testing.T) {
	n := shutdown.New()
	defer n.Shutdown()
	db := store.New(0, nil, n, testLogger())

	got := db.Ping()
	if got.Tag != protocol.TagString || string(got.Str) != "PONG" {
		t.Fatalf("Ping = %+v, want String(PONG)", got)
	}
}
