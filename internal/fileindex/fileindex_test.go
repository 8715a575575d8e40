package fileindex

import (
	"context"
	"testing"

	"github.com/anton-mishchenko/p2p-tracker/internal/peertable"
	"github.com/anton-mishchenko/p2p-tracker/internal/storage"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
)

func newTestIndex(t *testing.T, maxFiles int) (*Index, *peertable.Table) {
	t.Helper()
	store, err := storage.Open(context.Background(), storage.Options{Path: t.TempDir() + "/test.db"})
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.InsertUser(context.Background(), "alice", "hash", "10.0.0.1", 1052); err != nil {
		t.Fatalf("insert alice: %v", err)
	}
	if err := store.InsertUser(context.Background(), "bob", "hash", "10.0.0.2", 1053); err != nil {
		t.Fatalf("insert bob: %v", err)
	}
	tbl := peertable.New(10)
	return New(tbl, store, maxFiles, nil), tbl
}

// TestRegisterAndList covers seed scenario 1: a registered file shows up in
// the owner's List.
func TestRegisterAndList(t *testing.T) {
	idx, tbl := newTestIndex(t, 10)
	_ = tbl.Add("alice", "tok")
	ctx := context.Background()

	if tag, err := idx.Register(ctx, "tok", "alice", "song", "mp3", "/music/song.mp3", 4096); err != nil || tag != tags.OK {
		t.Fatalf("Register: tag=%s err=%v", tag, err)
	}

	tag, entries, err := idx.List(ctx, "tok", "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if tag != tags.OK {
		t.Fatalf("expected OK, got %s", tag)
	}
	if len(entries) != 1 || entries[0].Name != "song" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

// TestListEmptyIs404 covers the empty-catalog branch of List.
func TestListEmptyIs404(t *testing.T) {
	idx, tbl := newTestIndex(t, 10)
	_ = tbl.Add("alice", "tok")

	tag, entries, err := idx.List(context.Background(), "tok", "alice")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if tag != tags.NotFound || entries != nil {
		t.Fatalf("expected 404/nil, got tag=%s entries=%v", tag, entries)
	}
}

// TestRegisterRejectsDuplicateAndQuota covers seed scenario 6 and the COPY
// branch. The quota is checked before the duplicate tuple, so the COPY case
// runs while the owner is still under quota.
func TestRegisterRejectsDuplicateAndQuota(t *testing.T) {
	idx, tbl := newTestIndex(t, 2)
	_ = tbl.Add("alice", "tok")
	ctx := context.Background()

	if tag, _ := idx.Register(ctx, "tok", "alice", "song", "mp3", "/music/song.mp3", 4096); tag != tags.OK {
		t.Fatalf("expected OK on first register, got %s", tag)
	}
	if tag, _ := idx.Register(ctx, "tok", "alice", "song", "mp3", "/music/song.mp3", 4096); tag != tags.Copy {
		t.Fatalf("expected COPY on duplicate tuple, got %s", tag)
	}
	if tag, _ := idx.Register(ctx, "tok", "alice", "second", "mp3", "/music/second.mp3", 1); tag != tags.OK {
		t.Fatalf("expected OK on second distinct register, got %s", tag)
	}
	if tag, _ := idx.Register(ctx, "tok", "alice", "other", "mp3", "/music/other.mp3", 1); tag != tags.Full {
		t.Fatalf("expected FULL once quota is exhausted, got %s", tag)
	}
}

// TestSearchExcludesRequesterAndFiltersInactiveOwners covers seed scenario 4:
// the central coupling point between the durable catalog and ephemeral
// liveness.
func TestSearchExcludesRequesterAndFiltersInactiveOwners(t *testing.T) {
	idx, tbl := newTestIndex(t, 10)
	_ = tbl.Add("alice", "tok-a")
	ctx := context.Background()

	if tag, _ := idx.Register(ctx, "tok-a", "alice", "sunset", "jpg", "/pics/sunset.jpg", 2048); tag != tags.OK {
		t.Fatalf("register alice file: %s", tag)
	}

	// bob is not yet in the Active Peer Table: his file must not surface.
	if _, quotaExceeded, duplicate, err := idx.storage.RegisterFileTx(ctx, "bob", "sunrise", "jpg", "/pics/sunrise.jpg", 2048, 10, randomFileID); err != nil || quotaExceeded || duplicate {
		t.Fatalf("register bob file: err=%v quota=%v dup=%v", err, quotaExceeded, duplicate)
	}

	tag, entries, err := idx.Search(ctx, "tok-a", "alice", "sun")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if tag != tags.NotFound || len(entries) != 0 {
		t.Fatalf("expected 404 while bob is inactive and alice's own rows excluded, got tag=%s entries=%+v", tag, entries)
	}

	_ = tbl.Add("bob", "tok-b")
	tag, entries, err = idx.Search(ctx, "tok-a", "alice", "sun")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if tag != tags.OK || len(entries) != 1 || entries[0].Owner != "bob" {
		t.Fatalf("expected bob's file once active, got tag=%s entries=%+v", tag, entries)
	}
}

// TestHostLookupFiltersInactiveAndExcludesRequester covers seed scenario 5.
func TestHostLookupFiltersInactiveAndExcludesRequester(t *testing.T) {
	idx, tbl := newTestIndex(t, 10)
	_ = tbl.Add("alice", "tok-a")
	_ = tbl.Add("bob", "tok-b")
	ctx := context.Background()

	fileID, quotaExceeded, duplicate, err := idx.storage.RegisterFileTx(ctx, "bob", "movie", "mkv", "/vids/movie.mkv", 10240, 10, randomFileID)
	if err != nil || quotaExceeded || duplicate {
		t.Fatalf("register bob file: err=%v quota=%v dup=%v", err, quotaExceeded, duplicate)
	}

	tag, hosts, err := idx.HostLookup(ctx, "tok-a", "alice", fileID)
	if err != nil {
		t.Fatalf("HostLookup: %v", err)
	}
	if tag != tags.OK || len(hosts) != 1 || hosts[0].IP != "10.0.0.2" {
		t.Fatalf("unexpected hosts: tag=%s hosts=%+v", tag, hosts)
	}

	_ = tbl.Remove("bob", "tok-b")
	tag, hosts, err = idx.HostLookup(ctx, "tok-a", "alice", fileID)
	if err != nil {
		t.Fatalf("HostLookup: %v", err)
	}
	if tag != tags.NotFound || len(hosts) != 0 {
		t.Fatalf("expected 404 once bob disconnects, got tag=%s hosts=%+v", tag, hosts)
	}
}

// TestDeregisterRequiresExactMatch covers the ERROR branch of Deregister.
func TestDeregisterRequiresExactMatch(t *testing.T) {
	idx, tbl := newTestIndex(t, 10)
	_ = tbl.Add("alice", "tok")
	ctx := context.Background()

	if tag, _ := idx.Deregister(ctx, "tok", "alice", "missing", "txt", "/none"); tag != tags.Error {
		t.Fatalf("expected ERROR deregistering a row that doesn't exist, got %s", tag)
	}

	if tag, _ := idx.Register(ctx, "tok", "alice", "notes", "txt", "/docs/notes.txt", 10); tag != tags.OK {
		t.Fatalf("register: %s", tag)
	}
	if tag, _ := idx.Deregister(ctx, "tok", "alice", "notes", "txt", "/docs/notes.txt"); tag != tags.OK {
		t.Fatalf("expected OK, got %s", tag)
	}
}
