// Package storage tests verify persistence gateway CRUD behavior.
package storage

import (
	"context"
	"testing"
)

func openTest(t *testing.T) *DB {
	t.Helper()
	d, err := Open(context.Background(), Options{Path: t.TempDir() + "/test.db"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// TestUserRoundTrip ensures a user row survives insert/fetch and that
// ip/port updates are visible to subsequent fetches.
func TestUserRoundTrip(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)

	if err := d.InsertUser(ctx, "alice", "hash", "10.0.0.1", 1052); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	u, ok, err := d.FetchUser(ctx, "alice")
	if err != nil {
		t.Fatalf("FetchUser: %v", err)
	}
	if !ok {
		t.Fatalf("expected user")
	}
	if u.IP != "10.0.0.1" || u.Port != 1052 {
		t.Fatalf("unexpected user: %+v", u)
	}

	if err := d.UpdateUserIP(ctx, "alice", "10.0.0.2"); err != nil {
		t.Fatalf("UpdateUserIP: %v", err)
	}
	u, _, err = d.FetchUser(ctx, "alice")
	if err != nil {
		t.Fatalf("FetchUser: %v", err)
	}
	if u.IP != "10.0.0.2" {
		t.Fatalf("expected updated ip, got %q", u.IP)
	}
}

// TestFileQuotaAndDuplicate exercises RegisterFileTx's quota and
// uniqueness rejections.
func TestFileQuotaAndDuplicate(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)
	if err := d.InsertUser(ctx, "alice", "hash", "10.0.0.1", 1052); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}

	pick := func(inUse func(int64) (bool, error)) (int64, error) {
		id := int64(1)
		for {
			used, err := inUse(id)
			if err != nil {
				return 0, err
			}
			if !used {
				return id, nil
			}
			id++
		}
	}

	id, quota, dup, err := d.RegisterFileTx(ctx, "alice", "report", "pdf", "/home/a/", 1024, 10, pick)
	if err != nil || quota || dup {
		t.Fatalf("unexpected register result: id=%d quota=%v dup=%v err=%v", id, quota, dup, err)
	}

	_, quota, dup, err = d.RegisterFileTx(ctx, "alice", "report", "pdf", "/home/a/", 1024, 10, pick)
	if err != nil {
		t.Fatalf("RegisterFileTx: %v", err)
	}
	if !dup {
		t.Fatalf("expected duplicate rejection")
	}

	for i := 0; i < 9; i++ {
		_, _, _, err := d.RegisterFileTx(ctx, "alice", "f", "t", "/p/"+string(rune('a'+i)), 1, 10, pick)
		if err != nil {
			t.Fatalf("RegisterFileTx filler %d: %v", i, err)
		}
	}
	_, quota, _, err = d.RegisterFileTx(ctx, "alice", "one-more", "t", "/p/z", 1, 10, pick)
	if err != nil {
		t.Fatalf("RegisterFileTx: %v", err)
	}
	if !quota {
		t.Fatalf("expected quota rejection at the 11th file")
	}
}

// TestSearchExcludesRequesterAndMatchesSubstring exercises SearchFiles'
// case-insensitive name∥type substring match and requester exclusion.
func TestSearchExcludesRequesterAndMatchesSubstring(t *testing.T) {
	ctx := context.Background()
	d := openTest(t)
	if err := d.InsertUser(ctx, "alice", "hash", "10.0.0.1", 1052); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if err := d.InsertUser(ctx, "bob", "hash", "10.0.0.2", 1053); err != nil {
		t.Fatalf("InsertUser: %v", err)
	}
	if err := d.InsertFile(ctx, UserFile{FileID: 1, Name: "report", Type: "pdf", Path: "/home/a/", Size: 1024, OwnerName: "alice"}); err != nil {
		t.Fatalf("InsertFile: %v", err)
	}

	results, err := d.SearchFiles(ctx, "bob", "REPORT")
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(results) != 1 || results[0].Name != "report" {
		t.Fatalf("unexpected results: %+v", results)
	}

	results, err = d.SearchFiles(ctx, "alice", "report")
	if err != nil {
		t.Fatalf("SearchFiles: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected requester's own file excluded, got %+v", results)
	}
}
