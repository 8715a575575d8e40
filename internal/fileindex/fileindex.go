// Package fileindex implements the File Index: registration, lookup, and
// search over the durable file catalog, coupled to the Active Peer Table's
// liveness at query time (spec §4.4).
package fileindex

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"log/slog"

	"github.com/anton-mishchenko/p2p-tracker/internal/peertable"
	"github.com/anton-mishchenko/p2p-tracker/internal/storage"
	"github.com/anton-mishchenko/p2p-tracker/internal/tags"
)

// maxFileID is the exclusive upper bound on randomly chosen file_id values,
// per spec §4.4.
const maxFileID = 1_000_000

// Entry is one catalog row as returned by List/Search, independent of the
// storage package's own row shape.
type Entry struct {
	FileID int64
	Name   string
	Type   string
	Path   string
	Size   int64
	Owner  string
}

// Host is one (ip, port, path) tuple as returned by HostLookup.
type Host struct {
	IP   string
	Port int
	Path string
}

// Index ties the Persistence Gateway to the Active Peer Table's liveness
// filter used by Search and HostLookup.
type Index struct {
	table   *peertable.Table
	storage *storage.DB
	logger  *slog.Logger

	maxFilesPerUser int
}

// New constructs an Index. maxFilesPerUser is the operator-configured
// MAX_FILES_PER_USER quota (spec §4.4), defaulting to 10 when zero.
func New(table *peertable.Table, store *storage.DB, maxFilesPerUser int, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	if maxFilesPerUser <= 0 {
		maxFilesPerUser = 10
	}
	return &Index{table: table, storage: store, logger: logger, maxFilesPerUser: maxFilesPerUser}
}

// Register authenticates and inserts a new catalog row, picking a random
// unused file_id (spec §4.4).
func (x *Index) Register(ctx context.Context, token, name, fileName, fileType, filePath string, fileSize int64) (tag string, err error) {
	if !x.table.Authenticate(name, token) {
		return tags.Cred, nil
	}

	_, quotaExceeded, duplicate, txErr := x.storage.RegisterFileTx(ctx, name, fileName, fileType, filePath, fileSize, x.maxFilesPerUser, randomFileID)
	if txErr != nil {
		x.logger.Error("register: storage failed", "owner", name, "error", txErr)
		return tags.Error, nil
	}
	if quotaExceeded {
		return tags.Full, nil
	}
	if duplicate {
		return tags.Copy, nil
	}
	return tags.OK, nil
}

// Deregister authenticates and removes exactly the matching row (spec
// §4.4).
func (x *Index) Deregister(ctx context.Context, token, owner, fileName, fileType, filePath string) (tag string, err error) {
	if !x.table.Authenticate(owner, token) {
		return tags.Cred, nil
	}
	n, err := x.storage.DeleteFile(ctx, owner, fileName, fileType, filePath)
	if err != nil {
		x.logger.Error("deregister: storage failed", "owner", owner, "error", err)
		return tags.Error, nil
	}
	if n != 1 {
		return tags.Error, nil
	}
	return tags.OK, nil
}

// List authenticates and returns every catalog row owned by owner (spec
// §4.4).
func (x *Index) List(ctx context.Context, token, owner string) (tag string, entries []Entry, err error) {
	if !x.table.Authenticate(owner, token) {
		return tags.Cred, nil, nil
	}
	rows, err := x.storage.FilesOf(ctx, owner)
	if err != nil {
		x.logger.Error("list: storage failed", "owner", owner, "error", err)
		return tags.Error, nil, nil
	}
	if len(rows) == 0 {
		return tags.NotFound, nil, nil
	}
	return tags.OK, toEntries(rows), nil
}

// Search authenticates, fetches matches excluding the requester's own rows,
// and filters out any whose owner is not currently active, per spec §4.4's
// "central coupling point between durable catalog and ephemeral liveness."
func (x *Index) Search(ctx context.Context, token, requester, query string) (tag string, entries []Entry, err error) {
	if !x.table.Authenticate(requester, token) {
		return tags.Cred, nil, nil
	}
	rows, err := x.storage.SearchFiles(ctx, requester, query)
	if err != nil {
		x.logger.Error("search: storage failed", "requester", requester, "error", err)
		return tags.Error, nil, nil
	}
	survivors := x.filterActive(rows)
	if len(survivors) == 0 {
		return tags.NotFound, nil, nil
	}
	return tags.OK, toEntries(survivors), nil
}

// HostLookup authenticates, fetches every row for file_id excluding the
// requester's own rows, filters by liveness, and returns the surviving
// (ip, port, path) tuples (spec §4.4).
func (x *Index) HostLookup(ctx context.Context, token, requester string, fileID int64) (tag string, hosts []Host, err error) {
	if !x.table.Authenticate(requester, token) {
		return tags.Cred, nil, nil
	}
	rows, err := x.storage.HostsOf(ctx, fileID, requester)
	if err != nil {
		x.logger.Error("hostlookup: storage failed", "requester", requester, "error", err)
		return tags.Error, nil, nil
	}
	survivors := x.filterActive(rows)
	if len(survivors) == 0 {
		return tags.NotFound, nil, nil
	}
	hosts = make([]Host, 0, len(survivors))
	for _, r := range survivors {
		u, exists, err := x.storage.FetchUser(ctx, r.OwnerName)
		if err != nil {
			x.logger.Error("hostlookup: fetch owner failed", "owner", r.OwnerName, "error", err)
			return tags.Error, nil, nil
		}
		if !exists {
			continue
		}
		hosts = append(hosts, Host{IP: u.IP, Port: u.Port, Path: r.Path})
	}
	if len(hosts) == 0 {
		return tags.NotFound, nil, nil
	}
	return tags.OK, hosts, nil
}

// filterActive drops every row whose owner has no live session in the
// Active Peer Table at the moment of the call.
func (x *Index) filterActive(rows []storage.UserFile) []storage.UserFile {
	out := rows[:0:0]
	for _, r := range rows {
		if x.table.IsActive(r.OwnerName) {
			out = append(out, r)
		}
	}
	return out
}

func toEntries(rows []storage.UserFile) []Entry {
	out := make([]Entry, len(rows))
	for i, r := range rows {
		out[i] = Entry{FileID: r.FileID, Name: r.Name, Type: r.Type, Path: r.Path, Size: r.Size, Owner: r.OwnerName}
	}
	return out
}

// randomFileID draws a uniformly random candidate in [0, maxFileID) and
// retries against inUse until an unused value is found, per spec §4.4.
func randomFileID(inUse func(int64) (bool, error)) (int64, error) {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		candidate := int64(binary.BigEndian.Uint64(buf[:]) % maxFileID)
		used, err := inUse(candidate)
		if err != nil {
			return 0, err
		}
		if !used {
			return candidate, nil
		}
	}
}
