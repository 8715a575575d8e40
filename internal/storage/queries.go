package storage

import (
	"context"
	"database/sql"
)

// FetchUser returns the durable User row for name, or ok=false if absent.
func (d *DB) FetchUser(ctx context.Context, name string) (User, bool, error) {
	if err := d.guard(); err != nil {
		return User{}, false, err
	}
	var u User
	err := d.sql.QueryRowContext(ctx,
		`SELECT name, password_hash, ip, port FROM users WHERE name = ?`, name,
	).Scan(&u.Name, &u.PassHash, &u.IP, &u.Port)
	if err == nil {
		return u, true, nil
	}
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	return User{}, false, err
}

// InsertUser creates the durable row for a brand-new user, the first half
// of the Login "row absent" path.
func (d *DB) InsertUser(ctx context.Context, name, passHash, ip string, port int) error {
	if err := d.guard(); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO users(name, password_hash, ip, port) VALUES(?, ?, ?, ?)`,
		name, passHash, ip, port,
	)
	return err
}

// UpdateUserIP updates the last known IP for an existing user.
func (d *DB) UpdateUserIP(ctx context.Context, name, ip string) error {
	if err := d.guard(); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE users SET ip = ? WHERE name = ?`, ip, name)
	return err
}

// UpdateUserPort updates the last known port for an existing user.
func (d *DB) UpdateUserPort(ctx context.Context, name string, port int) error {
	if err := d.guard(); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx, `UPDATE users SET port = ? WHERE name = ?`, port, name)
	return err
}

// CountFiles reports how many UserFile rows an owner currently has.
func (d *DB) CountFiles(ctx context.Context, owner string) (int, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM user_files WHERE owner_name = ?`, owner).Scan(&n)
	return n, err
}

// FileExists reports whether the (owner, name, type, path) tuple is already
// registered.
func (d *DB) FileExists(ctx context.Context, owner, name, typ, path string) (bool, error) {
	if err := d.guard(); err != nil {
		return false, err
	}
	var n int
	err := d.sql.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM user_files WHERE owner_name = ? AND name = ? AND type = ? AND path = ?`,
		owner, name, typ, path,
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FileIDInUse reports whether a given file_id is already assigned.
func (d *DB) FileIDInUse(ctx context.Context, id int64) (bool, error) {
	if err := d.guard(); err != nil {
		return false, err
	}
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM user_files WHERE file_id = ?`, id).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertFile stores a new UserFile row.
func (d *DB) InsertFile(ctx context.Context, f UserFile) error {
	if err := d.guard(); err != nil {
		return err
	}
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO user_files(file_id, name, type, path, size, owner_name) VALUES(?, ?, ?, ?, ?, ?)`,
		f.FileID, f.Name, f.Type, f.Path, f.Size, f.OwnerName,
	)
	return err
}

// DeleteFile removes exactly the matching row and reports how many rows
// were removed (0 or 1, since the tuple is unique).
func (d *DB) DeleteFile(ctx context.Context, owner, name, typ, path string) (int64, error) {
	if err := d.guard(); err != nil {
		return 0, err
	}
	res, err := d.sql.ExecContext(ctx,
		`DELETE FROM user_files WHERE owner_name = ? AND name = ? AND type = ? AND path = ?`,
		owner, name, typ, path,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// FilesOf returns every UserFile row owned by name.
func (d *DB) FilesOf(ctx context.Context, owner string) ([]UserFile, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT file_id, name, type, path, size, owner_name FROM user_files WHERE owner_name = ? ORDER BY file_id ASC`,
		owner,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

// SearchFiles returns every UserFile row whose name∥type contains query
// case-insensitively, excluding the requester's own rows.
func (d *DB) SearchFiles(ctx context.Context, ownerExcluded, query string) ([]UserFile, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT file_id, name, type, path, size, owner_name FROM user_files
		 WHERE owner_name != ? AND instr(lower(name || type), lower(?)) > 0
		 ORDER BY file_id ASC`,
		ownerExcluded, query,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

// HostsOf returns every UserFile row for file_id, excluding the requester's
// own rows.
func (d *DB) HostsOf(ctx context.Context, fileID int64, requesterExcluded string) ([]UserFile, error) {
	if err := d.guard(); err != nil {
		return nil, err
	}
	rows, err := d.sql.QueryContext(ctx,
		`SELECT file_id, name, type, path, size, owner_name FROM user_files
		 WHERE file_id = ? AND owner_name != ?`,
		fileID, requesterExcluded,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiles(rows)
}

func scanFiles(rows *sql.Rows) ([]UserFile, error) {
	var out []UserFile
	for rows.Next() {
		var f UserFile
		if err := rows.Scan(&f.FileID, &f.Name, &f.Type, &f.Path, &f.Size, &f.OwnerName); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// RegisterFileTx wraps the count/exists/insert sequence of the File Index's
// Register operation in a single transaction, closing the race window that
// spec §9 flags as the coarse-lock model's most subtle edge: two concurrent
// registers against the same owner could otherwise race between the quota
// count and the insert. pickID is handed a probe function scoped to this
// transaction so the caller's random-id retry loop sees a consistent view.
func (d *DB) RegisterFileTx(ctx context.Context, owner, name, typ, path string, size int64, maxFilesPerUser int, pickID func(inUse func(int64) (bool, error)) (int64, error)) (fileID int64, quotaExceeded, duplicate bool, err error) {
	if err := d.guard(); err != nil {
		return 0, false, false, err
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, false, err
	}
	defer func() { _ = tx.Rollback() }()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM user_files WHERE owner_name = ?`, owner).Scan(&count); err != nil {
		return 0, false, false, err
	}
	if count >= maxFilesPerUser {
		return 0, true, false, nil
	}

	var dupCount int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM user_files WHERE owner_name = ? AND name = ? AND type = ? AND path = ?`,
		owner, name, typ, path,
	).Scan(&dupCount); err != nil {
		return 0, false, false, err
	}
	if dupCount > 0 {
		return 0, false, true, nil
	}

	id, err := pickID(func(candidate int64) (bool, error) {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM user_files WHERE file_id = ?`, candidate).Scan(&n); err != nil {
			return false, err
		}
		return n > 0, nil
	})
	if err != nil {
		return 0, false, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO user_files(file_id, name, type, path, size, owner_name) VALUES(?, ?, ?, ?, ?, ?)`,
		id, name, typ, path, size, owner,
	); err != nil {
		return 0, false, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, false, err
	}
	return id, false, false, nil
}
