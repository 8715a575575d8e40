// Package storage is the Persistence Gateway: the sole path through which
// the tracker touches the relational store holding Users and UserFiles.
package storage

// User is the durable account record keyed by name.
type User struct {
	Name     string
	PassHash string
	IP       string
	Port     int
}

// UserFile is a durable registration of one file under one owner.
type UserFile struct {
	FileID    int64
	Name      string
	Type      string
	Path      string
	Size      int64
	OwnerName string
}
