// Package validate contains simple input validation helpers for the
// tracker RPC boundary, matching the caps in spec §6.
package validate

import (
	"errors"
	"regexp"
)

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{4,24}$`)

// Username enforces the 5-25 char name pattern used for peer accounts.
func Username(s string) error {
	if !usernameRe.MatchString(s) {
		return errors.New("invalid username")
	}
	return nil
}

// Password enforces the 6-50 char length cap; no character restrictions.
func Password(s string) error {
	if len(s) < 6 || len(s) > 50 {
		return errors.New("invalid password length")
	}
	return nil
}

// Port enforces the 0-65535 range.
func Port(p int) error {
	if p < 0 || p > 65535 {
		return errors.New("invalid port")
	}
	return nil
}

// FileName enforces the ≤100 char cap.
func FileName(s string) error {
	if s == "" || len(s) > 100 {
		return errors.New("invalid file name")
	}
	return nil
}

// FileType enforces the ≤25 char cap.
func FileType(s string) error {
	if s == "" || len(s) > 25 {
		return errors.New("invalid file type")
	}
	return nil
}

// FilePath enforces the ≤300 char cap.
func FilePath(s string) error {
	if s == "" || len(s) > 300 {
		return errors.New("invalid file path")
	}
	return nil
}

// SearchQuery enforces the ≤100 char cap.
func SearchQuery(s string) error {
	if s == "" || len(s) > 100 {
		return errors.New("invalid search query")
	}
	return nil
}
