// Copyright (c) 2025 Curbea
// authlistsync - Geotab authorized driver list synchronizer
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicate is returned when attempting to insert a record that already exists.
var ErrDuplicate = errors.New("duplicate record")

// ErrInvalidGroup is returned for a group id that sanitizes to nothing.
var ErrInvalidGroup = errors.New("invalid group id")

// StorageError reports a ledger failure. It aborts the affected group's run
// only; other groups continue.
type StorageError struct {
	Op      string
	GroupID string
	Err     error
}

func (e *StorageError) Error() string {
	if e.GroupID == "" {
		return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger %s (group %s): %v", e.Op, e.GroupID, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// wrap converts err into a *StorageError for op, leaving existing storage
// errors untouched.
func wrap(op, groupID string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, GroupID: groupID, Err: MapDBError(err)}
}

// MapDBError inspects low-level driver errors and maps common constraint
// violations to package-level sentinel errors (like ErrDuplicate). The mapping
// is string based so no driver package is needed here.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	le := strings.ToLower(err.Error())
	// MySQL duplicate entry, Postgres unique violation (23505), SQLite unique constraint
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
