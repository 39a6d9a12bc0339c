// Package repository holds the MySQL-backed credential store. Sentinel errors
// defined here let the service layer tell a missing row or an identity
// collision apart from an infrastructure failure without inspecting driver
// errors itself.
package repository

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when no row matches the lookup.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when an insert collides on users.email.
var ErrEmailExists = errors.New("email already exists")

// ErrUsernameExists is returned when an insert collides on users.username.
var ErrUsernameExists = errors.New("username already exists")

// duplicateKeyError maps a unique-key violation to the sentinel for the
// offending column. The second result is false for any other error.
func duplicateKeyError(err error) (error, bool) {
	var me *mysql.MySQLError
	msg := strings.ToLower(err.Error())
	dup := errors.As(err, &me) && me.Number == 1062
	if !dup {
		// 1062 on drivers that do not surface *mysql.MySQLError, and
		// SQLite's wording for the same constraint.
		dup = strings.Contains(msg, "1062") || strings.Contains(msg, "unique constraint failed")
	}
	if !dup {
		return nil, false
	}
	switch {
	case strings.Contains(msg, "uq_users_username"), strings.Contains(msg, "users.username"):
		return ErrUsernameExists, true
	default:
		return ErrEmailExists, true
	}
}
