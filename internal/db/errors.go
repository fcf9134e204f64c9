package db

import (
	"errors"

	"github.com/mattn/go-sqlite3"
)

// IsConstraintViolation reports whether err is a UNIQUE or PRIMARY KEY
// constraint failure.
func IsConstraintViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
