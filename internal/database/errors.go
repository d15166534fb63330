package database

import "errors"

// ErrDatabaseNotFound is returned by Open when CreateIfNotExists is false
// and no database file exists yet.
var ErrDatabaseNotFound = errors.New("database not found")
