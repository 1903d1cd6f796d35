package repository

import "errors"

// ErrNotOwned is returned when a write touches no rows because the target does
// not exist or belongs to another user. Services translate it to NotFound.
var ErrNotOwned = errors.New("resource not found or not owned by user")
