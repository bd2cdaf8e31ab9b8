package db

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when no record has the requested key.
var ErrNotFound = errors.New("record not found")

// ErrMissingKey is returned by Put when a record lacks its collection's key field.
var ErrMissingKey = errors.New("record has no key")

// SchemaError reports an operation on a collection the schema does not define.
type SchemaError struct {
	Collection string
	Version    int
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("collection %q does not exist in schema version %d", e.Collection, e.Version)
}

// StorageUnavailableError reports that the on-device store could not be
// opened. Callers degrade to online-only behaviour.
type StorageUnavailableError struct {
	Path string
	Err  error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("local storage unavailable at %s: %v", e.Path, e.Err)
}

func (e *StorageUnavailableError) Unwrap() error {
	return e.Err
}

// IsStorageUnavailable reports whether err means the store cannot be used.
func IsStorageUnavailable(err error) bool {
	var se *StorageUnavailableError
	return errors.As(err, &se)
}

// IsSchemaError reports whether err is a *SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
