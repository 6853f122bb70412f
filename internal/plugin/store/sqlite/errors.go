package sqlite

import (
	"errors"

	sqlite3 "github.com/mattn/go-sqlite3"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

// mapWriteError converts constraint violations into ValidationError so the
// facade surfaces duplicate ids uniformly across backends.
func mapWriteError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) && sqErr.Code == sqlite3.ErrConstraint {
		return &registrystore.ValidationError{
			Field:   "id",
			Message: resource + " " + id + " already exists",
		}
	}
	return err
}

// safeFieldName allows plain identifier characters only, so entity order-by
// fields can be spliced into a json path without breaking out of it.
func safeFieldName(field string) (string, bool) {
	if field == "" || len(field) > 64 {
		return "", false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return "", false
		}
	}
	return field, true
}
