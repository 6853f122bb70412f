package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	registrystore "github.com/threadmem/memcore/internal/registry/store"
)

const uniqueViolation = "23505"

// mapWriteError translates postgres unique violations into the core's
// validation taxonomy; everything else passes through untouched.
func mapWriteError(err error, resource, id string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return &registrystore.ValidationError{Field: resource + ".id", Message: "duplicate id " + id}
	}
	return err
}

// safeFieldName restricts order-by fields to identifier characters so
// caller-supplied names can be inlined into jsonb extraction SQL.
func safeFieldName(name string) (string, bool) {
	if name == "" || len(name) > 64 {
		return "", false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		default:
			return "", false
		}
	}
	return name, true
}
