package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Strob0t/AgentForge/internal/middleware"
)

// scannable abstracts pgx.Row and pgx.Rows for shared scan helpers.
type scannable interface {
	Scan(dest ...any) error
}

// workspaceFromCtx extracts the workspace from the request context.
// All workspace-scoped queries must use this to enforce isolation.
func workspaceFromCtx(ctx context.Context) string {
	return middleware.WorkspaceFromContext(ctx)
}

// orEmpty returns items unchanged if non-nil, or an empty slice if nil.
// Useful to ensure JSON serialization produces [] instead of null.
func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// marshalNullable encodes v as JSON, mapping nil maps and slices to SQL NULL.
func marshalNullable(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(b) == "null" {
		return nil, nil
	}
	return b, nil
}

// unmarshalOptional decodes b into dst unless the column was NULL.
func unmarshalOptional(b []byte, dst any) error {
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, dst)
}

// notFoundWrap maps pgx.ErrNoRows to the typed lookup error built by
// notFound. Other errors are wrapped with the given message.
func notFoundWrap(err error, notFound error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// isUniqueViolation reports whether err is a primary key or unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// execExpectOne verifies that an Exec affected exactly one row. If not
// (and err is nil), it returns notFound.
func execExpectOne(tag pgconn.CommandTag, err error, notFound error, format string, args ...any) error {
	if err != nil {
		return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
	}
	if tag.RowsAffected() == 0 {
		return notFound
	}
	return nil
}
