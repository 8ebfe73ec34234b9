package kalshi

import (
	"context"
	"fmt"
)

// Page is one response of a cursor-paginated endpoint. A non-empty Cursor
// means more pages exist.
type Page[T any] struct {
	Items  []T
	Cursor string
}

// PageFunc fetches the page starting at cursor ("" for the first page).
type PageFunc[T any] func(ctx context.Context, cursor string, limit int) (Page[T], error)

// Result is the concatenation of every fetched page.
type Result[T any] struct {
	Items []T
	Pages int
	// Truncated is set when maxPages was reached while the upstream still
	// reported a cursor.
	Truncated bool
}

// FetchAll walks the cursor sequentially until the upstream stops returning
// one or maxPages requests have been made. The first page error aborts the
// walk; partial results are never returned.
func FetchAll[T any](ctx context.Context, fetch PageFunc[T], pageSize, maxPages int) (Result[T], error) {
	if pageSize <= 0 || maxPages <= 0 {
		return Result[T]{}, ErrInvalidPageLimit
	}

	var (
		out    Result[T]
		cursor string
	)
	for out.Pages < maxPages {
		if err := ctx.Err(); err != nil {
			return Result[T]{}, err
		}

		page, err := fetch(ctx, cursor, pageSize)
		if err != nil {
			return Result[T]{}, fmt.Errorf("page %d: %w", out.Pages+1, err)
		}
		out.Pages++
		out.Items = append(out.Items, page.Items...)

		cursor = page.Cursor
		if cursor == "" {
			return out, nil
		}
	}

	out.Truncated = true
	return out, nil
}
