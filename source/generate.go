package source

import (
	"context"
	"database/sql"
	"fmt"

	"golang.org/x/time/rate"

	"streamline/stream"
)

/*──────── memory ───────*/

// Memory emits the given items in order.
func Memory(items ...stream.Item) *stream.Stage {
	src := stream.SourceFunc(func(context.Context) stream.Seq {
		return func(yield func(stream.Event, error) bool) {
			for _, it := range items {
				if !yield(stream.Of(it), nil) {
					return
				}
			}
		}
	})
	return stream.NewSource(src, stream.WithName("memory"))
}

/*──────── faker ───────*/

type FakerOptions struct {
	// MaxSize stops after that many items; zero never stops.
	MaxSize int
	// Rate caps items per second; zero is unlimited.
	Rate  float64
	Burst int
}

// Faker emits whatever gen returns until MaxSize items were produced or
// gen fails.
func Faker(gen func() (stream.Item, error), opts FakerOptions) *stream.Stage {
	src := stream.SourceFunc(func(ctx context.Context) stream.Seq {
		return func(yield func(stream.Event, error) bool) {
			var lim *rate.Limiter
			if opts.Rate > 0 {
				burst := opts.Burst
				if burst <= 0 {
					burst = 1
				}
				lim = rate.NewLimiter(rate.Limit(opts.Rate), burst)
			}
			for i := 0; opts.MaxSize <= 0 || i < opts.MaxSize; i++ {
				if lim != nil {
					if err := lim.Wait(ctx); err != nil {
						yield(stream.Event{}, err)
						return
					}
				}
				it, err := gen()
				if err != nil {
					yield(stream.Event{}, fmt.Errorf("faker: %w", err))
					return
				}
				if !yield(stream.Of(it), nil) {
					return
				}
			}
		}
	})
	return stream.NewSource(src, stream.WithName("faker"))
}

/*──────── sql ───────*/

// SQL runs query once and emits every row as a map from column name to
// value. Byte slices are converted to strings. Limit caps the number of
// rows read; zero reads them all.
func SQL(db *sql.DB, query string, limit int, args ...any) *stream.Stage {
	src := stream.SourceFunc(func(ctx context.Context) stream.Seq {
		return func(yield func(stream.Event, error) bool) {
			rows, err := db.QueryContext(ctx, query, args...)
			if err != nil {
				yield(stream.Event{}, fmt.Errorf("sql: query: %w", err))
				return
			}
			defer rows.Close()

			cols, err := rows.Columns()
			if err != nil {
				yield(stream.Event{}, fmt.Errorf("sql: columns: %w", err))
				return
			}
			for n := 0; limit <= 0 || n < limit; n++ {
				if !rows.Next() {
					break
				}
				vals := make([]any, len(cols))
				ptrs := make([]any, len(cols))
				for i := range vals {
					ptrs[i] = &vals[i]
				}
				if err := rows.Scan(ptrs...); err != nil {
					yield(stream.Event{}, fmt.Errorf("sql: scan: %w", err))
					return
				}
				rec := make(map[string]any, len(cols))
				for i, c := range cols {
					if b, ok := vals[i].([]byte); ok {
						rec[c] = string(b)
					} else {
						rec[c] = vals[i]
					}
				}
				if !yield(stream.Of(rec), nil) {
					return
				}
			}
			if err := rows.Err(); err != nil {
				yield(stream.Event{}, fmt.Errorf("sql: rows: %w", err))
			}
		}
	})
	return stream.NewSource(src, stream.WithName("sql"))
}
