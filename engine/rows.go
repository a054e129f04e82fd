package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/loom/dialect/sql"
)

// RowSource yields the raw rows of one execution.
type RowSource interface {
	// Columns returns the column names of the rows.
	Columns() []string
	// Next advances to the next row. It returns false at the end of the
	// rows or on error.
	Next() bool
	// Row returns the current row. The slice is owned by the caller.
	Row() []any
	// Err returns the error that stopped Next, if any.
	Err() error
	// Close releases the rows. It is safe to call Close more than once.
	Close() error
}

// driverRows reads rows from the driver. Rows read to their end are handed
// to put when capturing is enabled, preceded by a header row holding the
// column names.
type driverRows struct {
	ctx     context.Context
	sql     string
	rows    sql.Rows
	cancel  context.CancelFunc
	columns []string
	row     []any
	err     error
	closed  bool
	put     func(context.Context, [][]any)
	rowset  [][]any
}

func newDriverRows(ctx context.Context, text string, rows sql.Rows, cancel context.CancelFunc) (*driverRows, error) {
	r := &driverRows{ctx: ctx, sql: text, rows: rows, cancel: cancel}
	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Join(sql.WrapError(text, err), r.Close())
	}
	r.columns = columns
	return r, nil
}

func (r *driverRows) capture(put func(context.Context, [][]any)) {
	header := make([]any, len(r.columns))
	for i, c := range r.columns {
		header[i] = c
	}
	r.put = put
	r.rowset = [][]any{header}
}

func (r *driverRows) Columns() []string { return r.columns }

func (r *driverRows) Next() bool {
	if r.closed || r.err != nil {
		return false
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			r.err = sql.WrapError(r.sql, err)
			return false
		}
		if r.put != nil {
			r.put(r.ctx, r.rowset)
			r.put, r.rowset = nil, nil
		}
		return false
	}
	row, err := sql.ScanValues(r.rows, len(r.columns))
	if err != nil {
		r.err = sql.WrapError(r.sql, err)
		return false
	}
	r.row = row
	if r.put != nil {
		r.rowset = append(r.rowset, row)
	}
	return true
}

func (r *driverRows) Row() []any { return r.row }

func (r *driverRows) Err() error { return r.err }

func (r *driverRows) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.put, r.rowset = nil, nil
	err := r.rows.Close()
	if r.cancel != nil {
		r.cancel()
	}
	return sql.WrapError(r.sql, err)
}

// cachedRows replays rows read from the query-results cache. The first
// row holds the column names.
type cachedRows struct {
	columns []string
	rows    [][]any
	pos     int
}

func newCachedRows(rows [][]any) *cachedRows {
	header := rows[0]
	columns := make([]string, len(header))
	for i, c := range header {
		if s, ok := c.(string); ok {
			columns[i] = s
		} else {
			columns[i] = fmt.Sprint(c)
		}
	}
	return &cachedRows{columns: columns, rows: rows[1:], pos: -1}
}

func (r *cachedRows) Columns() []string { return r.columns }

func (r *cachedRows) Next() bool {
	if r.pos+1 >= len(r.rows) {
		r.pos = len(r.rows)
		return false
	}
	r.pos++
	return true
}

func (r *cachedRows) Row() []any { return append([]any(nil), r.rows[r.pos]...) }

func (r *cachedRows) Err() error { return nil }

func (r *cachedRows) Close() error {
	r.pos = len(r.rows)
	return nil
}

// closeOnError closes src and joins its close error with err.
func closeOnError(err error, src RowSource) error {
	return errors.Join(err, src.Close())
}
