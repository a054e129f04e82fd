package engine

import (
	"context"
	"errors"
	"iter"

	"github.com/syssam/loom"
	"github.com/syssam/loom/assemble"
)

// Cursor assembles the rows of one execution into results. When a
// collection is join fetched, consecutive rows of the same root entities
// form one result; otherwise every row is a result.
//
// A Cursor is not safe for concurrent use.
type Cursor struct {
	ctx context.Context
	src RowSource
	asm *assemble.Assembler
	// grouped is set when consecutive rows may form one result.
	grouped   bool
	exhausted bool
	// pending is the row read ahead that starts the next result.
	pending []any
	// limit and offset are applied to the results when the statement
	// window could not be rendered.
	limit, offset int
	skipped       int
	produced      int
	// drain reads the remaining rows once the window is complete so that
	// the execution can be cached.
	drain bool

	cur    any
	err    error
	done   bool
	closed bool
}

// Next advances the cursor to the next result. It returns false when the
// results are exhausted or an error occurred; the rows are then released.
func (c *Cursor) Next() bool {
	if c.closed || c.done || c.err != nil {
		return false
	}
	for {
		if c.limit > 0 && c.produced >= c.limit {
			c.finish()
			return false
		}
		v, ok, err := c.read()
		switch {
		case err != nil:
			c.fail(err)
			return false
		case !ok:
			c.finish()
			return false
		case c.skipped < c.offset:
			c.skipped++
			continue
		}
		c.produced++
		c.cur = v
		return true
	}
}

// fetch returns the next row of the source.
func (c *Cursor) fetch() ([]any, bool) {
	if !c.src.Next() {
		c.exhausted = true
		return nil, false
	}
	return c.src.Row(), true
}

// read assembles the next logical result. Rows are read ahead only when
// several rows can form one result.
func (c *Cursor) read() (any, bool, error) {
	row := c.pending
	c.pending = nil
	if row == nil {
		var ok bool
		if row, ok = c.fetch(); !ok {
			return nil, false, c.src.Err()
		}
	}
	if err := c.asm.Apply(c.ctx, row); err != nil {
		return nil, false, err
	}
	for c.grouped {
		next, ok := c.fetch()
		if !ok {
			break
		}
		if !c.asm.SameResult(row, next) {
			c.pending = next
			break
		}
		if err := c.asm.Apply(c.ctx, next); err != nil {
			return nil, false, err
		}
		row = next
	}
	if err := c.src.Err(); err != nil {
		return nil, false, err
	}
	v, err := c.asm.End(c.ctx)
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Value returns the current result.
func (c *Cursor) Value() any { return c.cur }

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error { return c.err }

// Close releases the rows of the cursor. Closing a cursor before its end
// abandons the remaining results.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.cur, c.pending = nil, nil
	c.asm.Abort()
	return c.src.Close()
}

func (c *Cursor) finish() {
	c.done = true
	c.cur = nil
	if c.drain && !c.exhausted {
		for c.src.Next() {
		}
	}
	if err := c.Close(); err != nil {
		c.err = err
	}
	if err := c.src.Err(); err != nil && c.err == nil {
		c.err = err
	}
}

func (c *Cursor) fail(err error) {
	c.done = true
	c.err = errors.Join(err, c.Close())
}

// All reads the remaining results and closes the cursor.
func (c *Cursor) All() ([]any, error) {
	var out []any
	for c.Next() {
		out = append(out, c.Value())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, c.Close()
}

// Stream returns the remaining results as a sequence. Results are read
// lazily as the sequence is iterated; the cursor is closed when the
// iteration ends, including when the caller stops early. An error is
// yielded once, as the last element.
func (c *Cursor) Stream() iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		defer c.Close()
		if c.closed {
			yield(nil, loom.ErrCursorClosed)
			return
		}
		for c.Next() {
			if !yield(c.Value(), nil) {
				return
			}
		}
		if err := c.Err(); err != nil {
			yield(nil, err)
		}
	}
}
