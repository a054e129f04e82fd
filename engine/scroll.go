package engine

import (
	"errors"
	"fmt"
)

// ScrollMode is the navigation supported by scrollable results.
type ScrollMode uint8

// Scroll modes.
const (
	// ForwardOnly results can only move towards the end.
	ForwardOnly ScrollMode = iota
	// Bidirectional results keep the results read so far and can move in
	// both directions.
	Bidirectional
)

// String returns the mode name.
func (m ScrollMode) String() string {
	if m == Bidirectional {
		return "bidirectional"
	}
	return "forward-only"
}

// ErrForwardOnly is returned when moving backwards in forward-only results.
var ErrForwardOnly = errors.New("engine: scrollable results are forward only")

// Scroll navigates the results of a cursor. The position is the index of
// the current result; it is -1 before the first result.
type Scroll struct {
	cursor *Cursor
	mode   ScrollMode
	// seen holds every result read so far in bidirectional mode.
	seen []any
	pos  int
	// read is the number of results pulled from the cursor.
	read int
	cur  any
}

// NewScroll returns scrollable results over c.
func NewScroll(c *Cursor, mode ScrollMode) *Scroll {
	return &Scroll{cursor: c, mode: mode, pos: -1}
}

// Mode returns the scroll mode.
func (s *Scroll) Mode() ScrollMode { return s.mode }

// pull reads the next result from the cursor.
func (s *Scroll) pull() (bool, error) {
	if !s.cursor.Next() {
		return false, s.cursor.Err()
	}
	s.read++
	if s.mode == Bidirectional {
		s.seen = append(s.seen, s.cursor.Value())
	}
	return true, nil
}

// Next moves to the next result and reports whether there is one.
func (s *Scroll) Next() (bool, error) {
	return s.Absolute(s.pos + 1)
}

// Previous moves to the previous result and reports whether there is one.
func (s *Scroll) Previous() (bool, error) {
	if s.mode == ForwardOnly {
		return false, ErrForwardOnly
	}
	if s.pos <= 0 {
		s.pos, s.cur = -1, nil
		return false, nil
	}
	return s.Absolute(s.pos - 1)
}

// First moves to the first result.
func (s *Scroll) First() (bool, error) {
	if s.mode == ForwardOnly && s.pos > 0 {
		return false, ErrForwardOnly
	}
	return s.Absolute(0)
}

// Last moves to the last result, reading every remaining result.
func (s *Scroll) Last() (bool, error) {
	for {
		ok, err := s.pull()
		if err != nil {
			return false, err
		}
		if !ok {
			break
		}
		if s.mode == ForwardOnly {
			s.cur = s.cursor.Value()
		}
	}
	if s.read == 0 {
		s.pos, s.cur = -1, nil
		return false, nil
	}
	s.pos = s.read - 1
	if s.mode == Bidirectional {
		s.cur = s.seen[s.pos]
	}
	return true, nil
}

// Absolute moves to the result at index i. It reports false when there
// is no such result; the position is then after the last result.
func (s *Scroll) Absolute(i int) (bool, error) {
	if i < 0 {
		return false, fmt.Errorf("engine: negative scroll position %d", i)
	}
	if s.mode == ForwardOnly && i < s.pos {
		return false, ErrForwardOnly
	}
	if s.mode == ForwardOnly && i == s.pos {
		return s.pos < s.read, nil
	}
	for s.read <= i {
		ok, err := s.pull()
		if err != nil {
			return false, err
		}
		if !ok {
			s.pos, s.cur = s.read, nil
			return false, nil
		}
		if s.mode == ForwardOnly {
			s.cur = s.cursor.Value()
		}
	}
	s.pos = i
	if s.mode == Bidirectional {
		s.cur = s.seen[i]
	}
	return true, nil
}

// Position returns the index of the current result.
func (s *Scroll) Position() int { return s.pos }

// Get returns the current result.
func (s *Scroll) Get() any { return s.cur }

// Close releases the underlying cursor.
func (s *Scroll) Close() error {
	s.seen, s.cur = nil, nil
	return s.cursor.Close()
}
