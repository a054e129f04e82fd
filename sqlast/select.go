package sqlast

import "github.com/syssam/loom"

// SqlSelection is a registered select-list item. ValuesPosition is the
// 0-based index in a result row; JdbcPosition the 1-based select-list
// position.
type SqlSelection struct {
	Expression     Expression
	ValuesPosition int
	JdbcPosition   int
}

// SelectClause is the select list of a query.
type SelectClause struct {
	Distinct   bool
	selections []*SqlSelection
	index      map[Expression]*SqlSelection
}

// Register adds e to the select list. Registering the same expression
// object again returns the existing selection.
func (c *SelectClause) Register(e Expression) *SqlSelection {
	if s, ok := c.index[e]; ok {
		return s
	}
	if c.index == nil {
		c.index = make(map[Expression]*SqlSelection)
	}
	s := &SqlSelection{
		Expression:     e,
		ValuesPosition: len(c.selections),
		JdbcPosition:   len(c.selections) + 1,
	}
	c.selections = append(c.selections, s)
	c.index[e] = s
	return s
}

// Lookup returns the selection of e, if registered.
func (c *SelectClause) Lookup(e Expression) (*SqlSelection, bool) {
	s, ok := c.index[e]
	return s, ok
}

// Selections returns the registered selections in registration order.
func (c *SelectClause) Selections() []*SqlSelection { return c.selections }

// Len returns the number of selections.
func (c *SelectClause) Len() int { return len(c.selections) }

// SortSpec is an ORDER BY item.
type SortSpec struct {
	Expr Expression
	Desc bool
}

// QuerySpec is the root of a compiled SELECT statement.
type QuerySpec struct {
	Select  SelectClause
	From    []*TableGroup
	Where   Predicate
	GroupBy []Expression
	Having  Predicate
	OrderBy []SortSpec
	Lock    loom.LockMode
}

// Group returns the table group with the given alias.
func (q *QuerySpec) Group(alias string) (*TableGroup, bool) {
	var found *TableGroup
	for _, root := range q.From {
		root.Walk(func(g *TableGroup) {
			if found == nil && g.Alias == alias {
				found = g
			}
		})
	}
	return found, found != nil
}
