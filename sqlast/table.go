package sqlast

import (
	"github.com/syssam/loom/metamodel"
	"github.com/syssam/loom/navpath"
)

// TableReference is a table or derived table with an alias.
type TableReference interface {
	Identification() string
	renderTable(*renderer)
}

// NamedTable is a physical table.
type NamedTable struct {
	Name  string
	Alias string
}

// Identification returns the table alias.
func (t *NamedTable) Identification() string { return t.Alias }

// UnionMember is one concrete table of a UnionTable.
type UnionMember struct {
	Table   string
	ClassID int
	Columns map[string]bool
}

// UnionTable is a UNION ALL of the concrete tables of a table-per-class
// hierarchy. Columns a member lacks are selected as NULL and ClassColumn
// carries the member class id.
type UnionTable struct {
	Members     []UnionMember
	Columns     []string
	ClassColumn string
	Alias       string
}

// Identification returns the table alias.
func (t *UnionTable) Identification() string { return t.Alias }

// TableReferenceJoin joins a secondary table of an entity, such as the
// table of a joined subclass.
type TableReferenceJoin struct {
	Left  bool
	Table *NamedTable
	On    Predicate
}

// TableGroup is the set of tables backing one navigable path.
type TableGroup struct {
	Path      navpath.Path
	Alias     string
	Primary   TableReference
	Secondary []*TableReferenceJoin
	Joins     []*TableGroupJoin
	Entity    *metamodel.Entity
}

// TableGroupJoin joins a table group to its parent group.
type TableGroupJoin struct {
	Left  bool
	Group *TableGroup
	On    Predicate
}

// Join appends a joined group.
func (g *TableGroup) Join(child *TableGroup, left bool, on Predicate) *TableGroupJoin {
	j := &TableGroupJoin{Left: left, Group: child, On: on}
	g.Joins = append(g.Joins, j)
	return j
}

// Reference returns the alias of the table named name within the group.
// The primary alias is returned for derived tables and unknown names.
func (g *TableGroup) Reference(name string) string {
	if t, ok := g.Primary.(*NamedTable); ok && t.Name == name {
		return t.Alias
	}
	for _, s := range g.Secondary {
		if s.Table.Name == name {
			return s.Table.Alias
		}
	}
	return g.Primary.Identification()
}

// Walk visits g and its joined groups depth first.
func (g *TableGroup) Walk(fn func(*TableGroup)) {
	fn(g)
	for _, j := range g.Joins {
		j.Group.Walk(fn)
	}
}
