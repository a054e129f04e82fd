// Package navpath implements the structural path identifying a position in
// the domain graph of one compiled statement, e.g. "Order.items.product".
package navpath

import "strings"

// Path is an immutable, comparable dotted path. The zero value is the empty path.
type Path struct {
	full string
}

// Root returns a single-segment path.
func Root(name string) Path { return Path{full: name} }

// Parse builds a path from its dotted text.
func Parse(s string) Path { return Path{full: s} }

// Append returns the child path reached through role.
func (p Path) Append(role string) Path {
	if p.full == "" {
		return Path{full: role}
	}
	return Path{full: p.full + "." + role}
}

// AppendAlias returns the child path for a repeated join of role, qualified
// by the join alias so both joins keep distinct paths.
func (p Path) AppendAlias(role, alias string) Path {
	return p.Append(role + "(" + alias + ")")
}

// Parent returns the path without its last segment.
func (p Path) Parent() Path {
	i := strings.LastIndexByte(p.full, '.')
	if i < 0 {
		return Path{}
	}
	return Path{full: p.full[:i]}
}

// Segment returns the last segment, including any alias qualifier.
func (p Path) Segment() string {
	return p.full[strings.LastIndexByte(p.full, '.')+1:]
}

// Role returns the last segment without alias qualifier.
func (p Path) Role() string {
	s := p.Segment()
	if i := strings.IndexByte(s, '('); i >= 0 {
		return s[:i]
	}
	return s
}

// Depth returns the number of segments after the root.
func (p Path) Depth() int {
	if p.full == "" {
		return 0
	}
	return strings.Count(p.full, ".")
}

// IsRoot reports whether p has a single segment.
func (p Path) IsRoot() bool { return p.full != "" && !strings.Contains(p.full, ".") }

// IsEmpty reports whether p is the zero path.
func (p Path) IsEmpty() bool { return p.full == "" }

// IsPrefixOf reports whether p equals o or is one of its ancestors.
func (p Path) IsPrefixOf(o Path) bool {
	if p.full == "" {
		return true
	}
	return o.full == p.full || strings.HasPrefix(o.full, p.full+".")
}

// String returns the dotted text.
func (p Path) String() string { return p.full }
