// Package bind reconciles declared statement parameters with the values
// supplied for one execution.
//
// Three parameter forms are recognized: named (:name), numbered ordinals
// (?1, ?2) and bare positional placeholders (?). A Registry collects the
// parameters of one statement and validates their numbering; Resolve
// matches it against a Values set and produces a Bound whose Expand method
// yields the driver bindings in placeholder order. List values expand into
// one binding per element.
package bind
