// Package loom maps object-graph queries onto a relational store and turns
// the rows read back into object graphs.
//
// A query built with package query is compiled against the metamodel into
// a relational statement, bound, executed through a dialect driver and
// assembled row by row into entities, embedded values, collections and
// projections. Sessions, opened from a session.Factory, keep one instance
// per entity identity and load deferred associations on demand.
//
// This package holds what every layer shares: the error taxonomy, the
// cache contracts and modes, and the configuration.
package loom
