// Package store defines interfaces for persistence dependencies (reference
// tables, listings and per-source monitoring). Implementations live in other
// packages; this package must not import database drivers or concrete clients.
package store
