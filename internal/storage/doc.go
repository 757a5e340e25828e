// Package storage is the document store behind every collection the bots use.
//
// Documents are JSON bodies addressed by (collection, id). The store supports
// point get/set/delete, cursor-style streaming of a whole collection and an
// equality filter on one top-level field. Drivers: sqlite, postgres, pebble
// and memory.
package storage
