// Package cache defines the generation-aware response storage used by the
// offline engine. A Storage holds any number of independently named
// generations; each generation maps a GET request identity to an immutable
// stored response. Drivers (memory, file, badger, sqlite, redis) share the same
// contract so the engine and its tests never depend on a concrete backend.
package cache
