// Package cache defines the durable, versioned cache storage used by the edge
// worker. A Storage holds many named caches; each Cache maps a normalized
// request key (method + absolute URL) to a captured response Snapshot.
// Two backends are provided: a filesystem layout under StoragePath/<cache>/
// (temp file + rename per entry) and a single SQLite database. Writes are
// overwrite-by-key, so concurrent writers for the same key are last-write-wins.
package cache
