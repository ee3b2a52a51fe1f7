// Package store defines the catalog persistence contract consumed by the
// pipeline and the embedding sync. Implementations live in internal/storage;
// this package must not import database drivers or concrete clients.
package store
