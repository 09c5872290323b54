// Package catalog adapts the persistent CID catalog and counters — a
// key-value document store offering streaming reads, atomic-increment,
// document add, and batch delete — to the Gateway's needs. The production
// adapter is backed by Redis; CatalogStore is the thin interface the rest of
// the Gateway depends on, so tests can swap in an in-memory fake.
package catalog

import "context"

// CIDRecord is a single persisted catalog document.
type CIDRecord struct {
	CID string `json:"cid"`
}

// Store is the CID catalog and counters adapter. The catalog stream is
// consumed eagerly before fan-out begins, so StreamCIDs returns the full
// materialized list rather than a lazy iterator.
type Store interface {
	// StreamCIDs returns every CID document currently in the catalog.
	StreamCIDs(ctx context.Context) ([]CIDRecord, error)
	// AppendCID atomically adds a new CID document.
	AppendCID(ctx context.Context, cid string) error
	// IncrementCounter atomically adds delta to a named counter, creating
	// it with an initial value of 0 if absent, and returns the new total.
	IncrementCounter(ctx context.Context, name string, delta int64) (int64, error)
	// ClearCIDs deletes every CID document in a single batch.
	ClearCIDs(ctx context.Context) error
}
