package database

import (
	"context"
)

// IdentityReader provides read-only access to enrolled identity records
type IdentityReader interface {
	// NearestNeighbors returns up to k records ordered by descending similarity.
	// An empty store yields an empty result, k larger than the store returns all.
	NearestNeighbors(ctx context.Context, query []float32, k int) ([]Neighbor, error)
	// FindByStaffID returns every record stored for staffID
	FindByStaffID(ctx context.Context, staffID string) ([]IdentityRecord, error)
	// ListStaff returns all records ordered by staff ID
	ListStaff(ctx context.Context) ([]IdentityRecord, error)
	// Count returns the total number of records stored
	Count(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to identity records
type IdentityWriter interface {
	// UpsertBatch inserts or replaces records by RecordID. The batch is
	// validated first and written all-or-nothing.
	UpsertBatch(ctx context.Context, records []IdentityRecord) error
	// DeleteByStaffID removes every record of staffID and returns how many were removed
	DeleteByStaffID(ctx context.Context, staffID string) (int, error)
}

// VectorStore is the similarity index the attendance core is built on.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	IdentityReader
	IdentityWriter
	Close() error
}

// Saver is implemented by stores that keep an index on local disk.
type Saver interface {
	// Save persists the current index so the next start can skip rebuilding it
	Save() error
}
