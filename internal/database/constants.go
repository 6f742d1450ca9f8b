package database

// DefaultBatchSize is how many records a Buffer collects before writing them.
const DefaultBatchSize = 50

// HNSW index parameters for 512-dim face embeddings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// than asked for, so that enough remain after dropping deleted nodes.
	HNSWSearchMultiplier = 3
)
