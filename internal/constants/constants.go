// Package constants provides shared constants used across the codebase.
package constants

// Recognition constants
const (
	// NearestNeighborK is how many neighbors identity matching asks the store for
	NearestNeighborK = 1

	// ScoreDecimals is the number of decimals similarities are reported with
	ScoreDecimals = 4

	// MaxFrameWidth is the width sampled video frames are downscaled to before extraction
	MaxFrameWidth = 640

	// JPEGQuality is used when re-encoding images for the embedding server
	JPEGQuality = 90
)

// Enrollment constants
const (
	// WorkerPoolSize is the default number of parallel workers for batch enrollment
	WorkerPoolSize = 4

	// RecordIDPrefix is prepended to "<staffId>_<name>" before hashing into a record id
	RecordIDPrefix = "staff_"
)
