package constants

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for job event channels
	EventChannelBuffer = 100

	// ProgressEveryFrames is how many sampled frames pass between progress events
	ProgressEveryFrames = 10
)

// Request limits
const (
	// MaxUploadSize is the maximum file upload size in bytes (100MB)
	MaxUploadSize = 100 << 20

	// MaxJSONBodySize bounds JSON request bodies
	MaxJSONBodySize = 1 << 20

	// JobRetention is how many finished jobs the job manager keeps for polling
	JobRetention = 100
)
