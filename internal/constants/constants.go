// Package constants provides shared constants used across the codebase.
package constants

// Handler constants
const (
	// MaxUploadSize is the maximum photo upload size in bytes (20MB)
	MaxUploadSize = 20 << 20

	// MaxJSONBodySize is the maximum size of a JSON request body (embeddings included)
	MaxJSONBodySize = 4 << 20

	// MaxEnrolmentEmbeddings is the maximum number of embeddings accepted per enrolment request
	MaxEnrolmentEmbeddings = 20
)

// Enrolment constants
const (
	// DefaultSimilarLimit is the default number of look-alike students reported
	DefaultSimilarLimit = 5

	// DefaultImportConcurrency is the number of photos sent to the embedding server in parallel
	DefaultImportConcurrency = 4
)

// Event constants
const (
	// EventPublishTimeoutSeconds bounds how long a single MQTT publish may block
	EventPublishTimeoutSeconds = 5
)
