package common

// Header names carried by every chunk upload, over HTTP and as gRPC metadata
// (lower-cased there).
const (
	AuthorizationHeaderName = "Authorization"
	ChunkIndexHeaderName    = "X-Chunk-Index"
	FileNameHeaderName      = "X-File-Name"
	ChunkEncodingHeaderName = "X-Chunk-Encoding"
	RequestIDHeaderName     = "X-Request-ID"
)

// EnvelopeEncoding marks a chunk body that holds a serialized encrypted packet.
const EnvelopeEncoding = "envelope"

// DefaultChunkSize is the size producers split files into.
const DefaultChunkSize = 1 << 20
