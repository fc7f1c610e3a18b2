package client

import (
	"context"
	"time"
)

const tokenTTL = 5 * time.Minute

// Chunk is one upload request.
type Chunk struct {
	FileName   string
	ChunkIndex int
	Body       []byte
	// Encrypted marks Body as a serialized envelope packet.
	Encrypted bool
}

// UploadResult is the receiver's acknowledgement of a chunk.
type UploadResult struct {
	Message        string `json:"message"`
	ActualFilename string `json:"actualFilename"`
	ChunkIndex     int    `json:"chunkIndex"`
	ClientFilename string `json:"clientFilename"`
}

// PublicKey is the receiver's active encryption key.
type PublicKey struct {
	Kid       string    `json:"kid"`
	PublicKey string    `json:"publicKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Client interface {
	UploadChunk(ctx context.Context, c Chunk) (*UploadResult, error)
	FetchPublicKey(ctx context.Context) (*PublicKey, error)
	Health(ctx context.Context) error
	Close() error
}
