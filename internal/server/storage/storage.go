// Package storage holds the receiver's chunk sinks.
package storage

import (
	"context"
	"fmt"
)

// Sink persists received chunks under a resolved storage name.
type Sink interface {
	// Append adds one chunk to name. Chunks of a file arrive in order.
	Append(ctx context.Context, name string, chunkIndex int, data []byte) error
	// Exists reports whether anything is stored under name.
	Exists(ctx context.Context, name string) (bool, error)
	Close() error
}

type Options struct {
	Kind string
	Dir  string
	S3   S3Options
}

// Open builds the sink named by opts.Kind: "fs" (default) or "s3".
func Open(ctx context.Context, opts Options) (Sink, error) {
	switch opts.Kind {
	case "", "fs", "file", "filesystem":
		return NewFileSink(opts.Dir)
	case "s3":
		return NewS3Sink(ctx, opts.S3)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", opts.Kind)
	}
}
