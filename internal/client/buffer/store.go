package buffer

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/chunkpipe/internal/filex"
)

// Store is the ordered key-value engine under a ChunkBuffer. Values are
// opaque to it. Get returns common.ErrorNotFound for unknown ids and
// Delete of an unknown id is not an error.
type Store interface {
	Put(ctx context.Context, id string, value []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([][]byte, error)
	Clear(ctx context.Context) error
	Close() error
}

// Backend names accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Open creates the Store for backend at path. path is a file for sqlite
// and bolt, a directory for badger and ignored for memory.
func Open(ctx context.Context, backend, path string) (Store, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend != BackendMemory && path != "" {
		if err := filex.EnsureParent(path, 0o700); err != nil {
			return nil, err
		}
	}

	switch backend {
	case BackendSQLite, "":
		return OpenSQLite(ctx, path)
	case BackendBolt:
		return OpenBolt(path)
	case BackendBadger:
		return OpenBadger(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown buffer backend %q", backend)
	}
}
