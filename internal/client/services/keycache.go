package services

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/client"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/filex"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

// KeySource fetches the receiver's active public key.
type KeySource interface {
	FetchPublicKey(ctx context.Context) (*client.PublicKey, error)
}

// ErrNoPublicKey is returned when neither the receiver nor the cache can
// provide a usable key.
var ErrNoPublicKey = errors.New("no receiver public key available")

// KeyCache keeps the receiver's public key in memory and, when path is set,
// on disk, so data can be encrypted while the receiver is unreachable.
type KeyCache struct {
	source KeySource
	path   string
	logger logging.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *client.PublicKey
	parsed *rsa.PublicKey
}

func NewKeyCache(source KeySource, path string, l logging.Logger) *KeyCache {
	return &KeyCache{source: source, path: path, logger: l.With("module", "key_cache"), now: time.Now}
}

// Get returns a usable key, preferring a fresh one from the receiver and
// falling back to a cached one that has not expired.
func (c *KeyCache) Get(ctx context.Context) (*client.PublicKey, *rsa.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.usable(c.cached) {
		return c.cached, c.parsed, nil
	}

	err := c.refreshLocked(ctx)
	if err == nil {
		return c.cached, c.parsed, nil
	}
	c.logger.Warn(ctx, "public key fetch failed, trying cache", "error", err)

	pk, err := c.load()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoPublicKey, err)
	}
	if !c.usable(pk) {
		return nil, nil, fmt.Errorf("%w: cached key %s expired", ErrNoPublicKey, pk.Kid)
	}
	parsed, err := cryptox.ParsePublicKeyPEM(pk.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoPublicKey, err)
	}
	c.cached, c.parsed = pk, parsed
	return pk, parsed, nil
}

// Refresh fetches the key from the receiver and replaces the cache.
func (c *KeyCache) Refresh(ctx context.Context) (*client.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	return c.cached, nil
}

func (c *KeyCache) refreshLocked(ctx context.Context) error {
	pk, err := c.source.FetchPublicKey(ctx)
	if err != nil {
		return err
	}
	if !cryptox.IsValidKeyID(pk.Kid) {
		return fmt.Errorf("receiver sent invalid kid %q", pk.Kid)
	}
	parsed, err := cryptox.ParsePublicKeyPEM(pk.PublicKey)
	if err != nil {
		return err
	}
	if cryptox.KeyID(pk.PublicKey) != pk.Kid {
		return fmt.Errorf("kid %s does not match the public key", pk.Kid)
	}

	c.cached, c.parsed = pk, parsed
	if err := c.save(pk); err != nil {
		c.logger.Warn(ctx, "failed to persist public key", "path", c.path, "error", err)
	}
	return nil
}

func (c *KeyCache) usable(pk *client.PublicKey) bool {
	return pk.ExpiresAt.IsZero() || c.now().Before(pk.ExpiresAt)
}

func (c *KeyCache) load() (*client.PublicKey, error) {
	if c.path == "" {
		return nil, errors.New("no key cache configured")
	}
	b, err := os.ReadFile(c.path)
	if err != nil {
		return nil, err
	}
	var pk client.PublicKey
	if err := json.Unmarshal(b, &pk); err != nil {
		return nil, err
	}
	return &pk, nil
}

func (c *KeyCache) save(pk *client.PublicKey) error {
	if c.path == "" {
		return nil
	}
	b, err := json.MarshalIndent(pk, "", "  ")
	if err != nil {
		return err
	}
	if err := filex.EnsureParent(c.path, 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, b, 0o600)
}
