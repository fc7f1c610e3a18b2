// Package keys owns the receiver's key lifecycle on top of a
// keystore.KeyStore: the single active key, rotation that never drops old
// keys, private key lookup by kid and age-based cleanup.
package keys

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/keystore"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

var ErrNoActiveKey = errors.New("no active key")

type Options struct {
	// KeyBits is the RSA modulus size of generated keys.
	KeyBits int
	// KeyTTL sets ExpiresAt of new keys. Expiry is advisory: it is published
	// to senders and protects keys from cleanup, never to refuse decryption.
	KeyTTL time.Duration

	CacheSize int
	CacheTTL  time.Duration
}

func (o *Options) setDefaults() {
	if o.KeyBits == 0 {
		o.KeyBits = cryptox.DefaultKeyBits
	}
	if o.KeyTTL == 0 {
		o.KeyTTL = 90 * 24 * time.Hour
	}
	if o.CacheSize == 0 {
		o.CacheSize = 32
	}
	if o.CacheTTL == 0 {
		o.CacheTTL = 10 * time.Minute
	}
}

// PublicKeyInfo is what senders fetch to encrypt for this receiver.
type PublicKeyInfo struct {
	Kid       string    `json:"kid"`
	PublicKey string    `json:"publicKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// KeyInfo describes a stored key without its private half.
type KeyInfo struct {
	Kid       string    `json:"kid"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Active    bool      `json:"active"`
}

type Manager struct {
	store  keystore.KeyStore
	opts   Options
	logger logging.Logger

	// rotateMu serializes rotations so the store and active never disagree
	// on which key is active.
	rotateMu sync.Mutex
	mu       sync.RWMutex
	active   *keystore.KeyRecord

	cache *expirable.LRU[string, *rsa.PrivateKey]

	generate func(bits int) (*cryptox.KeyPair, error)
	now      func() time.Time
}

func NewManager(store keystore.KeyStore, opts Options, l logging.Logger) *Manager {
	opts.setDefaults()
	return &Manager{
		store:    store,
		opts:     opts,
		logger:   l.With("module", "keys"),
		cache:    expirable.NewLRU[string, *rsa.PrivateKey](opts.CacheSize, nil, opts.CacheTTL),
		generate: cryptox.GenerateKeyPair,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Initialize prepares the store and adopts the persisted active key, or
// creates one when the store holds none.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.store.Initialize(ctx); err != nil {
		return fmt.Errorf("keystore init: %w", err)
	}

	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	var active *keystore.KeyRecord
	for _, rec := range all {
		if rec.Active && (active == nil || rec.CreatedAt.After(active.CreatedAt)) {
			active = rec
		}
	}

	if active == nil {
		kid, err := m.RotateKeys(ctx)
		if err != nil {
			return err
		}
		m.logger.Info(ctx, "generated initial key", "kid", kid, "stored_keys", len(all))
		return nil
	}

	m.mu.Lock()
	m.active = active
	m.mu.Unlock()

	m.logger.Info(ctx, "adopted active key", "kid", active.Kid, "stored_keys", len(all))
	return nil
}

// RotateKeys generates a new key pair, makes it the only active key and
// returns its kid. Previous keys stay in the store.
func (m *Manager) RotateKeys(ctx context.Context) (string, error) {
	m.rotateMu.Lock()
	defer m.rotateMu.Unlock()

	pair, err := m.generate(m.opts.KeyBits)
	if err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}

	created := m.now()
	rec := &keystore.KeyRecord{
		Kid:        pair.Kid,
		PublicKey:  pair.PublicPEM,
		PrivateKey: pair.PrivatePEM,
		CreatedAt:  created,
		ExpiresAt:  created.Add(m.opts.KeyTTL),
		Active:     true,
	}

	if err := m.activate(ctx, rec); err != nil {
		return "", fmt.Errorf("persist key: %w", err)
	}

	m.mu.Lock()
	previous := m.active
	m.active = rec
	m.mu.Unlock()

	m.cache.Add(rec.Kid, pair.PrivateKey)

	if previous != nil {
		m.logger.Info(ctx, "rotated key", "kid", rec.Kid, "previous_kid", previous.Kid)
	}
	return rec.Kid, nil
}

func (m *Manager) activate(ctx context.Context, rec *keystore.KeyRecord) error {
	if a, ok := m.store.(keystore.Activator); ok {
		return a.Activate(ctx, rec)
	}

	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return err
	}
	for _, old := range all {
		if old.Active && old.Kid != rec.Kid {
			old.Active = false
			if err := m.store.Save(ctx, old.Kid, old); err != nil {
				return err
			}
		}
	}
	return m.store.Save(ctx, rec.Kid, rec)
}

// ActiveKid returns the kid of the current active key, or "" before
// Initialize.
func (m *Manager) ActiveKid() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return ""
	}
	return m.active.Kid
}

func (m *Manager) GetActivePublicKey(ctx context.Context) (PublicKeyInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil {
		return PublicKeyInfo{}, ErrNoActiveKey
	}
	return PublicKeyInfo{
		Kid:       m.active.Kid,
		PublicKey: m.active.PublicKey,
		ExpiresAt: m.active.ExpiresAt,
	}, nil
}

// GetPrivateKey resolves any stored key, active or not.
func (m *Manager) GetPrivateKey(ctx context.Context, kid string) (*rsa.PrivateKey, error) {
	if key, ok := m.cache.Get(kid); ok {
		cacheHits.Inc()
		return key, nil
	}
	cacheMisses.Inc()

	if !cryptox.IsValidKeyID(kid) {
		return nil, fmt.Errorf("key %q: %w", kid, common.ErrorNotFound)
	}

	rec, err := m.store.Load(ctx, kid)
	if err != nil {
		return nil, fmt.Errorf("load key %s: %w", kid, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("key %s: %w", kid, common.ErrorNotFound)
	}

	key, err := cryptox.ParsePrivateKeyPEM(rec.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", kid, err)
	}
	m.cache.Add(kid, key)
	return key, nil
}

// UnwrapSessionKey unwraps with the key named by kid first and then with
// every other stored key. Failure is always common.ErrCrypto.
func (m *Manager) UnwrapSessionKey(ctx context.Context, kid string, wrapped []byte) ([]byte, error) {
	if key, err := m.GetPrivateKey(ctx, kid); err == nil {
		if sk, err := cryptox.UnwrapSessionKey(wrapped, key); err == nil {
			return sk, nil
		}
	}

	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, common.ErrCrypto
	}
	for _, rec := range all {
		if rec.Kid == kid {
			continue
		}
		key, err := m.GetPrivateKey(ctx, rec.Kid)
		if err != nil {
			continue
		}
		if sk, err := cryptox.UnwrapSessionKey(wrapped, key); err == nil {
			m.logger.Warn(ctx, "session key unwrapped with a different key than announced", "kid", kid, "used_kid", rec.Kid)
			return sk, nil
		}
	}
	return nil, common.ErrCrypto
}

// Cleanup deletes inactive keys created more than maxAge ago. Keys that have
// not reached ExpiresAt are kept, since senders may still hold them, and so
// is any kid for which inUse reports true. maxAge <= 0 disables cleanup.
func (m *Manager) Cleanup(ctx context.Context, maxAge time.Duration, inUse func(kid string) bool) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}

	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("load keys: %w", err)
	}

	activeKid := m.ActiveKid()
	now := m.now()
	cutoff := now.Add(-maxAge)
	removed := 0

	for _, rec := range all {
		if rec.Active || rec.Kid == activeKid || !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if !rec.ExpiresAt.IsZero() && now.Before(rec.ExpiresAt) {
			continue
		}
		if inUse != nil && inUse(rec.Kid) {
			continue
		}
		ok, err := m.store.Delete(ctx, rec.Kid)
		if err != nil {
			return removed, fmt.Errorf("delete key %s: %w", rec.Kid, err)
		}
		if ok {
			removed++
			m.cache.Remove(rec.Kid)
			m.logger.Info(ctx, "removed aged key", "kid", rec.Kid, "created_at", rec.CreatedAt)
		}
	}
	return removed, nil
}

func (m *Manager) Keys(ctx context.Context) ([]KeyInfo, error) {
	all, err := m.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, len(all))
	for i, rec := range all {
		out[i] = KeyInfo{Kid: rec.Kid, CreatedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt, Active: rec.Active}
	}
	return out, nil
}

// Close drops cached keys and closes the store.
func (m *Manager) Close() error {
	m.cache.Purge()
	return m.store.Close()
}
