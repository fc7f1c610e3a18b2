// Package keystore persists the receiver's RSA key records. Three backends
// satisfy KeyStore: Memory, Filesystem and Postgres (a JSONB document
// store). New selects one from a type tag.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
)

var ErrInvalidKid = errors.New("invalid kid")

// KeyRecord is one persisted key pair. Key material never changes once
// saved; only Active is flipped on rotation.
type KeyRecord struct {
	Kid        string    `json:"kid"`
	PublicKey  string    `json:"publicKey"`
	PrivateKey string    `json:"privateKey"`
	CreatedAt  time.Time `json:"createdAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
	Active     bool      `json:"active"`
}

func (r *KeyRecord) clone() *KeyRecord {
	c := *r
	return &c
}

// KeyStore is implemented by every backend. Save is an idempotent upsert
// and Delete of an unknown kid returns false with no error. Load returns
// nil, nil when the kid is absent.
type KeyStore interface {
	Initialize(ctx context.Context) error
	Save(ctx context.Context, kid string, rec *KeyRecord) error
	Load(ctx context.Context, kid string) (*KeyRecord, error)
	LoadAll(ctx context.Context) ([]*KeyRecord, error)
	Delete(ctx context.Context, kid string) (bool, error)
	Exists(ctx context.Context, kid string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Close() error
}

// Activator is implemented by stores that can switch the active key
// atomically: every existing record is deactivated and rec is saved as the
// only active one.
type Activator interface {
	Activate(ctx context.Context, rec *KeyRecord) error
}

type Type string

const (
	TypeMemory     Type = "memory"
	TypeFilesystem Type = "filesystem"
	TypePostgres   Type = "postgres"
)

// ParseType maps a configuration tag to a backend type. "file" and "fs"
// are accepted for the filesystem store, "document" for Postgres.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "memory", "mem":
		return TypeMemory, nil
	case "filesystem", "file", "fs":
		return TypeFilesystem, nil
	case "postgres", "document", "pg":
		return TypePostgres, nil
	default:
		return "", fmt.Errorf("unknown keystore type %q", s)
	}
}

// Options configures New. Dir and Passphrase apply to the filesystem store,
// DSN to Postgres.
type Options struct {
	Type       string
	Dir        string
	Passphrase string
	DSN        string
}

func New(opts Options) (KeyStore, error) {
	t, err := ParseType(opts.Type)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypeMemory:
		return NewMemory(), nil
	case TypeFilesystem:
		if opts.Dir == "" {
			return nil, errors.New("filesystem keystore needs a directory")
		}
		return NewFilesystem(opts.Dir, []byte(opts.Passphrase)), nil
	case TypePostgres:
		if opts.DSN == "" {
			return nil, errors.New("postgres keystore needs a DSN")
		}
		return OpenPostgres(opts.DSN)
	}
	return nil, fmt.Errorf("unsupported keystore type %q", t)
}

func checkRecord(kid string, rec *KeyRecord) error {
	if !cryptox.IsValidKeyID(kid) {
		return fmt.Errorf("%w: %q", ErrInvalidKid, kid)
	}
	if rec == nil {
		return errors.New("nil key record")
	}
	if rec.Kid != kid {
		return fmt.Errorf("%w: record kid %q does not match %q", ErrInvalidKid, rec.Kid, kid)
	}
	return nil
}
