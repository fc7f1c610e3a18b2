package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
)

const (
	dirPerm  = 0o700
	filePerm = 0o600
	fileExt  = ".json"
)

// Filesystem stores one <kid>.json file per key under dir. When a
// passphrase is set the private key is written sealed and opened on load.
type Filesystem struct {
	dir        string
	passphrase []byte

	mu sync.RWMutex
}

// fileDocument is the on-disk shape. Exactly one of PrivateKey and
// SealedPrivateKey is set.
type fileDocument struct {
	Kid              string             `json:"kid"`
	PublicKey        string             `json:"publicKey"`
	PrivateKey       string             `json:"privateKey,omitempty"`
	SealedPrivateKey *cryptox.SealedKey `json:"sealedPrivateKey,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
	ExpiresAt        time.Time          `json:"expiresAt"`
	Active           bool               `json:"active"`
}

func NewFilesystem(dir string, passphrase []byte) *Filesystem {
	return &Filesystem{dir: dir, passphrase: passphrase}
}

func (f *Filesystem) Initialize(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, dirPerm); err != nil {
		return fmt.Errorf("mkdir %s: %w", f.dir, err)
	}
	return os.Chmod(f.dir, dirPerm)
}

func (f *Filesystem) path(kid string) string {
	return filepath.Join(f.dir, kid+fileExt)
}

func (f *Filesystem) Save(ctx context.Context, kid string, rec *KeyRecord) error {
	if err := checkRecord(kid, rec); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.write(rec)
}

func (f *Filesystem) write(rec *KeyRecord) error {
	doc := fileDocument{
		Kid:       rec.Kid,
		PublicKey: rec.PublicKey,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
		Active:    rec.Active,
	}
	if len(f.passphrase) > 0 {
		sealed, err := cryptox.SealPrivateKey(rec.PrivateKey, f.passphrase)
		if err != nil {
			return fmt.Errorf("seal private key: %w", err)
		}
		doc.SealedPrivateKey = sealed
	} else {
		doc.PrivateKey = rec.PrivateKey
	}

	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(f.dir, "."+rec.Kid+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("write key file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, f.path(rec.Kid))
}

func (f *Filesystem) Load(ctx context.Context, kid string) (*KeyRecord, error) {
	if !cryptox.IsValidKeyID(kid) {
		return nil, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.read(kid)
}

func (f *Filesystem) read(kid string) (*KeyRecord, error) {
	body, err := os.ReadFile(f.path(kid))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode key file %s: %w", kid, err)
	}

	rec := &KeyRecord{
		Kid:        doc.Kid,
		PublicKey:  doc.PublicKey,
		PrivateKey: doc.PrivateKey,
		CreatedAt:  doc.CreatedAt,
		ExpiresAt:  doc.ExpiresAt,
		Active:     doc.Active,
	}
	if doc.SealedPrivateKey != nil {
		if len(f.passphrase) == 0 {
			return nil, fmt.Errorf("key %s is sealed and no passphrase is configured", kid)
		}
		pemText, err := cryptox.OpenPrivateKey(doc.SealedPrivateKey, f.passphrase)
		if err != nil {
			return nil, fmt.Errorf("open key %s: %w", kid, err)
		}
		rec.PrivateKey = pemText
	}
	return rec, nil
}

func (f *Filesystem) kids() ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var kids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileExt) {
			continue
		}
		kid := strings.TrimSuffix(name, fileExt)
		if cryptox.IsValidKeyID(kid) {
			kids = append(kids, kid)
		}
	}
	return kids, nil
}

func (f *Filesystem) LoadAll(ctx context.Context) ([]*KeyRecord, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loadAll()
}

func (f *Filesystem) loadAll() ([]*KeyRecord, error) {
	kids, err := f.kids()
	if err != nil {
		return nil, err
	}
	out := make([]*KeyRecord, 0, len(kids))
	for _, kid := range kids {
		rec, err := f.read(kid)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, rec)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (f *Filesystem) Delete(ctx context.Context, kid string) (bool, error) {
	if !cryptox.IsValidKeyID(kid) {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	err := os.Remove(f.path(kid))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *Filesystem) Exists(ctx context.Context, kid string) (bool, error) {
	if !cryptox.IsValidKeyID(kid) {
		return false, nil
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, err := os.Stat(f.path(kid))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (f *Filesystem) List(ctx context.Context) ([]string, error) {
	all, err := f.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	kids := make([]string, len(all))
	for i, r := range all {
		kids[i] = r.Kid
	}
	return kids, nil
}

// Activate rewrites every active record as inactive, then writes rec as
// active, all under the store lock.
func (f *Filesystem) Activate(ctx context.Context, rec *KeyRecord) error {
	if err := checkRecord(rec.Kid, rec); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	all, err := f.loadAll()
	if err != nil {
		return err
	}
	for _, r := range all {
		if r.Active && r.Kid != rec.Kid {
			r.Active = false
			if err := f.write(r); err != nil {
				return err
			}
		}
	}
	c := rec.clone()
	c.Active = true
	return f.write(c)
}

func (f *Filesystem) Close() error {
	return nil
}
