package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dmitrijs2005/chunkpipe/internal/filex"
)

// FileSink appends chunks to files under a root directory.
type FileSink struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileSink(root string) (*FileSink, error) {
	if root == "" {
		return nil, errors.New("output directory is required")
	}
	if err := filex.EnsureDir(root, 0o750); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &FileSink{root: root, locks: make(map[string]*sync.Mutex)}, nil
}

func (s *FileSink) Root() string { return s.root }

func (s *FileSink) lock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.locks[name]
	if !ok {
		m = &sync.Mutex{}
		s.locks[name] = m
	}
	return m
}

func (s *FileSink) Append(ctx context.Context, name string, chunkIndex int, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := s.lock(name)
	m.Lock()
	defer m.Unlock()

	p := filepath.Join(s.root, filepath.FromSlash(name))
	if err := filex.EnsureParent(p, 0o750); err != nil {
		return fmt.Errorf("create directory for %s: %w", name, err)
	}

	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write chunk %d of %s: %w", chunkIndex, name, err)
	}
	return f.Close()
}

func (s *FileSink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(name)))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (s *FileSink) Close() error { return nil }
