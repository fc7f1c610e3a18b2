package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSink_AppendInOrder(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSink(root)
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "a/b/out.bin")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Append(ctx, "a/b/out.bin", 0, []byte("hello ")))
	require.NoError(t, s.Append(ctx, "a/b/out.bin", 1, []byte("world")))

	got, err := os.ReadFile(filepath.Join(root, "a", "b", "out.bin"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	ok, err = s.Exists(ctx, "a/b/out.bin")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFileSink_ConcurrentFiles(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSink(root)
	require.NoError(t, err)
	ctx := context.Background()

	var wg sync.WaitGroup
	for f := 0; f < 4; f++ {
		wg.Add(1)
		go func(f int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				assert.NoError(t, s.Append(ctx, fmt.Sprintf("f%d", f), i, []byte("x")))
			}
		}(f)
	}
	wg.Wait()

	for f := 0; f < 4; f++ {
		got, err := os.ReadFile(filepath.Join(root, fmt.Sprintf("f%d", f)))
		require.NoError(t, err)
		assert.Len(t, got, 50)
	}
}

func TestFileSink_CanceledContext(t *testing.T) {
	s, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Append(ctx, "x", 0, []byte("x")), context.Canceled)
}

func TestOpen(t *testing.T) {
	_, err := NewFileSink("")
	require.Error(t, err)

	s, err := Open(context.Background(), Options{Kind: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileSink{}, s)

	_, err = Open(context.Background(), Options{Kind: "tape"})
	require.Error(t, err)
}
