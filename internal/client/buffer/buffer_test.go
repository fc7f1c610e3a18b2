package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/models"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails the first failPuts Put calls and every List while
// failList is set.
type flakyStore struct {
	*MemoryStore
	failPuts int32
	puts     atomic.Int32
	failList atomic.Bool
}

var errDisk = errors.New("disk full")

func (f *flakyStore) Put(ctx context.Context, id string, value []byte) error {
	if f.puts.Add(1) <= f.failPuts {
		return errDisk
	}
	return f.MemoryStore.Put(ctx, id, value)
}

func (f *flakyStore) List(ctx context.Context) ([][]byte, error) {
	if f.failList.Load() {
		return nil, errDisk
	}
	return f.MemoryStore.List(ctx)
}

func newBuffer(t *testing.T, s Store, opts Options) *ChunkBuffer {
	t.Helper()
	b := New(s, opts, logging.Discard())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestChunkBuffer_StoreAndFilter(t *testing.T) {
	ctx := context.Background()

	for name, s := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			b := New(s, Options{}, logging.Discard())

			recs := []*models.ChunkRecord{
				{FileName: "a.txt", ChunkIndex: 0, Data: []byte("a0"), SessionID: "s1"},
				{FileName: "b.txt", ChunkIndex: 0, Data: []byte("b0"), SessionID: "s2"},
				{FileName: "a.txt", ChunkIndex: 1, Data: []byte("a1"), SessionID: "s1"},
				{FileName: "a.txt", ChunkIndex: 2, IsEndMarker: true, SessionID: "s1"},
			}
			for _, r := range recs {
				require.NoError(t, b.Store(ctx, r))
				assert.NotEmpty(t, r.ID)
				assert.False(t, r.CreatedAt.IsZero())
			}

			all, err := b.GetAll(ctx, models.Filter{})
			require.NoError(t, err)
			assert.Len(t, all, 4)

			onlyA, err := b.GetAll(ctx, models.Filter{FileName: "a.txt"})
			require.NoError(t, err)
			require.Len(t, onlyA, 3)
			models.SortGroup(onlyA)
			assert.Equal(t, []byte("a0"), onlyA[0].Data)
			assert.Equal(t, []byte("a1"), onlyA[1].Data)
			assert.True(t, onlyA[2].IsEndMarker)

			s2, err := b.GetAll(ctx, models.Filter{SessionID: "s2"})
			require.NoError(t, err)
			require.Len(t, s2, 1)
			assert.Equal(t, "b.txt", s2[0].FileName)

			files, err := b.Files(ctx)
			require.NoError(t, err)
			assert.Equal(t, []models.FileSummary{
				{FileName: "a.txt", Chunks: 2, HasEndMarker: true, Sessions: []string{"s1"}},
				{FileName: "b.txt", Chunks: 1, Sessions: []string{"s2"}},
			}, files)

			require.NoError(t, b.DeleteByID(ctx, recs[0].ID))
			n, err := b.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			require.NoError(t, b.Clear(ctx))
			n, err = b.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestChunkBuffer_Store_Validation(t *testing.T) {
	b := newBuffer(t, NewMemoryStore(), Options{})
	ctx := context.Background()

	tests := []struct {
		name string
		rec  *models.ChunkRecord
	}{
		{"no file name", &models.ChunkRecord{ChunkIndex: 0}},
		{"negative index", &models.ChunkRecord{FileName: "f", ChunkIndex: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Error(t, b.Store(ctx, tt.rec))
		})
	}

	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChunkBuffer_Store_RetriesThenSucceeds(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failPuts: 2}
	b := newBuffer(t, fs, Options{StoreRetries: 3, StoreRetryDelay: time.Millisecond})

	err := b.Store(context.Background(), &models.ChunkRecord{FileName: "f", Data: []byte("x")})
	require.NoError(t, err)
	assert.EqualValues(t, 3, fs.puts.Load())
}

func TestChunkBuffer_Store_RetryExhausted(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failPuts: 10}
	b := newBuffer(t, fs, Options{StoreRetries: 3, StoreRetryDelay: time.Millisecond})

	err := b.Store(context.Background(), &models.ChunkRecord{FileName: "f", Data: []byte("x")})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStorage)
	assert.ErrorIs(t, err, errDisk)
	assert.EqualValues(t, 3, fs.puts.Load())

	select {
	case <-b.Notify():
		t.Fatal("failed store must not signal")
	default:
	}
}

func TestChunkBuffer_Store_ZeroRetriesMeansOneAttempt(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore(), failPuts: 1}
	b := newBuffer(t, fs, Options{})

	err := b.Store(context.Background(), &models.ChunkRecord{FileName: "f"})
	require.ErrorIs(t, err, common.ErrStorage)
	assert.EqualValues(t, 1, fs.puts.Load())
}

func TestChunkBuffer_GetAll_ListFailure(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore()}
	fs.failList.Store(true)
	b := newBuffer(t, fs, Options{StoreRetries: 2, StoreRetryDelay: time.Millisecond})

	_, err := b.GetAll(context.Background(), models.Filter{})
	assert.ErrorIs(t, err, common.ErrStorage)
}

func TestChunkBuffer_Notify(t *testing.T) {
	b := newBuffer(t, NewMemoryStore(), Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Store(ctx, &models.ChunkRecord{FileName: "f", ChunkIndex: i}))
	}

	select {
	case <-b.Notify():
	default:
		t.Fatal("expected a pending wakeup")
	}
	select {
	case <-b.Notify():
		t.Fatal("wakeups must coalesce")
	default:
	}
}

func TestChunkBuffer_UpdateRetry(t *testing.T) {
	b := newBuffer(t, NewMemoryStore(), Options{})
	ctx := context.Background()

	rec := &models.ChunkRecord{FileName: "f", Data: []byte("x")}
	require.NoError(t, b.Store(ctx, rec))

	var meta models.RetryMetadata
	now := time.Now().UTC()
	meta.RecordFailure(errors.New("boom"), now, now.Add(time.Second))
	require.NoError(t, b.UpdateRetry(ctx, rec.ID, meta))

	all, err := b.GetAll(ctx, models.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].Retry.RetryCount)
	assert.Equal(t, []string{"boom"}, all[0].Retry.Errors)
	assert.Equal(t, []byte("x"), all[0].Data)

	// a record deleted in the meantime is not resurrected
	require.NoError(t, b.DeleteByID(ctx, rec.ID))
	require.NoError(t, b.UpdateRetry(ctx, rec.ID, meta))
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// slowDeleteStore blocks Delete until release is closed.
type slowDeleteStore struct {
	*MemoryStore
	started chan struct{}
	release chan struct{}
}

func (s *slowDeleteStore) Delete(ctx context.Context, id string) error {
	close(s.started)
	<-s.release
	return s.MemoryStore.Delete(ctx, id)
}

func TestChunkBuffer_SnapshotNeverSeesInFlightDelete(t *testing.T) {
	s := &slowDeleteStore{
		MemoryStore: NewMemoryStore(),
		started:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	b := newBuffer(t, s, Options{})
	ctx := context.Background()

	rec := &models.ChunkRecord{FileName: "f", Data: []byte("x")}
	require.NoError(t, b.Store(ctx, rec))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, b.DeleteByID(ctx, rec.ID))
	}()
	<-s.started

	got := make(chan int, 1)
	go func() {
		all, err := b.GetAll(ctx, models.Filter{})
		assert.NoError(t, err)
		got <- len(all)
	}()

	select {
	case <-got:
		t.Fatal("snapshot completed while delete was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(s.release)
	wg.Wait()
	assert.Equal(t, 0, <-got)
}

// countingStore counts List calls.
type countingStore struct {
	*MemoryStore
	lists atomic.Int32
}

func (c *countingStore) List(ctx context.Context) ([][]byte, error) {
	c.lists.Add(1)
	return c.MemoryStore.List(ctx)
}

func TestChunkBuffer_IndexTracksMutationsWithoutRelisting(t *testing.T) {
	ctx := context.Background()
	cs := &countingStore{MemoryStore: NewMemoryStore()}

	// a record written before the buffer opened is picked up on first use
	pre, err := json.Marshal(&models.ChunkRecord{ID: "0-pre", FileName: "f", ChunkIndex: 0, Data: []byte("p")})
	require.NoError(t, err)
	require.NoError(t, cs.Put(ctx, "0-pre", pre))

	b := newBuffer(t, cs, Options{})

	idx, err := b.Index(ctx, models.Filter{})
	require.NoError(t, err)
	require.Len(t, idx, 1)
	assert.Nil(t, idx[0].Data)

	a := &models.ChunkRecord{FileName: "f", ChunkIndex: 1, Data: []byte("a")}
	other := &models.ChunkRecord{FileName: "g", ChunkIndex: 0, Data: []byte("g")}
	require.NoError(t, b.Store(ctx, a))
	require.NoError(t, b.Store(ctx, other))

	var meta models.RetryMetadata
	meta.RecordFailure(errors.New("boom"), time.Now(), time.Now())
	require.NoError(t, b.UpdateRetry(ctx, a.ID, meta))
	require.NoError(t, b.DeleteByID(ctx, "0-pre"))

	idx, err = b.Index(ctx, models.Filter{FileName: "f"})
	require.NoError(t, err)
	require.Len(t, idx, 1)
	assert.Equal(t, a.ID, idx[0].ID)
	assert.Nil(t, idx[0].Data)
	assert.Equal(t, 1, idx[0].Retry.RetryCount)

	// mutating a returned record does not leak into the index
	idx[0].Retry.Errors[0] = "changed"
	again, err := b.Index(ctx, models.Filter{FileName: "f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"boom"}, again[0].Retry.Errors)

	full, err := b.Get(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), full.Data)
	assert.Equal(t, 1, full.Retry.RetryCount)

	assert.EqualValues(t, 1, cs.lists.Load(), "index is loaded once")

	require.NoError(t, b.Clear(ctx))
	n, err := b.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.EqualValues(t, 1, cs.lists.Load())
}

func TestChunkBuffer_GetUnknownID(t *testing.T) {
	b := newBuffer(t, NewMemoryStore(), Options{StoreRetries: 3, StoreRetryDelay: time.Millisecond})

	_, err := b.Get(context.Background(), "nope")
	require.ErrorIs(t, err, common.ErrorNotFound)
	assert.NotErrorIs(t, err, common.ErrStorage)
}

func TestChunkBuffer_Index_ListFailure(t *testing.T) {
	fs := &flakyStore{MemoryStore: NewMemoryStore()}
	fs.failList.Store(true)
	b := newBuffer(t, fs, Options{})

	_, err := b.Index(context.Background(), models.Filter{})
	require.ErrorIs(t, err, common.ErrStorage)

	// a failed load is retried on the next call
	fs.failList.Store(false)
	_, err = b.Index(context.Background(), models.Filter{})
	require.NoError(t, err)
}
