// Package buffer implements the sender's durable chunk queue on top of a
// pluggable key-value Store.
package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/models"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/google/uuid"
)

type Options struct {
	// StoreRetries is the number of attempts for each store operation.
	StoreRetries    int
	StoreRetryDelay time.Duration
}

// ChunkBuffer is an ordered, durable queue of chunk records. Ordering is
// applied by consumers through models.SortGroup; the store order carries
// no meaning.
//
// Record metadata (everything but Data) is indexed in memory, loaded from
// the store on first use and kept current by every mutation, so a
// ChunkBuffer must be the only writer of its store.
type ChunkBuffer struct {
	store  Store
	opts   Options
	logger logging.Logger

	// view guards snapshots against in-flight deletes: GetAll and Index hold
	// the shared side, DeleteByID the exclusive side.
	view sync.RWMutex

	idxMu  sync.Mutex
	loaded bool
	order  []string
	meta   map[string]*models.ChunkRecord

	notify chan struct{}
}

func New(store Store, opts Options, l logging.Logger) *ChunkBuffer {
	if opts.StoreRetries < 1 {
		opts.StoreRetries = 1
	}
	return &ChunkBuffer{
		store:  store,
		opts:   opts,
		logger: l.With("module", "chunk_buffer"),
		meta:   make(map[string]*models.ChunkRecord),
		notify: make(chan struct{}, 1),
	}
}

// retry runs op up to StoreRetries times with a fixed delay and wraps the
// final failure in common.ErrStorage.
func (b *ChunkBuffer) retry(ctx context.Context, name string, op func() error) error {
	var err error
	for attempt := 1; attempt <= b.opts.StoreRetries; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == b.opts.StoreRetries {
			break
		}
		b.logger.Warn(ctx, "store operation failed, retrying", "op", name, "attempt", attempt, "error", err)

		t := time.NewTimer(b.opts.StoreRetryDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %w", common.ErrStorage, name, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %s: %w", common.ErrStorage, name, err)
}

// Store persists rec, assigning an id and creation time when missing. The
// caller must not advance its producer when Store fails.
func (b *ChunkBuffer) Store(ctx context.Context, rec *models.ChunkRecord) error {
	if rec.FileName == "" {
		return errors.New("chunk record needs a file name")
	}
	if rec.ChunkIndex < 0 {
		return fmt.Errorf("negative chunk index %d", rec.ChunkIndex)
	}
	if rec.ID == "" {
		// v7 ids sort by creation time, so key-ordered stores list in
		// insertion order
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		rec.ID = id.String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	b.view.RLock()
	err = b.retry(ctx, "put", func() error { return b.store.Put(ctx, rec.ID, value) })
	b.view.RUnlock()
	if err != nil {
		return err
	}

	b.idxMu.Lock()
	if b.loaded {
		if _, ok := b.meta[rec.ID]; !ok {
			b.order = append(b.order, rec.ID)
		}
		b.meta[rec.ID] = stripData(rec)
	}
	b.idxMu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
	return nil
}

// GetAll returns a snapshot of the records matching f. Callers re-fetch
// after every mutation.
func (b *ChunkBuffer) GetAll(ctx context.Context, f models.Filter) ([]*models.ChunkRecord, error) {
	b.view.RLock()
	defer b.view.RUnlock()

	var values [][]byte
	err := b.retry(ctx, "list", func() error {
		var err error
		values, err = b.store.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]*models.ChunkRecord, 0, len(values))
	for _, v := range values {
		var rec models.ChunkRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			b.logger.Error(ctx, "skipping undecodable chunk record", "error", err)
			continue
		}
		if f.Match(&rec) {
			out = append(out, &rec)
		}
	}
	return out, nil
}

// Index returns the records matching f without their payloads, in store
// order. Use Get to load the payload of a record.
func (b *ChunkBuffer) Index(ctx context.Context, f models.Filter) ([]*models.ChunkRecord, error) {
	b.view.RLock()
	defer b.view.RUnlock()

	if err := b.loadIndex(ctx); err != nil {
		return nil, err
	}

	b.idxMu.Lock()
	defer b.idxMu.Unlock()

	out := make([]*models.ChunkRecord, 0, len(b.meta))
	for _, id := range b.order {
		m, ok := b.meta[id]
		if !ok || !f.Match(m) {
			continue
		}
		out = append(out, stripData(m))
	}
	return out, nil
}

// Get loads one record with its payload. Unknown ids yield
// common.ErrorNotFound.
func (b *ChunkBuffer) Get(ctx context.Context, id string) (*models.ChunkRecord, error) {
	b.view.RLock()
	defer b.view.RUnlock()

	var v []byte
	missing := false
	err := b.retry(ctx, "get", func() error {
		var err error
		v, err = b.store.Get(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			missing = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	if missing {
		return nil, fmt.Errorf("chunk record %s: %w", id, common.ErrorNotFound)
	}

	var rec models.ChunkRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("decode chunk record %s: %w", id, err)
	}
	return &rec, nil
}

// loadIndex fills the metadata index from the store once. The caller holds
// view.
func (b *ChunkBuffer) loadIndex(ctx context.Context) error {
	b.idxMu.Lock()
	defer b.idxMu.Unlock()

	if b.loaded {
		return nil
	}

	var values [][]byte
	err := b.retry(ctx, "list", func() error {
		var err error
		values, err = b.store.List(ctx)
		return err
	})
	if err != nil {
		return err
	}

	for _, v := range values {
		var rec models.ChunkRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			b.logger.Error(ctx, "skipping undecodable chunk record", "error", err)
			continue
		}
		if _, ok := b.meta[rec.ID]; !ok {
			b.order = append(b.order, rec.ID)
		}
		b.meta[rec.ID] = stripData(&rec)
	}
	b.loaded = true
	return nil
}

// stripData copies r without its payload.
func stripData(r *models.ChunkRecord) *models.ChunkRecord {
	c := *r
	c.Data = nil
	c.Retry.Errors = append([]string(nil), r.Retry.Errors...)
	return &c
}

// DeleteByID removes a delivered record. No snapshot taken while the delete
// runs can contain the record.
func (b *ChunkBuffer) DeleteByID(ctx context.Context, id string) error {
	b.view.Lock()
	defer b.view.Unlock()

	if err := b.retry(ctx, "delete", func() error { return b.store.Delete(ctx, id) }); err != nil {
		return err
	}

	b.idxMu.Lock()
	delete(b.meta, id)
	// drop deleted ids from order once they dominate it
	if len(b.order) > 2*len(b.meta)+64 {
		kept := b.order[:0]
		for _, oid := range b.order {
			if _, ok := b.meta[oid]; ok {
				kept = append(kept, oid)
			}
		}
		b.order = kept
	}
	b.idxMu.Unlock()
	return nil
}

// UpdateRetry replaces the retry metadata of a record. A record that has
// disappeared in the meantime is ignored.
func (b *ChunkBuffer) UpdateRetry(ctx context.Context, id string, meta models.RetryMetadata) error {
	b.view.RLock()
	defer b.view.RUnlock()

	err := b.retry(ctx, "update", func() error {
		v, err := b.store.Get(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec models.ChunkRecord
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		rec.Retry = meta
		updated, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		return b.store.Put(ctx, id, updated)
	})
	if err != nil {
		return err
	}

	b.idxMu.Lock()
	if m, ok := b.meta[id]; ok {
		m.Retry = meta
		m.Retry.Errors = append([]string(nil), meta.Errors...)
	}
	b.idxMu.Unlock()
	return nil
}

// Clear drops every buffered record.
func (b *ChunkBuffer) Clear(ctx context.Context) error {
	b.view.Lock()
	defer b.view.Unlock()

	if err := b.retry(ctx, "clear", func() error { return b.store.Clear(ctx) }); err != nil {
		return err
	}

	b.idxMu.Lock()
	b.order = nil
	b.meta = make(map[string]*models.ChunkRecord)
	b.loaded = true
	b.idxMu.Unlock()
	return nil
}

func (b *ChunkBuffer) Count(ctx context.Context) (int, error) {
	recs, err := b.Index(ctx, models.Filter{})
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Files summarizes the buffer per file name, sorted by name.
func (b *ChunkBuffer) Files(ctx context.Context) ([]models.FileSummary, error) {
	recs, err := b.Index(ctx, models.Filter{})
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*models.FileSummary)
	for _, r := range recs {
		s, ok := byName[r.FileName]
		if !ok {
			s = &models.FileSummary{FileName: r.FileName}
			byName[r.FileName] = s
		}
		if r.IsEndMarker {
			s.HasEndMarker = true
		} else {
			s.Chunks++
		}
		if r.SessionID != "" && !contains(s.Sessions, r.SessionID) {
			s.Sessions = append(s.Sessions, r.SessionID)
		}
	}

	out := make([]models.FileSummary, 0, len(byName))
	for _, s := range byName {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileName < out[j].FileName })
	return out, nil
}

// Notify is signaled after every successful Store. It has capacity one, so
// consumers see at most one pending wakeup.
func (b *ChunkBuffer) Notify() <-chan struct{} {
	return b.notify
}

func (b *ChunkBuffer) Close() error {
	return b.store.Close()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
