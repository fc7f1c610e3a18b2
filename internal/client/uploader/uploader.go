// Package uploader drains the chunk buffer into the receiver in batches,
// retrying transient failures with exponential backoff.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/client"
	"github.com/dmitrijs2005/chunkpipe/internal/client/models"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

// Buffer is the part of the chunk buffer the orchestrator consumes.
type Buffer interface {
	Index(ctx context.Context, f models.Filter) ([]*models.ChunkRecord, error)
	Get(ctx context.Context, id string) (*models.ChunkRecord, error)
	DeleteByID(ctx context.Context, id string) error
	UpdateRetry(ctx context.Context, id string, meta models.RetryMetadata) error
}

// Transport delivers one chunk.
type Transport interface {
	UploadChunk(ctx context.Context, c client.Chunk) (*client.UploadResult, error)
}

type Status string

const (
	StatusUploading Status = "uploading"
	StatusUploaded  Status = "uploaded"
	StatusRetrying  Status = "retrying"
	StatusFailed    Status = "failed"
)

// Progress is reported for every delivery attempt and its outcome.
type Progress struct {
	FileName   string
	ChunkIndex int
	Status     Status
	RetryCount int
	Err        error
}

type Options struct {
	// MaxRetries is the number of delivery attempts per chunk and run.
	MaxRetries int
	// BaseDelay is the wait after the first failed attempt; it doubles on
	// every further one.
	BaseDelay  time.Duration
	OnProgress func(Progress)
}

func (o *Options) setDefaults() {
	if o.MaxRetries < 1 {
		o.MaxRetries = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
}

const (
	stateIdle int32 = iota
	stateUploading
)

type Orchestrator struct {
	buf       Buffer
	transport Transport
	opts      Options
	logger    logging.Logger

	state atomic.Int32

	loopMu     sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

func New(buf Buffer, transport Transport, opts Options, l logging.Logger) *Orchestrator {
	opts.setDefaults()
	return &Orchestrator{
		buf:       buf,
		transport: transport,
		opts:      opts,
		logger:    l.With("module", "uploader"),
	}
}

// Backoff returns the wait after the given failed attempt (1-based).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// UploadAll delivers every buffered data chunk, file by file and stream by
// stream in chunk index order, and returns client file name -> name stored
// by the receiver. A call made while another one runs returns an empty map
// at once.
//
// A chunk that fails for good stays buffered, and so does the rest of its
// file, so the receiver never sees a gap. Only an authentication failure
// stops the run; it is returned as is.
func (o *Orchestrator) UploadAll(ctx context.Context) (map[string]string, error) {
	results := make(map[string]string)

	if !o.state.CompareAndSwap(stateIdle, stateUploading) {
		o.logger.Debug(ctx, "upload already in progress")
		return results, nil
	}
	defer o.state.Store(stateIdle)

	recs, err := o.buf.Index(ctx, models.Filter{})
	if err != nil {
		return results, err
	}

	for _, g := range models.GroupByFile(recs) {
		failed := false
		var markers []*models.ChunkRecord

		for i, r := range g.Records {
			if r.IsEndMarker {
				markers = append(markers, r)
				continue
			}
			if err := ctx.Err(); err != nil {
				return results, err
			}

			full, err := o.buf.Get(ctx, r.ID)
			if errors.Is(err, common.ErrorNotFound) {
				continue
			}
			if err != nil {
				return results, err
			}

			res, err := o.deliver(ctx, full)
			if errors.Is(err, common.ErrAuthentication) {
				return results, err
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return results, ctxErr
				}
				failed = true
				o.logger.Error(ctx, "chunk upload failed, keeping the rest of the file buffered",
					"file", r.FileName, "chunk", r.ChunkIndex, "held_back", len(g.Records)-i-1, "error", err)
				break
			}

			name := res.ClientFilename
			if name == "" {
				name = r.FileName
			}
			results[name] = res.ActualFilename
		}

		// end markers only matter to ordered consumers; drop them once the
		// file is fully delivered
		if !failed {
			for _, m := range markers {
				if err := o.buf.DeleteByID(ctx, m.ID); err != nil {
					o.logger.Warn(ctx, "failed to drop end marker", "file", m.FileName, "error", err)
				}
			}
		}
	}

	return results, nil
}

func (o *Orchestrator) deliver(ctx context.Context, r *models.ChunkRecord) (*client.UploadResult, error) {
	meta := r.Retry
	var lastErr error

	for attempt := 1; attempt <= o.opts.MaxRetries; attempt++ {
		st := StatusUploading
		if attempt > 1 {
			st = StatusRetrying
		}
		o.progress(Progress{FileName: r.FileName, ChunkIndex: r.ChunkIndex, Status: st, RetryCount: attempt - 1})

		res, err := o.transport.UploadChunk(ctx, client.Chunk{
			FileName:   r.FileName,
			ChunkIndex: r.ChunkIndex,
			Body:       r.Data,
			Encrypted:  r.Encrypted,
		})
		if err == nil {
			if err := o.buf.DeleteByID(ctx, r.ID); err != nil {
				// delivered anyway; the receiver gets it again next run
				o.logger.Warn(ctx, "failed to delete delivered chunk", "id", r.ID, "error", err)
			}
			o.progress(Progress{FileName: r.FileName, ChunkIndex: r.ChunkIndex, Status: StatusUploaded, RetryCount: attempt - 1})
			return res, nil
		}
		lastErr = err

		delay := Backoff(o.opts.BaseDelay, attempt)
		now := time.Now().UTC()
		meta.RecordFailure(err, now, now.Add(delay))
		if uerr := o.buf.UpdateRetry(ctx, r.ID, meta); uerr != nil {
			o.logger.Warn(ctx, "failed to persist retry metadata", "id", r.ID, "error", uerr)
		}

		if !errors.Is(err, common.ErrNetwork) || attempt == o.opts.MaxRetries {
			break
		}

		o.logger.Warn(ctx, "chunk upload failed, retrying",
			"file", r.FileName, "chunk", r.ChunkIndex, "attempt", attempt, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	o.progress(Progress{FileName: r.FileName, ChunkIndex: r.ChunkIndex, Status: StatusFailed, RetryCount: meta.RetryCount, Err: lastErr})
	return nil, fmt.Errorf("chunk %d of %s: %w", r.ChunkIndex, r.FileName, lastErr)
}

func (o *Orchestrator) progress(p Progress) {
	if o.opts.OnProgress != nil {
		o.opts.OnProgress(p)
	}
}

// Uploading reports whether an UploadAll run is in progress.
func (o *Orchestrator) Uploading() bool {
	return o.state.Load() == stateUploading
}

// Start runs UploadAll right away and then every interval until Stop or ctx
// is done. A second loop is refused with common.ErrConcurrency.
func (o *Orchestrator) Start(ctx context.Context, interval time.Duration) error {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()

	if o.loopDone != nil {
		select {
		case <-o.loopDone:
			// the previous loop ended on its own
			o.loopCancel()
		default:
			return fmt.Errorf("upload loop: %w", common.ErrConcurrency)
		}
	}
	if interval <= 0 {
		return errors.New("upload interval must be positive")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o.loopCancel = cancel
	o.loopDone = done

	go func() {
		defer close(done)
		o.loop(ctx, interval)
	}()
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := o.UploadAll(ctx)
		switch {
		case errors.Is(err, common.ErrAuthentication):
			o.logger.Error(ctx, "upload loop stopped", "error", err)
			return
		case err != nil && ctx.Err() == nil:
			o.logger.Error(ctx, "upload run failed", "error", err)
		case len(res) > 0:
			o.logger.Info(ctx, "upload run finished", "files", len(res))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop ends the background loop and waits for the current run to finish.
func (o *Orchestrator) Stop() {
	o.loopMu.Lock()
	cancel, done := o.loopCancel, o.loopDone
	o.loopCancel, o.loopDone = nil, nil
	o.loopMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the background loop is active.
func (o *Orchestrator) Running() bool {
	o.loopMu.Lock()
	defer o.loopMu.Unlock()
	if o.loopDone == nil {
		return false
	}
	select {
	case <-o.loopDone:
		return false
	default:
		return true
	}
}
