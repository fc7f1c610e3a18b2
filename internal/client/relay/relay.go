// Package relay delivers one buffered stream strictly in order to a
// consumer that confirms every record before it is deleted.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/models"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

var (
	ErrCanceled = errors.New("relay canceled")

	// ErrEndMarkerRejected ends a relay whose end marker was never
	// confirmed.
	ErrEndMarkerRejected = errors.New("end marker not confirmed")

	// ErrIncomplete ends a relay whose end marker is blocked by data
	// chunks abandoned earlier in the same run.
	ErrIncomplete = errors.New("stream incomplete")
)

type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Buffer is the part of the chunk buffer the relay consumes.
type Buffer interface {
	Index(ctx context.Context, f models.Filter) ([]*models.ChunkRecord, error)
	Get(ctx context.Context, id string) (*models.ChunkRecord, error)
	DeleteByID(ctx context.Context, id string) error
	Notify() <-chan struct{}
}

type Options struct {
	// FileName selects the stream. When empty the relay follows the file of
	// the first buffered record, and when SessionID is empty the first
	// session buffered for that file.
	FileName  string
	SessionID string
	Confirmer Confirmer

	MaxRetries   int
	RetryDelay   time.Duration
	PollInterval time.Duration
}

func (o *Options) setDefaults() {
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
}

// Result summarizes one relay run.
type Result struct {
	FileName  string
	Delivered int
	Abandoned int
	Completed bool
}

type Engine struct {
	buf    Buffer
	logger logging.Logger

	mu    sync.Mutex
	state State

	canceled atomic.Bool
	wake     chan struct{}
	wakeOnce *sync.Once
}

func New(buf Buffer, l logging.Logger) *Engine {
	return &Engine{buf: buf, logger: l.With("module", "relay")}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cancel asks the running relay to stop. It takes effect at the next loop
// iteration or retry sleep; a confirmation in flight is not interrupted.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return
	}
	e.canceled.Store(true)
	e.wakeOnce.Do(func() { close(e.wake) })
}

func (e *Engine) stopped(ctx context.Context) error {
	if e.canceled.Load() {
		return ErrCanceled
	}
	return ctx.Err()
}

// sleep waits d unless the relay is canceled first.
func (e *Engine) sleep(ctx context.Context, d time.Duration, extra <-chan struct{}) error {
	if err := e.stopped(ctx); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-extra:
	case <-e.wake:
	case <-ctx.Done():
	}
	return e.stopped(ctx)
}

// RelayInOrder delivers the selected stream record by record until its end
// marker is confirmed. Only one relay runs per engine; a second call fails
// with common.ErrConcurrency.
func (e *Engine) RelayInOrder(ctx context.Context, opts Options) (Result, error) {
	if opts.Confirmer == nil {
		return Result{}, errors.New("relay needs a confirmer")
	}
	opts.setDefaults()

	e.mu.Lock()
	if e.state == StateRunning {
		e.mu.Unlock()
		return Result{}, fmt.Errorf("relay: %w", common.ErrConcurrency)
	}
	e.state = StateRunning
	e.canceled.Store(false)
	e.wake = make(chan struct{})
	e.wakeOnce = &sync.Once{}
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
	}()

	res := Result{FileName: opts.FileName}
	filter := models.Filter{FileName: opts.FileName, SessionID: opts.SessionID}
	// abandoned records stay queued but are skipped for the rest of the run
	abandoned := make(map[string]bool)

	for {
		if err := e.stopped(ctx); err != nil {
			return res, err
		}

		recs, err := e.buf.Index(ctx, filter)
		if err != nil {
			return res, err
		}

		if filter.FileName == "" && len(recs) > 0 {
			filter.FileName = models.GroupByFile(recs)[0].FileName
			res.FileName = filter.FileName
			e.logger.Info(ctx, "relay following file", "file", filter.FileName)
			continue
		}
		if filter.SessionID == "" && len(recs) > 0 {
			models.SortGroup(recs)
			if sid := recs[0].SessionID; sid != "" {
				filter.SessionID = sid
				e.logger.Info(ctx, "relay following session", "file", filter.FileName, "session", sid)
				continue
			}
		}

		head, marker, blocked := pick(recs, abandoned)

		switch {
		case head != nil:
			full, err := e.buf.Get(ctx, head.ID)
			if errors.Is(err, common.ErrorNotFound) {
				// removed since the index was read
				continue
			}
			if err != nil {
				return res, err
			}
			ok, err := e.deliver(ctx, opts, full)
			if err != nil {
				return res, err
			}
			if ok {
				res.Delivered++
				continue
			}
			abandoned[head.ID] = true
			res.Abandoned++
			e.logger.Error(ctx, "chunk abandoned after retries, leaving it queued",
				"file", head.FileName, "chunk", head.ChunkIndex, "retries", opts.MaxRetries)

		case marker != nil && blocked == 0:
			ok, err := e.deliver(ctx, opts, marker)
			if err != nil {
				return res, err
			}
			if !ok {
				return res, fmt.Errorf("%w: %s", ErrEndMarkerRejected, marker.FileName)
			}
			res.Completed = true
			e.logger.Info(ctx, "relay complete", "file", marker.FileName, "delivered", res.Delivered)
			return res, nil

		case marker != nil:
			return res, fmt.Errorf("%w: %d abandoned chunks before end of %s", ErrIncomplete, blocked, marker.FileName)

		default:
			if err := e.sleep(ctx, opts.PollInterval, e.buf.Notify()); err != nil {
				return res, err
			}
		}
	}
}

// pick returns the first data record not abandoned in this run, the end
// marker, and how many abandoned data records precede the marker.
func pick(recs []*models.ChunkRecord, abandoned map[string]bool) (head, marker *models.ChunkRecord, blocked int) {
	models.SortGroup(recs)
	for _, r := range recs {
		switch {
		case r.IsEndMarker:
			if marker == nil {
				marker = r
			}
		case abandoned[r.ID]:
			blocked++
		case head == nil:
			head = r
		}
	}
	return head, marker, blocked
}

// deliver offers r to the confirmer up to MaxRetries times. It reports
// false when every attempt was rejected; an error ends the relay.
func (e *Engine) deliver(ctx context.Context, opts Options, r *models.ChunkRecord) (bool, error) {
	req := DeliveryRequest{
		ID:          r.ID,
		FileName:    r.FileName,
		SessionID:   r.SessionID,
		ChunkIndex:  r.ChunkIndex,
		Payload:     r.Data,
		Encrypted:   r.Encrypted,
		IsEndMarker: r.IsEndMarker,
	}

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		if err := e.stopped(ctx); err != nil {
			return false, err
		}

		req.Attempt = attempt
		res, err := opts.Confirmer.Confirm(ctx, req)
		if err == nil && res.Confirmed {
			if err := e.buf.DeleteByID(ctx, r.ID); err != nil {
				return false, err
			}
			return true, nil
		}

		if err == nil {
			err = errors.New("not confirmed")
		}
		e.logger.Warn(ctx, "delivery not confirmed",
			"file", r.FileName, "chunk", r.ChunkIndex, "end", r.IsEndMarker, "attempt", attempt, "error", err)

		if attempt == opts.MaxRetries {
			break
		}
		if err := e.sleep(ctx, opts.RetryDelay, nil); err != nil {
			return false, err
		}
	}
	return false, nil
}
