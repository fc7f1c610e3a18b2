// Package services contains server-side business logic. This file implements
// IngestService, which turns authenticated chunk uploads into appended bytes
// under a policy-resolved storage name.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/shared"
)

var (
	// ErrInvalidChunk marks malformed chunk metadata.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrOutOfOrder refuses a chunk that would leave a gap in its file, or
	// that races another chunk of the same file. Senders retry it later.
	ErrOutOfOrder = errors.New("chunk out of order")
)

// Resolver maps a client file name to a safe storage name.
type Resolver interface {
	Resolve(clientName string) (string, error)
}

// Sink receives decrypted chunk bytes.
type Sink interface {
	Append(ctx context.Context, name string, chunkIndex int, data []byte) error
}

// KeyUnwrapper recovers session keys; keys.Manager satisfies it.
type KeyUnwrapper interface {
	UnwrapSessionKey(ctx context.Context, kid string, wrapped []byte) ([]byte, error)
}

// Chunk is one authenticated upload.
type Chunk struct {
	ClientFilename string
	ChunkIndex     int
	Body           []byte
	// Encrypted means Body is a serialized cryptox.WirePacket.
	Encrypted bool
}

// Result is returned to the sender on success.
type Result struct {
	Message        string `json:"message"`
	ActualFilename string `json:"actualFilename"`
	ChunkIndex     int    `json:"chunkIndex"`
	ClientFilename string `json:"clientFilename"`
}

// Info is a snapshot of the receiver configuration and state.
type Info struct {
	Version        string `json:"version"`
	PathMode       string `json:"pathMode"`
	Storage        string `json:"storage"`
	Encryption     bool   `json:"encryption"`
	ActiveKid      string `json:"activeKid,omitempty"`
	ActiveSessions int    `json:"activeSessions"`
}

type Options struct {
	Version  string
	PathMode string
	Storage  string
	// ActiveKid reports the current key for Info; nil without encryption.
	ActiveKid func() string
}

type session struct {
	actual string
	// last is the highest chunk index appended; chunks are appended
	// strictly in sequence, so every index up to last is stored.
	last     int
	inflight bool
}

// IngestService resolves every client file name once per process: later
// chunks of the same name append to the file chosen for its chunk 0, and a
// new chunk 0 starts a new file. Within a file chunks are appended in index
// order only: a repeated index is acknowledged without appending, a gap is
// refused with ErrOutOfOrder.
type IngestService struct {
	resolver Resolver
	sink     Sink
	keys     KeyUnwrapper
	opts     Options
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewIngestService builds the service. keys may be nil, in which case
// encrypted chunks are refused.
func NewIngestService(resolver Resolver, sink Sink, keys KeyUnwrapper, opts Options, l logging.Logger) *IngestService {
	return &IngestService{
		resolver: resolver,
		sink:     sink,
		keys:     keys,
		opts:     opts,
		logger:   l.With("module", "ingest"),
		sessions: make(map[string]*session),
	}
}

func (s *IngestService) Ingest(ctx context.Context, c Chunk) (*Result, error) {
	if c.ChunkIndex < 0 {
		return nil, fmt.Errorf("%w: negative chunk index %d", ErrInvalidChunk, c.ChunkIndex)
	}

	data := c.Body
	if c.Encrypted {
		plain, err := s.open(ctx, c.Body, c.ChunkIndex)
		if err != nil {
			chunksRejected.WithLabelValues("crypto").Inc()
			s.logger.Warn(ctx, "chunk decryption failed", "file", c.ClientFilename, "chunk", c.ChunkIndex)
			return nil, err
		}
		data = plain
	}

	sess, duplicate, err := s.target(c)
	if errors.Is(err, ErrOutOfOrder) {
		chunksRejected.WithLabelValues("order").Inc()
		s.logger.Warn(ctx, "chunk out of order", "file", c.ClientFilename, "chunk", c.ChunkIndex, "error", err)
		return nil, err
	}
	if err != nil {
		chunksRejected.WithLabelValues("path").Inc()
		s.logger.Warn(ctx, "rejected file name", "file", c.ClientFilename, "error", err)
		return nil, err
	}
	actual := sess.actual

	res := &Result{
		Message:        "Chunk received",
		ActualFilename: actual,
		ChunkIndex:     c.ChunkIndex,
		ClientFilename: c.ClientFilename,
	}

	if duplicate {
		s.logger.Debug(ctx, "duplicate chunk ignored", "file", c.ClientFilename, "chunk", c.ChunkIndex)
		res.Message = "Chunk already received"
		return res, nil
	}

	err = s.sink.Append(ctx, actual, c.ChunkIndex, data)

	s.mu.Lock()
	sess.inflight = false
	if err == nil {
		sess.last = c.ChunkIndex
	}
	s.mu.Unlock()

	if err != nil {
		chunksRejected.WithLabelValues("storage").Inc()
		return nil, fmt.Errorf("append chunk: %w", err)
	}

	chunksIngested.Inc()
	bytesIngested.Add(float64(len(data)))
	s.logger.Info(ctx, "chunk received", "file", c.ClientFilename, "actual", actual, "chunk", c.ChunkIndex, "bytes", len(data))

	return res, nil
}

// target returns the session c appends to and whether c repeats an already
// appended chunk. Unless c is a duplicate, the session is marked in flight
// and the caller must clear the mark. A name seen for the first time at an
// index above 0 opens a session at that index, which lets senders resume
// after a receiver restart.
func (s *IngestService) target(c Chunk) (*session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[c.ClientFilename]
	if ok && c.ChunkIndex > 0 {
		switch {
		case c.ChunkIndex <= sess.last:
			return sess, true, nil
		case sess.inflight:
			return nil, false, fmt.Errorf("%w: another chunk of %s is being stored", ErrOutOfOrder, c.ClientFilename)
		case c.ChunkIndex > sess.last+1:
			return nil, false, fmt.Errorf("%w: expected chunk %d, got %d", ErrOutOfOrder, sess.last+1, c.ChunkIndex)
		}
		sess.inflight = true
		return sess, false, nil
	}
	if ok && sess.inflight {
		return nil, false, fmt.Errorf("%w: another chunk of %s is being stored", ErrOutOfOrder, c.ClientFilename)
	}

	actual, err := s.resolver.Resolve(c.ClientFilename)
	if err != nil {
		return nil, false, err
	}
	sess = &session{actual: actual, last: c.ChunkIndex - 1, inflight: true}
	s.sessions[c.ClientFilename] = sess
	return sess, false, nil
}

// open decrypts an envelope and checks that its authenticated sequence
// number is the index the chunk is stored under, so swapped packets fail
// like tampered ones.
func (s *IngestService) open(ctx context.Context, body []byte, chunkIndex int) ([]byte, error) {
	if s.keys == nil {
		return nil, fmt.Errorf("%w: encryption is disabled", common.ErrCrypto)
	}

	p, err := cryptox.UnmarshalWirePacket(body)
	if err != nil {
		return nil, err
	}
	sk, err := s.keys.UnwrapSessionKey(ctx, p.Kid, p.WrappedKey)
	if err != nil {
		return nil, err
	}
	defer shared.WipeByteArray(sk)

	data, meta, err := cryptox.OpenPacket(p, sk)
	if err != nil {
		return nil, err
	}
	if meta.Seq != int64(chunkIndex) {
		return nil, fmt.Errorf("%w: packet sequence %d sent as chunk %d", common.ErrCrypto, meta.Seq, chunkIndex)
	}
	return data, nil
}

// ClearSessions forgets every client file name mapping.
func (s *IngestService) ClearSessions(ctx context.Context) int {
	s.mu.Lock()
	n := len(s.sessions)
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	s.logger.Info(ctx, "cleared upload sessions", "count", n)
	return n
}

func (s *IngestService) Info() Info {
	s.mu.Lock()
	n := len(s.sessions)
	s.mu.Unlock()

	info := Info{
		Version:        s.opts.Version,
		PathMode:       s.opts.PathMode,
		Storage:        s.opts.Storage,
		Encryption:     s.keys != nil,
		ActiveSessions: n,
	}
	if s.opts.ActiveKid != nil {
		info.ActiveKid = s.opts.ActiveKid()
	}
	return info
}
