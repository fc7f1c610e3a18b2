// Package services contains the sender's application services: turning files
// and streams into buffered chunks, and handing them to the uploader.
package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/chunkpipe/internal/client/models"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

// FileService defines the producer operations of the sender shell.
//
// Contract:
//   - AddFile/AddStream: split input into chunks, encrypt them when enabled,
//     buffer them in order and finish with an end marker. On a buffer
//     failure nothing after the failed chunk is produced.
//   - SendFile: AddFile followed by an immediate upload run.
//   - List/Clear: inspect or drop what is buffered.
type FileService interface {
	AddFile(ctx context.Context, path, name string) (*AddResult, error)
	AddStream(ctx context.Context, r io.Reader, name string) (*AddResult, error)
	SendFile(ctx context.Context, path, name string) (map[string]string, error)
	List(ctx context.Context) ([]models.FileSummary, error)
	Clear(ctx context.Context) error
}

// Buffer is the part of the chunk buffer the producer writes to.
type Buffer interface {
	Store(ctx context.Context, rec *models.ChunkRecord) error
	Files(ctx context.Context) ([]models.FileSummary, error)
	Clear(ctx context.Context) error
}

// Uploader runs one upload pass.
type Uploader interface {
	UploadAll(ctx context.Context) (map[string]string, error)
}

type Options struct {
	ChunkSize int
	Encrypt   bool
	Codec     string
}

// AddResult describes a buffered file.
type AddResult struct {
	FileName  string
	SessionID string
	Kid       string
	Chunks    int
}

type fileService struct {
	buf      Buffer
	uploader Uploader
	keys     *KeyCache
	opts     Options
	logger   logging.Logger
}

// NewFileService builds the producer. keys may be nil when encryption is
// disabled.
func NewFileService(buf Buffer, uploader Uploader, keys *KeyCache, opts Options, l logging.Logger) FileService {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = common.DefaultChunkSize
	}
	if opts.Codec == "" {
		opts.Codec = cryptox.CodecRaw
	}
	return &fileService{
		buf:      buf,
		uploader: uploader,
		keys:     keys,
		opts:     opts,
		logger:   l.With("module", "file_service"),
	}
}

func (s *fileService) AddFile(ctx context.Context, path, name string) (*AddResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if name == "" {
		name = filepath.Base(path)
	}
	return s.AddStream(ctx, f, name)
}

func (s *fileService) AddStream(ctx context.Context, r io.Reader, name string) (*AddResult, error) {
	if name == "" {
		return nil, errors.New("file name is required")
	}

	res := &AddResult{FileName: name}

	var session *cryptox.Session
	if s.opts.Encrypt {
		if s.keys == nil {
			return nil, ErrNoPublicKey
		}
		pk, pub, err := s.keys.Get(ctx)
		if err != nil {
			return nil, err
		}
		session, err = cryptox.NewSession(pub, pk.Kid, s.opts.Codec)
		if err != nil {
			return nil, err
		}
		defer session.Destroy()
		res.SessionID, res.Kid = session.ID, session.Kid
	} else {
		id, err := cryptox.NewSessionID()
		if err != nil {
			return nil, err
		}
		res.SessionID = id
	}

	chunk := make([]byte, s.opts.ChunkSize)
	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		n, rerr := io.ReadFull(r, chunk)
		if n == 0 && rerr != nil {
			if errors.Is(rerr, io.EOF) {
				break
			}
			return res, rerr
		}

		rec, err := s.record(session, res, idx, chunk[:n])
		if err != nil {
			return res, err
		}
		if err := s.buf.Store(ctx, rec); err != nil {
			return res, fmt.Errorf("buffer chunk %d of %s: %w", idx, name, err)
		}
		res.Chunks++

		if rerr != nil {
			if errors.Is(rerr, io.ErrUnexpectedEOF) || errors.Is(rerr, io.EOF) {
				break
			}
			return res, rerr
		}
	}

	end := &models.ChunkRecord{
		FileName:    name,
		ChunkIndex:  res.Chunks,
		SessionID:   res.SessionID,
		IsEndMarker: true,
	}
	if err := s.buf.Store(ctx, end); err != nil {
		return res, fmt.Errorf("buffer end marker of %s: %w", name, err)
	}

	s.logger.Info(ctx, "file buffered", "file", name, "chunks", res.Chunks, "encrypted", session != nil)
	return res, nil
}

func (s *fileService) record(session *cryptox.Session, res *AddResult, idx int, data []byte) (*models.ChunkRecord, error) {
	rec := &models.ChunkRecord{
		FileName:   res.FileName,
		ChunkIndex: idx,
		SessionID:  res.SessionID,
	}
	if session == nil {
		rec.Data = append([]byte(nil), data...)
		return rec, nil
	}

	p, err := session.Seal(int64(idx), data)
	if err != nil {
		return nil, err
	}
	body, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	rec.Data = body
	rec.Encrypted = true
	return rec, nil
}

func (s *fileService) SendFile(ctx context.Context, path, name string) (map[string]string, error) {
	if _, err := s.AddFile(ctx, path, name); err != nil {
		return nil, err
	}
	return s.uploader.UploadAll(ctx)
}

func (s *fileService) List(ctx context.Context) ([]models.FileSummary, error) {
	return s.buf.Files(ctx)
}

func (s *fileService) Clear(ctx context.Context) error {
	return s.buf.Clear(ctx)
}
