// Package httpapi exposes the receiver over HTTP: chunk upload, public key
// distribution, health, server info and key rotation.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/keys"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxChunkBytes bounds a request body. An encrypted 1 MiB chunk is
// about 1.4 MiB once base64 encoded in its packet.
const DefaultMaxChunkBytes = 8 << 20

type Ingester interface {
	Ingest(ctx context.Context, c services.Chunk) (*services.Result, error)
	Info() services.Info
}

// KeyService is nil when encryption is disabled.
type KeyService interface {
	GetActivePublicKey(ctx context.Context) (keys.PublicKeyInfo, error)
	RotateKeys(ctx context.Context) (string, error)
}

type Options struct {
	APIKey        string
	MaxChunkBytes int64
}

type Handler struct {
	ingest Ingester
	keys   KeyService
	opts   Options
	logger logging.Logger
}

func NewHandler(ingest Ingester, keys KeyService, opts Options, l logging.Logger) *Handler {
	if opts.MaxChunkBytes <= 0 {
		opts.MaxChunkBytes = DefaultMaxChunkBytes
	}
	return &Handler{ingest: ingest, keys: keys, opts: opts, logger: l.With("module", "httpapi")}
}

// Router wires the routes. Unknown paths and method mismatches get an
// empty 404.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, observe(h.logger))

	r.NotFound(emptyNotFound)
	r.MethodNotAllowed(emptyNotFound)

	r.Get("/health", h.health)
	r.Get("/public-key", h.publicKey)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authenticate(h.opts.APIKey))
		r.Post("/upload", h.upload)
		r.Get("/info", h.info)
		r.Post("/admin/rotate", h.rotate)
	})

	return r
}

func emptyNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "chunkpipe receiver"})
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get(common.FileNameHeaderName)
	if strings.TrimSpace(name) == "" {
		writeError(w, http.StatusBadRequest, "missing "+common.FileNameHeaderName+" header")
		return
	}

	index := 0
	if v := r.Header.Get(common.ChunkIndexHeaderName); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+common.ChunkIndexHeaderName+" header")
			return
		}
		index = n
	}

	encoding := r.Header.Get(common.ChunkEncodingHeaderName)
	if encoding != "" && encoding != common.EnvelopeEncoding {
		writeError(w, http.StatusBadRequest, "unsupported "+common.ChunkEncodingHeaderName+" "+strconv.Quote(encoding))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.opts.MaxChunkBytes))
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			status, msg = http.StatusBadRequest, "could not read body"
		}
		writeError(w, status, msg)
		return
	}

	res, err := h.ingest.Ingest(r.Context(), services.Chunk{
		ClientFilename: name,
		ChunkIndex:     index,
		Body:           body,
		Encrypted:      encoding == common.EnvelopeEncoding,
	})
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusInternalServerError {
			h.logger.Error(r.Context(), "upload failed", "file", name, "chunk", index, "error", err)
		}
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) publicKey(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		writeError(w, http.StatusNotFound, "encryption is disabled")
		return
	}
	pk, err := h.keys.GetActivePublicKey(r.Context())
	if err != nil {
		if errors.Is(err, keys.ErrNoActiveKey) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error(r.Context(), "public key lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "key lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, pk)
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ingest.Info())
}

func (h *Handler) rotate(w http.ResponseWriter, r *http.Request) {
	if h.keys == nil {
		writeError(w, http.StatusNotFound, "encryption is disabled")
		return
	}
	kid, err := h.keys.RotateKeys(r.Context())
	if err != nil {
		h.logger.Error(r.Context(), "key rotation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "key rotation failed")
		return
	}
	h.logger.Info(r.Context(), "keys rotated", "kid", kid)
	writeJSON(w, http.StatusOK, map[string]string{"kid": kid})
}
