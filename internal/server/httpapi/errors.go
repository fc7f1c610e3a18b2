package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the only place error bodies are produced.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// statusFor maps service errors to a status and a message safe to show.
func statusFor(err error) (int, string) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, common.ErrAuthentication):
		return http.StatusUnauthorized, "Invalid or missing API key"
	case errors.Is(err, pathpolicy.ErrOutsideRoot):
		return http.StatusForbidden, "Access denied: invalid path"
	case errors.Is(err, common.ErrPathSecurity):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrInvalidChunk):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrOutOfOrder):
		return http.StatusConflict, "Chunk out of order"
	case errors.Is(err, common.ErrCrypto):
		return http.StatusUnprocessableEntity, common.ErrCrypto.Error()
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, "Chunk too large"
	default:
		return http.StatusInternalServerError, "Upload error"
	}
}
