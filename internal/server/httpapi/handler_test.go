package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/auth"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/keys"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

type fakeIngester struct {
	got []services.Chunk
	err error
}

func (f *fakeIngester) Ingest(ctx context.Context, c services.Chunk) (*services.Result, error) {
	f.got = append(f.got, c)
	if f.err != nil {
		return nil, f.err
	}
	return &services.Result{
		Message:        "Chunk received",
		ActualFilename: "stored-" + c.ClientFilename,
		ChunkIndex:     c.ChunkIndex,
		ClientFilename: c.ClientFilename,
	}, nil
}

func (f *fakeIngester) Info() services.Info {
	return services.Info{PathMode: "sanitize", ActiveSessions: len(f.got)}
}

type fakeKeys struct {
	pk        keys.PublicKeyInfo
	err       error
	rotations int
}

func (f *fakeKeys) GetActivePublicKey(ctx context.Context) (keys.PublicKeyInfo, error) {
	return f.pk, f.err
}

func (f *fakeKeys) RotateKeys(ctx context.Context) (string, error) {
	f.rotations++
	return fmt.Sprintf("%016x", f.rotations), nil
}

func newTestServer(t *testing.T, ing Ingester, ks KeyService) *httptest.Server {
	t.Helper()
	h := NewHandler(ing, ks, Options{APIKey: testAPIKey, MaxChunkBytes: 1024}, logging.Discard())
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func doUpload(t *testing.T, srv *httptest.Server, headers map[string]string, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/upload", strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeError(t *testing.T, resp *http.Response) string {
	t.Helper()
	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Error
}

func TestUpload_Success(t *testing.T) {
	ing := &fakeIngester{}
	srv := newTestServer(t, ing, nil)

	resp := doUpload(t, srv, map[string]string{
		"Authorization":                "Bearer " + testAPIKey,
		common.ChunkIndexHeaderName:    "3",
		common.FileNameHeaderName:      "report.pdf",
		common.ChunkEncodingHeaderName: common.EnvelopeEncoding,
		common.RequestIDHeaderName:     "req-1",
	}, "payload")

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-1", resp.Header.Get(common.RequestIDHeaderName))

	var res services.Result
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, services.Result{
		Message:        "Chunk received",
		ActualFilename: "stored-report.pdf",
		ChunkIndex:     3,
		ClientFilename: "report.pdf",
	}, res)

	require.Len(t, ing.got, 1)
	assert.True(t, ing.got[0].Encrypted)
	assert.Equal(t, "payload", string(ing.got[0].Body))
}

func TestUpload_SignedToken(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, nil)

	token, err := auth.GenerateToken("sender-1", []byte(testAPIKey), time.Minute)
	require.NoError(t, err)

	resp := doUpload(t, srv, map[string]string{
		"Authorization":           "Bearer " + token,
		common.FileNameHeaderName: "a.txt",
	}, "x")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(common.RequestIDHeaderName))
}

func TestUpload_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		body       string
		ingestErr  error
		wantStatus int
	}{
		{
			name:       "missing credential",
			headers:    map[string]string{common.FileNameHeaderName: "a"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong key",
			headers:    map[string]string{"Authorization": "Bearer nope", common.FileNameHeaderName: "a"},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "missing file name",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad chunk index",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a", common.ChunkIndexHeaderName: "-2"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown encoding",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a", common.ChunkEncodingHeaderName: "gzip"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unsafe name",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "../x"},
			ingestErr:  fmt.Errorf("resolve: %w", pathpolicy.ErrInvalidName),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "escapes root",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "link/x"},
			ingestErr:  pathpolicy.ErrOutsideRoot,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "crypto",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a"},
			ingestErr:  common.ErrCrypto,
			wantStatus: http.StatusUnprocessableEntity,
		},
		{
			name:       "out of order",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a", common.ChunkIndexHeaderName: "2"},
			ingestErr:  fmt.Errorf("%w: expected chunk 1, got 2", services.ErrOutOfOrder),
			wantStatus: http.StatusConflict,
		},
		{
			name:       "storage",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a"},
			ingestErr:  errors.New("disk full"),
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "too large",
			headers:    map[string]string{"Authorization": "Bearer " + testAPIKey, common.FileNameHeaderName: "a"},
			body:       strings.Repeat("x", 2048),
			wantStatus: http.StatusRequestEntityTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeIngester{err: tt.ingestErr}, nil)
			resp := doUpload(t, srv, tt.headers, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, decodeError(t, resp))
		})
	}
}

func TestUnknownRoutesAreEmpty404(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, nil)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/nope"},
		{http.MethodGet, "/upload"},
		{http.MethodDelete, "/health"},
	} {
		req, err := http.NewRequest(tc.method, srv.URL+tc.path, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode, "%s %s", tc.method, tc.path)
		assert.Empty(t, body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, &fakeIngester{}, nil)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	assert.Contains(t, string(body), "chunkpipe_http_requests_total")
}

func TestPublicKey(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	ks := &fakeKeys{pk: keys.PublicKeyInfo{Kid: "0123456789abcdef", PublicKey: "PEM", ExpiresAt: exp}}
	srv := newTestServer(t, &fakeIngester{}, ks)

	resp, err := http.Get(srv.URL + "/public-key")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got keys.PublicKeyInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, ks.pk, got)

	ks.err = keys.ErrNoActiveKey
	resp2, err := http.Get(srv.URL + "/public-key")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)

	plain := newTestServer(t, &fakeIngester{}, nil)
	resp3, err := http.Get(plain.URL + "/public-key")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp3.StatusCode)
}

func TestInfoAndRotateRequireAuth(t *testing.T) {
	ks := &fakeKeys{}
	srv := newTestServer(t, &fakeIngester{}, ks)

	call := func(method, path, key string) *http.Response {
		req, err := http.NewRequest(method, srv.URL+path, bytes.NewReader(nil))
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("Authorization", "Bearer "+key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/info", "").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, call(http.MethodPost, "/admin/rotate", "bad").StatusCode)
	assert.Zero(t, ks.rotations)

	resp := call(http.MethodGet, "/info", testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info services.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "sanitize", info.PathMode)

	resp = call(http.MethodPost, "/admin/rotate", testAPIKey)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "0000000000000001", out["kid"])
}
