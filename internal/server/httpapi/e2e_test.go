package httpapi

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/buffer"
	"github.com/dmitrijs2005/chunkpipe/internal/client/client"
	cs "github.com/dmitrijs2005/chunkpipe/internal/client/services"
	"github.com/dmitrijs2005/chunkpipe/internal/client/uploader"
	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/keys"
	"github.com/dmitrijs2005/chunkpipe/internal/keystore"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"github.com/dmitrijs2005/chunkpipe/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type receiver struct {
	out  string
	keys *keys.Manager
	url  string
}

func startReceiver(t *testing.T, encrypt bool) *receiver {
	t.Helper()
	ctx := context.Background()
	out := t.TempDir()

	sink, err := storage.NewFileSink(out)
	require.NoError(t, err)

	rcv := &receiver{out: out}
	var unwrapper services.KeyUnwrapper
	var ks KeyService
	if encrypt {
		rcv.keys = keys.NewManager(keystore.NewMemory(), keys.Options{KeyBits: cryptox.MinKeyBits}, logging.Discard())
		require.NoError(t, rcv.keys.Initialize(ctx))
		t.Cleanup(func() { _ = rcv.keys.Close() })
		unwrapper, ks = rcv.keys, rcv.keys
	}

	policy := pathpolicy.New(pathpolicy.ModeSanitize, out)
	ingest := services.NewIngestService(policy, sink, unwrapper, services.Options{PathMode: "sanitize"}, logging.Discard())
	h := NewHandler(ingest, ks, Options{APIKey: testAPIKey}, logging.Discard())

	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	rcv.url = srv.URL
	return rcv
}

func writeInput(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestEndToEnd_ThreeFiles(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		name := "plain"
		if encrypt {
			name = "encrypted"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rcv := startReceiver(t, encrypt)

			hc, err := client.NewHTTPClient(client.HTTPOptions{BaseURL: rcv.url, APIKey: testAPIKey})
			require.NoError(t, err)
			defer hc.Close()

			buf := buffer.New(buffer.NewMemoryStore(), buffer.Options{}, logging.Discard())
			defer buf.Close()

			orch := uploader.New(buf, hc, uploader.Options{}, logging.Discard())

			var kc *cs.KeyCache
			if encrypt {
				kc = cs.NewKeyCache(hc, filepath.Join(t.TempDir(), "key.json"), logging.Discard())
			}
			files := cs.NewFileService(buf, orch, kc, cs.Options{Encrypt: encrypt, Codec: cryptox.CodecLZMA}, logging.Discard())

			in := t.TempDir()
			contents := map[string]string{
				"one.txt":   "first file",
				"two.bin":   "\x00\x01\x02\x03",
				"three.log": "third\nfile\n",
			}
			for n, c := range contents {
				res, err := files.AddFile(ctx, writeInput(t, in, n, c), "")
				require.NoError(t, err)
				assert.Equal(t, 1, res.Chunks)
			}

			mapping, err := orch.UploadAll(ctx)
			require.NoError(t, err)
			assert.Len(t, mapping, 3)

			entries, err := os.ReadDir(rcv.out)
			require.NoError(t, err)
			assert.Len(t, entries, 3)
			for n, c := range contents {
				got, err := os.ReadFile(filepath.Join(rcv.out, mapping[n]))
				require.NoError(t, err)
				assert.Equal(t, c, string(got))
			}

			left, err := buf.Count(ctx)
			require.NoError(t, err)
			assert.Zero(t, left)
		})
	}
}

func TestEndToEnd_RotationKeepsQueuedSessionsReadable(t *testing.T) {
	ctx := context.Background()
	rcv := startReceiver(t, true)

	hc, err := client.NewHTTPClient(client.HTTPOptions{BaseURL: rcv.url, APIKey: testAPIKey})
	require.NoError(t, err)

	buf := buffer.New(buffer.NewMemoryStore(), buffer.Options{}, logging.Discard())
	defer buf.Close()
	orch := uploader.New(buf, hc, uploader.Options{}, logging.Discard())
	kc := cs.NewKeyCache(hc, filepath.Join(t.TempDir(), "key.json"), logging.Discard())
	files := cs.NewFileService(buf, orch, kc, cs.Options{Encrypt: true, ChunkSize: 4}, logging.Discard())

	before, err := files.AddFile(ctx, writeInput(t, t.TempDir(), "old.txt", "sealed before rotation"), "")
	require.NoError(t, err)

	newKid, err := rcv.keys.RotateKeys(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, before.Kid, newKid)

	_, err = orch.UploadAll(ctx)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(rcv.out, "old.txt"))
	require.NoError(t, err)
	assert.Equal(t, "sealed before rotation", string(got))
}

// dropOnce loses the first delivery attempt of one chunk index.
type dropOnce struct {
	next    uploader.Transport
	index   int
	mu      sync.Mutex
	dropped bool
}

func (d *dropOnce) UploadChunk(ctx context.Context, c client.Chunk) (*client.UploadResult, error) {
	d.mu.Lock()
	drop := c.ChunkIndex == d.index && !d.dropped
	if drop {
		d.dropped = true
	}
	d.mu.Unlock()
	if drop {
		return nil, common.ErrNetwork
	}
	return d.next.UploadChunk(ctx, c)
}

func TestEndToEnd_FailedChunkIsDeliveredOnNextRun(t *testing.T) {
	ctx := context.Background()
	rcv := startReceiver(t, false)

	hc, err := client.NewHTTPClient(client.HTTPOptions{BaseURL: rcv.url, APIKey: testAPIKey})
	require.NoError(t, err)
	defer hc.Close()

	buf := buffer.New(buffer.NewMemoryStore(), buffer.Options{}, logging.Discard())
	defer buf.Close()

	tr := &dropOnce{next: hc, index: 1}
	orch := uploader.New(buf, tr, uploader.Options{MaxRetries: 1, BaseDelay: time.Millisecond}, logging.Discard())
	files := cs.NewFileService(buf, orch, nil, cs.Options{ChunkSize: 2}, logging.Discard())

	res, err := files.AddFile(ctx, writeInput(t, t.TempDir(), "r.bin", "AABBCC"), "")
	require.NoError(t, err)
	require.Equal(t, 3, res.Chunks)

	_, err = orch.UploadAll(ctx)
	require.NoError(t, err)

	got, err := os.ReadFile(filepath.Join(rcv.out, "r.bin"))
	require.NoError(t, err)
	assert.Equal(t, "AA", string(got))

	_, err = orch.UploadAll(ctx)
	require.NoError(t, err)

	got, err = os.ReadFile(filepath.Join(rcv.out, "r.bin"))
	require.NoError(t, err)
	assert.Equal(t, "AABBCC", string(got))

	left, err := buf.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, left)
}
