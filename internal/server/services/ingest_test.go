package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/dmitrijs2005/chunkpipe/internal/common"
	"github.com/dmitrijs2005/chunkpipe/internal/cryptox"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	pairOnce sync.Once
	pair     *cryptox.KeyPair
)

func testPair(t *testing.T) *cryptox.KeyPair {
	t.Helper()
	pairOnce.Do(func() {
		var err error
		pair, err = cryptox.GenerateKeyPair(cryptox.MinKeyBits)
		if err != nil {
			panic(err)
		}
	})
	return pair
}

type pairUnwrapper struct{ kp *cryptox.KeyPair }

func (u pairUnwrapper) UnwrapSessionKey(ctx context.Context, kid string, wrapped []byte) ([]byte, error) {
	return cryptox.UnwrapSessionKey(wrapped, u.kp.PrivateKey)
}

type failingSink struct{ err error }

func (f failingSink) Append(context.Context, string, int, []byte) error { return f.err }

func newIngest(t *testing.T, mode pathpolicy.Mode, keys KeyUnwrapper) (*IngestService, string) {
	t.Helper()
	root := t.TempDir()
	sink, err := storage.NewFileSink(root)
	require.NoError(t, err)
	return NewIngestService(pathpolicy.New(mode, root), sink, keys, Options{PathMode: string(mode), Storage: "fs"}, logging.Discard()), root
}

func readFile(t *testing.T, root, name string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(name)))
	require.NoError(t, err)
	return string(b)
}

func TestIngest_AppendsChunksOfOneFile(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	for i, part := range []string{"al", "pha", "bet"} {
		res, err := svc.Ingest(ctx, Chunk{ClientFilename: "abc.txt", ChunkIndex: i, Body: []byte(part)})
		require.NoError(t, err)
		assert.Equal(t, "abc.txt", res.ActualFilename)
		assert.Equal(t, i, res.ChunkIndex)
		assert.Equal(t, "abc.txt", res.ClientFilename)
	}

	assert.Equal(t, "alphabet", readFile(t, root, "abc.txt"))
	assert.Equal(t, 1, svc.Info().ActiveSessions)
}

func TestIngest_DuplicateChunkIsNotAppendedTwice(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Chunk{ClientFilename: "d.bin", ChunkIndex: 0, Body: []byte("a")})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "d.bin", ChunkIndex: 1, Body: []byte("b")})
	require.NoError(t, err)

	res, err := svc.Ingest(ctx, Chunk{ClientFilename: "d.bin", ChunkIndex: 1, Body: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "Chunk already received", res.Message)

	assert.Equal(t, "ab", readFile(t, root, "d.bin"))
}

func TestIngest_SanitizeRefusesOverwrite(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Chunk{ClientFilename: "r.pdf", ChunkIndex: 0, Body: []byte("v1")})
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "r.pdf", ChunkIndex: 0, Body: []byte("v2")})
	require.ErrorIs(t, err, common.ErrPathSecurity)
	assert.Equal(t, "v1", readFile(t, root, "r.pdf"))

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "../etc/passwd", ChunkIndex: 0, Body: []byte("x")})
	require.ErrorIs(t, err, common.ErrPathSecurity)
}

func TestIngest_IgnoreModeStartsNewFileOnChunkZero(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeIgnore, nil)
	ctx := context.Background()

	first, err := svc.Ingest(ctx, Chunk{ClientFilename: "dir/log.txt", ChunkIndex: 0, Body: []byte("1")})
	require.NoError(t, err)
	cont, err := svc.Ingest(ctx, Chunk{ClientFilename: "dir/log.txt", ChunkIndex: 1, Body: []byte("2")})
	require.NoError(t, err)
	second, err := svc.Ingest(ctx, Chunk{ClientFilename: "dir/log.txt", ChunkIndex: 0, Body: []byte("3")})
	require.NoError(t, err)

	assert.Equal(t, first.ActualFilename, cont.ActualFilename)
	assert.NotEqual(t, first.ActualFilename, second.ActualFilename)
	assert.NotEqual(t, "dir/log.txt", first.ActualFilename)
	assert.Equal(t, "12", readFile(t, root, first.ActualFilename))
	assert.Equal(t, "3", readFile(t, root, second.ActualFilename))
}

func TestIngest_ClearSessions(t *testing.T) {
	svc, _ := newIngest(t, pathpolicy.ModeAllowPaths, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Chunk{ClientFilename: "a/b/c/file.txt", ChunkIndex: 0, Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.ClearSessions(ctx))
	assert.Equal(t, 0, svc.Info().ActiveSessions)
}

func TestIngest_Encrypted(t *testing.T) {
	kp := testPair(t)
	svc, root := newIngest(t, pathpolicy.ModeSanitize, pairUnwrapper{kp: kp})
	ctx := context.Background()

	sess, err := cryptox.NewSession(kp.PublicKey, kp.Kid, cryptox.CodecLZMA)
	require.NoError(t, err)
	defer sess.Destroy()

	for i, part := range []string{"secret ", "payload"} {
		pkt, err := sess.Seal(int64(i), []byte(part))
		require.NoError(t, err)
		body, err := pkt.Marshal()
		require.NoError(t, err)

		_, err = svc.Ingest(ctx, Chunk{ClientFilename: "s.txt", ChunkIndex: i, Body: body, Encrypted: true})
		require.NoError(t, err)
	}
	assert.Equal(t, "secret payload", readFile(t, root, "s.txt"))
	assert.True(t, svc.Info().Encryption)

	pkt, err := sess.Seal(2, []byte("tampered"))
	require.NoError(t, err)
	pkt.Ciphertext[0] ^= 0x01
	body, err := pkt.Marshal()
	require.NoError(t, err)

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "s.txt", ChunkIndex: 2, Body: body, Encrypted: true})
	require.ErrorIs(t, err, common.ErrCrypto)
	assert.Equal(t, "secret payload", readFile(t, root, "s.txt"))
}

func TestIngest_EncryptedWithoutKeys(t *testing.T) {
	svc, _ := newIngest(t, pathpolicy.ModeSanitize, nil)

	_, err := svc.Ingest(context.Background(), Chunk{ClientFilename: "x", Body: []byte("{}"), Encrypted: true})
	require.ErrorIs(t, err, common.ErrCrypto)
	assert.Equal(t, 0, svc.Info().ActiveSessions, "crypto failures must not open a session")
}

func TestIngest_Errors(t *testing.T) {
	svc, _ := newIngest(t, pathpolicy.ModeSanitize, nil)
	_, err := svc.Ingest(context.Background(), Chunk{ClientFilename: "x", ChunkIndex: -1})
	require.ErrorIs(t, err, ErrInvalidChunk)

	boom := errors.New("disk full")
	svc = NewIngestService(pathpolicy.New(pathpolicy.ModeIgnore, ""), failingSink{err: boom}, nil, Options{}, logging.Discard())
	_, err = svc.Ingest(context.Background(), Chunk{ClientFilename: "x", Body: []byte("x")})
	require.ErrorIs(t, err, boom)
}

func TestIngest_Info(t *testing.T) {
	svc := NewIngestService(pathpolicy.New(pathpolicy.ModeIgnore, ""), failingSink{}, pairUnwrapper{}, Options{
		Version:   "v1",
		PathMode:  "ignore",
		Storage:   "s3",
		ActiveKid: func() string { return "0123456789abcdef" },
	}, logging.Discard())

	assert.Equal(t, Info{
		Version:    "v1",
		PathMode:   "ignore",
		Storage:    "s3",
		Encryption: true,
		ActiveKid:  "0123456789abcdef",
	}, svc.Info())
}

func TestIngest_OutOfOrderChunkIsRefusedUntilGapIsFilled(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Chunk{ClientFilename: "g.bin", ChunkIndex: 0, Body: []byte("A")})
	require.NoError(t, err)

	// chunk 1 failed on the sender and chunk 2 arrives first
	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "g.bin", ChunkIndex: 2, Body: []byte("C")})
	require.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, "A", readFile(t, root, "g.bin"))

	// the late retry of chunk 1 is stored, not taken for a duplicate
	res, err := svc.Ingest(ctx, Chunk{ClientFilename: "g.bin", ChunkIndex: 1, Body: []byte("B")})
	require.NoError(t, err)
	assert.Equal(t, "Chunk received", res.Message)

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "g.bin", ChunkIndex: 2, Body: []byte("C")})
	require.NoError(t, err)

	assert.Equal(t, "ABC", readFile(t, root, "g.bin"))
}

func TestIngest_FailedAppendCanBeRetried(t *testing.T) {
	root := t.TempDir()
	sink, err := storage.NewFileSink(root)
	require.NoError(t, err)
	flaky := &flakySink{Sink: sink, failAt: 1}
	svc := NewIngestService(pathpolicy.New(pathpolicy.ModeSanitize, root), flaky, nil, Options{}, logging.Discard())
	ctx := context.Background()

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "f.bin", ChunkIndex: 0, Body: []byte("a")})
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "f.bin", ChunkIndex: 1, Body: []byte("b")})
	require.Error(t, err)

	res, err := svc.Ingest(ctx, Chunk{ClientFilename: "f.bin", ChunkIndex: 1, Body: []byte("b")})
	require.NoError(t, err)
	assert.Equal(t, "Chunk received", res.Message)
	assert.Equal(t, "ab", readFile(t, root, "f.bin"))
}

func TestIngest_UnknownNameResumesAtItsFirstIndex(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	for i, part := range []string{"x", "y"} {
		_, err := svc.Ingest(ctx, Chunk{ClientFilename: "late.bin", ChunkIndex: 4 + i, Body: []byte(part)})
		require.NoError(t, err)
	}
	assert.Equal(t, "xy", readFile(t, root, "late.bin"))
}

func TestIngest_EncryptedSequenceMustMatchChunkIndex(t *testing.T) {
	kp := testPair(t)
	svc, root := newIngest(t, pathpolicy.ModeSanitize, pairUnwrapper{kp: kp})
	ctx := context.Background()

	sess, err := cryptox.NewSession(kp.PublicKey, kp.Kid, cryptox.CodecRaw)
	require.NoError(t, err)
	defer sess.Destroy()

	seal := func(seq int64, part string) []byte {
		pkt, err := sess.Seal(seq, []byte(part))
		require.NoError(t, err)
		body, err := pkt.Marshal()
		require.NoError(t, err)
		return body
	}

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "sw.bin", ChunkIndex: 0, Body: seal(0, "first"), Encrypted: true})
	require.NoError(t, err)

	// a valid packet sealed for chunk 2 presented as chunk 1
	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "sw.bin", ChunkIndex: 1, Body: seal(2, "third"), Encrypted: true})
	require.ErrorIs(t, err, common.ErrCrypto)
	assert.Equal(t, "first", readFile(t, root, "sw.bin"))

	_, err = svc.Ingest(ctx, Chunk{ClientFilename: "sw.bin", ChunkIndex: 1, Body: seal(1, "second"), Encrypted: true})
	require.NoError(t, err)
	assert.Equal(t, "firstsecond", readFile(t, root, "sw.bin"))
}

func TestIngest_ConcurrentChunksOfOneFileAppendOnce(t *testing.T) {
	svc, root := newIngest(t, pathpolicy.ModeSanitize, nil)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, Chunk{ClientFilename: "c.bin", ChunkIndex: 0, Body: []byte("0")})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := svc.Ingest(ctx, Chunk{ClientFilename: "c.bin", ChunkIndex: 1, Body: []byte("1")})
				if !errors.Is(err, ErrOutOfOrder) {
					assert.NoError(t, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, "01", readFile(t, root, "c.bin"))
}

type flakySink struct {
	Sink
	failAt int
	failed bool
}

func (f *flakySink) Append(ctx context.Context, name string, index int, data []byte) error {
	if index == f.failAt && !f.failed {
		f.failed = true
		return errors.New("transient write error")
	}
	return f.Sink.Append(ctx, name, index, data)
}
