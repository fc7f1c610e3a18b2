package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/buffer"
	"github.com/dmitrijs2005/chunkpipe/internal/client/client"
	"github.com/dmitrijs2005/chunkpipe/internal/client/config"
	"github.com/dmitrijs2005/chunkpipe/internal/client/relay"
	"github.com/dmitrijs2005/chunkpipe/internal/client/services"
	"github.com/dmitrijs2005/chunkpipe/internal/client/uploader"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// uploadLoop is the part of the orchestrator the shell drives.
type uploadLoop interface {
	UploadAll(ctx context.Context) (map[string]string, error)
	Start(ctx context.Context, interval time.Duration) error
	Stop()
	Running() bool
}

type relayRunner interface {
	RelayInOrder(ctx context.Context, opts relay.Options) (relay.Result, error)
	Cancel()
	State() relay.State
}

type keyRefresher interface {
	Refresh(ctx context.Context) (*client.PublicKey, error)
}

type App struct {
	config *config.Config
	logger logging.Logger

	files     services.FileService
	uploads   uploadLoop
	relay     relayRunner
	confirmer relay.Confirmer
	keys      keyRefresher
	health    func(ctx context.Context) error

	reader *bufio.Reader
	out    io.Writer

	modeMu sync.Mutex
	Mode   Mode

	relayWG sync.WaitGroup
	closers []io.Closer
}

// NewApp opens the buffer and the transports described by c. The API key
// is read from the terminal when the configuration carries none.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	if c.APIKey == "" {
		key, err := GetAPIKey(os.Stdout)
		if err != nil {
			return nil, err
		}
		c.APIKey = key
	}

	store, err := buffer.Open(ctx, c.BufferBackend, c.BufferPath)
	if err != nil {
		return nil, fmt.Errorf("error opening buffer: %w", err)
	}
	buf := buffer.New(store, buffer.Options{StoreRetries: c.StoreRetries, StoreRetryDelay: c.StoreRetryDelay}, l)

	httpClient, err := client.NewHTTPClient(client.HTTPOptions{
		BaseURL:      c.ServerURL,
		APIKey:       c.APIKey,
		Timeout:      c.RequestTimeout,
		ProxyURL:     c.ProxyURL,
		SignedTokens: c.SignedTokens,
	})
	if err != nil {
		_ = buf.Close()
		return nil, err
	}

	grpcClient, err := client.NewGRPCClient(c.GRPCAddr, c.APIKey, c.SignedTokens)
	if err != nil {
		_ = buf.Close()
		return nil, err
	}

	orch := uploader.New(buf, httpClient, uploader.Options{
		MaxRetries: c.MaxRetries,
		BaseDelay:  c.RetryDelay,
		OnProgress: func(p uploader.Progress) {
			l.Debug(ctx, "upload progress", "file", p.FileName, "chunk", p.ChunkIndex, "status", p.Status, "retries", p.RetryCount)
		},
	}, l)

	keys := services.NewKeyCache(httpClient, c.KeyCachePath, l)

	files := services.NewFileService(buf, orch, keys, services.Options{
		ChunkSize: c.ChunkSize,
		Encrypt:   c.Encrypt,
		Codec:     c.Codec,
	}, l)

	return &App{
		config:    c,
		logger:    l.With("module", "cli"),
		files:     files,
		uploads:   orch,
		relay:     relay.New(buf, l),
		confirmer: relay.GRPCConfirmer{Client: grpcClient},
		health:    httpClient.Health,
		reader:    bufio.NewReader(os.Stdin),
		out:       os.Stdout,
		keys:      keys,
		closers:   []io.Closer{grpcClient, httpClient, buf},
	}, nil
}

func (a *App) setMode(ctx context.Context, mode Mode) {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	if a.Mode != mode {
		a.Mode = mode
		a.logger.Info(ctx, "connection mode changed", "mode", mode)
	}
}

func (a *App) getStatus() string {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	if a.Mode == "" {
		return ""
	}
	return fmt.Sprintf("(%s) ", a.Mode)
}

// Run starts the connectivity watcher and blocks in the REPL until the user
// exits or stdin closes.
func (a *App) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer a.close()

	printlnFn("chunkpipe sender (type 'help' for commands)")

	go a.StartOnlineStatusWatcher(ctx, 5*time.Second)

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) close() {
	a.uploads.Stop()
	a.relay.Cancel()
	a.relayWG.Wait()
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn(context.Background(), "close failed", "error", err)
		}
	}
}

// StartOnlineStatusWatcher checks the receiver every interval and flips
// the shell between online and offline mode.
func (a *App) StartOnlineStatusWatcher(ctx context.Context, interval time.Duration) {
	check := func() {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := a.health(pctx)
		cancel()

		if err != nil && !errors.Is(err, context.Canceled) {
			a.setMode(ctx, ModeOffline)
			return
		}
		if err == nil {
			a.setMode(ctx, ModeOnline)
		}
	}
	check()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			check()
		case <-ctx.Done():
			return
		}
	}
}
