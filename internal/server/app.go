// Package server initializes and runs the receiver: chunk storage, path
// policy, optional key management, the HTTP upload API and the gRPC relay
// endpoint, with graceful shutdown on SIGINT/SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/buildinfo"
	"github.com/dmitrijs2005/chunkpipe/internal/keys"
	"github.com/dmitrijs2005/chunkpipe/internal/keystore"
	"github.com/dmitrijs2005/chunkpipe/internal/logging"
	"github.com/dmitrijs2005/chunkpipe/internal/server/config"
	"github.com/dmitrijs2005/chunkpipe/internal/server/httpapi"
	"github.com/dmitrijs2005/chunkpipe/internal/server/pathpolicy"
	"github.com/dmitrijs2005/chunkpipe/internal/server/services"
	"github.com/dmitrijs2005/chunkpipe/internal/server/storage"
	"github.com/dmitrijs2005/chunkpipe/internal/shared"

	gs "github.com/dmitrijs2005/chunkpipe/internal/server/grpc"
)

const shutdownTimeout = 5 * time.Second

type App struct {
	config     *config.Config
	logger     logging.Logger
	sink       storage.Sink
	keys       *keys.Manager
	ingest     *services.IngestService
	httpServer *http.Server
	grpcServer *gs.GRPCServer
}

// NewApp wires the receiver from c. An empty API key is replaced by a
// random one, which is logged once so senders can be configured with it.
func NewApp(ctx context.Context, c *config.Config, l logging.Logger) (*App, error) {
	logger := l.With("module", "app")

	if err := c.Validate(); err != nil {
		return nil, err
	}

	if c.APIKey == "" {
		key, err := shared.MakeRandHexString(32)
		if err != nil {
			return nil, fmt.Errorf("generate api key: %w", err)
		}
		c.APIKey = key
		logger.Warn(ctx, "no API key configured, generated one", "api_key", key)
	}

	mode, err := pathpolicy.ParseMode(c.PathMode)
	if err != nil {
		return nil, err
	}

	sink, err := storage.Open(ctx, storage.Options{
		Kind: c.Storage,
		Dir:  c.OutputDir,
		S3: storage.S3Options{
			Region:    c.S3Region,
			Endpoint:  c.S3Endpoint,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			PathStyle: c.S3PathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	policy := pathpolicy.New(mode, c.OutputDir)
	policy.Exists = func(name string) (bool, error) {
		return sink.Exists(ctx, name)
	}

	app := &App{config: c, logger: logger, sink: sink}

	// keys stay nil interfaces when encryption is off
	var unwrapper services.KeyUnwrapper
	var keyService httpapi.KeyService
	var activeKid func() string

	if c.Encrypt {
		store, err := keystore.New(keystore.Options{
			Type:       c.KeystoreType,
			Dir:        c.KeystoreDir,
			Passphrase: c.KeystorePassphrase,
			DSN:        c.KeystoreDSN,
		})
		if err != nil {
			sink.Close()
			return nil, fmt.Errorf("keystore init error: %w", err)
		}

		m := keys.NewManager(store, keys.Options{KeyBits: c.KeyBits, KeyTTL: c.KeyTTL}, l)
		if err := m.Initialize(ctx); err != nil {
			m.Close()
			sink.Close()
			return nil, err
		}

		app.keys = m
		unwrapper = m
		keyService = m
		activeKid = m.ActiveKid
	}

	app.ingest = services.NewIngestService(policy, sink, unwrapper, services.Options{
		Version:   buildinfo.Version(),
		PathMode:  string(mode),
		Storage:   c.Storage,
		ActiveKid: activeKid,
	}, l)

	h := httpapi.NewHandler(app.ingest, keyService, httpapi.Options{
		APIKey:        c.APIKey,
		MaxChunkBytes: c.MaxChunkBytes,
	}, l)

	app.httpServer = &http.Server{
		Addr:              c.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	app.grpcServer, err = gs.NewGRPCServer(c.GRPCAddr, l, app.ingest, c.APIKey)
	if err != nil {
		app.close()
		return nil, err
	}

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	go func() {
		<-ctx.Done()
		app.logger.Info(ctx, "Stopping HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			app.logger.Error(ctx, "http shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "addr", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	app.logger.Info(ctx, "Starting gRPC server", "addr", app.config.GRPCAddr)
	if err := app.grpcServer.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

// runKeyCleanup removes aged inactive keys every KeyCleanupInterval.
func (app *App) runKeyCleanup(ctx context.Context) {
	if app.keys == nil || app.config.MaxKeyAge <= 0 || app.config.KeyCleanupInterval <= 0 {
		return
	}

	ticker := time.NewTicker(app.config.KeyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// chunks are sealed for keys before ExpiresAt, which Cleanup
			// never removes, so no in-use check is passed
			n, err := app.keys.Cleanup(ctx, app.config.MaxKeyAge, nil)
			if err != nil {
				app.logger.Error(ctx, "key cleanup", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Info(ctx, "key cleanup", "removed", n)
			}
		}
	}
}

// Run serves until ctx is cancelled or a signal arrives, then releases
// storage and the key store.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...",
		"path_mode", app.config.PathMode,
		"storage", app.config.Storage,
		"encryption", app.config.Encrypt,
	)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.runKeyCleanup(ctx)
	}()

	wg.Wait()

	n := app.ingest.ClearSessions(context.Background())
	app.logger.Info(context.Background(), "App stopped", "open_sessions", n)
	app.close()
}

func (app *App) close() {
	if app.keys != nil {
		if err := app.keys.Close(); err != nil {
			app.logger.Error(context.Background(), "close keystore", "error", err)
		}
	}
	if err := app.sink.Close(); err != nil {
		app.logger.Error(context.Background(), "close storage", "error", err)
	}
}
