package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/chunkpipe/internal/client/relay"
)

var errUsage = errors.New("usage")

func (a *App) report(err error) error {
	if err != nil {
		printlnFn("Error:", err.Error())
	}
	return err
}

func pathAndName(args []string) (string, string, bool) {
	switch len(args) {
	case 1:
		return args[0], "", true
	case 2:
		return args[0], args[1], true
	default:
		return "", "", false
	}
}

func (a *App) Add(ctx context.Context, args []string) error {
	path, name, ok := pathAndName(args)
	if !ok {
		printlnFn("Usage: add <path> [name]")
		return errUsage
	}
	res, err := a.files.AddFile(ctx, path, name)
	if err != nil {
		return a.report(err)
	}
	printlnFn(fmt.Sprintf("Buffered %s: %d chunks (session %s)", res.FileName, res.Chunks, res.SessionID))
	return nil
}

func (a *App) Send(ctx context.Context, args []string) error {
	path, name, ok := pathAndName(args)
	if !ok {
		printlnFn("Usage: send <path> [name]")
		return errUsage
	}
	res, err := a.files.SendFile(ctx, path, name)
	if err != nil {
		return a.report(err)
	}
	printMapping(res)
	return nil
}

func (a *App) Upload(ctx context.Context) error {
	res, err := a.uploads.UploadAll(ctx)
	if err != nil {
		return a.report(err)
	}
	if len(res) == 0 {
		printlnFn("Nothing uploaded")
		return nil
	}
	printMapping(res)
	return nil
}

func printMapping(res map[string]string) {
	names := make([]string, 0, len(res))
	for n := range res {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		printlnFn(fmt.Sprintf("%s -> %s", n, res[n]))
	}
}

func (a *App) Start(ctx context.Context, args []string) error {
	interval := a.config.UploadInterval
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			printlnFn("Usage: start [seconds]")
			return errUsage
		}
		interval = time.Duration(secs) * time.Second
	}
	if err := a.uploads.Start(ctx, interval); err != nil {
		return a.report(err)
	}
	printlnFn("Background upload started, every", interval)
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if !a.uploads.Running() {
		printlnFn("Background upload is not running")
		return nil
	}
	a.uploads.Stop()
	printlnFn("Background upload stopped")
	return nil
}

func (a *App) List(ctx context.Context) error {
	files, err := a.files.List(ctx)
	if err != nil {
		return a.report(err)
	}
	if len(files) == 0 {
		printlnFn("Buffer is empty")
		return nil
	}
	for _, f := range files {
		state := "open"
		if f.HasEndMarker {
			state = "complete"
		}
		printlnFn(fmt.Sprintf("%-40s %6d chunks  %-8s %s", f.FileName, f.Chunks, state, strings.Join(f.Sessions, ",")))
	}
	return nil
}

func (a *App) Clear(ctx context.Context) error {
	if !Confirm(a.reader, "Drop every buffered chunk?", a.out) {
		printlnFn("Cancelled")
		return nil
	}
	if err := a.files.Clear(ctx); err != nil {
		return a.report(err)
	}
	printlnFn("Buffer cleared")
	return nil
}

// Relay runs in the background so the shell stays usable for cancel.
func (a *App) Relay(ctx context.Context, args []string) error {
	if a.relay.State() == relay.StateRunning {
		return a.report(fmt.Errorf("relay is already running"))
	}

	opts := relay.Options{
		Confirmer:    a.confirmer,
		MaxRetries:   a.config.RelayMaxRetries,
		RetryDelay:   a.config.RelayRetryDelay,
		PollInterval: a.config.RelayPollInterval,
	}
	if len(args) > 0 {
		opts.FileName = args[0]
	}

	a.relayWG.Add(1)
	go func() {
		defer a.relayWG.Done()
		res, err := a.relay.RelayInOrder(ctx, opts)
		if err != nil {
			printlnFn(fmt.Sprintf("Relay of %s stopped after %d chunks: %v", res.FileName, res.Delivered, err))
			return
		}
		printlnFn(fmt.Sprintf("Relay of %s complete: %d chunks", res.FileName, res.Delivered))
	}()

	printlnFn("Relay started")
	return nil
}

func (a *App) Cancel(ctx context.Context) error {
	if a.relay.State() != relay.StateRunning {
		printlnFn("No relay is running")
		return nil
	}
	a.relay.Cancel()
	printlnFn("Relay cancel requested")
	return nil
}

func (a *App) Key(ctx context.Context) error {
	pk, err := a.keys.Refresh(ctx)
	if err != nil {
		return a.report(err)
	}
	exp := "never"
	if !pk.ExpiresAt.IsZero() {
		exp = pk.ExpiresAt.Format(time.RFC3339)
	}
	printlnFn(fmt.Sprintf("Receiver key %s, expires %s", pk.Kid, exp))
	return nil
}

func (a *App) Status(ctx context.Context) error {
	files, err := a.files.List(ctx)
	if err != nil {
		return a.report(err)
	}
	chunks := 0
	for _, f := range files {
		chunks += f.Chunks
	}

	a.modeMu.Lock()
	mode := a.Mode
	a.modeMu.Unlock()
	if mode == "" {
		mode = "unknown"
	}

	printlnFn(fmt.Sprintf("mode: %s, buffered: %d files / %d chunks, upload loop: %v, relay: %s, encryption: %v",
		mode, len(files), chunks, a.uploads.Running(), a.relay.State(), a.config.Encrypt))
	return nil
}
