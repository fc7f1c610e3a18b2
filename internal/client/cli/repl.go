package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	Add(ctx context.Context, args []string) error
	Send(ctx context.Context, args []string) error
	Upload(ctx context.Context) error
	Start(ctx context.Context, args []string) error
	Stop(ctx context.Context) error
	List(ctx context.Context) error
	Clear(ctx context.Context) error
	Relay(ctx context.Context, args []string) error
	Cancel(ctx context.Context) error
	Key(ctx context.Context) error
	Status(ctx context.Context) error
}

const helpText = `Available commands:
  add <path> [name]    buffer a file
  send <path> [name]   buffer a file and upload right away
  upload               upload everything buffered
  start [seconds]      start the background upload loop
  stop                 stop the background upload loop
  (l)ist               show buffered files
  clear                drop everything buffered
  relay [name]         relay one file in order over gRPC
  cancel               cancel the running relay
  key                  refresh the receiver public key
  status               show sender status
  exit | quit          leave the program`

// runREPL starts a simple read–eval–print loop for the sender shell.
//
// It reads a line from the provided scanner, parses the first token as the
// command, and dispatches to methods on 'a'. Unknown commands are reported
// back to the user. The loop exits on scanner EOF or when the user types
// "exit" or "quit".
//
// Errors returned by command handlers are printed by the handlers
// themselves, so the loop stays focused on I/O.
func runREPL(ctx context.Context, a execIface, statusFn func() string, scanner *bufio.Scanner) {
	for {
		printlnFn(fmt.Sprintf("chunkpipe %s> ", statusFn()))
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help":
			printlnFn(helpText)

		case "add":
			_ = a.Add(ctx, args)

		case "send":
			_ = a.Send(ctx, args)

		case "upload":
			_ = a.Upload(ctx)

		case "start":
			_ = a.Start(ctx, args)

		case "stop":
			_ = a.Stop(ctx)

		case "l", "list":
			_ = a.List(ctx)

		case "clear":
			_ = a.Clear(ctx)

		case "relay":
			_ = a.Relay(ctx, args)

		case "cancel":
			_ = a.Cancel(ctx)

		case "key":
			_ = a.Key(ctx)

		case "status":
			_ = a.Status(ctx)

		case "exit", "quit":
			printlnFn("Bye!")
			return

		default:
			printlnFn("Unknown command:", cmd)
		}
	}
}
