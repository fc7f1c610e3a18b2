// Package cli provides the interactive chunkpipe sender shell.
//
// It wires configuration, the local chunk buffer, the receiver transports,
// the upload orchestrator and the relay engine, and runs a REPL on top of
// them. Typical flow: ask for the API key when none is configured, start a
// background connectivity watcher, then execute user commands.
//
// Key features:
//   - add / send files (chunked, optionally encrypted)
//   - upload once, or start / stop the background upload loop
//   - relay one file in order over gRPC, cancel a running relay
//   - list / clear the buffer, refresh the receiver key, show status
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
package cli
