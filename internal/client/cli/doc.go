// Package cli provides the interactive notes client.
//
// It wires configuration, local storage, the remote transport and the sync
// services behind a line-oriented REPL that keeps working while the server
// is unreachable. Changes made offline are queued and replayed when the
// connectivity watcher sees the server again, or on an explicit "sync".
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App and runREPL for details.
package cli
