// Package services holds the sync engine's orchestration layer.
//
// SyncService replays the outbox against the remote API: one drain at a
// time, strictly in enqueue order, halting on the first transient failure.
// It also owns the queueing operations that coalesce superseded intents
// before enqueueing a new one.
//
// NoteService is what a UI talks to. It tries the server first and falls
// back to the cache and the outbox when the server is unreachable.
//
// Watcher probes connectivity on an interval and triggers a sync when the
// server becomes reachable again.
package services
