// Package notes is the client's entity cache: the latest known snapshot of
// every note, addressable by id (or temp id) and by slug, plus the listing
// last fetched from the server.
//
// # Data Model
//
// Snapshots live in the "notes" collection keyed by Note.Key. The
// "notes_by_slug" collection maps a slug to that key, so slug lookups are a
// pair of point reads rather than a scan. The listing is one record in the
// "lists" collection and is replaced wholesale.
//
// # Consistency
//
// Every method runs in a single store transaction. Put, Remove and
// ReplaceTemp update the primary record, the slug index and (for
// ReplaceTemp) the listing and the temp id mapping together.
//
// Typical Usage
//
//	cache := notes.NewRepository(st)
//	_ = cache.Put(ctx, note)
//	n, err := cache.GetBySlug(ctx, "welcome")
//	if errors.Is(err, common.ErrorNotFound) { ... }
package notes
