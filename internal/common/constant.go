package common

// ClientIDHeaderName carries the client instance identifier on outbound
// HTTP requests and gRPC metadata, so server logs can correlate replays.
const ClientIDHeaderName = "x-notesync-client"

// NoteListKey is the record key of the cached "all notes" snapshot.
const NoteListKey = "notes:list"
