// Package client is the notes client's view of the remote notes service.
//
// # Overview
//
// The package provides:
//  1. A transport-agnostic contract (see the Client interface): ListNotes,
//     conditional GetByID/GetBySlug, Create, Update with an expected version,
//     Delete, SetVisibility and Ping.
//  2. HTTPClient, which speaks the JSON notes API (ETag/If-None-Match for
//     conditional reads, If-Match for optimistic updates).
//  3. GRPCClient, which carries the same operations as structpb messages over
//     a gRPC connection and maps status codes to the errors below.
//
// Both transports run every call through a circuit breaker. Once the server
// has failed repeatedly, calls fail fast with ErrUnavailable until the
// breaker half-opens again.
//
// # Error Handling
//
// Callers match outcomes with errors.Is:
//
//   - ErrUnavailable      the server could not be reached (retry later)
//   - ErrVersionConflict  the expected version is stale (see *ConflictError)
//   - ErrNotFound         the note does not exist on the server
//   - ErrValidation       the server rejected the request body
//   - ErrServer           the server failed while handling the request
//   - ErrUnauthorized     the session is missing or expired
//
// Version tokens are the ETag form of a note version, `"v<N>"`; see
// VersionToken and ParseVersionToken.
package client
