// Package metadata is a small durable key/value side table. The sync engine
// keeps per-note version tokens and resolved temp id mappings here.
package metadata

import (
	"context"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

const (
	versionTokenPrefix = "etag:note:"
	tempMappingPrefix  = "temp:"
)

// VersionTokenKey is where the last seen version token of note id is kept.
func VersionTokenKey(id string) string { return versionTokenPrefix + id }

// TempMappingKey is where the server id a temp id resolved to is kept.
func TempMappingKey(tempID string) string { return tempMappingPrefix + tempID }
