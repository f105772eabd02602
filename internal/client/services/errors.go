package services

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/store"
)

var (
	// ErrDrainStopped halts a drain after RequestStop.
	ErrDrainStopped = errors.New("drain stopped on request")
	// ErrReloadRequired reports that a local edit lost to a newer server
	// version; the cache now holds the server copy.
	ErrReloadRequired = errors.New("note changed on server, reload required")
	// ErrNotCached is returned for offline reads of notes never fetched.
	ErrNotCached = errors.New("note not available offline")
)

// Failure classifies why a remote operation did not succeed.
type Failure string

const (
	FailureNone               Failure = ""
	FailureNetworkUnavailable Failure = "network_unavailable"
	FailureVersionConflict    Failure = "version_conflict"
	FailureNotFound           Failure = "not_found"
	FailureServerError        Failure = "server_error"
	FailureValidationError    Failure = "validation_error"
	FailureStorageUnavailable Failure = "storage_unavailable"
)

// Retryable reports whether the failed entry stays queued for a later drain.
func (f Failure) Retryable() bool {
	switch f {
	case FailureNetworkUnavailable, FailureServerError, FailureStorageUnavailable:
		return true
	}
	return false
}

// Classify maps an error from the remote API or the local store onto a
// Failure.
func Classify(err error) Failure {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, client.ErrVersionConflict):
		return FailureVersionConflict
	case errors.Is(err, client.ErrNotFound):
		return FailureNotFound
	case errors.Is(err, client.ErrValidation), errors.Is(err, models.ErrMalformedEntry):
		return FailureValidationError
	case errors.Is(err, client.ErrUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return FailureNetworkUnavailable
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, store.ErrClosed):
		return FailureStorageUnavailable
	default:
		return FailureServerError
	}
}
