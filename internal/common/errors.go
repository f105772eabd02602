// Package common defines shared constants and sentinel errors used across
// the notes client. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Lookup errors returned by local repositories.
	ErrorNotFound = errors.New("not found")

	// Internal flow control.
	ErrorInternal = errors.New("internal error")

	// Input errors raised before anything is stored or sent.
	ErrorInvalidInput = errors.New("invalid input")
)
