package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrijs2005/notesync/internal/client/client"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/store"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		want      Failure
		retryable bool
	}{
		{"nil", nil, FailureNone, false},
		{"conflict", &client.ConflictError{}, FailureVersionConflict, false},
		{"wrapped conflict", fmt.Errorf("save: %w", client.ErrVersionConflict), FailureVersionConflict, false},
		{"not found", client.ErrNotFound, FailureNotFound, false},
		{"validation", client.ErrValidation, FailureValidationError, false},
		{"malformed", models.ErrMalformedEntry, FailureValidationError, false},
		{"unavailable", fmt.Errorf("%w: dial tcp", client.ErrUnavailable), FailureNetworkUnavailable, true},
		{"deadline", context.DeadlineExceeded, FailureNetworkUnavailable, true},
		{"storage", store.ErrStorageUnavailable, FailureStorageUnavailable, true},
		{"closed store", store.ErrClosed, FailureStorageUnavailable, true},
		{"server", client.ErrServer, FailureServerError, true},
		{"unauthorized", client.ErrUnauthorized, FailureServerError, true},
		{"unknown", errors.New("boom"), FailureServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.retryable, got.Retryable())
		})
	}
}
