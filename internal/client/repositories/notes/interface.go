package notes

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// Repository describes the entity cache operations used by the sync
// services. Lookups that miss return common.ErrorNotFound.
type Repository interface {
	// Put upserts a snapshot under its key and indexes it by slug. Notes
	// without any identifier are ignored.
	Put(ctx context.Context, note *models.Note) error

	GetByID(ctx context.Context, id string) (*models.Note, error)
	GetBySlug(ctx context.Context, slug string) (*models.Note, error)

	// Remove deletes the snapshot and its slug index entry.
	Remove(ctx context.Context, id string) error

	// All returns every cached snapshot ordered by key.
	All(ctx context.Context) ([]*models.Note, error)

	// PutList replaces the cached listing; GetList returns it.
	PutList(ctx context.Context, list *models.NoteList) error
	GetList(ctx context.Context) (*models.NoteList, error)

	// UpsertSummary and RemoveSummary patch the cached listing in place so it
	// stays useful while offline.
	UpsertSummary(ctx context.Context, s models.NoteSummary) error
	RemoveSummary(ctx context.Context, id string) error

	// ReplaceTemp migrates every reference to tempID onto the server note and
	// records the tempID mapping (metadata.TempMappingKey) in one transaction.
	ReplaceTemp(ctx context.Context, tempID string, note *models.Note) error
}
