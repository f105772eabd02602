package client

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

type Client interface {
	Close() error
	Ping(ctx context.Context) error

	ListNotes(ctx context.Context) (*models.NoteList, error)

	// GetByID and GetBySlug send versionToken, when not empty, as a
	// conditional read. An unchanged note yields FetchResult.NotModified.
	GetByID(ctx context.Context, id, versionToken string) (*FetchResult, error)
	GetBySlug(ctx context.Context, slug, versionToken string) (*FetchResult, error)

	Create(ctx context.Context, fields models.Fields) (*models.Note, error)
	Update(ctx context.Context, id string, fields models.Fields, expectedVersion int64) (*models.Note, error)
	Delete(ctx context.Context, id string) error
	SetVisibility(ctx context.Context, id string, public bool) (bool, error)
}

// FetchResult is the outcome of a conditional read. Note is nil when
// NotModified is set.
type FetchResult struct {
	Note         *models.Note
	VersionToken string
	NotModified  bool
}
