// Package storage defines the persistence interface for sidecar annotations.
package storage

import (
	"context"

	"github.com/hyperjump/fusen/internal/models"
)

// Store persists annotations keyed by (docId, kind, pageIndex,
// layoutProfileId). An empty layoutProfileId means layout-independent. Inserts
// are upserts by id: a duplicate insert replaces the stored row and never
// errors.
type Store interface {
	// Ink operations
	ListInk(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.InkStroke, error)
	ListAllInk(ctx context.Context, docID string) ([]*models.InkStroke, error)
	InsertInk(ctx context.Context, docID string, strokes []*models.InkStroke) error
	DeleteInk(ctx context.Context, docID, id string) error

	// Highlight operations
	ListHighlights(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.Highlight, error)
	ListAllHighlights(ctx context.Context, docID string) ([]*models.Highlight, error)
	InsertHighlight(ctx context.Context, docID string, h *models.Highlight) error
	InsertHighlights(ctx context.Context, docID string, hs []*models.Highlight) error
	DeleteHighlight(ctx context.Context, docID, id string) error

	// Note operations
	ListNotes(ctx context.Context, docID string, pageIndex int, layoutProfileID string) ([]*models.Note, error)
	ListAllNotes(ctx context.Context, docID string) ([]*models.Note, error)
	InsertNote(ctx context.Context, docID string, n *models.Note) error
	InsertNotes(ctx context.Context, docID string, ns []*models.Note) error
	DeleteNote(ctx context.Context, docID, id string) error

	// Existence probes
	HasAny(ctx context.Context, docID string) (bool, error)
	HasAnyInLayout(ctx context.Context, docID, layoutProfileID string) (bool, error)
	HasAnyOutsideLayout(ctx context.Context, docID, layoutProfileID string) (bool, error)

	// MigrateDocID atomically rewrites ownership of every row (all kinds)
	// from one document identity to another.
	MigrateDocID(ctx context.Context, fromDocID, toDocID string) error

	// CountByKind returns per-kind row counts for a document.
	CountByKind(ctx context.Context, docID string) (map[models.Kind]int64, error)

	Close() error
}
