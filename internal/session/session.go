// Package session provides the per-document annotation façade: a read-through
// page cache, CRUD with derived-field computation, and a bounded undo stack.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hyperjump/fusen/internal/anchor"
	"github.com/hyperjump/fusen/internal/bundle"
	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pagetext"
	"github.com/hyperjump/fusen/internal/reanchor"
	"github.com/hyperjump/fusen/internal/storage"
)

// DefaultUndoDepth bounds the undo stack; the oldest entry is dropped first.
const DefaultUndoDepth = 64

// Options configures a Session. Zero values select defaults.
type Options struct {
	// UndoDepth bounds the undo stack. Defaults to DefaultUndoDepth.
	UndoDepth int
	// ContextChars is the quote prefix/suffix length captured at creation.
	// Defaults to anchor.DefaultContextChars.
	ContextChars int
	// LegacyDocID, when set, has its rows migrated into the canonical docID
	// during construction. Migration failure is logged, not fatal.
	LegacyDocID string
	// Reanchor tunes the relayout pass.
	Reanchor reanchor.Options
}

type undoOp func(ctx context.Context) error

// Session owns one open document's annotation state. Callers must confine a
// session to a single logical writer; mutations and UndoLast must not overlap.
type Session struct {
	docID        string
	store        storage.Store
	provider     pagetext.Provider
	locator      pagetext.Locator
	logger       *zap.Logger
	pages        *cache.Cache
	undo         []undoOp
	undoDepth    int
	contextChars int
	reanchorOpts reanchor.Options
}

// New creates a session for docID. provider and locator may be nil for
// documents without page text (highlight anchors then store as given).
func New(ctx context.Context, docID string, store storage.Store, provider pagetext.Provider, locator pagetext.Locator, opts Options, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UndoDepth <= 0 {
		opts.UndoDepth = DefaultUndoDepth
	}
	if opts.ContextChars <= 0 {
		opts.ContextChars = anchor.DefaultContextChars
	}
	s := &Session{
		docID:        docID,
		store:        store,
		provider:     provider,
		locator:      locator,
		logger:       logger,
		pages:        cache.New(cache.NoExpiration, 0),
		undoDepth:    opts.UndoDepth,
		contextChars: opts.ContextChars,
		reanchorOpts: opts.Reanchor,
	}
	if opts.LegacyDocID != "" && opts.LegacyDocID != docID {
		if err := store.MigrateDocID(ctx, opts.LegacyDocID, docID); err != nil {
			// Old rows stay orphaned under the legacy id; opening proceeds.
			logger.Warn("session legacy doc id migration failed",
				zap.String("from", opts.LegacyDocID),
				zap.String("to", docID),
				zap.Error(err))
		}
	}
	return s
}

// DocID returns the canonical document identity this session owns.
func (s *Session) DocID() string { return s.docID }

func pageKey(kind models.Kind, pageIndex int, layoutProfileID string) string {
	return fmt.Sprintf("%s:%d:%s", kind, pageIndex, layoutProfileID)
}

// InkForPage lists ink strokes for one page in creation order. Read failures
// degrade to an empty listing so rendering never crashes on a bad row.
func (s *Session) InkForPage(ctx context.Context, pageIndex int, layoutProfileID string) []*models.InkStroke {
	key := pageKey(models.KindInk, pageIndex, layoutProfileID)
	if v, ok := s.pages.Get(key); ok {
		return v.([]*models.InkStroke)
	}
	rows, err := s.store.ListInk(ctx, s.docID, pageIndex, layoutProfileID)
	if err != nil {
		s.logger.Warn("session ink read failed", zap.Int("page", pageIndex), zap.Error(err))
		return nil
	}
	s.pages.Set(key, rows, cache.NoExpiration)
	return rows
}

// HighlightsForPage lists highlights for one page in creation order.
func (s *Session) HighlightsForPage(ctx context.Context, pageIndex int, layoutProfileID string) []*models.Highlight {
	key := pageKey(models.KindHighlight, pageIndex, layoutProfileID)
	if v, ok := s.pages.Get(key); ok {
		return v.([]*models.Highlight)
	}
	rows, err := s.store.ListHighlights(ctx, s.docID, pageIndex, layoutProfileID)
	if err != nil {
		s.logger.Warn("session highlight read failed", zap.Int("page", pageIndex), zap.Error(err))
		return nil
	}
	s.pages.Set(key, rows, cache.NoExpiration)
	return rows
}

// NotesForPage lists notes for one page in creation order.
func (s *Session) NotesForPage(ctx context.Context, pageIndex int, layoutProfileID string) []*models.Note {
	key := pageKey(models.KindNote, pageIndex, layoutProfileID)
	if v, ok := s.pages.Get(key); ok {
		return v.([]*models.Note)
	}
	rows, err := s.store.ListNotes(ctx, s.docID, pageIndex, layoutProfileID)
	if err != nil {
		s.logger.Warn("session note read failed", zap.Int("page", pageIndex), zap.Error(err))
		return nil
	}
	s.pages.Set(key, rows, cache.NoExpiration)
	return rows
}

// AddInk persists a new stroke and pushes an undo entry that deletes it.
func (s *Session) AddInk(ctx context.Context, stroke *models.InkStroke) error {
	if len(stroke.Points) < 2 {
		return fmt.Errorf("ink stroke needs at least 2 points, got %d", len(stroke.Points))
	}
	s.fillMeta(&stroke.Meta)
	if err := s.store.InsertInk(ctx, s.docID, []*models.InkStroke{stroke}); err != nil {
		return fmt.Errorf("insert ink: %w", err)
	}
	s.invalidate(models.KindInk, stroke.PageIndex, stroke.LayoutProfileID)
	id, page, layout := stroke.ID, stroke.PageIndex, stroke.LayoutProfileID
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.DeleteInk(ctx, s.docID, id); err != nil {
			return err
		}
		s.invalidate(models.KindInk, page, layout)
		return nil
	})
	return nil
}

// AddHighlight computes the text-quote anchor from the same-layout page text,
// persists the highlight, and pushes an undo entry that deletes it. When the
// quote cannot be located on the page (or no text provider is available) the
// highlight is stored as given, with no context anchor.
func (s *Session) AddHighlight(ctx context.Context, h *models.Highlight) error {
	s.fillMeta(&h.Meta)
	if h.Type == "" {
		h.Type = models.HighlightTypeHighlight
	}
	if h.AnchorStartWord == 0 && h.AnchorEndWordExcl == 0 {
		h.AnchorStartWord, h.AnchorEndWordExcl = -1, -1
	}
	s.computeAnchor(ctx, h)
	if err := h.Validate(); err != nil {
		return err
	}
	if err := s.store.InsertHighlight(ctx, s.docID, h); err != nil {
		return fmt.Errorf("insert highlight: %w", err)
	}
	s.invalidate(models.KindHighlight, h.PageIndex, h.LayoutProfileID)
	id, page, layout := h.ID, h.PageIndex, h.LayoutProfileID
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.DeleteHighlight(ctx, s.docID, id); err != nil {
			return err
		}
		s.invalidate(models.KindHighlight, page, layout)
		return nil
	})
	return nil
}

// computeAnchor fills quotePrefix/quoteSuffix and the word-range hint by
// locating the quote on its own page, disambiguated by the selection bounds.
// Creation time is the only moment the geometry is authoritative.
func (s *Session) computeAnchor(ctx context.Context, h *models.Highlight) {
	if h.Quote == "" || s.provider == nil {
		return
	}
	h.Quote = pagetext.NormalizeWhitespace(h.Quote)
	bounds, ok := models.BoundsFromQuads(h.QuadPoints)
	if !ok {
		return
	}
	lines, err := s.provider.Lines(ctx, h.PageIndex)
	if err != nil {
		s.logger.Warn("session page text unavailable, storing highlight unanchored",
			zap.Int("page", h.PageIndex), zap.Error(err))
		return
	}
	index := pagetext.Build(lines)
	m := anchor.BestMatchByBounds(index, h.Quote, bounds)
	if m == nil {
		return
	}
	h.QuotePrefix = anchor.PrefixContext(index, m.Start, s.contextChars)
	h.QuoteSuffix = anchor.SuffixContext(index, m.End, s.contextChars)
	if wr, ok := anchor.WordRangeForCharRange(index, m.Start, m.End); ok {
		h.AnchorStartWord = wr.StartWord
		h.AnchorEndWordExcl = wr.EndWordExcl
	}
}

// AddNote persists a new note and pushes an undo entry that deletes it.
func (s *Session) AddNote(ctx context.Context, n *models.Note) error {
	if n.Bounds.IsEmpty() {
		return fmt.Errorf("note bounds are degenerate: %+v", n.Bounds)
	}
	s.fillMeta(&n.Meta)
	if n.Color == 0 {
		n.Color = models.NoteDefaultColor
	}
	if n.FontSize <= 0 {
		n.FontSize = models.NoteDefaultFontSize
	}
	if err := s.store.InsertNote(ctx, s.docID, n); err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	s.invalidate(models.KindNote, n.PageIndex, n.LayoutProfileID)
	id, page, layout := n.ID, n.PageIndex, n.LayoutProfileID
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.DeleteNote(ctx, s.docID, id); err != nil {
			return err
		}
		s.invalidate(models.KindNote, page, layout)
		return nil
	})
	return nil
}

// RemoveInk deletes a stroke and pushes an undo entry that restores it.
func (s *Session) RemoveInk(ctx context.Context, id string) error {
	prior, err := s.findInk(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteInk(ctx, s.docID, id); err != nil {
		return fmt.Errorf("delete ink: %w", err)
	}
	s.invalidate(models.KindInk, prior.PageIndex, prior.LayoutProfileID)
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.InsertInk(ctx, s.docID, []*models.InkStroke{prior}); err != nil {
			return err
		}
		s.invalidate(models.KindInk, prior.PageIndex, prior.LayoutProfileID)
		return nil
	})
	return nil
}

// RemoveHighlight deletes a highlight and pushes an undo entry that restores it.
func (s *Session) RemoveHighlight(ctx context.Context, id string) error {
	prior, err := s.findHighlight(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteHighlight(ctx, s.docID, id); err != nil {
		return fmt.Errorf("delete highlight: %w", err)
	}
	s.invalidate(models.KindHighlight, prior.PageIndex, prior.LayoutProfileID)
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.InsertHighlight(ctx, s.docID, prior); err != nil {
			return err
		}
		s.invalidate(models.KindHighlight, prior.PageIndex, prior.LayoutProfileID)
		return nil
	})
	return nil
}

// RemoveNote deletes a note and pushes an undo entry that restores it.
func (s *Session) RemoveNote(ctx context.Context, id string) error {
	prior, err := s.findNote(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteNote(ctx, s.docID, id); err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	s.invalidate(models.KindNote, prior.PageIndex, prior.LayoutProfileID)
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.InsertNote(ctx, s.docID, prior); err != nil {
			return err
		}
		s.invalidate(models.KindNote, prior.PageIndex, prior.LayoutProfileID)
		return nil
	})
	return nil
}

// UpdateNoteText rewrites a note's text and pushes an undo entry restoring
// the prior value.
func (s *Session) UpdateNoteText(ctx context.Context, id, text string) error {
	return s.updateNote(ctx, id, func(n *models.Note) { n.Text = text })
}

// UpdateNoteBounds moves or resizes a note.
func (s *Session) UpdateNoteBounds(ctx context.Context, id string, bounds models.Rect) error {
	if bounds.IsEmpty() {
		return fmt.Errorf("note bounds are degenerate: %+v", bounds)
	}
	return s.updateNote(ctx, id, func(n *models.Note) { n.Bounds = bounds })
}

func (s *Session) updateNote(ctx context.Context, id string, mutate func(*models.Note)) error {
	prior, err := s.findNote(ctx, id)
	if err != nil {
		return err
	}
	next := *prior
	mutate(&next)
	if err := s.store.InsertNote(ctx, s.docID, &next); err != nil {
		return fmt.Errorf("update note: %w", err)
	}
	s.invalidate(models.KindNote, next.PageIndex, next.LayoutProfileID)
	s.pushUndo(func(ctx context.Context) error {
		if err := s.store.InsertNote(ctx, s.docID, prior); err != nil {
			return err
		}
		s.invalidate(models.KindNote, prior.PageIndex, prior.LayoutProfileID)
		return nil
	})
	return nil
}

// UndoLast pops and applies one undo entry. It reports false when the stack
// is empty. There is no redo.
func (s *Session) UndoLast(ctx context.Context) (bool, error) {
	n := len(s.undo)
	if n == 0 {
		return false, nil
	}
	op := s.undo[n-1]
	s.undo = s.undo[:n-1]
	if err := op(ctx); err != nil {
		return true, fmt.Errorf("undo: %w", err)
	}
	return true, nil
}

// UndoDepth reports how many operations can currently be undone.
func (s *Session) UndoDepth() int { return len(s.undo) }

// HasAnnotations reports whether the document has any annotation at all.
func (s *Session) HasAnnotations(ctx context.Context) (bool, error) {
	return s.store.HasAny(ctx, s.docID)
}

// HasAnnotationsInLayout reports whether any annotation exists under the
// given layout profile.
func (s *Session) HasAnnotationsInLayout(ctx context.Context, layoutProfileID string) (bool, error) {
	return s.store.HasAnyInLayout(ctx, s.docID, layoutProfileID)
}

// HasAnnotationsOutsideLayout reports whether annotations exist under some
// other layout profile. Drives the "switch layout to see older annotations"
// affordance.
func (s *Session) HasAnnotationsOutsideLayout(ctx context.Context, layoutProfileID string) (bool, error) {
	return s.store.HasAnyOutsideLayout(ctx, s.docID, layoutProfileID)
}

// ExportBundle serializes every row of the document into a JSON bundle.
func (s *Session) ExportBundle(ctx context.Context) ([]byte, error) {
	return bundle.Export(ctx, s.store, s.docID)
}

// ImportBundle imports a JSON bundle into this document. The page cache and
// the undo stack are discarded: imported rows are not undoable.
func (s *Session) ImportBundle(ctx context.Context, data []byte) (*bundle.ImportStats, error) {
	stats, err := bundle.Import(ctx, s.store, s.docID, data)
	if err != nil {
		return nil, err
	}
	s.pages.Flush()
	s.undo = nil
	return stats, nil
}

// Reanchor runs the relayout pass, moving stale highlights onto the given
// layout profile, then drops the page cache.
func (s *Session) Reanchor(ctx context.Context, layoutProfileID string) (int, error) {
	if s.provider == nil {
		return 0, fmt.Errorf("no page text provider for document %s", s.docID)
	}
	r := reanchor.New(s.store, s.provider, s.locator, s.reanchorOpts, s.logger)
	moved, err := r.Run(ctx, s.docID, layoutProfileID)
	if moved > 0 {
		s.pages.Flush()
	}
	return moved, err
}

func (s *Session) fillMeta(m *models.Meta) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAtMs == 0 {
		m.CreatedAtMs = time.Now().UnixMilli()
	}
}

func (s *Session) invalidate(kind models.Kind, pageIndex int, layoutProfileID string) {
	s.pages.Delete(pageKey(kind, pageIndex, layoutProfileID))
}

func (s *Session) pushUndo(op undoOp) {
	s.undo = append(s.undo, op)
	if len(s.undo) > s.undoDepth {
		s.undo = append(s.undo[:0], s.undo[1:]...)
	}
}

func (s *Session) findInk(ctx context.Context, id string) (*models.InkStroke, error) {
	rows, err := s.store.ListAllInk(ctx, s.docID)
	if err != nil {
		return nil, fmt.Errorf("lookup ink %s: %w", id, err)
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("ink stroke %s not found", id)
}

func (s *Session) findHighlight(ctx context.Context, id string) (*models.Highlight, error) {
	rows, err := s.store.ListAllHighlights(ctx, s.docID)
	if err != nil {
		return nil, fmt.Errorf("lookup highlight %s: %w", id, err)
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("highlight %s not found", id)
}

func (s *Session) findNote(ctx context.Context, id string) (*models.Note, error) {
	rows, err := s.store.ListAllNotes(ctx, s.docID)
	if err != nil {
		return nil, fmt.Errorf("lookup note %s: %w", id, err)
	}
	for _, r := range rows {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, fmt.Errorf("note %s not found", id)
}
