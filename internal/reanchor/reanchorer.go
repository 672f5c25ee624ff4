// Package reanchor relocates highlights after a reflowable document's
// pagination changes.
//
// The pass is deliberately conservative: a highlight is rewritten only when a
// confident match is found under the new layout; everything else keeps its old
// layout profile and geometry so the user can still switch back to the
// annotated layout.
package reanchor

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/fusen/internal/anchor"
	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pagetext"
	"github.com/hyperjump/fusen/pkg/utils"
)

const (
	// DefaultRadiusPages caps how far from the estimated target page the
	// search walks in either direction.
	DefaultRadiusPages = 48
	// DefaultMinContextScore rejects matches for context-carrying highlights
	// whose surroundings barely agree with the stored prefix/suffix.
	DefaultMinContextScore = 6
)

// HighlightStore is the slice of the annotation store the reanchorer needs.
type HighlightStore interface {
	ListAllHighlights(ctx context.Context, docID string) ([]*models.Highlight, error)
	InsertHighlight(ctx context.Context, docID string, h *models.Highlight) error
}

// Options tune the search. Zero values select the defaults.
type Options struct {
	RadiusPages     int
	MinContextScore int
	Scorer          anchor.ContextScorer
}

// Reanchorer rewrites stale highlights for the current layout of one document.
type Reanchorer struct {
	store    HighlightStore
	provider pagetext.Provider
	locator  pagetext.Locator // nil when the engine cannot resolve locations
	opts     Options
	logger   *zap.Logger
}

// New creates a Reanchorer. locator may be nil; logger may be nil.
func New(store HighlightStore, provider pagetext.Provider, locator pagetext.Locator, opts Options, logger *zap.Logger) *Reanchorer {
	if opts.RadiusPages <= 0 {
		opts.RadiusPages = DefaultRadiusPages
	}
	if opts.MinContextScore <= 0 {
		opts.MinContextScore = DefaultMinContextScore
	}
	if opts.Scorer == nil {
		opts.Scorer = anchor.AffixScorer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reanchorer{store: store, provider: provider, locator: locator, opts: opts, logger: logger}
}

// Run re-anchors every highlight of docID whose layout profile differs from
// layoutProfileID, rewriting accepted matches in place (same id, new page,
// quads and layout profile). It never deletes rows. Returns the number of
// highlights updated. Cancellation is honored between pages, not mid-page.
func (r *Reanchorer) Run(ctx context.Context, docID, layoutProfileID string) (int, error) {
	if layoutProfileID == "" {
		return 0, nil
	}
	pageCount := r.provider.PageCount()
	if pageCount <= 0 {
		return 0, nil
	}

	all, err := r.store.ListAllHighlights(ctx, docID)
	if err != nil {
		return 0, fmt.Errorf("list highlights: %w", err)
	}

	updated := 0
	for _, h := range all {
		if h == nil || h.LayoutProfileID == layoutProfileID {
			continue
		}
		quote := strings.TrimSpace(h.Quote)
		if quote == "" {
			continue
		}

		hit, err := r.search(ctx, h, quote, pageCount)
		if err != nil {
			return updated, err
		}
		if hit == nil || len(hit.quads) < 4 {
			r.logger.Debug("highlight not reanchored",
				zap.String("docId", docID),
				zap.String("id", h.ID),
				zap.String("quote", utils.Truncate(quote, 48)))
			continue
		}

		rewritten := *h
		rewritten.PageIndex = hit.pageIndex
		rewritten.LayoutProfileID = layoutProfileID
		rewritten.QuadPoints = hit.quads
		if err := r.store.InsertHighlight(ctx, docID, &rewritten); err != nil {
			return updated, fmt.Errorf("rewrite highlight %s: %w", h.ID, err)
		}
		updated++
	}
	r.logger.Info("reanchor pass finished",
		zap.String("docId", docID),
		zap.String("layoutProfileId", layoutProfileID),
		zap.Int("updated", updated),
		zap.Int("total", len(all)))
	return updated, nil
}

type pageHit struct {
	pageIndex int
	score     int
	quads     []*models.Point
}

// search probes candidate pages outward from the estimated target and keeps
// the hit ranked best by matchScore*10 - distanceFromTarget.
func (r *Reanchorer) search(ctx context.Context, h *models.Highlight, quote string, pageCount int) (*pageHit, error) {
	target := r.targetPage(h, pageCount)
	bestRank := math.MinInt
	var best *pageHit
	for _, page := range CandidatePages(target, pageCount, r.opts.RadiusPages) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hit := r.matchPage(ctx, h, quote, page)
		if hit == nil {
			continue
		}
		rank := hit.score*10 - absInt(page-target)
		if rank > bestRank {
			bestRank = rank
			best = hit
		}
	}
	return best, nil
}

// targetPage estimates where the highlight landed under the new layout:
// resolve the reflow location if possible, else derive from document
// progress, else keep the stored page index. Always clamped.
func (r *Reanchorer) targetPage(h *models.Highlight, pageCount int) int {
	max := pageCount - 1
	if h.ReflowLocation != "" && r.locator != nil {
		if page := r.locator.PageFromLocation(h.ReflowLocation); page >= 0 {
			return clamp(page, 0, max)
		}
	}
	if h.DocProgress01 >= 0 && h.DocProgress01 <= 1 {
		return clamp(int(math.Round(float64(h.DocProgress01)*float64(max))), 0, max)
	}
	return clamp(h.PageIndex, 0, max)
}

func (r *Reanchorer) matchPage(ctx context.Context, h *models.Highlight, quote string, pageIndex int) *pageHit {
	lines, err := r.provider.Lines(ctx, pageIndex)
	if err != nil {
		r.logger.Warn("page text unavailable", zap.Int("page", pageIndex), zap.Error(err))
		return nil
	}
	index := pagetext.Build(lines)
	if index.Text == "" {
		return nil
	}

	var m *anchor.Match
	if h.AnchorStartWord >= 0 {
		m = anchor.BestMatchByContextAndWordAnchor(index, quote, h.QuotePrefix, h.QuoteSuffix, r.opts.Scorer, h.AnchorStartWord)
	} else {
		m = anchor.BestMatchByContext(index, quote, h.QuotePrefix, h.QuoteSuffix, r.opts.Scorer)
	}
	if m == nil || len(m.QuadPoints) < 4 {
		return nil
	}
	// A highlight that carried context must prove it: weak evidence is worse
	// than leaving the old geometry in place.
	if h.Anchored() && m.Score < r.opts.MinContextScore {
		return nil
	}
	return &pageHit{pageIndex: pageIndex, score: m.Score, quads: m.QuadPoints}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
