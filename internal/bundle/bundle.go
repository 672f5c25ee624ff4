// Package bundle reads and writes the sidecar annotation interchange format:
// a single UTF-8 JSON document carrying every row of one document across all
// layout profiles, with binary point lists as base64.
package bundle

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pointcodec"
	"github.com/hyperjump/fusen/internal/storage"
)

const (
	// Format is the fixed format discriminator of a bundle.
	Format = "fusen-sidecar"
	// Version is the version written by Export.
	Version = 1
	// MinVersion is the oldest version Import accepts.
	MinVersion = 1
)

type inkJSON struct {
	ID              string  `json:"id"`
	PageIndex       *int    `json:"pageIndex,omitempty"`
	LayoutProfileID string  `json:"layoutProfileId,omitempty"`
	Color           uint32  `json:"color"`
	Thickness       float32 `json:"thickness"`
	CreatedAtMs     int64   `json:"createdAtEpochMs"`
	PointsB64       string  `json:"pointsB64,omitempty"`
}

type highlightJSON struct {
	ID                string   `json:"id"`
	PageIndex         *int     `json:"pageIndex,omitempty"`
	LayoutProfileID   string   `json:"layoutProfileId,omitempty"`
	Type              string   `json:"type"`
	Color             uint32   `json:"color"`
	Opacity           float32  `json:"opacity"`
	CreatedAtMs       int64    `json:"createdAtEpochMs"`
	QuadPointsB64     string   `json:"quadPointsB64,omitempty"`
	Quote             string   `json:"quote,omitempty"`
	QuotePrefix       string   `json:"quotePrefix,omitempty"`
	QuoteSuffix       string   `json:"quoteSuffix,omitempty"`
	DocProgress01     *float32 `json:"docProgress01,omitempty"`
	ReflowLocation    string   `json:"reflowLocation,omitempty"`
	AnchorStartWord   *int     `json:"anchorStartWord,omitempty"`
	AnchorEndWordExcl *int     `json:"anchorEndWordExclusive,omitempty"`
}

type rectJSON struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Right  float32 `json:"right"`
	Bottom float32 `json:"bottom"`
}

type noteJSON struct {
	ID              string    `json:"id"`
	PageIndex       *int      `json:"pageIndex,omitempty"`
	LayoutProfileID string    `json:"layoutProfileId,omitempty"`
	Bounds          *rectJSON `json:"bounds,omitempty"`
	Text            string    `json:"text,omitempty"`
	CreatedAtMs     int64     `json:"createdAtEpochMs"`
	Color           uint32    `json:"color"`
	FontSize        float32   `json:"fontSize"`
	BgColor         uint32    `json:"backgroundColor,omitempty"`
	BgOpacity       float32   `json:"backgroundOpacity,omitempty"`
}

type bundleJSON struct {
	Format           string          `json:"format"`
	Version          int             `json:"version"`
	DocID            string          `json:"docId"`
	CreatedAtEpochMs int64           `json:"createdAtEpochMs"`
	Ink              []inkJSON       `json:"ink"`
	Highlights       []highlightJSON `json:"highlights"`
	Notes            []noteJSON      `json:"notes"`
}

// Bundle is a parsed annotation bundle. Rows that failed row-level validation
// during decode are already dropped and tallied in Skipped.
type Bundle struct {
	DocID      string
	Version    int
	Ink        []*models.InkStroke
	Highlights []*models.Highlight
	Notes      []*models.Note
	Skipped    SkipStats
}

// SkipStats counts rows dropped during decode, per kind.
type SkipStats struct {
	Ink        int
	Highlights int
	Notes      int
}

// ImportStats summarizes one import.
type ImportStats struct {
	Ink        int
	Highlights int
	Notes      int
	Skipped    SkipStats
}

// Total returns the number of rows imported.
func (s *ImportStats) Total() int { return s.Ink + s.Highlights + s.Notes }

// Export serializes every annotation of docID, all kinds and layout profiles,
// into one JSON bundle.
func Export(ctx context.Context, store storage.Store, docID string) ([]byte, error) {
	root := bundleJSON{
		Format:           Format,
		Version:          Version,
		DocID:            docID,
		CreatedAtEpochMs: time.Now().UnixMilli(),
		Ink:              []inkJSON{},
		Highlights:       []highlightJSON{},
		Notes:            []noteJSON{},
	}

	ink, err := store.ListAllInk(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("export ink: %w", err)
	}
	for _, s := range ink {
		page := s.PageIndex
		root.Ink = append(root.Ink, inkJSON{
			ID:              s.ID,
			PageIndex:       &page,
			LayoutProfileID: s.LayoutProfileID,
			Color:           s.Color,
			Thickness:       s.Thickness,
			CreatedAtMs:     s.CreatedAtMs,
			PointsB64:       base64.StdEncoding.EncodeToString(pointcodec.Encode(s.Points)),
		})
	}

	highlights, err := store.ListAllHighlights(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("export highlights: %w", err)
	}
	for _, h := range highlights {
		page := h.PageIndex
		row := highlightJSON{
			ID:              h.ID,
			PageIndex:       &page,
			LayoutProfileID: h.LayoutProfileID,
			Type:            string(h.Type),
			Color:           h.Color,
			Opacity:         h.Opacity,
			CreatedAtMs:     h.CreatedAtMs,
			QuadPointsB64:   base64.StdEncoding.EncodeToString(pointcodec.Encode(h.QuadPoints)),
			Quote:           h.Quote,
			QuotePrefix:     h.QuotePrefix,
			QuoteSuffix:     h.QuoteSuffix,
			ReflowLocation:  h.ReflowLocation,
		}
		if h.DocProgress01 >= 0 {
			p := h.DocProgress01
			row.DocProgress01 = &p
		}
		if h.AnchorStartWord >= 0 {
			v := h.AnchorStartWord
			row.AnchorStartWord = &v
		}
		if h.AnchorEndWordExcl >= 0 {
			v := h.AnchorEndWordExcl
			row.AnchorEndWordExcl = &v
		}
		root.Highlights = append(root.Highlights, row)
	}

	notes, err := store.ListAllNotes(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("export notes: %w", err)
	}
	for _, n := range notes {
		page := n.PageIndex
		root.Notes = append(root.Notes, noteJSON{
			ID:              n.ID,
			PageIndex:       &page,
			LayoutProfileID: n.LayoutProfileID,
			Bounds: &rectJSON{
				Left: n.Bounds.Left, Top: n.Bounds.Top,
				Right: n.Bounds.Right, Bottom: n.Bounds.Bottom,
			},
			Text:        n.Text,
			CreatedAtMs: n.CreatedAtMs,
			Color:       n.Color,
			FontSize:    n.FontSize,
			BgColor:     n.BgColor,
			BgOpacity:   n.BgOpacity,
		})
	}

	return json.Marshal(root)
}

// Decode parses a bundle. An unrecognized format, a version below MinVersion
// or a missing docId is fatal; a row missing id, pageIndex or its point
// payload is dropped individually and tallied.
func Decode(data []byte) (*Bundle, error) {
	var root bundleJSON
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	if root.Format != Format {
		return nil, fmt.Errorf("unexpected bundle format %q", root.Format)
	}
	if root.Version < MinVersion {
		return nil, fmt.Errorf("unsupported bundle version %d", root.Version)
	}
	if strings.TrimSpace(root.DocID) == "" {
		return nil, fmt.Errorf("bundle has no docId")
	}

	b := &Bundle{DocID: root.DocID, Version: root.Version}

	for _, row := range root.Ink {
		stroke, ok := decodeInk(row)
		if !ok {
			b.Skipped.Ink++
			continue
		}
		b.Ink = append(b.Ink, stroke)
	}
	for _, row := range root.Highlights {
		h, ok := decodeHighlight(row)
		if !ok {
			b.Skipped.Highlights++
			continue
		}
		b.Highlights = append(b.Highlights, h)
	}
	for _, row := range root.Notes {
		n, ok := decodeNote(row)
		if !ok {
			b.Skipped.Notes++
			continue
		}
		b.Notes = append(b.Notes, n)
	}
	return b, nil
}

func decodeMeta(id string, pageIndex *int, layout string, createdAt int64) (models.Meta, bool) {
	if strings.TrimSpace(id) == "" || pageIndex == nil || *pageIndex < 0 {
		return models.Meta{}, false
	}
	return models.Meta{
		ID:              id,
		PageIndex:       *pageIndex,
		LayoutProfileID: layout,
		CreatedAtMs:     createdAt,
	}, true
}

func decodeInk(row inkJSON) (*models.InkStroke, bool) {
	meta, ok := decodeMeta(row.ID, row.PageIndex, row.LayoutProfileID, row.CreatedAtMs)
	if !ok || row.PointsB64 == "" {
		return nil, false
	}
	points, ok := decodePointsB64(row.PointsB64)
	if !ok || len(points) < 2 {
		return nil, false
	}
	return &models.InkStroke{
		Meta:      meta,
		Color:     row.Color,
		Thickness: row.Thickness,
		Points:    points,
	}, true
}

func decodeHighlight(row highlightJSON) (*models.Highlight, bool) {
	meta, ok := decodeMeta(row.ID, row.PageIndex, row.LayoutProfileID, row.CreatedAtMs)
	if !ok || row.QuadPointsB64 == "" {
		return nil, false
	}
	quads, ok := decodePointsB64(row.QuadPointsB64)
	if !ok || len(quads) < 4 {
		return nil, false
	}
	h := &models.Highlight{
		Meta:              meta,
		Type:              models.ParseHighlightType(row.Type),
		Color:             row.Color,
		Opacity:           row.Opacity,
		QuadPoints:        quads,
		Quote:             row.Quote,
		QuotePrefix:       row.QuotePrefix,
		QuoteSuffix:       row.QuoteSuffix,
		ReflowLocation:    row.ReflowLocation,
		DocProgress01:     -1,
		AnchorStartWord:   -1,
		AnchorEndWordExcl: -1,
	}
	if row.DocProgress01 != nil {
		h.DocProgress01 = *row.DocProgress01
	}
	if row.AnchorStartWord != nil {
		h.AnchorStartWord = *row.AnchorStartWord
	}
	if row.AnchorEndWordExcl != nil {
		h.AnchorEndWordExcl = *row.AnchorEndWordExcl
	}
	return h, true
}

func decodeNote(row noteJSON) (*models.Note, bool) {
	meta, ok := decodeMeta(row.ID, row.PageIndex, row.LayoutProfileID, row.CreatedAtMs)
	if !ok || row.Bounds == nil {
		return nil, false
	}
	n := &models.Note{
		Meta: meta,
		Bounds: models.Rect{
			Left: row.Bounds.Left, Top: row.Bounds.Top,
			Right: row.Bounds.Right, Bottom: row.Bounds.Bottom,
		},
		Text:      row.Text,
		Color:     row.Color,
		FontSize:  row.FontSize,
		BgColor:   row.BgColor,
		BgOpacity: row.BgOpacity,
	}
	if n.Color == 0 {
		n.Color = models.NoteDefaultColor
	}
	if n.FontSize <= 0 {
		n.FontSize = models.NoteDefaultFontSize
	}
	return n, true
}

func decodePointsB64(b64 string) ([]*models.Point, bool) {
	blob, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, false
	}
	points, err := pointcodec.Decode(blob)
	if err != nil {
		return nil, false
	}
	return points, true
}

// Import decodes data and upserts its rows into docID, which need not match
// the bundle's own docId. Returns per-kind insert and skip counts.
func Import(ctx context.Context, store storage.Store, docID string, data []byte) (*ImportStats, error) {
	b, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if len(b.Ink) > 0 {
		if err := store.InsertInk(ctx, docID, b.Ink); err != nil {
			return nil, fmt.Errorf("import ink: %w", err)
		}
	}
	if len(b.Highlights) > 0 {
		if err := store.InsertHighlights(ctx, docID, b.Highlights); err != nil {
			return nil, fmt.Errorf("import highlights: %w", err)
		}
	}
	if len(b.Notes) > 0 {
		if err := store.InsertNotes(ctx, docID, b.Notes); err != nil {
			return nil, fmt.Errorf("import notes: %w", err)
		}
	}
	return &ImportStats{
		Ink:        len(b.Ink),
		Highlights: len(b.Highlights),
		Notes:      len(b.Notes),
		Skipped:    b.Skipped,
	}, nil
}
