// Package models defines core data structures for sidecar annotations and geometry.
package models

import "fmt"

// Kind identifies one of the annotation tables. The set is closed: every
// store and bundle operation is parameterized over these three values.
type Kind string

const (
	KindInk       Kind = "ink"
	KindHighlight Kind = "highlight"
	KindNote      Kind = "note"
)

// Kinds lists all annotation kinds in a stable order.
func Kinds() []Kind { return []Kind{KindInk, KindHighlight, KindNote} }

// HighlightType distinguishes the text-markup styles.
type HighlightType string

const (
	HighlightTypeHighlight HighlightType = "highlight"
	HighlightTypeUnderline HighlightType = "underline"
	HighlightTypeStrikeout HighlightType = "strikeout"
)

// ParseHighlightType maps a stored type string to a HighlightType,
// defaulting to plain highlight for unknown values.
func ParseHighlightType(s string) HighlightType {
	switch HighlightType(s) {
	case HighlightTypeUnderline:
		return HighlightTypeUnderline
	case HighlightTypeStrikeout:
		return HighlightTypeStrikeout
	default:
		return HighlightTypeHighlight
	}
}

// Meta holds the fields shared by every annotation kind.
// LayoutProfileID is empty for layout-independent (fixed-layout) annotations.
type Meta struct {
	ID              string `json:"id"`
	PageIndex       int    `json:"pageIndex"`
	LayoutProfileID string `json:"layoutProfileId,omitempty"`
	CreatedAtMs     int64  `json:"createdAtEpochMs"`
}

// InkStroke is one committed pen stroke. Points may contain nil entries when
// decoded from legacy malformed payloads; painters skip them.
type InkStroke struct {
	Meta
	Color     uint32   `json:"color"`
	Thickness float32  `json:"thickness"`
	Points    []*Point `json:"-"`
}

// Highlight is a text markup annotation with its text-quote anchor.
//
// DocProgress01 < 0, ReflowLocation == "" and AnchorStartWord < 0 mean unset.
type Highlight struct {
	Meta
	Type              HighlightType `json:"type"`
	Color             uint32        `json:"color"`
	Opacity           float32       `json:"opacity"`
	QuadPoints        []*Point      `json:"-"`
	Quote             string        `json:"quote,omitempty"`
	QuotePrefix       string        `json:"quotePrefix,omitempty"`
	QuoteSuffix       string        `json:"quoteSuffix,omitempty"`
	DocProgress01     float32       `json:"docProgress01,omitempty"`
	ReflowLocation    string        `json:"reflowLocation,omitempty"`
	AnchorStartWord   int           `json:"anchorStartWord,omitempty"`
	AnchorEndWordExcl int           `json:"anchorEndWordExclusive,omitempty"`
}

// Anchored reports whether the highlight carries any surrounding context.
func (h *Highlight) Anchored() bool {
	return h.QuotePrefix != "" || h.QuoteSuffix != ""
}

// Note is a free-positioned sticky note. Style fields are opaque to the
// anchoring machinery and travel through store and bundle unchanged.
type Note struct {
	Meta
	Bounds    Rect    `json:"bounds"`
	Text      string  `json:"text,omitempty"`
	Color     uint32  `json:"color"`
	FontSize  float32 `json:"fontSize"`
	BgColor   uint32  `json:"backgroundColor,omitempty"`
	BgOpacity float32 `json:"backgroundOpacity,omitempty"`
}

// Note style defaults, applied when bundle rows omit the fields.
const (
	NoteDefaultColor     uint32  = 0xFF111111
	NoteDefaultFontSize  float32 = 12.0
	NoteDefaultBgColor   uint32  = 0x00000000
	NoteDefaultBgOpacity float32 = 0.0
)

// Validate checks the conditions that must hold before a highlight is stored.
func (h *Highlight) Validate() error {
	if h.ID == "" {
		return fmt.Errorf("highlight missing id")
	}
	if len(h.QuadPoints)%4 != 0 {
		return fmt.Errorf("highlight %s: quad points length %d not a multiple of 4", h.ID, len(h.QuadPoints))
	}
	if h.DocProgress01 > 1 {
		return fmt.Errorf("highlight %s: doc progress %f out of range", h.ID, h.DocProgress01)
	}
	return nil
}
