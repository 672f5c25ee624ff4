package pagetext

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/fusen/internal/models"
)

// PDFProvider extracts positioned words from a fixed-layout PDF so highlights
// can be anchored or re-anchored without the rendering engine attached.
type PDFProvider struct {
	reader *pdf.Reader
}

// NewPDFProvider opens a PDF held in memory.
func NewPDFProvider(content []byte) (*PDFProvider, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	return &PDFProvider{reader: r}, nil
}

// PageCount returns the number of pages in the document.
func (p *PDFProvider) PageCount() int { return p.reader.NumPage() }

// Lines extracts the page's text runs and groups them into lines and words.
// Runs sharing a baseline (within half the font size) belong to one line; a
// horizontal gap wider than a third of the font size starts a new word.
func (p *PDFProvider) Lines(ctx context.Context, pageIndex int) ([]Line, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageIndex < 0 || pageIndex >= p.reader.NumPage() {
		return nil, nil
	}
	page := p.reader.Page(pageIndex + 1)
	if page.V.IsNull() {
		return nil, nil
	}
	pageH := mediaBoxHeight(page)

	texts := make([]pdf.Text, len(page.Content().Text))
	copy(texts, page.Content().Text)
	sort.SliceStable(texts, func(i, j int) bool {
		if texts[i].Y != texts[j].Y {
			return texts[i].Y > texts[j].Y // PDF Y grows upward, top of page first
		}
		return texts[i].X < texts[j].X
	})

	var (
		lines    []Line
		words    []Word
		current  Word
		haveWord bool
		lastY    = math.Inf(1)
		lastEnd  float64
	)

	flushWord := func() {
		if haveWord && current.Text != "" {
			words = append(words, current)
		}
		haveWord = false
	}
	flushLine := func() {
		flushWord()
		if len(words) > 0 {
			lines = append(lines, Line{Words: words})
			words = nil
		}
	}

	for _, t := range texts {
		if t.S == "" {
			continue
		}
		size := t.FontSize
		if size <= 0 {
			size = 10
		}
		if math.Abs(t.Y-lastY) > size/2 {
			flushLine()
		} else if t.X-lastEnd > size/3 {
			flushWord()
		}
		lastY = t.Y
		lastEnd = t.X + t.W

		if t.S == " " {
			flushWord()
			continue
		}
		bounds := models.Rect{
			Left:   float32(t.X),
			Top:    float32(pageH - t.Y - size),
			Right:  float32(t.X + t.W),
			Bottom: float32(pageH - t.Y),
		}
		if !haveWord {
			current = Word{Bounds: bounds, Text: t.S}
			haveWord = true
		} else {
			current.Text += t.S
			current.Bounds = current.Bounds.Union(bounds)
		}
	}
	flushLine()
	return lines, nil
}

// mediaBoxHeight returns the page height for flipping PDF coordinates into
// the top-left-origin space the rest of the engine uses. Falls back to US
// Letter when the media box is absent.
func mediaBoxHeight(page pdf.Page) float64 {
	box := page.V.Key("MediaBox")
	if box.Kind() == pdf.Array && box.Len() == 4 {
		y0 := box.Index(1).Float64()
		y1 := box.Index(3).Float64()
		if y1 > y0 {
			return y1 - y0
		}
	}
	return 792
}
