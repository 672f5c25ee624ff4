// Package anchor locates a quoted text span inside a page text index and
// derives highlight geometry from the match.
//
// At creation time the selection's own bounds pick among duplicate
// occurrences (BestMatchByBounds). After a relayout the bounds are stale and
// the stored prefix/suffix context picks instead (BestMatchByContext).
package anchor

import (
	"math"
	"strings"

	"github.com/hyperjump/fusen/internal/models"
	"github.com/hyperjump/fusen/internal/pagetext"
)

// DefaultContextChars bounds the stored prefix and suffix context length.
const DefaultContextChars = 64

// Match is one scored occurrence of a quote in a page index.
type Match struct {
	Start      int
	End        int
	Score      int
	QuadPoints []*models.Point
	Bounds     models.Rect
}

// WordRange is a half-open range of word indexes covered by a match.
type WordRange struct {
	StartWord   int
	EndWordExcl int
}

// BestMatchByBounds enumerates every occurrence of quote in the index and
// returns the one geometrically closest to selectionBounds: overlap area when
// they intersect, negative squared center distance otherwise. Returns nil when
// the quote does not occur.
func BestMatchByBounds(index *pagetext.Index, quote string, selectionBounds models.Rect) *Match {
	var best *Match
	bestScore := math.MinInt
	forEachOccurrence(index, quote, func(start, end int) {
		quads := QuadPointsForRange(index, start, end)
		bounds, ok := models.BoundsFromQuads(quads)
		if !ok || bounds.IsEmpty() {
			return
		}
		score := overlapScore(selectionBounds, bounds)
		if score > bestScore {
			bestScore = score
			best = &Match{Start: start, End: end, Score: score, QuadPoints: quads, Bounds: bounds}
		}
	})
	return best
}

// BestMatchByContext enumerates every occurrence of quote and returns the one
// whose surroundings best match the stored prefix/suffix under scorer. A nil
// scorer uses AffixScorer. Returns nil when the quote does not occur.
func BestMatchByContext(index *pagetext.Index, quote, prefix, suffix string, scorer ContextScorer) *Match {
	return bestByContext(index, quote, prefix, suffix, scorer, -1)
}

// BestMatchByContextAndWordAnchor is BestMatchByContext with a recorded
// word-index hint as tie-break: among equally scored occurrences, the one
// starting nearest the hint wins.
func BestMatchByContextAndWordAnchor(index *pagetext.Index, quote, prefix, suffix string, scorer ContextScorer, anchorStartWord int) *Match {
	return bestByContext(index, quote, prefix, suffix, scorer, anchorStartWord)
}

func bestByContext(index *pagetext.Index, quote, prefix, suffix string, scorer ContextScorer, anchorStartWord int) *Match {
	if scorer == nil {
		scorer = AffixScorer{}
	}
	var best *Match
	bestScore := math.MinInt
	bestHintDist := math.MaxInt
	forEachOccurrence(index, quote, func(start, end int) {
		quads := QuadPointsForRange(index, start, end)
		bounds, ok := models.BoundsFromQuads(quads)
		if !ok || bounds.IsEmpty() {
			return
		}
		score := scorer.Score(index.Text, start, end, prefix, suffix)
		hintDist := math.MaxInt
		if anchorStartWord >= 0 {
			if wr, ok := WordRangeForCharRange(index, start, end); ok {
				hintDist = absInt(wr.StartWord - anchorStartWord)
			}
		}
		if score > bestScore || (score == bestScore && hintDist < bestHintDist) {
			bestScore = score
			bestHintDist = hintDist
			best = &Match{Start: start, End: end, Score: score, QuadPoints: quads, Bounds: bounds}
		}
	})
	return best
}

// forEachOccurrence visits every substring occurrence of quote in the index,
// including overlapping ones. Duplicates are expected; callers score them all.
func forEachOccurrence(index *pagetext.Index, quote string, visit func(start, end int)) {
	if quote == "" || index == nil || index.Text == "" {
		return
	}
	from := 0
	for {
		pos := strings.Index(index.Text[from:], quote)
		if pos < 0 {
			return
		}
		start := from + pos
		visit(start, start+len(quote))
		from = start + 1
	}
}

// QuadPointsForRange maps a character range back to word rectangles and emits
// one quad per covered line: bottom-left, bottom-right, top-right, top-left.
func QuadPointsForRange(index *pagetext.Index, start, end int) []*models.Point {
	if start < 0 || end <= start || start >= len(index.Text) {
		return nil
	}
	if end > len(index.Text) {
		end = len(index.Text)
	}

	minWord, maxWord := math.MaxInt, -1
	for i := start; i < end && i < len(index.CharToWord); i++ {
		wi := index.CharToWord[i]
		if wi < 0 {
			continue
		}
		if wi < minWord {
			minWord = wi
		}
		if wi > maxWord {
			maxWord = wi
		}
	}
	if maxWord < 0 {
		return nil
	}

	lineRects := make(map[int]models.Rect)
	lineOrder := []int{}
	for wi := minWord; wi <= maxWord && wi < len(index.Words); wi++ {
		w := index.Words[wi]
		if r, ok := lineRects[w.LineIndex]; ok {
			lineRects[w.LineIndex] = r.Union(w.Bounds)
		} else {
			lineRects[w.LineIndex] = w.Bounds
			lineOrder = append(lineOrder, w.LineIndex)
		}
	}

	out := make([]*models.Point, 0, len(lineOrder)*4)
	for _, li := range lineOrder {
		r := lineRects[li]
		if r.IsEmpty() {
			continue
		}
		out = append(out,
			&models.Point{X: r.Left, Y: r.Bottom},
			&models.Point{X: r.Right, Y: r.Bottom},
			&models.Point{X: r.Right, Y: r.Top},
			&models.Point{X: r.Left, Y: r.Top},
		)
	}
	return out
}

// WordRangeForCharRange returns the half-open word range covered by a
// character range, or false when the range covers no word characters.
func WordRangeForCharRange(index *pagetext.Index, start, end int) (WordRange, bool) {
	if start < 0 || end <= start {
		return WordRange{}, false
	}
	if end > len(index.CharToWord) {
		end = len(index.CharToWord)
	}
	minWord, maxWord := math.MaxInt, -1
	for i := start; i < end; i++ {
		wi := index.CharToWord[i]
		if wi < 0 {
			continue
		}
		if wi < minWord {
			minWord = wi
		}
		if wi > maxWord {
			maxWord = wi
		}
	}
	if maxWord < 0 {
		return WordRange{}, false
	}
	return WordRange{StartWord: minWord, EndWordExcl: maxWord + 1}, true
}

// PrefixContext returns up to maxChars of index text before start, or "".
func PrefixContext(index *pagetext.Index, start, maxChars int) string {
	if maxChars <= 0 || start <= 0 {
		return ""
	}
	s := start - maxChars
	if s < 0 {
		s = 0
	}
	return index.Text[s:start]
}

// SuffixContext returns up to maxChars of index text after end, or "".
func SuffixContext(index *pagetext.Index, end, maxChars int) string {
	if maxChars <= 0 || end >= len(index.Text) {
		return ""
	}
	e := end + maxChars
	if e > len(index.Text) {
		e = len(index.Text)
	}
	return index.Text[end:e]
}

// overlapScore ranks candidate geometry against the live selection: overlap
// area when the rectangles intersect, otherwise negative squared distance
// between centers so non-overlapping candidates still order, worst last.
func overlapScore(a, b models.Rect) int {
	inter, ok := a.Intersect(b)
	if !ok {
		dx := float64(a.CenterX() - b.CenterX())
		dy := float64(a.CenterY() - b.CenterY())
		dist2 := dx*dx + dy*dy
		if dist2 > 1_000_000 {
			dist2 = 1_000_000
		}
		return -int(dist2)
	}
	return int(inter.Width() * inter.Height())
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
