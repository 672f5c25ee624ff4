// Package pagetext builds searchable text indexes from a page's word geometry.
//
// The index is a whitespace-normalized copy of the page text plus a reverse
// character-to-word map, so a substring hit can be walked back to the source
// word rectangles.
package pagetext

import (
	"strings"
	"unicode"

	"github.com/hyperjump/fusen/internal/models"
)

// Word is one positioned word on a page.
type Word struct {
	Bounds models.Rect
	Text   string
}

// Line is one ordered row of words.
type Line struct {
	Words []Word
}

// WordRef is a word as recorded in an Index, with its source line.
type WordRef struct {
	LineIndex int
	Bounds    models.Rect
	Text      string
}

// Index is the searchable form of a page's text. Text contains no doubled,
// leading, or trailing spaces. CharToWord has the same length as Text and maps
// each character back to its word index, -1 for the collapsed spaces between
// words.
type Index struct {
	Text       string
	CharToWord []int
	Words      []WordRef
}

// NormalizeWhitespace collapses runs of whitespace to single spaces and trims.
// Returns "" for all-whitespace input.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Build scans lines and words in order, copying non-whitespace characters and
// collapsing every whitespace run (intra-word, inter-word, end-of-line) to a
// single space.
func Build(lines []Line) *Index {
	var (
		sb           strings.Builder
		charToWord   []int
		words        []WordRef
		lastWasSpace = true
	)

	appendSpace := func() {
		if lastWasSpace {
			return
		}
		sb.WriteByte(' ')
		charToWord = append(charToWord, -1)
		lastWasSpace = true
	}

	for li, line := range lines {
		for _, w := range line.Words {
			wordIndex := len(words)
			words = append(words, WordRef{LineIndex: li, Bounds: w.Bounds, Text: w.Text})
			for _, r := range w.Text {
				if unicode.IsSpace(r) {
					appendSpace()
					continue
				}
				n, _ := sb.WriteRune(r)
				for i := 0; i < n; i++ {
					charToWord = append(charToWord, wordIndex)
				}
				lastWasSpace = false
			}
			// A word boundary, like a line break, is a whitespace run and
			// collapses to one space.
			appendSpace()
		}
	}

	text := sb.String()
	for len(text) > 0 && text[len(text)-1] == ' ' {
		text = text[:len(text)-1]
		charToWord = charToWord[:len(charToWord)-1]
	}

	return &Index{Text: text, CharToWord: charToWord, Words: words}
}
