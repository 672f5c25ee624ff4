package anchor

import "strings"

// ContextScorer rates how well the text around a quote occurrence matches the
// stored prefix/suffix context. Higher is better. The exact weighting is a
// tunable policy, so callers may swap in their own implementation.
type ContextScorer interface {
	Score(text string, start, end int, prefix, suffix string) int
}

// AffixScorer is the default ContextScorer: characters of the prefix matching
// immediately before the occurrence plus characters of the suffix matching
// after it, each taking the better of the raw and whitespace-trimmed
// comparison.
type AffixScorer struct{}

func (AffixScorer) Score(text string, start, end int, prefix, suffix string) int {
	score := 0
	if prefix != "" {
		from := start - len(prefix)
		if from < 0 {
			from = 0
		}
		before := text[from:start]
		score += maxInt(
			commonSuffixLen(prefix, before),
			commonSuffixLen(strings.TrimSpace(prefix), strings.TrimSpace(before)),
		)
	}
	if suffix != "" {
		to := end + len(suffix)
		if to > len(text) {
			to = len(text)
		}
		after := text[end:to]
		score += maxInt(
			commonPrefixLen(suffix, after),
			commonPrefixLen(strings.TrimSpace(suffix), strings.TrimSpace(after)),
		)
	}
	return score
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func commonSuffixLen(a, b string) int {
	i, j, count := len(a)-1, len(b)-1, 0
	for i >= 0 && j >= 0 && a[i] == b[j] {
		count++
		i--
		j--
	}
	return count
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
