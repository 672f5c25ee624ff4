package reanchor

// CandidatePages lists page indexes to probe for a stale highlight, outward
// from center in increasing absolute distance: center, center-1, center+1, ...
// The walk stops at min(radius, pageCount-1) and skips indexes outside
// [0, pageCount-1].
func CandidatePages(center, pageCount, radius int) []int {
	if pageCount <= 0 {
		return nil
	}
	max := pageCount - 1
	center = clamp(center, 0, max)
	if radius > max {
		radius = max
	}
	out := []int{center}
	for d := 1; d <= radius; d++ {
		if left := center - d; left >= 0 {
			out = append(out, left)
		}
		if right := center + d; right <= max {
			out = append(out, right)
		}
	}
	return out
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
