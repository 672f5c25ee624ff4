package reanchor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestCandidatePages(t *testing.T) {
	tests := []struct {
		name      string
		center    int
		pageCount int
		radius    int
		want      []int
	}{
		{"middle", 5, 11, 2, []int{5, 4, 6, 3, 7}},
		{"at start", 0, 5, 2, []int{0, 1, 2}},
		{"at end", 4, 5, 2, []int{4, 3, 2}},
		{"radius larger than doc", 1, 3, 48, []int{1, 0, 2}},
		{"single page", 0, 1, 48, []int{0}},
		{"center out of range clamps", 99, 4, 1, []int{3, 2}},
		{"negative center clamps", -3, 4, 1, []int{0, 1}},
		{"empty doc", 0, 0, 5, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CandidatePages(tt.center, tt.pageCount, tt.radius)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCandidatePages_IncreasingDistance(t *testing.T) {
	center := 10
	pages := CandidatePages(center, 30, 8)
	lastDist := -1
	for _, p := range pages {
		d := p - center
		if d < 0 {
			d = -d
		}
		if d < lastDist {
			t.Fatalf("page %d at distance %d after distance %d", p, d, lastDist)
		}
		lastDist = d
	}
}
