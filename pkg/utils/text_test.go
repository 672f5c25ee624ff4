package utils

import "testing"

func TestTruncate(t *testing.T) {
	cases := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello world", 5, "hello..."},
		{"x", 0, "x"},
		{"", 4, ""},
		// The cut lands before the two-byte ï rather than inside it.
		{"naïve", 3, "na..."},
		{"naïve", 4, "naï..."},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.maxLen); got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.maxLen, got, c.want)
		}
	}
}
