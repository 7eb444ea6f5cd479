package utils

import "testing"

func TestTruncate(t *testing.T) {
	cases := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"flood sweeps valley", 50, "flood sweeps valley"},
		{"flood sweeps valley", 5, "flood..."},
		{"x", 0, "x"},
		{"", 10, ""},
	}
	for _, c := range cases {
		if got := Truncate(c.in, c.maxLen); got != c.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", c.in, c.maxLen, got, c.want)
		}
	}
}
