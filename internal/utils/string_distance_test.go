package utils

import "testing"

func TestComputeDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"T-parser", "T-parsre", 2},
		{"T-Parser", "t-parser", 0},
	}
	for _, tt := range tests {
		if got := ComputeDistance(tt.a, tt.b); got != tt.want {
			t.Errorf("ComputeDistance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestClosestID(t *testing.T) {
	candidates := []string{"T-build-parser", "T-design-grammar", "T-write-docs"}
	if got := ClosestID("T-build-parsre", candidates, 3); got != "T-build-parser" {
		t.Errorf("ClosestID = %q", got)
	}
	if got := ClosestID("T-unrelated-thing", candidates, 3); got != "" {
		t.Errorf("ClosestID beyond threshold = %q, want empty", got)
	}
}
