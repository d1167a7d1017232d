package traceid

import (
	"regexp"
	"testing"
)

var hexOnly = regexp.MustCompile(`^[0-9a-f]+$`)

func TestNewLengthAndAlphabet(t *testing.T) {
	id := New()
	if len(id) != 32 {
		t.Fatalf("len(New()) = %d, want 32", len(id))
	}
	if !hexOnly.MatchString(id) {
		t.Fatalf("New() = %q, want lowercase hex only", id)
	}
}

func TestNewIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := New()
		if seen[id] {
			t.Fatalf("New() produced duplicate id %q", id)
		}
		seen[id] = true
	}
}
