package id

import (
	"strings"
	"testing"
)

func TestSessionIDPrefix(t *testing.T) {
	sid := NewSessionID()
	if !strings.HasPrefix(string(sid), "term_") {
		t.Errorf("expected term_ prefix, got %s", sid)
	}
}

func TestSourceIDPrefix(t *testing.T) {
	src := NewSourceID()
	if !strings.HasPrefix(string(src), "src_") {
		t.Errorf("expected src_ prefix, got %s", src)
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[SessionID]bool)
	for i := 0; i < 1000; i++ {
		sid := NewSessionID()
		if seen[sid] {
			t.Fatalf("duplicate ID generated: %s", sid)
		}
		seen[sid] = true
	}
}

func TestRequestIDNonEmpty(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == "" || a == b {
		t.Errorf("request IDs should be unique and non-empty: %q %q", a, b)
	}
}
