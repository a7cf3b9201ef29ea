package output

import (
	"bytes"
	"testing"
)

func TestLogFiltersByVerbosity(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, 1)

	log.Print(0, "always")
	log.Print(1, "verbose %d", 1)
	log.Print(2, "dropped")

	want := "always\nverbose 1\n"
	if got := buf.String(); got != want {
		t.Errorf("log output = %q, want %q", got, want)
	}
}

func TestDiscard(t *testing.T) {
	// Must not panic; output goes nowhere.
	Discard().Print(0, "dropped")
}

func TestNilLog(t *testing.T) {
	var log *Log
	log.Print(0, "dropped")
}
