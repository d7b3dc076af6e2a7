package takopi

import (
	"log/slog"
	"strings"
	"testing"
)

func TestScanLinesStripsNewlines(t *testing.T) {
	sc := scanLines(strings.NewReader("a\nb\nc\n"))
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected lines: %v", got)
	}
}

func TestScanLinesDropsTrailingPartialLine(t *testing.T) {
	sc := scanLines(strings.NewReader("a\nb"))
	var got []string
	for sc.Scan() {
		got = append(got, sc.Text())
	}
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("expected only the terminated line, got: %v", got)
	}
}

func TestDrainStderrNeverPanics(t *testing.T) {
	drainStderr(strings.NewReader("warn: disk low\nanother line\n"), "codex", slog.New(discardHandler{}))
}
