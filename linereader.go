package takopi

import (
	"bufio"
	"bytes"
	"io"
	"log/slog"
)

// maxLineBytes bounds a single JSONL line; grown generously since an
// agent_message item can carry a long transcript chunk. Grounded on
// wingedpig-trellis/internal/claude/manager.go's readLoop, which grows its
// scanner buffer to 1MB for the same reason.
const maxLineBytes = 1 << 20 // 1MB

// scanLines returns a bufio.Scanner over r configured to yield one
// newline-stripped record per Scan() call, tolerating lines up to
// maxLineBytes.
func scanLines(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(splitCompleteLines)
	return sc
}

// splitCompleteLines is bufio.ScanLines with the partial-final-line case
// removed: when the child's stream ends mid-line, the incomplete tail is
// dropped instead of being emitted as a token, per
// original_source's iter_bytes_lines.
func splitCompleteLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[:i]), nil
	}
	if atEOF {
		return 0, nil, bufio.ErrFinalToken
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

// drainStderr reads stderr line by line and logs each line at debug level
// with the given tag prefix. It never returns an error to the caller — a
// stderr read failure (e.g. pipe closed on process exit) is swallowed,
// matching spec's "must not propagate read errors" for the stderr sibling.
func drainStderr(r io.Reader, tag string, logger *slog.Logger) {
	sc := scanLines(r)
	for sc.Scan() {
		logger.Debug("child stderr", "tag", tag, "line", sc.Text())
	}
	// Scan errors (including bufio.ErrTooLong) are intentionally discarded.
}
