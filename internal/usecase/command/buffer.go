package command

import (
	"bytes"
	"strings"
	"sync"
)

// Default capture limits. DefaultMaxOutputLines bounds both the head and
// tail windows of a command's output; DefaultMaxBufferLines bounds the
// scrollback kept for windowed reads.
const (
	DefaultMaxOutputLines = 200
	DefaultMaxBufferLines = 100_000
	maxErrorLines         = 50
	maxLineBytes          = 1024 * 1024
)

// errorPatterns are matched as case-sensitive substrings against every
// captured line. "fail" also catches "failed" and "failure".
var errorPatterns = []string{
	"error", "Error", "ERROR",
	"fatal", "Fatal", "FATAL",
	"panic",
	"fail", "Fail", "FAIL",
}

func matchesErrorPattern(line string) bool {
	for _, p := range errorPatterns {
		if strings.Contains(line, p) {
			return true
		}
	}
	return false
}

// Buffer captures command output line by line as it is produced. The
// first headLimit lines are kept verbatim; later lines go into a fixed
// ring so only the most recent tailLimit survive. Memory stays bounded
// no matter how much the command prints. Lines matching errorPatterns
// are collected separately, and a raw scrollback (capped at rawLimit)
// serves windowed reads.
type Buffer struct {
	mu sync.Mutex

	headLimit int
	tailLimit int
	rawLimit  int

	head      []string
	tail      []string // ring storage, oldest at tailStart once full
	tailStart int
	raw       []string
	total     int
	truncated bool
	errLines  []string
}

func newBuffer(maxOutputLines, maxBufferLines int) *Buffer {
	if maxOutputLines <= 0 {
		maxOutputLines = DefaultMaxOutputLines
	}
	if maxBufferLines <= 0 {
		maxBufferLines = DefaultMaxBufferLines
	}
	// The per-command window must never retain more than the scrollback
	// itself would.
	if maxOutputLines > maxBufferLines {
		maxOutputLines = maxBufferLines
	}
	return &Buffer{
		headLimit: maxOutputLines,
		tailLimit: maxOutputLines,
		rawLimit:  maxBufferLines,
	}
}

// AddLine records one output line. Thread-safe.
func (b *Buffer) AddLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	switch {
	case len(b.head) < b.headLimit:
		b.head = append(b.head, line)
	case len(b.tail) < b.tailLimit:
		b.tail = append(b.tail, line)
	default:
		// Overwriting the ring drops the oldest retained line.
		b.tail[b.tailStart] = line
		b.tailStart = (b.tailStart + 1) % b.tailLimit
		b.truncated = true
	}

	if len(b.raw) < b.rawLimit {
		b.raw = append(b.raw, line)
	}

	if len(b.errLines) < maxErrorLines && matchesErrorPattern(line) {
		b.errLines = append(b.errLines, line)
	}
}

// Snapshot returns copies of the head window, the tail window in arrival
// order, the collected error lines, the total line count and whether any
// line was dropped from both windows.
func (b *Buffer) Snapshot() (head, tail, errLines []string, total int, truncated bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	head = append([]string(nil), b.head...)
	tail = b.tailLocked()
	errLines = append([]string(nil), b.errLines...)
	return head, tail, errLines, b.total, b.truncated
}

// TotalLines returns the number of lines captured so far, including
// lines no longer retained in any window.
func (b *Buffer) TotalLines() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// LastLines returns up to n of the most recently captured lines.
func (b *Buffer) LastLines(n int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return nil
	}
	tail := b.tailLocked()
	if len(tail) >= n {
		return tail[len(tail)-n:]
	}
	// The tail ring holds fewer than n lines; borrow the rest from the
	// end of the head window.
	need := n - len(tail)
	if need > len(b.head) {
		need = len(b.head)
	}
	out := append([]string(nil), b.head[len(b.head)-need:]...)
	return append(out, tail...)
}

// Window returns the scrollback lines in [start, end). Indices are
// clamped to the retained range; lines past the scrollback cap are not
// available even though they are counted in total.
func (b *Buffer) Window(start, end int) (lines []string, actualStart, actualEnd, total int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if start < 0 {
		start = 0
	}
	if end > len(b.raw) || end < 0 {
		end = len(b.raw)
	}
	if start > end {
		start = end
	}
	return append([]string(nil), b.raw[start:end]...), start, end, b.total
}

func (b *Buffer) tailLocked() []string {
	out := make([]string, 0, len(b.tail))
	out = append(out, b.tail[b.tailStart:]...)
	return append(out, b.tail[:b.tailStart]...)
}

// lineSplitter is an io.Writer that splits a byte stream into lines and
// forwards them to a Buffer. Stdout and stderr each get their own
// splitter so a partial line on one stream never bleeds into the other.
type lineSplitter struct {
	buf     *Buffer
	mu      sync.Mutex
	partial []byte
}

func newLineSplitter(buf *Buffer) *lineSplitter {
	return &lineSplitter{buf: buf}
}

// Write implements io.Writer. Never returns an error.
func (w *lineSplitter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n := len(p)
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			// A stream with no newlines must not grow the partial without
			// bound; absorb what fits and emit full chunks as lines.
			room := maxLineBytes - len(w.partial)
			if room > len(p) {
				room = len(p)
			}
			w.partial = append(w.partial, p[:room]...)
			p = p[room:]
			if len(w.partial) >= maxLineBytes {
				w.emit()
			}
			continue
		}
		w.partial = append(w.partial, p[:i]...)
		w.emit()
		p = p[i+1:]
	}
	return n, nil
}

// Flush records any trailing output that did not end in a newline.
func (w *lineSplitter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit()
	}
}

func (w *lineSplitter) emit() {
	line := strings.TrimSuffix(string(w.partial), "\r")
	w.partial = w.partial[:0]
	// Binary garbage on the stream becomes a replacement rune instead of
	// poisoning the captured text.
	w.buf.AddLine(strings.ToValidUTF8(line, "�"))
}
