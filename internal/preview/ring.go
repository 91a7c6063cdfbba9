package preview

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// logRing is a capped line buffer. Oldest lines fall off once the cap is
// reached so a long-running dev server cannot grow memory without bound.
type logRing struct {
	mu    sync.Mutex
	lines []string
	start int
	count int
}

func newLogRing(capacity int) *logRing {
	if capacity < 1 {
		capacity = 1
	}
	return &logRing{lines: make([]string, capacity)}
}

func (r *logRing) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.start + r.count) % len(r.lines)
	r.lines[idx] = line
	if r.count < len(r.lines) {
		r.count++
	} else {
		r.start = (r.start + 1) % len(r.lines)
	}
}

// Tail returns up to n of the most recent lines, oldest first.
func (r *logRing) Tail(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.count || n < 0 {
		n = r.count
	}
	out := make([]string, 0, n)
	for i := r.count - n; i < r.count; i++ {
		out = append(out, r.lines[(r.start+i)%len(r.lines)])
	}
	return out
}

func (r *logRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// TailString joins the most recent lines for embedding in an error message.
func (r *logRing) TailString(n int) string {
	return strings.Join(r.Tail(n), "\n")
}

// capture splits a process stream into lines and appends each to the ring.
// Runs until the stream closes.
func (r *logRing) capture(stream io.Reader, done func()) {
	defer done()
	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.Append(scanner.Text())
	}
}
