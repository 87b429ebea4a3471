package supervisor

import "sync"

// DefaultLogBufferCapacity is the default number of log lines retained
// per daemon.
const DefaultLogBufferCapacity = 1000

// LogBuffer is a thread-safe fixed-capacity ring of captured output lines.
// It bounds memory usage by discarding the oldest line when full.
type LogBuffer struct {
	mu    sync.Mutex
	lines []LogLine
	start int
	count int
}

// NewLogBuffer creates a log buffer holding at most capacity lines.
// If capacity <= 0, DefaultLogBufferCapacity is used.
func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultLogBufferCapacity
	}
	return &LogBuffer{
		lines: make([]LogLine, capacity),
	}
}

// Append inserts a line, evicting the oldest entry once capacity is
// exceeded. O(1).
func (b *LogBuffer) Append(line LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.lines) {
		b.lines[(b.start+b.count)%len(b.lines)] = line
		b.count++
		return
	}

	// Full: overwrite the oldest slot and advance the window.
	b.lines[b.start] = line
	b.start = (b.start + 1) % len(b.lines)
}

// Tail returns at most limit of the most recent lines in chronological
// (oldest-first) order. A limit <= 0 returns everything buffered.
func (b *LogBuffer) Tail(limit int) []LogLine {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]LogLine, n)
	// Skip the oldest (count-n) entries so the result ends at the newest.
	first := b.start + (b.count - n)
	for i := 0; i < n; i++ {
		out[i] = b.lines[(first+i)%len(b.lines)]
	}
	return out
}

// Clear discards all buffered lines.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = 0
	b.count = 0
}

// Len returns the current number of buffered lines.
func (b *LogBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *LogBuffer) Cap() int {
	return len(b.lines)
}
