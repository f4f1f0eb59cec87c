package gateway

import "sync"

type replayEntry struct {
	Seq  int64
	Data []byte // pre-built envelope JSON
}

// ReplayBuffer keeps the most recent envelopes in a ring so a reconnecting
// client can catch up on the cycles it missed. Safe for concurrent use.
type ReplayBuffer struct {
	mu   sync.RWMutex
	buf  []replayEntry
	pos  int // next write position
	full bool
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 64
	}
	return &ReplayBuffer{buf: make([]replayEntry, capacity)}
}

// Push appends an envelope, overwriting the oldest when full. The buffer
// keeps its own copy of data.
func (rb *ReplayBuffer) Push(seq int64, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)

	rb.mu.Lock()
	rb.buf[rb.pos] = replayEntry{Seq: seq, Data: cp}
	rb.pos = (rb.pos + 1) % len(rb.buf)
	if rb.pos == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

// Since returns envelopes with seq > after, oldest first.
func (rb *ReplayBuffer) Since(after int64) [][]byte {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out [][]byte
	n := rb.len()
	for i := 0; i < n; i++ {
		e := rb.buf[rb.index(i)]
		if e.Seq > after {
			out = append(out, e.Data)
		}
	}
	return out
}

// Len returns the number of entries currently in the buffer.
func (rb *ReplayBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.len()
}

func (rb *ReplayBuffer) len() int {
	if rb.full {
		return len(rb.buf)
	}
	return rb.pos
}

// index converts a logical index (0 = oldest) to a physical buffer index.
func (rb *ReplayBuffer) index(logical int) int {
	if rb.full {
		return (rb.pos + logical) % len(rb.buf)
	}
	return logical
}
