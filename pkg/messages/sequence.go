package messages

import "sync/atomic"

// Sequence is a process-wide monotonically increasing counter for
// non-partial messages. One instance is shared by all concurrent runs;
// the atomic increment guarantees no two final messages share an index.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a sequence starting at zero; the first Next
// returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next index. Safe for concurrent use.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}

// Current returns the last index handed out.
func (s *Sequence) Current() int64 {
	return s.n.Load()
}

// Reset rewinds the counter to zero. Test isolation only; never called
// during normal operation.
func (s *Sequence) Reset() {
	s.n.Store(0)
}
