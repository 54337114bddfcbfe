package player

import (
	"github.com/robertklofgren/andmon/transport"
)

// FrameSlot holds at most one chunk awaiting decode. A newer chunk always
// replaces an older one, so the decoder only ever sees the most recent
// data. It is owned by the session loop and is not safe for concurrent use.
type FrameSlot struct {
	chunk   transport.Chunk
	full    bool
	dropped uint64
}

// Put stores c, discarding any chunk already held. It reports whether a
// chunk was discarded.
func (s *FrameSlot) Put(c transport.Chunk) (replaced bool) {
	replaced = s.full
	if replaced {
		s.dropped++
	}
	s.chunk = c
	s.full = true
	return replaced
}

func (s *FrameSlot) Peek() (transport.Chunk, bool) {
	return s.chunk, s.full
}

func (s *FrameSlot) Clear() {
	s.chunk = transport.Chunk{}
	s.full = false
}

// Dropped counts chunks overwritten before they were consumed.
func (s *FrameSlot) Dropped() uint64 {
	return s.dropped
}
