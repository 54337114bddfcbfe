package player

import (
	"sync"
	"sync/atomic"

	"github.com/robertklofgren/andmon/bitstream"
	"github.com/robertklofgren/andmon/codec"
)

// Stats is written by the session loop and read from any goroutine.
type Stats struct {
	chunksReceived  atomic.Uint64
	chunksDropped   atomic.Uint64
	chunksSubmitted atomic.Uint64
	framesDecoded   atomic.Uint64
	framesRendered  atomic.Uint64
	framesSkipped   atomic.Uint64
	decoderErrors   atomic.Uint64

	mu     sync.Mutex
	codec  codec.Descriptor
	state  DecoderState
	stream *bitstream.StreamInfo
}

type Snapshot struct {
	Codec           string                `json:"codec"`
	DecoderState    string                `json:"decoder_state"`
	ChunksReceived  uint64                `json:"chunks_received"`
	ChunksDropped   uint64                `json:"chunks_dropped"`
	ChunksSubmitted uint64                `json:"chunks_submitted"`
	FramesDecoded   uint64                `json:"frames_decoded"`
	FramesRendered  uint64                `json:"frames_rendered"`
	FramesSkipped   uint64                `json:"frames_skipped"`
	DecoderErrors   uint64                `json:"decoder_errors"`
	Stream          *bitstream.StreamInfo `json:"stream,omitempty"`
}

func (s *Stats) setCodec(d codec.Descriptor) {
	s.mu.Lock()
	s.codec = d
	s.stream = nil
	s.mu.Unlock()
}

func (s *Stats) setState(st DecoderState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Stats) setStream(info bitstream.StreamInfo) {
	s.mu.Lock()
	s.stream = &info
	s.mu.Unlock()
}

func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Codec:        string(s.codec),
		DecoderState: s.state.String(),
	}
	if s.stream != nil {
		info := *s.stream
		snap.Stream = &info
	}
	s.mu.Unlock()

	snap.ChunksReceived = s.chunksReceived.Load()
	snap.ChunksDropped = s.chunksDropped.Load()
	snap.ChunksSubmitted = s.chunksSubmitted.Load()
	snap.FramesDecoded = s.framesDecoded.Load()
	snap.FramesRendered = s.framesRendered.Load()
	snap.FramesSkipped = s.framesSkipped.Load()
	snap.DecoderErrors = s.decoderErrors.Load()
	return snap
}
