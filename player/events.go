package player

import (
	"image"

	"github.com/robertklofgren/andmon/codec"
	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/transport"
)

// event is anything processed by the session loop. Everything that
// touches session state arrives as an event so that state has one owner.
type event interface{}

type configEvent struct {
	codec codec.Descriptor
}

type chunkEvent struct {
	chunk transport.Chunk
}

// decoder results carry the generation of the decoder that produced them;
// results from a released decoder are discarded
type frameEvent struct {
	gen   uint64
	frame *decoder.Frame
}

type skippedEvent struct {
	gen       uint64
	timestamp uint64
}

type decoderErrorEvent struct {
	gen uint64
	err error
}

type stillEvent struct {
	timestamp uint64
	img       image.Image
	err       error
}

type resizeEvent struct {
	width, height int
}

type pointerUpEvent struct{}

// pipelineSink forwards decoder callbacks into the session loop. Once
// stop is closed the decoder has been released and posts give up.
type pipelineSink struct {
	gen  uint64
	post func(event, <-chan struct{}) bool
	stop <-chan struct{}
}

func (s *pipelineSink) Output(f *decoder.Frame) {
	if !s.post(frameEvent{gen: s.gen, frame: f}, s.stop) {
		f.Release()
	}
}

func (s *pipelineSink) Skipped(ts uint64) {
	s.post(skippedEvent{gen: s.gen, timestamp: ts}, s.stop)
}

func (s *pipelineSink) Error(err error) {
	s.post(decoderErrorEvent{gen: s.gen, err: err}, s.stop)
}
