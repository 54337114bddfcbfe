package player

import (
	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/transport"
)

// FallbackPipeline decodes standalone images, one at a time.
type FallbackPipeline struct {
	decoder  decoder.StillDecoder
	renderer Renderer
	post     func(event)
	stats    *Stats
	log      *zap.Logger

	busy bool
}

func newFallbackPipeline(dec decoder.StillDecoder, renderer Renderer, post func(event), stats *Stats, log *zap.Logger) *FallbackPipeline {
	return &FallbackPipeline{
		decoder:  dec,
		renderer: renderer,
		post:     post,
		stats:    stats,
		log:      log,
	}
}

func (f *FallbackPipeline) Busy() bool { return f.busy }

// TryDecode starts decoding c unless an image is already in flight. It
// reports whether decoding was started.
func (f *FallbackPipeline) TryDecode(c transport.Chunk) bool {
	if f.busy {
		return false
	}
	f.busy = true
	f.stats.chunksSubmitted.Add(1)

	go func() {
		img, err := f.decoder.DecodeImage(c.Payload)
		f.post(stillEvent{timestamp: c.PTS, img: img, err: err})
	}()
	return true
}

func (f *FallbackPipeline) handleDecoded(ev stillEvent) {
	defer func() { f.busy = false }()

	if ev.err != nil {
		f.stats.decoderErrors.Add(1)
		f.log.Warn("image decode failed", zap.Uint64("pts", ev.timestamp), zap.Error(ev.err))
		return
	}
	f.stats.framesDecoded.Add(1)
	if err := f.renderer.Draw(ev.img); err != nil {
		f.log.Warn("draw failed", zap.Uint64("pts", ev.timestamp), zap.Error(err))
		return
	}
	f.stats.framesRendered.Add(1)
}
