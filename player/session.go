// Package player turns a stream of timestamped chunks into rendered frames
// with the lowest latency the decoder allows. A Session keeps only the
// newest undecoded chunk and, once per display refresh, hands it to the
// streaming decoder or to the fallback image decoder.
//
// All session state is owned by the goroutine running Session.Run.
// Transport messages, decoder results and window events are posted to it
// as events and handled in arrival order.
package player

import (
	"context"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/codec"
	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/transport"
)

const eventQueueSize = 256

// Renderer draws decoded images onto the output surface.
type Renderer interface {
	Draw(img image.Image) error
	Resize(width, height int)
	ToggleFullscreen()
}

type Options struct {
	// Fallback is the codec decoded as standalone images.
	Fallback codec.Descriptor
	// RefreshInterval is the display refresh period driving submissions.
	RefreshInterval time.Duration
	// WaitForKeyFrame holds back delta chunks until a key chunk has been
	// submitted after each configuration.
	WaitForKeyFrame bool
}

func (o *Options) setDefaults() {
	if o.Fallback == "" {
		o.Fallback = codec.Fallback
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = time.Second / 60
	}
}

type Session struct {
	opts     Options
	log      *zap.Logger
	renderer Renderer
	stats    *Stats

	slot   FrameSlot
	active codec.Descriptor
	stream *DecodePipeline
	still  *FallbackPipeline

	events   chan event
	done     chan struct{}
	doneOnce sync.Once
}

// NewSession wires the pipelines. platform may be nil when no streaming
// decoder is available; still decodes the fallback codec.
func NewSession(opts Options, platform decoder.Platform, still decoder.StillDecoder, renderer Renderer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.setDefaults()

	s := &Session{
		opts:     opts,
		log:      logger.Named("player"),
		renderer: renderer,
		stats:    &Stats{},
		events:   make(chan event, eventQueueSize),
		done:     make(chan struct{}),
	}
	s.stream = newDecodePipeline(platform, renderer, s.postUntil, s.stats, opts.WaitForKeyFrame, s.log.Named("decode"))
	s.still = newFallbackPipeline(still, renderer, s.post, s.stats, s.log.Named("fallback"))
	return s
}

// OnConfig implements transport.Handler.
func (s *Session) OnConfig(d codec.Descriptor) { s.post(configEvent{codec: d}) }

// OnChunk implements transport.Handler.
func (s *Session) OnChunk(c transport.Chunk) { s.post(chunkEvent{chunk: c}) }

// Resize forwards a host window resize.
func (s *Session) Resize(width, height int) { s.post(resizeEvent{width: width, height: height}) }

// PointerUp forwards a pointer release on the output surface.
func (s *Session) PointerUp() { s.post(pointerUpEvent{}) }

func (s *Session) Stats() Snapshot { return s.stats.Snapshot() }

// Run drives the session until ctx is done. Decoders are released before
// it returns.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()
	defer s.shutdown()

	s.log.Debug("session started", zap.Duration("refresh", s.opts.RefreshInterval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		case ev := <-s.events:
			s.dispatch(ev)
		}
	}
}

func (s *Session) post(ev event) { s.postUntil(ev, nil) }

// postUntil queues ev unless the session or cancel ends first. It reports
// whether ev was queued.
func (s *Session) postUntil(ev event, cancel <-chan struct{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	case <-cancel:
		return false
	}
}

func (s *Session) shutdown() {
	s.doneOnce.Do(func() {
		close(s.done)
		s.stream.Close()
		s.log.Info("session stopped", zap.Any("stats", s.stats.Snapshot()))
	})
}

func (s *Session) dispatch(ev event) {
	switch ev := ev.(type) {
	case configEvent:
		s.applyConfig(ev.codec)
	case chunkEvent:
		s.stats.chunksReceived.Add(1)
		if s.slot.Put(ev.chunk) {
			s.stats.chunksDropped.Add(1)
		}
	case frameEvent:
		s.stream.handleFrame(ev)
	case skippedEvent:
		s.stream.handleSkipped(ev)
	case decoderErrorEvent:
		s.stream.handleError(ev)
	case stillEvent:
		s.still.handleDecoded(ev)
	case resizeEvent:
		s.renderer.Resize(ev.width, ev.height)
	case pointerUpEvent:
		s.renderer.ToggleFullscreen()
	default:
		s.log.Warn("unknown event", zap.Any("event", ev))
	}
}

// applyConfig switches the active codec. A chunk still waiting in the
// slot is dropped when the codec family changes; the new decoder cannot
// use it.
func (s *Session) applyConfig(d codec.Descriptor) {
	if s.active != "" && s.active.Family() != d.Family() {
		if _, ok := s.slot.Peek(); ok {
			s.slot.Clear()
			s.stats.chunksDropped.Add(1)
		}
	}
	s.active = d
	s.stats.setCodec(d)

	if d == s.opts.Fallback {
		s.stream.Close()
		s.log.Info("using fallback image decoding", zap.String("codec", d.String()))
		return
	}
	if err := s.stream.Configure(d); err != nil {
		s.stats.decoderErrors.Add(1)
		s.log.Error("decoder configuration failed", zap.Error(err))
	}
}

// Tick runs one scheduling step. The ticker calls it once per display
// refresh.
func (s *Session) Tick() {
	chunk, ok := s.slot.Peek()
	if !ok || s.active == "" {
		return
	}

	if s.active == s.opts.Fallback {
		if s.still.TryDecode(chunk) {
			s.slot.Clear()
		}
		return
	}

	if s.stream.Ready() && s.stream.TrySubmit(chunk, s.stream.Pending()) {
		s.slot.Clear()
	}
}
