package player

import (
	"errors"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/robertklofgren/andmon/bitstream"
	"github.com/robertklofgren/andmon/codec"
	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/transport"
)

// AdmissionThreshold is the number of decodes allowed in flight. A chunk
// is refused once that many are pending.
const AdmissionThreshold = 3

type DecoderState int

const (
	StateUninitialized DecoderState = iota
	StateConfigured
	StateDecoding
	StateError
)

func (s DecoderState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConfigured:
		return "configured"
	case StateDecoding:
		return "decoding"
	case StateError:
		return "error"
	}
	return "unknown"
}

// DecodePipeline owns the streaming decoder for the active codec. All
// methods run on the session loop.
type DecodePipeline struct {
	platform   decoder.Platform
	renderer   Renderer
	post       func(event, <-chan struct{}) bool
	stats      *Stats
	log        *zap.Logger
	waitForKey bool

	state   DecoderState
	codec   codec.Descriptor
	dec     decoder.VideoDecoder
	stop    chan struct{}
	gen     uint64
	pending int
	sawKey  bool
	info    bitstream.StreamInfo
}

func newDecodePipeline(platform decoder.Platform, renderer Renderer, post func(event, <-chan struct{}) bool, stats *Stats, waitForKey bool, log *zap.Logger) *DecodePipeline {
	return &DecodePipeline{
		platform:   platform,
		renderer:   renderer,
		post:       post,
		stats:      stats,
		waitForKey: waitForKey,
		log:        log,
	}
}

func (p *DecodePipeline) State() DecoderState { return p.state }

// Pending is the number of submitted chunks with no result yet.
func (p *DecodePipeline) Pending() int { return p.pending }

// SawKeyFrame reports whether a key chunk was submitted since the last
// configuration.
func (p *DecodePipeline) SawKeyFrame() bool { return p.sawKey }

// Ready reports whether chunks can be submitted.
func (p *DecodePipeline) Ready() bool {
	return p.state == StateConfigured || p.state == StateDecoding
}

// Configure replaces the decoder with a new one for d. On failure the
// pipeline is left in StateError and a *ConfigError is returned.
func (p *DecodePipeline) Configure(d codec.Descriptor) error {
	p.release()
	p.gen++
	p.codec = ""
	p.sawKey = false
	p.pending = 0
	p.info = bitstream.StreamInfo{}

	if p.platform == nil {
		p.setState(StateError)
		return &ConfigError{Codec: d, Err: ErrNoPlatform}
	}
	stop := make(chan struct{})
	dec, err := p.platform.NewVideoDecoder(decoder.StreamConfig(d), &pipelineSink{gen: p.gen, post: p.post, stop: stop})
	if err != nil {
		p.setState(StateError)
		return &ConfigError{Codec: d, Err: err}
	}

	p.dec = dec
	p.stop = stop
	p.codec = d
	p.setState(StateConfigured)
	p.log.Info("decoder configured", zap.String("codec", d.String()))
	return nil
}

// TrySubmit hands c to the decoder when the pipeline is ready and fewer
// than AdmissionThreshold decodes are pending. It reports whether c was
// consumed.
func (p *DecodePipeline) TrySubmit(c transport.Chunk, pending int) bool {
	if !p.Ready() {
		return false
	}
	if pending >= AdmissionThreshold {
		return false
	}

	family := p.codec.Family()
	key := codec.IsKeyFrame(family, c.Payload)
	if key {
		p.sawKey = true
	}
	if key || codec.StartsWithParameterSet(family, c.Payload) {
		p.updateStreamInfo(family, c.Payload)
	}
	if p.waitForKey && !p.sawKey {
		return false
	}

	if err := p.dec.Decode(c.PTS, c.Payload, key); err != nil {
		if errors.Is(err, decoder.ErrQueueFull) {
			return false
		}
		p.fail(err)
		return false
	}

	p.pending++
	p.stats.chunksSubmitted.Add(1)
	if p.state == StateConfigured {
		p.setState(StateDecoding)
	}
	return true
}

func (p *DecodePipeline) updateStreamInfo(family codec.Family, payload []byte) {
	var (
		info bitstream.StreamInfo
		ok   bool
	)
	switch family {
	case codec.FamilyAVC:
		info, ok = bitstream.AVCStreamInfo(payload)
	case codec.FamilyHEVC:
		info, ok = bitstream.HEVCStreamInfo(payload)
	}
	if !ok || info == p.info {
		return
	}
	p.info = info
	p.stats.setStream(info)
	p.log.Info("stream parameters",
		zap.String("codec", info.Codec),
		zap.Uint32("width", info.Width),
		zap.Uint32("height", info.Height),
		zap.String("level", info.Level),
	)
}

func (p *DecodePipeline) handleFrame(ev frameEvent) {
	defer ev.frame.Release()
	if ev.gen != p.gen {
		return
	}
	p.completeOne()
	p.stats.framesDecoded.Add(1)

	if err := p.renderer.Draw(ev.frame.Image); err != nil {
		p.log.Debug("draw failed, retrying with converted frame", zap.Error(err))
		if err := p.renderer.Draw(toRGBA(ev.frame.Image)); err != nil {
			p.log.Warn("dropping frame", zap.Uint64("pts", ev.frame.Timestamp), zap.Error(err))
			return
		}
	}
	p.stats.framesRendered.Add(1)
}

func (p *DecodePipeline) handleSkipped(ev skippedEvent) {
	if ev.gen != p.gen {
		return
	}
	p.completeOne()
	p.stats.framesSkipped.Add(1)
	p.log.Debug("chunk produced no frame", zap.Uint64("pts", ev.timestamp))
}

func (p *DecodePipeline) handleError(ev decoderErrorEvent) {
	if ev.gen != p.gen {
		return
	}
	p.fail(ev.err)
}

func (p *DecodePipeline) completeOne() {
	if p.pending > 0 {
		p.pending--
	}
}

// fail releases the decoder and clears the configuration. Only a new
// config message recovers the pipeline.
func (p *DecodePipeline) fail(err error) {
	rerr := &RuntimeError{Codec: p.codec, Err: err}
	p.log.Error("decoder error", zap.Error(rerr))
	p.stats.decoderErrors.Add(1)

	p.release()
	p.gen++
	p.codec = ""
	p.pending = 0
	p.setState(StateError)
}

// release closes the decoder. Callbacks it is still delivering are
// abandoned rather than queued.
func (p *DecodePipeline) release() {
	if p.dec == nil {
		return
	}
	close(p.stop)
	p.stop = nil
	if err := p.dec.Close(); err != nil {
		p.log.Debug("decoder close", zap.Error(err))
	}
	p.dec = nil
}

// Close releases the decoder. The pipeline returns to StateUninitialized.
func (p *DecodePipeline) Close() {
	p.release()
	p.gen++
	p.codec = ""
	p.pending = 0
	p.sawKey = false
	p.setState(StateUninitialized)
}

func (p *DecodePipeline) setState(st DecoderState) {
	p.state = st
	p.stats.setState(st)
}

func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
