package player

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/decoder"
	"github.com/robertklofgren/andmon/transport"
)

type submitted struct {
	timestamp uint64
	key       bool
}

type fakeDecoder struct {
	cfg       decoder.Config
	sink      decoder.Sink
	submitted []submitted
	closed    bool
	decodeErr error
}

func (d *fakeDecoder) Decode(ts uint64, payload []byte, key bool) error {
	if d.closed {
		return decoder.ErrClosed
	}
	if d.decodeErr != nil {
		return d.decodeErr
	}
	d.submitted = append(d.submitted, submitted{timestamp: ts, key: key})
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

// emit delivers a decoded frame for ts and returns a flag set on release.
func (d *fakeDecoder) emit(ts uint64) *bool {
	released := new(bool)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	d.sink.Output(decoder.NewFrame(img, ts, func() { *released = true }))
	return released
}

type fakePlatform struct {
	decoders  []*fakeDecoder
	createErr error
}

func (p *fakePlatform) IsConfigSupported(ctx context.Context, cfg decoder.Config) (bool, error) {
	return p.createErr == nil, nil
}

func (p *fakePlatform) NewVideoDecoder(cfg decoder.Config, sink decoder.Sink) (decoder.VideoDecoder, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	d := &fakeDecoder{cfg: cfg, sink: sink}
	p.decoders = append(p.decoders, d)
	return d, nil
}

func (p *fakePlatform) last() *fakeDecoder {
	return p.decoders[len(p.decoders)-1]
}

var errDrawUnsupported = errors.New("unsupported image type")

type fakeRenderer struct {
	mu         sync.Mutex
	draws      []image.Image
	sizes      [][2]int
	toggles    int
	rejectOnce bool
}

func (r *fakeRenderer) Draw(img image.Image) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejectOnce {
		r.rejectOnce = false
		return errDrawUnsupported
	}
	r.draws = append(r.draws, img)
	return nil
}

func (r *fakeRenderer) Resize(w, h int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sizes = append(r.sizes, [2]int{w, h})
}

func (r *fakeRenderer) ToggleFullscreen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toggles++
}

func (r *fakeRenderer) drawCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.draws)
}

func newTestSession(opts Options, platform decoder.Platform) (*Session, *fakeRenderer) {
	r := &fakeRenderer{}
	return NewSession(opts, platform, decoder.JPEG{}, r, zap.NewNop()), r
}

// drain dispatches every queued event without blocking.
func (s *Session) drain() {
	for {
		select {
		case ev := <-s.events:
			s.dispatch(ev)
		default:
			return
		}
	}
}

// await blocks for one event posted from another goroutine and
// dispatches it.
func (s *Session) await(t *testing.T) {
	t.Helper()
	select {
	case ev := <-s.events:
		s.dispatch(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no event posted")
	}
}

func avcChunk(pts uint64, key bool) transport.Chunk {
	nal := byte(0x41)
	if key {
		nal = 0x65
	}
	return transport.Chunk{PTS: pts, Payload: []byte{0, 0, 0, 1, nal, 0x88, 0x84}}
}

func jpegChunk(t *testing.T, pts uint64) transport.Chunk {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for x := 0; x < 16; x++ {
		img.Set(x, 0, color.RGBA{G: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return transport.Chunk{PTS: pts, Payload: buf.Bytes()}
}
