// Package decoder provides the platform video decoders the player drives:
// an ffmpeg process for accelerated codecs and an in-process JPEG decoder
// for the fallback stream.
package decoder

import (
	"context"
	"errors"
	"image"

	"github.com/robertklofgren/andmon/codec"
)

var (
	ErrUnsupportedCodec = errors.New("decoder: unsupported codec")
	ErrClosed           = errors.New("decoder: closed")
	ErrQueueFull        = errors.New("decoder: input queue full")
)

// Acceleration is a hint for how a decoder should be instantiated.
type Acceleration int

const (
	NoPreference Acceleration = iota
	PreferHardware
	PreferSoftware
)

// Config describes the decoder to instantiate.
type Config struct {
	Codec        codec.Descriptor
	Acceleration Acceleration
	LowLatency   bool
}

// Frame is a decoded picture. Release must be called once the frame has
// been drawn.
type Frame struct {
	Image     image.Image
	Timestamp uint64

	release func()
}

func NewFrame(img image.Image, ts uint64, release func()) *Frame {
	return &Frame{Image: img, Timestamp: ts, release: release}
}

func (f *Frame) Release() {
	if f.release != nil {
		f.release()
		f.release = nil
	}
	f.Image = nil
}

// Sink receives decoder results. Calls may come from any goroutine.
type Sink interface {
	// Output delivers a decoded frame.
	Output(f *Frame)
	// Skipped reports a submitted chunk that will never produce a frame.
	Skipped(timestamp uint64)
	// Error reports that the decoder has failed. No further calls follow.
	Error(err error)
}

// VideoDecoder decodes a stream of encoded chunks.
type VideoDecoder interface {
	// Decode queues one chunk. It does not block on decoding.
	Decode(timestamp uint64, payload []byte, key bool) error
	// Close releases the decoder and everything it holds.
	Close() error
}

// Platform is the local decoding facility.
type Platform interface {
	IsConfigSupported(ctx context.Context, cfg Config) (bool, error)
	NewVideoDecoder(cfg Config, sink Sink) (VideoDecoder, error)
}

// StillDecoder decodes standalone images.
type StillDecoder interface {
	DecodeImage(payload []byte) (image.Image, error)
}

// StreamConfig is the decoder configuration the player uses for every
// streaming codec: hardware preferred, low-latency output.
func StreamConfig(d codec.Descriptor) Config {
	return Config{Codec: d, Acceleration: PreferHardware, LowLatency: true}
}

// Prober answers per-codec capability queries against a Platform using
// StreamConfig, so what is offered is what will be instantiated.
type Prober struct {
	Platform Platform
}

func (p Prober) IsConfigSupported(ctx context.Context, d codec.Descriptor) (bool, error) {
	return p.Platform.IsConfigSupported(ctx, StreamConfig(d))
}
