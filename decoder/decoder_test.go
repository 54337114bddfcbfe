package decoder

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/image/bmp"

	"github.com/robertklofgren/andmon/codec"
)

const decoderListing = `Decoders:
 V..... = Video
 A..... = Audio
 S..... = Subtitle
 .F.... = Frame-level multithreading
 ------
 V....D h264                 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10
 V....D h264_cuvid           Nvidia CUVID H264 decoder (codec h264)
 VFS..D hevc                 HEVC (High Efficiency Video Coding)
 V....D libvpx               libvpx VP8 (codec vp8)
 A....D aac                  AAC (Advanced Audio Coding)
`

func TestParseDecoderList(t *testing.T) {
	got := parseDecoderList([]byte(decoderListing))
	assert.True(t, got["h264"])
	assert.True(t, got["h264_cuvid"])
	assert.True(t, got["hevc"])
	assert.True(t, got["libvpx"])
	assert.False(t, got["aac"], "audio decoders are not listed")
	assert.False(t, got["Video"], "legend rows are skipped")
}

// fakeFFmpeg writes an executable that prints the decoder listing.
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	listing := filepath.Join(dir, "listing.txt")
	require.NoError(t, os.WriteFile(listing, []byte(decoderListing), 0o644))
	script := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat "+listing+"\n"), 0o755))
	return script
}

func TestFFmpegIsConfigSupported(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{Path: fakeFFmpeg(t)}, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		codec codec.Descriptor
		want  bool
	}{
		{"avc1.42001E", true},
		{"hev1.1.6.L93.B0", true},
		{"vp8", true},
		{"vp09.00.10.08", false},
		{"mjpeg", false},
		{"av01.0.04M.08", false},
	}
	for _, tt := range tests {
		ok, err := Prober{Platform: f}.IsConfigSupported(ctx, tt.codec)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.codec)
	}
	assert.Equal(t, "libvpx", f.DecoderName("vp8"))
	assert.Equal(t, "", f.DecoderName("vp09.00.10.08"))
}

func TestFFmpegMissingBinary(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{Path: filepath.Join(t.TempDir(), "nope")}, nil)
	ok, err := f.IsConfigSupported(context.Background(), StreamConfig("avc1.42001E"))
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestFFmpegArgs(t *testing.T) {
	f := NewFFmpeg(FFmpegConfig{}, nil)

	args, err := f.args(StreamConfig("avc1.42001E"))
	require.NoError(t, err)
	joined := " " + joinArgs(args) + " "
	assert.Contains(t, joined, " -flags low_delay ")
	assert.Contains(t, joined, " -fflags nobuffer ")
	assert.Contains(t, joined, " -hwaccel auto ")
	assert.Contains(t, joined, " -threads 1 ")
	assert.Contains(t, joined, " -f h264 -i pipe:0 ")
	assert.Contains(t, joined, " -c:v bmp ")
	assert.Equal(t, "pipe:1", args[len(args)-1])

	args, err = f.args(Config{Codec: "vp09.00.10.08", Acceleration: PreferSoftware})
	require.NoError(t, err)
	joined = " " + joinArgs(args) + " "
	assert.Contains(t, joined, " -f ivf -i pipe:0 ")
	assert.Contains(t, joined, " -hwaccel none ")
	assert.NotContains(t, joined, "low_delay")

	_, err = f.args(StreamConfig("mjpeg"))
	assert.ErrorIs(t, err, ErrUnsupportedCodec)
}

func joinArgs(args []string) string {
	var b bytes.Buffer
	for i, a := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(a)
	}
	return b.String()
}

type recordingSink struct {
	mu      sync.Mutex
	frames  []*Frame
	skipped []uint64
	errs    []error
	notify  chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) Output(f *Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) Skipped(ts uint64) {
	s.mu.Lock()
	s.skipped = append(s.skipped, ts)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) Error(err error) {
	s.mu.Lock()
	s.errs = append(s.errs, err)
	s.mu.Unlock()
	s.notify <- struct{}{}
}

func (s *recordingSink) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-s.notify:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for sink event %d of %d", i+1, n)
		}
	}
}

func bmpImage(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, bmp.Encode(&buf, img))
	return buf.Bytes()
}

// cat echoes stdin, so BMP payloads come back as decoded frames in order.
func TestProcessOutputsFramesInOrder(t *testing.T) {
	sink := newRecordingSink()
	p, err := startProcess("cat", nil, codec.FamilyAVC, sink, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Decode(10, bmpImage(t, color.RGBA{R: 255, A: 255}), true))
	require.NoError(t, p.Decode(20, bmpImage(t, color.RGBA{B: 255, A: 255}), false))
	sink.wait(t, 2)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.frames, 2)
	assert.Equal(t, uint64(10), sink.frames[0].Timestamp)
	assert.Equal(t, uint64(20), sink.frames[1].Timestamp)
	r, _, _, _ := sink.frames[0].Image.At(1, 1).RGBA()
	assert.Equal(t, uint32(0xFFFF), r)
	assert.Equal(t, image.Rect(0, 0, 4, 2), sink.frames[1].Image.Bounds())
	assert.Empty(t, sink.errs)
}

func TestProcessExitReportsError(t *testing.T) {
	sink := newRecordingSink()
	p, err := startProcess("sh", []string{"-c", "echo boom >&2; exit 3"}, codec.FamilyAVC, sink, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	sink.wait(t, 1)
	sink.mu.Lock()
	require.Len(t, sink.errs, 1)
	assert.Contains(t, sink.errs[0].Error(), "boom")
	sink.mu.Unlock()

	assert.ErrorIs(t, p.Decode(1, []byte{1}, true), ErrClosed)
}

func TestProcessReportsStalledChunks(t *testing.T) {
	old := stallTimeout
	stallTimeout = 100 * time.Millisecond
	defer func() { stallTimeout = old }()

	sink := newRecordingSink()
	p, err := startProcess("sh", []string{"-c", "cat >/dev/null"}, codec.FamilyAVC, sink, zap.NewNop())
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, p.Decode(7, []byte{0, 0, 0, 1, 0x65}, true))
	sink.wait(t, 1)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, []uint64{7}, sink.skipped)
	assert.Empty(t, sink.frames)
}

func TestProcessCloseIsQuiet(t *testing.T) {
	sink := newRecordingSink()
	p, err := startProcess("sh", []string{"-c", "cat >/dev/null"}, codec.FamilyVP8, sink, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Decode(1, nil, false), ErrClosed)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Empty(t, sink.errs)
}

func TestIVFWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newIVFWriter(&buf, "VP80")
	require.NoError(t, w.writeHeader())
	require.NoError(t, w.writeFrame([]byte{0xAA, 0xBB}))
	require.NoError(t, w.writeFrame([]byte{0xCC}))

	out := buf.Bytes()
	require.Len(t, out, ivfFileHeaderSize+2*ivfFrameHeaderSize+3)
	assert.Equal(t, "DKIF", string(out[0:4]))
	assert.Equal(t, "VP80", string(out[8:12]))
	assert.Equal(t, []byte{2, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0xAA, 0xBB}, out[32:46])
	assert.Equal(t, []byte{1, 0, 0, 0, 1, 0, 0, 0, 0, 0, 0, 0, 0xCC}, out[46:])
}

func TestJPEGDecodeImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	got, err := JPEG{}.DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), got.Bounds())

	_, err = JPEG{}.DecodeImage(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)

	_, err = JPEG{}.DecodeImage([]byte{1, 2, 3})
	assert.Error(t, err)
}
