package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/robertklofgren/andmon/codec"
)

// ffmpegDecoders maps a codec family to the ffmpeg decoder names that can
// handle it, preferred first.
var ffmpegDecoders = map[codec.Family][]string{
	codec.FamilyAVC:  {"h264", "h264_cuvid", "h264_qsv"},
	codec.FamilyHEVC: {"hevc", "hevc_cuvid", "hevc_qsv"},
	codec.FamilyVP8:  {"vp8", "libvpx"},
	codec.FamilyVP9:  {"vp9", "libvpx-vp9"},
}

// ffmpegInputFormats is the demuxer used for each family on stdin.
var ffmpegInputFormats = map[codec.Family]string{
	codec.FamilyAVC:  "h264",
	codec.FamilyHEVC: "hevc",
	codec.FamilyVP8:  "ivf",
	codec.FamilyVP9:  "ivf",
}

type FFmpegConfig struct {
	Path    string // ffmpeg binary, looked up in PATH when bare
	Threads int    // decoder threads; 1 keeps frame latency lowest
}

// FFmpeg is a Platform backed by an ffmpeg binary. Each decoder is one
// ffmpeg process reading the elementary stream on stdin and writing BMP
// images on stdout.
type FFmpeg struct {
	cfg FFmpegConfig
	log *zap.Logger

	probeOnce sync.Once
	decoders  map[string]bool
	probeErr  error
}

func NewFFmpeg(cfg FFmpegConfig, logger *zap.Logger) *FFmpeg {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = "ffmpeg"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 1
	}
	return &FFmpeg{cfg: cfg, log: logger.Named("ffmpeg")}
}

// IsConfigSupported reports whether the installed ffmpeg has a decoder for
// the codec family. The decoder list is read once and cached.
func (f *FFmpeg) IsConfigSupported(ctx context.Context, cfg Config) (bool, error) {
	names, ok := ffmpegDecoders[cfg.Codec.Family()]
	if !ok {
		return false, nil
	}

	f.probeOnce.Do(func() {
		f.decoders, f.probeErr = f.listDecoders(ctx)
		if f.probeErr != nil {
			f.log.Warn("ffmpeg decoder probe failed", zap.Error(f.probeErr))
		}
	})
	if f.probeErr != nil {
		return false, f.probeErr
	}
	for _, n := range names {
		if f.decoders[n] {
			return true, nil
		}
	}
	return false, nil
}

// DecoderName returns the ffmpeg decoder that would serve the codec, or ""
// when none is installed. IsConfigSupported must have run first.
func (f *FFmpeg) DecoderName(d codec.Descriptor) string {
	for _, n := range ffmpegDecoders[d.Family()] {
		if f.decoders[n] {
			return n
		}
	}
	return ""
}

func (f *FFmpeg) listDecoders(ctx context.Context) (map[string]bool, error) {
	out, err := exec.CommandContext(ctx, f.cfg.Path, "-hide_banner", "-decoders").Output()
	if err != nil {
		return nil, fmt.Errorf("run %s -decoders: %w", f.cfg.Path, err)
	}
	return parseDecoderList(out), nil
}

// parseDecoderList reads the table printed by `ffmpeg -decoders`. Rows
// after the dashed separator are "<flags> <name> <description>"; video
// decoders have 'V' as the first flag.
func parseDecoderList(out []byte) map[string]bool {
	decoders := make(map[string]bool)
	sc := bufio.NewScanner(bytes.NewReader(out))
	inTable := false
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !inTable {
			inTable = strings.HasPrefix(line, "------")
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.HasPrefix(fields[0], "V") {
			continue
		}
		decoders[fields[1]] = true
	}
	return decoders
}

// NewVideoDecoder starts an ffmpeg process for cfg.Codec.
func (f *FFmpeg) NewVideoDecoder(cfg Config, sink Sink) (VideoDecoder, error) {
	args, err := f.args(cfg)
	if err != nil {
		return nil, err
	}
	return startProcess(f.cfg.Path, args, cfg.Codec.Family(), sink, f.log.With(zap.String("codec", cfg.Codec.String())))
}

func (f *FFmpeg) args(cfg Config) ([]string, error) {
	family := cfg.Codec.Family()
	format, ok := ffmpegInputFormats[family]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, cfg.Codec)
	}

	args := []string{"-hide_banner", "-loglevel", "error"}
	if cfg.LowLatency {
		args = append(args,
			"-fflags", "nobuffer",
			"-flags", "low_delay",
			"-probesize", "32",
			"-analyzeduration", "0",
		)
	}
	switch cfg.Acceleration {
	case PreferHardware:
		args = append(args, "-hwaccel", "auto")
	case PreferSoftware:
		args = append(args, "-hwaccel", "none")
	}
	args = append(args,
		"-threads", strconv.Itoa(f.cfg.Threads),
		// keep frames that reference a missing key frame so every input
		// yields an output
		"-flags2", "showall",
		"-f", format,
		"-i", "pipe:0",
		"-an",
		"-fps_mode", "passthrough",
		"-f", "image2pipe",
		"-c:v", "bmp",
		"-pix_fmt", "bgr24",
		"-flush_packets", "1",
		"pipe:1",
	)
	return args, nil
}
