package decoder

import (
	"encoding/binary"
	"io"
)

const (
	ivfFileHeaderSize  = 32
	ivfFrameHeaderSize = 12
)

// ivfWriter frames VP8/VP9 chunks in an IVF container so ffmpeg can
// demux them from a pipe.
type ivfWriter struct {
	w      io.Writer
	fourcc string
	frames uint64
	hdr    [ivfFrameHeaderSize]byte
}

func newIVFWriter(w io.Writer, fourcc string) *ivfWriter {
	return &ivfWriter{w: w, fourcc: fourcc}
}

// writeHeader writes the file header. Frame size is left at zero: the
// decoder takes it from the bitstream.
func (iw *ivfWriter) writeHeader() error {
	var h [ivfFileHeaderSize]byte
	copy(h[0:4], "DKIF")
	binary.LittleEndian.PutUint16(h[4:6], 0)
	binary.LittleEndian.PutUint16(h[6:8], ivfFileHeaderSize)
	copy(h[8:12], iw.fourcc)
	binary.LittleEndian.PutUint32(h[16:20], 1000) // timebase denominator
	binary.LittleEndian.PutUint32(h[20:24], 1)    // timebase numerator
	_, err := iw.w.Write(h[:])
	return err
}

func (iw *ivfWriter) writeFrame(payload []byte) error {
	binary.LittleEndian.PutUint32(iw.hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint64(iw.hdr[4:12], iw.frames)
	iw.frames++
	if _, err := iw.w.Write(iw.hdr[:]); err != nil {
		return err
	}
	_, err := iw.w.Write(payload)
	return err
}
