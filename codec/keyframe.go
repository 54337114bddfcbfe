package codec

import (
	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

// annexBHeaderOffset is where the first NAL header sits in a chunk that
// starts with a four-byte start code.
const annexBHeaderOffset = 4

// HEVC IRAP NAL unit types: BLA_W_LP (16) through CRA_NUT (21).
const (
	hevcNalBLAWLP = 16
	hevcNalCRA    = 21
	hevcNalVPS    = 32
	hevcNalSPS    = 33
)

// IsKeyFrame classifies a chunk by reading its codec-specific header at a
// fixed offset. It never scans the payload: a chunk whose first NAL is a
// parameter set or an access unit delimiter reads as a delta frame.
func IsKeyFrame(f Family, payload []byte) bool {
	switch f {
	case FamilyAVC:
		if len(payload) <= annexBHeaderOffset {
			return false
		}
		return h264reader.NalUnitType(payload[annexBHeaderOffset]&0x1F) == h264reader.NalUnitTypeCodedSliceIdr
	case FamilyHEVC:
		if len(payload) <= annexBHeaderOffset {
			return false
		}
		t := (payload[annexBHeaderOffset] >> 1) & 0x3F
		return t >= hevcNalBLAWLP && t <= hevcNalCRA
	case FamilyVP8:
		// frame tag bit 0: 0 = key frame
		return len(payload) > 0 && payload[0]&0x01 == 0
	case FamilyVP9:
		return len(payload) > 0 && vp9KeyFrame(payload[0])
	case FamilyMJPEG:
		return true
	}
	return false
}

// StartsWithParameterSet reports whether the first NAL of an AVC or HEVC
// chunk is a parameter set. Encoders put SPS/PPS (and VPS) ahead of the
// IDR slice, so such a chunk carries the stream parameters even though
// IsKeyFrame reads it as a delta frame.
func StartsWithParameterSet(f Family, payload []byte) bool {
	if len(payload) <= annexBHeaderOffset {
		return false
	}
	b := payload[annexBHeaderOffset]
	switch f {
	case FamilyAVC:
		return h264reader.NalUnitType(b&0x1F) == h264reader.NalUnitTypeSPS
	case FamilyHEVC:
		t := (b >> 1) & 0x3F
		return t == hevcNalVPS || t == hevcNalSPS
	}
	return false
}

// vp9KeyFrame reads the first byte of the uncompressed header:
// frame_marker(2) profile_low(1) profile_high(1) [reserved(1) if profile 3]
// show_existing_frame(1) frame_type(1).
func vp9KeyFrame(b byte) bool {
	if b>>6 != 0b10 {
		return false
	}
	profile := (b>>5)&1 | ((b>>4)&1)<<1
	shift := uint(3)
	if profile == 3 {
		shift = 2
	}
	showExisting := (b >> shift) & 1
	frameType := (b >> (shift - 1)) & 1
	return showExisting == 0 && frameType == 0
}
