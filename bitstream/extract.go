package bitstream

import (
	"bytes"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
	"github.com/pion/webrtc/v4/pkg/media/h265reader"
)

const hevcNalSPS = 33

// AVCStreamInfo scans an Annex-B access unit for an SPS and parses it.
// ok is false when the unit carries no parsable SPS.
func AVCStreamInfo(au []byte) (info StreamInfo, ok bool) {
	r, err := h264reader.NewReader(bytes.NewReader(au))
	if err != nil {
		return info, false
	}
	for {
		nal, err := r.NextNAL()
		if err != nil {
			return info, false
		}
		if nal.UnitType != h264reader.NalUnitTypeSPS {
			continue
		}
		info, err = ParseAVCSPS(nal.Data)
		return info, err == nil
	}
}

// HEVCStreamInfo is AVCStreamInfo for H.265 access units.
func HEVCStreamInfo(au []byte) (info StreamInfo, ok bool) {
	r, err := h265reader.NewReader(bytes.NewReader(au))
	if err != nil {
		return info, false
	}
	for {
		nal, err := r.NextNAL()
		if err != nil {
			return info, false
		}
		if len(nal.Data) < 2 || (nal.Data[0]>>1)&0x3F != hevcNalSPS {
			continue
		}
		info, err = ParseHEVCSPS(nal.Data)
		return info, err == nil
	}
}
