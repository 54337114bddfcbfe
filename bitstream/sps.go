package bitstream

import (
	"errors"
	"fmt"
)

var (
	ErrMalformed = errors.New("bitstream: malformed parameter set")
	ErrNotSPS    = errors.New("bitstream: not a sequence parameter set")
)

// StreamInfo describes the coded picture as announced by a sequence
// parameter set.
type StreamInfo struct {
	Codec        string `json:"codec"`
	Width        uint32 `json:"width"`  // display width, cropping applied
	Height       uint32 `json:"height"` // display height, cropping applied
	Profile      uint8  `json:"profile"`
	Level        string `json:"level"`
	Tier         string `json:"tier,omitempty"` // HEVC only
	ChromaFormat uint32 `json:"chroma_format"`  // 1 = 4:2:0
}

// fieldReader wraps a BitReader and remembers the first read error so the
// parsers below can read a whole syntax structure and check once.
type fieldReader struct {
	br  *BitReader
	err error
}

func (f *fieldReader) u(n uint) uint32 {
	v, err := f.br.ReadBits(n)
	if err != nil && f.err == nil {
		f.err = err
	}
	return v
}

func (f *fieldReader) ue() uint32 {
	v, err := f.br.ReadUE()
	if err != nil && f.err == nil {
		f.err = err
	}
	return v
}

func (f *fieldReader) se() int32 {
	v, err := f.br.ReadSE()
	if err != nil && f.err == nil {
		f.err = err
	}
	return v
}

func (f *fieldReader) flag() bool {
	return f.u(1) == 1
}

// ParseAVCSPS parses an H.264 SPS NAL unit, header byte included and
// start code excluded.
func ParseAVCSPS(nal []byte) (StreamInfo, error) {
	info := StreamInfo{Codec: "h264", ChromaFormat: 1}
	if len(nal) < 4 {
		return info, ErrMalformed
	}
	if nal[0]&0x1F != 7 {
		return info, fmt.Errorf("%w: nal type %d", ErrNotSPS, nal[0]&0x1F)
	}

	f := &fieldReader{br: NewBitReader(RemoveEmulationPreventionBytes(nal[1:]))}

	profileIdc := uint8(f.u(8))
	info.Profile = profileIdc
	f.u(8) // constraint_set flags
	info.Level = avcLevel(uint8(f.u(8)))
	f.ue() // seq_parameter_set_id

	separateColourPlane := false
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		info.ChromaFormat = f.ue()
		if info.ChromaFormat == 3 {
			separateColourPlane = f.flag()
		}
		f.ue() // bit_depth_luma_minus8
		f.ue() // bit_depth_chroma_minus8
		f.u(1) // qpprime_y_zero_transform_bypass_flag

		// seq_scaling_matrix_present_flag
		if f.flag() {
			lists := 8
			if info.ChromaFormat == 3 {
				lists = 12
			}
			for i := 0; i < lists; i++ {
				if !f.flag() {
					continue
				}
				size := 16
				if i >= 6 {
					size = 64
				}
				skipScalingList(f, size)
			}
		}
	}

	f.ue() // log2_max_frame_num_minus4

	pocType := f.ue()
	switch pocType {
	case 0:
		f.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		f.u(1) // delta_pic_order_always_zero_flag
		f.se() // offset_for_non_ref_pic
		f.se() // offset_for_top_to_bottom_field
		cycle := f.ue()
		if cycle > 255 {
			return info, ErrMalformed
		}
		for i := uint32(0); i < cycle; i++ {
			f.se()
		}
	}

	f.ue() // max_num_ref_frames
	f.u(1) // gaps_in_frame_num_value_allowed_flag

	widthMbs := f.ue() + 1
	heightMapUnits := f.ue() + 1
	frameMbsOnly := f.flag()
	if !frameMbsOnly {
		f.u(1) // mb_adaptive_frame_field_flag
	}
	f.u(1) // direct_8x8_inference_flag

	fieldFactor := uint32(2)
	if frameMbsOnly {
		fieldFactor = 1
	}
	width := widthMbs * 16
	height := heightMapUnits * 16 * fieldFactor

	// frame_cropping_flag
	if f.flag() {
		left, right, top, bottom := f.ue(), f.ue(), f.ue(), f.ue()

		cropX, cropY := uint32(1), fieldFactor
		if info.ChromaFormat != 0 && !separateColourPlane {
			subW, subH := chromaSubsampling(info.ChromaFormat)
			cropX, cropY = subW, subH*fieldFactor
		}
		if (left+right)*cropX >= width || (top+bottom)*cropY >= height {
			return info, ErrMalformed
		}
		width -= (left + right) * cropX
		height -= (top + bottom) * cropY
	}

	if f.err != nil {
		return info, fmt.Errorf("%w: %v", ErrMalformed, f.err)
	}
	info.Width = width
	info.Height = height
	return info, nil
}

// ParseHEVCSPS parses an H.265 SPS NAL unit, two-byte header included and
// start code excluded.
func ParseHEVCSPS(nal []byte) (StreamInfo, error) {
	info := StreamInfo{Codec: "hevc"}
	if len(nal) < 3 {
		return info, ErrMalformed
	}
	if t := (nal[0] >> 1) & 0x3F; t != 33 {
		return info, fmt.Errorf("%w: nal type %d", ErrNotSPS, t)
	}

	f := &fieldReader{br: NewBitReader(RemoveEmulationPreventionBytes(nal[2:]))}

	f.u(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := f.u(3)
	f.u(1) // sps_temporal_id_nesting_flag

	profile, highTier, level := parseProfileTierLevel(f, maxSubLayersMinus1)
	info.Profile = profile
	info.Level = fmt.Sprintf("%.1f", float32(level)/30.0)
	info.Tier = "Main"
	if highTier {
		info.Tier = "High"
	}

	f.ue() // sps_seq_parameter_set_id
	info.ChromaFormat = f.ue()
	if info.ChromaFormat == 3 {
		f.u(1) // separate_colour_plane_flag
	}

	width := f.ue()
	height := f.ue()

	// conformance_window_flag
	if f.flag() {
		left, right, top, bottom := f.ue(), f.ue(), f.ue(), f.ue()
		subW, subH := chromaSubsampling(info.ChromaFormat)
		if (left+right)*subW >= width || (top+bottom)*subH >= height {
			return info, ErrMalformed
		}
		width -= (left + right) * subW
		height -= (top + bottom) * subH
	}

	if f.err != nil {
		return info, fmt.Errorf("%w: %v", ErrMalformed, f.err)
	}
	info.Width = width
	info.Height = height
	return info, nil
}

// parseProfileTierLevel walks profile_tier_level(1, maxSubLayersMinus1).
// Sub-layer entries must be skipped exactly or the picture size that
// follows is read from the wrong offset.
func parseProfileTierLevel(f *fieldReader, maxSubLayersMinus1 uint32) (profile uint8, highTier bool, level uint8) {
	f.u(2) // general_profile_space
	highTier = f.flag()
	profile = uint8(f.u(5))
	f.u(32) // general_profile_compatibility_flags
	f.u(32) // general constraint flags, first 32 of 48
	f.u(16)
	level = uint8(f.u(8))

	profilePresent := make([]bool, maxSubLayersMinus1)
	levelPresent := make([]bool, maxSubLayersMinus1)
	for i := range profilePresent {
		profilePresent[i] = f.flag()
		levelPresent[i] = f.flag()
	}
	if maxSubLayersMinus1 > 0 {
		for i := maxSubLayersMinus1; i < 8; i++ {
			f.u(2) // reserved_zero_2bits
		}
	}
	for i := range profilePresent {
		if profilePresent[i] {
			f.u(8)  // profile_space, tier_flag, profile_idc
			f.u(32) // profile_compatibility_flags
			f.u(32)
			f.u(16)
		}
		if levelPresent[i] {
			f.u(8)
		}
	}
	return profile, highTier, level
}

func skipScalingList(f *fieldReader, size int) {
	lastScale, nextScale := int32(8), int32(8)
	for j := 0; j < size; j++ {
		if nextScale != 0 {
			nextScale = (lastScale + f.se() + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
}

func chromaSubsampling(chromaFormat uint32) (subW, subH uint32) {
	switch chromaFormat {
	case 1:
		return 2, 2
	case 2:
		return 2, 1
	default:
		return 1, 1
	}
}

func avcLevel(level uint8) string {
	major, minor := level/10, level%10
	if minor == 0 {
		return fmt.Sprintf("%d", major)
	}
	return fmt.Sprintf("%d.%d", major, minor)
}
