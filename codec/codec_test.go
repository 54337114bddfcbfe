package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDescriptorFamily(t *testing.T) {
	t.Parallel()
	tests := []struct {
		d    Descriptor
		want Family
	}{
		{"avc1.42001E", FamilyAVC},
		{"avc3.640028", FamilyAVC},
		{"hev1.1.6.L93.B0", FamilyHEVC},
		{"hvc1.1.6.L120.90", FamilyHEVC},
		{"vp8", FamilyVP8},
		{"vp09.00.10.08", FamilyVP9},
		{"mjpeg", FamilyMJPEG},
		{"MJPEG", FamilyMJPEG},
		{"av01.0.04M.08", FamilyUnknown},
		{"", FamilyUnknown},
	}
	for _, tt := range tests {
		t.Run(string(tt.d), func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.d.Family())
		})
	}
}

func TestIsKeyFrame(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		family  Family
		payload []byte
		want    bool
	}{
		{"avc idr", FamilyAVC, []byte{0, 0, 0, 1, 0x65, 0x88}, true},
		{"avc non-idr", FamilyAVC, []byte{0, 0, 0, 1, 0x61, 0x9A}, false},
		{"avc idr low ref idc", FamilyAVC, []byte{0, 0, 0, 1, 0x25}, true},
		{"avc sps first reads as delta", FamilyAVC, []byte{0, 0, 0, 1, 0x67, 0x42}, false},
		{"avc too short", FamilyAVC, []byte{0, 0, 0, 1}, false},
		{"hevc idr_w_radl", FamilyHEVC, []byte{0, 0, 0, 1, 0x26, 0x01}, true},
		{"hevc cra", FamilyHEVC, []byte{0, 0, 0, 1, 0x2A, 0x01}, true},
		{"hevc bla", FamilyHEVC, []byte{0, 0, 0, 1, 0x20, 0x01}, true},
		{"hevc trail_r", FamilyHEVC, []byte{0, 0, 0, 1, 0x02, 0x01}, false},
		{"hevc vps", FamilyHEVC, []byte{0, 0, 0, 1, 0x40, 0x01}, false},
		{"vp8 key", FamilyVP8, []byte{0x10, 0x02, 0x00, 0x9D, 0x01, 0x2A}, true},
		{"vp8 inter", FamilyVP8, []byte{0x31, 0x02, 0x00}, false},
		{"vp8 empty", FamilyVP8, nil, false},
		{"vp9 profile0 key", FamilyVP9, []byte{0x82, 0x49, 0x83, 0x42}, true},
		{"vp9 profile0 inter", FamilyVP9, []byte{0x86, 0x00}, false},
		{"vp9 show existing", FamilyVP9, []byte{0x88}, false},
		{"vp9 profile3 key", FamilyVP9, []byte{0xB0}, true},
		{"vp9 profile3 inter", FamilyVP9, []byte{0xB2}, false},
		{"vp9 bad marker", FamilyVP9, []byte{0x00}, false},
		{"mjpeg", FamilyMJPEG, []byte{0xFF, 0xD8}, true},
		{"unknown", FamilyUnknown, []byte{0, 0, 0, 1, 0x65}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsKeyFrame(tt.family, tt.payload))
		})
	}
}

func TestOffer(t *testing.T) {
	o := Offer{"avc1.42001E", Fallback}
	assert.Equal(t, []string{"avc1.42001E", "mjpeg"}, o.Strings())
	assert.True(t, o.Contains(Fallback))
	assert.False(t, o.Contains("vp8"))

	assert.Equal(t, []Descriptor{"vp8", "mjpeg"}, ParseDescriptors([]string{" vp8 ", "", "mjpeg"}))
}

func TestStartsWithParameterSet(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		family  Family
		payload []byte
		want    bool
	}{
		{"avc sps", FamilyAVC, []byte{0, 0, 0, 1, 0x67, 0x42}, true},
		{"avc idr", FamilyAVC, []byte{0, 0, 0, 1, 0x65, 0x88}, false},
		{"avc pps", FamilyAVC, []byte{0, 0, 0, 1, 0x68, 0xCE}, false},
		{"hevc vps", FamilyHEVC, []byte{0, 0, 0, 1, 0x40, 0x01}, true},
		{"hevc sps", FamilyHEVC, []byte{0, 0, 0, 1, 0x42, 0x01}, true},
		{"hevc idr", FamilyHEVC, []byte{0, 0, 0, 1, 0x26, 0x01}, false},
		{"vp8", FamilyVP8, []byte{0, 0, 0, 1, 0x67}, false},
		{"short", FamilyAVC, []byte{0, 0, 0, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, StartsWithParameterSet(tt.family, tt.payload))
		})
	}
}
