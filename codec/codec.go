// Package codec names the video codecs a client can offer and knows how to
// tell key frames from delta frames for each of them.
package codec

import (
	"strings"
)

// Descriptor is a codec identifier string as exchanged on the wire, such
// as "avc1.42001E" or "mjpeg".
type Descriptor string

// Fallback is the codec every server understands and every client can
// decode without acceleration: a stream of standalone JPEG images.
const Fallback Descriptor = "mjpeg"

// Family groups descriptors that share a bitstream format.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyAVC
	FamilyHEVC
	FamilyVP8
	FamilyVP9
	FamilyMJPEG
)

func (f Family) String() string {
	switch f {
	case FamilyAVC:
		return "h264"
	case FamilyHEVC:
		return "hevc"
	case FamilyVP8:
		return "vp8"
	case FamilyVP9:
		return "vp9"
	case FamilyMJPEG:
		return "mjpeg"
	}
	return "unknown"
}

// Family derives the bitstream family from the descriptor prefix.
func (d Descriptor) Family() Family {
	s := strings.ToLower(string(d))
	switch {
	case strings.HasPrefix(s, "avc1"), strings.HasPrefix(s, "avc3"):
		return FamilyAVC
	case strings.HasPrefix(s, "hev1"), strings.HasPrefix(s, "hvc1"):
		return FamilyHEVC
	case s == "vp8":
		return FamilyVP8
	case strings.HasPrefix(s, "vp09"), s == "vp9":
		return FamilyVP9
	case s == "mjpeg":
		return FamilyMJPEG
	}
	return FamilyUnknown
}

func (d Descriptor) String() string { return string(d) }

// DefaultCandidates is the preference-ordered list probed when nothing is
// configured: HEVC Main L3.1, H.264 Constrained Baseline L3.0, VP9
// profile 0 and VP8.
var DefaultCandidates = []Descriptor{
	"hev1.1.6.L93.B0",
	"avc1.42001E",
	"vp09.00.10.08",
	"vp8",
}

// Offer is the ordered list of codecs a client sends to the server.
type Offer []Descriptor

func (o Offer) Strings() []string {
	out := make([]string, len(o))
	for i, d := range o {
		out[i] = string(d)
	}
	return out
}

func (o Offer) Contains(d Descriptor) bool {
	for _, c := range o {
		if c == d {
			return true
		}
	}
	return false
}

// ParseDescriptors converts configured strings, skipping blanks.
func ParseDescriptors(in []string) []Descriptor {
	out := make([]Descriptor, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, Descriptor(s))
	}
	return out
}
