package decoder

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
)

var ErrEmptyImage = errors.New("decoder: empty image payload")

// JPEG decodes standalone JPEG images for the fallback stream.
type JPEG struct{}

func (JPEG) DecodeImage(payload []byte) (image.Image, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyImage
	}
	return jpeg.Decode(bytes.NewReader(payload))
}
