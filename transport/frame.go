package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the length of the big-endian presentation timestamp that
// prefixes every binary frame.
const HeaderSize = 8

var ErrShortFrame = errors.New("transport: binary frame shorter than header")

// FramingError reports a binary frame that could not be split into a
// timestamp and a payload.
type FramingError struct {
	Length int
	Err    error
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("transport: invalid frame length %d: %v", e.Length, e.Err)
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// Chunk is one encoded video unit received from the server. PTS is in
// server units and is opaque to the client.
type Chunk struct {
	PTS     uint64
	Payload []byte
}

// ParseChunk splits a binary frame into its timestamp and payload. The
// payload aliases data and may be empty.
func ParseChunk(data []byte) (Chunk, error) {
	if len(data) < HeaderSize {
		return Chunk{}, &FramingError{Length: len(data), Err: ErrShortFrame}
	}
	return Chunk{
		PTS:     binary.BigEndian.Uint64(data[:HeaderSize]),
		Payload: data[HeaderSize:],
	}, nil
}

// AppendChunk encodes a chunk in wire format. Servers and tests use it.
func AppendChunk(dst []byte, c Chunk) []byte {
	dst = binary.BigEndian.AppendUint64(dst, c.PTS)
	return append(dst, c.Payload...)
}
