package bitstream

import (
	"bytes"
)

// BitReader reads an RBSP most-significant bit first.
type BitReader struct {
	r      *bytes.Reader
	buffer byte
	bits   uint // bits left in buffer
}

func NewBitReader(rbsp []byte) *BitReader {
	return &BitReader{r: bytes.NewReader(rbsp)}
}

func (br *BitReader) ReadBit() (uint8, error) {
	if br.bits == 0 {
		b, err := br.r.ReadByte()
		if err != nil {
			return 0, err
		}
		br.buffer = b
		br.bits = 8
	}

	bit := (br.buffer >> 7) & 1
	br.buffer <<= 1
	br.bits--
	return bit, nil
}

func (br *BitReader) SkipBits(n int) error {
	for i := 0; i < n; i++ {
		if _, err := br.ReadBit(); err != nil {
			return err
		}
	}
	return nil
}

// ReadBits reads up to 32 bits as an unsigned value.
func (br *BitReader) ReadBits(n uint) (uint32, error) {
	var value uint32
	for i := uint(0); i < n; i++ {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		value = (value << 1) | uint32(bit)
	}
	return value, nil
}

func (br *BitReader) ReadFlag() (bool, error) {
	bit, err := br.ReadBit()
	return bit == 1, err
}

// ReadUE reads an unsigned Exp-Golomb code, ue(v).
func (br *BitReader) ReadUE() (uint32, error) {
	leadingZeros := 0
	for {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			break
		}
		leadingZeros++
		if leadingZeros > 31 {
			return 0, ErrMalformed
		}
	}

	value := uint32(1) << leadingZeros
	for i := leadingZeros - 1; i >= 0; i-- {
		bit, err := br.ReadBit()
		if err != nil {
			return 0, err
		}
		if bit == 1 {
			value |= 1 << uint(i)
		}
	}
	return value - 1, nil
}

// ReadSE reads a signed Exp-Golomb code, se(v).
func (br *BitReader) ReadSE() (int32, error) {
	value, err := br.ReadUE()
	if err != nil {
		return 0, err
	}
	if value%2 == 0 {
		return -int32(value / 2), nil
	}
	return int32((value + 1) / 2), nil
}

// RemoveEmulationPreventionBytes turns a NAL unit payload into its RBSP by
// dropping the 0x03 byte of every 00 00 03 sequence.
func RemoveEmulationPreventionBytes(data []byte) []byte {
	if !bytes.Contains(data, []byte{0, 0, 3}) {
		return data
	}

	buf := make([]byte, 0, len(data))
	for i := 0; i < len(data); {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 {
			buf = append(buf, 0, 0)
			i += 3
			continue
		}
		buf = append(buf, data[i])
		i++
	}
	return buf
}
