package player

import (
	"errors"
	"fmt"

	"github.com/robertklofgren/andmon/codec"
)

var (
	ErrDecoderConfig  = errors.New("player: decoder configuration failed")
	ErrDecoderRuntime = errors.New("player: decoder failed")
	ErrNoPlatform     = errors.New("player: no decoding platform")
)

// ConfigError is returned when a decoder cannot be created for the codec
// the server selected. The pipeline is left in StateError.
type ConfigError struct {
	Codec codec.Descriptor
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("player: configure %s: %v", e.Codec, e.Err)
}

func (e *ConfigError) Unwrap() []error {
	return []error{ErrDecoderConfig, e.Err}
}

// RuntimeError records a decoder that failed after configuration.
type RuntimeError struct {
	Codec codec.Descriptor
	Err   error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("player: decode %s: %v", e.Codec, e.Err)
}

func (e *RuntimeError) Unwrap() []error {
	return []error{ErrDecoderRuntime, e.Err}
}
