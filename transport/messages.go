package transport

import (
	"encoding/json"

	"github.com/robertklofgren/andmon/codec"
)

// Control message types sent by the server.
const (
	TypeConfig    = "config"
	TypeCodecInfo = "codec_info"
)

// OfferMessage is the first and only message a client sends.
type OfferMessage struct {
	Codecs []string `json:"codecs"`
}

// ControlMessage is a text message from the server.
type ControlMessage struct {
	Type  string `json:"type"`
	Codec string `json:"codec,omitempty"`
}

func NewOfferMessage(o codec.Offer) OfferMessage {
	return OfferMessage{Codecs: o.Strings()}
}

func ParseControl(data []byte) (ControlMessage, error) {
	var msg ControlMessage
	err := json.Unmarshal(data, &msg)
	return msg, err
}
