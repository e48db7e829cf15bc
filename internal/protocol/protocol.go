package protocol

import (
	"encoding/json"
	"errors"
)

const Version = "1.0"

// Message types.
const (
	TypeSubscribe = "SUBSCRIBE"
	TypeFrame     = "FRAME"
	TypeState     = "STATE"
	TypeCount     = "COUNT"
	TypeCmd       = "CMD"
	TypeAck       = "ACK"
)

var ErrUnknownType = errors.New("unknown message type")

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
