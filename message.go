package pubsession

import (
	"encoding/json"
	"fmt"
)

// Message is one unit of application data moving through a session. The
// payload is opaque to the session; attributes carry optional routing or
// tracing metadata alongside it.
type Message struct {
	// ID identifies the message. Send assigns one when absent.
	ID string `json:"id,omitempty"`
	// Attributes are optional key/value metadata.
	Attributes map[string]string `json:"attributes,omitempty"`
	// Data is the opaque payload.
	Data json.RawMessage `json:"data"`
}

// Codec translates between Message and its wire form. Decode must fail on
// malformed input rather than returning a partial message.
type Codec interface {
	Encode(msg *Message) ([]byte, error)
	Decode(data []byte) (*Message, error)
}

// JSONCodec is the default wire format: one JSON object per message.
var JSONCodec Codec = jsonCodec{}

type jsonCodec struct{}

func (jsonCodec) Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &msg, nil
}
