package protocol

import "encoding/json"

// Serializer defines the contract for serializing and deserializing message
// bodies, so transports can carry a different format (Protobuf, SBE, ...)
// without touching the protocol package.
type Serializer interface {
	// Marshal serializes a message body (e.g. *FillOrder) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a message body.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// DefaultJSONSerializer is the stock JSON implementation used by every
// bundled transport.
type DefaultJSONSerializer struct{}

func (s *DefaultJSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (s *DefaultJSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
