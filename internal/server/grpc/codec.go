package grpc

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype of the Dashboard service.
const CodecName = "json"

// RawJSON is a message that is already encoded. The codec passes it through
// untouched in both directions, which lets recorded responses replay
// byte-for-byte.
type RawJSON []byte

type jsonCodec struct{}

func (jsonCodec) Name() string { return CodecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	switch r := v.(type) {
	case RawJSON:
		return r, nil
	case *RawJSON:
		return *r, nil
	}
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if r, ok := v.(*RawJSON); ok {
		*r = append((*r)[:0], data...)
		return nil
	}
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
