package events

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec turns an event into a wire payload.
type Codec interface {
	Name() string
	Marshal(e Event) ([]byte, error)
	Unmarshal(data []byte, e *Event) error
}

type jsonCodec struct{}

func (jsonCodec) Name() string                          { return "json" }
func (jsonCodec) Marshal(e Event) ([]byte, error)       { return json.Marshal(e) }
func (jsonCodec) Unmarshal(data []byte, e *Event) error { return json.Unmarshal(data, e) }

type msgpackCodec struct{}

func (msgpackCodec) Name() string                          { return "msgpack" }
func (msgpackCodec) Marshal(e Event) ([]byte, error)       { return msgpack.Marshal(e) }
func (msgpackCodec) Unmarshal(data []byte, e *Event) error { return msgpack.Unmarshal(data, e) }

// Built-in codecs.
var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecFor returns the codec registered under name ("" means json).
func CodecFor(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSON, nil
	case "msgpack":
		return MsgPack, nil
	default:
		return nil, fmt.Errorf("unknown event encoding %q (json, msgpack)", name)
	}
}
