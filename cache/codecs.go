package cache

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"
)

// Values are encoded with their json field names so one set of struct
// tags serves msgpack, JSON and CBOR.
const structTag = "json"

// MsgpackEncoder returns an Encoder that marshals values to msgpack.
func MsgpackEncoder[T any]() Encoder[T] {
	return func(value T) ([]byte, error) {
		return Marshal(value)
	}
}

// MsgpackDecoder returns a Decoder that unmarshals msgpack to values.
func MsgpackDecoder[T any]() Decoder[T] {
	return func(data []byte) (T, error) {
		var value T
		err := Unmarshal(data, &value)
		return value, err
	}
}

func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag(structTag)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag(structTag)
	return dec.Decode(v)
}
