package models

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var ErrUnknownEventType = errors.New("unknown event type")

var (
	payloadEnc cbor.EncMode
	payloadDec cbor.DecMode
)

func init() {
	var err error
	payloadEnc, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	// free-form metadata must come back JSON-encodable
	payloadDec, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// EncodePayload serializes an envelope for DeliveryJob.Payload.
func EncodePayload(env EventEnvelope) ([]byte, error) {
	return payloadEnc.Marshal(env)
}

// DecodePayload parses DeliveryJob.Payload, decoding data into the event
// type named by the envelope.
func DecodePayload(payload []byte) (EventEnvelope, error) {
	var raw struct {
		EventEnvelope
		Data cbor.RawMessage `json:"data"`
	}
	if err := payloadDec.Unmarshal(payload, &raw); err != nil {
		return EventEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}

	env := raw.EventEnvelope
	var err error
	switch env.Type {
	case TypeEpoch:
		env.Data, err = decodeData[Epoch](raw.Data)
	case TypeBlock:
		env.Data, err = decodeData[Block](raw.Data)
	case TypeDelegation:
		env.Data, err = decodeData[Delegation](raw.Data)
	case TypeTransaction:
		env.Data, err = decodeData[Transaction](raw.Data)
	case TypePayment:
		env.Data, err = decodeData[PaymentData](raw.Data)
	case TypeAsset:
		env.Data, err = decodeData[AssetData](raw.Data)
	default:
		return EventEnvelope{}, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	return env, nil
}

func decodeData[T any](data cbor.RawMessage) (T, error) {
	var v T
	err := payloadDec.Unmarshal(data, &v)
	return v, err
}
