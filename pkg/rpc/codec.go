package rpc

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content subtype of the gateway service.
const CodecName = "cbor"

func init() {
	encoding.RegisterCodec(newCodec())
}

type codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCodec() codec {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	enc, err := encOptions.EncMode()
	if err != nil {
		panic(fmt.Sprintf("rpc: invalid cbor encoding options: %v", err))
	}

	dec, err := cbor.DecOptions{DefaultMapType: reflect.TypeOf(map[string]any(nil))}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("rpc: invalid cbor decoding options: %v", err))
	}
	return codec{enc: enc, dec: dec}
}

func (c codec) Marshal(v any) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c codec) Unmarshal(data []byte, v any) error {
	return c.dec.Unmarshal(data, v)
}

func (codec) Name() string {
	return CodecName
}
