package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

// decode turns data supplied in enc into raw bytes.
func decode(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingUTF8, EncodingBinary:
		return data, nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(out, data)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 data: %w", err)
		}
		return out[:n], nil
	case EncodingHex:
		out := make([]byte, hex.DecodedLen(len(data)))
		n, err := hex.Decode(out, data)
		if err != nil {
			return nil, fmt.Errorf("invalid hex data: %w", err)
		}
		return out[:n], nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}

// encode renders raw bytes in enc.
func encode(data []byte, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingUTF8, EncodingBinary:
		return data, nil
	case EncodingBase64:
		out := make([]byte, base64.StdEncoding.EncodedLen(len(data)))
		base64.StdEncoding.Encode(out, data)
		return out, nil
	case EncodingHex:
		out := make([]byte, hex.EncodedLen(len(data)))
		hex.Encode(out, data)
		return out, nil
	}
	return nil, fmt.Errorf("unsupported encoding %q", enc)
}
