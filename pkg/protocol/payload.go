package protocol

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MarshalPayload encodes v per the serialization method and then applies
// compression. With [SerializationNone] v must be a []byte and passes
// through untouched before compression; with [SerializationJSON] non-ASCII
// text is emitted as literal UTF-8. Thrift and the custom slots are
// rejected with [ErrUnsupportedSerialization].
func MarshalPayload(v any, ser Serialization, comp Compression) ([]byte, error) {
	var data []byte
	switch ser {
	case SerializationJSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal json: %w", err)
		}
		data = b
	case SerializationNone:
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("protocol: raw payload must be []byte, got %T", v)
		}
		data = b
	default:
		return nil, fmt.Errorf("protocol: serialization %#04b: %w", byte(ser), ErrUnsupportedSerialization)
	}
	return compress(data, comp)
}

// UnmarshalPayload reverses [MarshalPayload]: decompress first, then decode
// per the serialization method. The returned bytes are the raw payload;
// JSON payloads are validated but returned undecoded so callers can
// unmarshal into typed structs. Gzip corruption and invalid JSON surface as
// a [*DecodeError].
func UnmarshalPayload(data []byte, ser Serialization, comp Compression) ([]byte, error) {
	data, err := decompress(data, comp)
	if err != nil {
		return nil, err
	}
	if ser == SerializationJSON && !json.Valid(data) {
		return nil, &DecodeError{Stage: "json", Err: errors.New("invalid json payload")}
	}
	return data, nil
}

func compress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, fmt.Errorf("protocol: gzip payload: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("protocol: gzip payload: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("protocol: compression %#04b: %w", byte(comp), ErrUnsupportedCompression)
	}
}

func decompress(data []byte, comp Compression) ([]byte, error) {
	switch comp {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, &DecodeError{Stage: "gzip", Err: err}
		}
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, &DecodeError{Stage: "gzip", Err: err}
		}
		if err := zr.Close(); err != nil {
			return nil, &DecodeError{Stage: "gzip", Err: err}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("protocol: compression %#04b: %w", byte(comp), ErrUnsupportedCompression)
	}
}
