package checkpoint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// JSONType is the type tag written by JSONCodec.
const JSONType = "json"

// Codec serializes checkpoint payloads to a tagged byte representation.
// The type tag lets the decoder select the right scheme if the payload
// format evolves.
type Codec interface {
	Encode(v any) (typeTag string, data []byte, err error)
	Decode(typeTag string, data []byte) (any, error)
}

// DecodeError indicates a stored checkpoint could not be decoded, either
// because its type tag is unrecognized or its bytes are malformed.
// Readers treat it as "no resumable checkpoint" rather than crashing the
// session.
type DecodeError struct {
	Tag string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode checkpoint (type %q): %v", e.Tag, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// JSONCodec encodes payloads as JSON. On decode, numeric leaves are
// normalized: integral values become int64, fractional values float64.
type JSONCodec struct{}

func (JSONCodec) Encode(v any) (string, []byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", nil, fmt.Errorf("encode checkpoint: %w", err)
	}
	return JSONType, data, nil
}

func (JSONCodec) Decode(typeTag string, data []byte) (any, error) {
	if typeTag != JSONType {
		return nil, &DecodeError{Tag: typeTag, Err: errors.New("unrecognized checkpoint type")}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &DecodeError{Tag: typeTag, Err: err}
	}
	return NormalizeNumbers(v), nil
}

// NormalizeNumbers recursively converts numeric leaves that arrive in an
// arbitrary-precision representation (json.Number, or decimal strings
// from stores without a native int/float distinction) into int64 when the
// value has no fractional part, float64 otherwise. Non-numeric values
// pass through unchanged.
func NormalizeNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, item := range val {
			val[k] = NormalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = NormalizeNumbers(item)
		}
		return val
	case json.Number:
		return normalizeNumber(val.String())
	default:
		return v
	}
}

// normalizeNumber converts a decimal string: integral values to int64,
// fractional values to float64. Unparseable input is returned verbatim.
func normalizeNumber(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}
	return f
}
