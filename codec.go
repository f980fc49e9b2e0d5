package espresso

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Wire encoding for Packed values: every alternative is a two-element
// msgpack array [tag, payload]. The tag byte is what lets a receiver
// reconstruct the exact alternative instead of whatever msgpack would
// guess from the payload alone.
type wireTag uint8

const (
	tagNone wireTag = iota
	tagBool
	tagInt
	tagFloat
	tagStr
	tagIntVector
	tagFloatVector
	tagVec2
	tagVec3
	tagVec4
	tagObject
	tagList
)

// Decode limits (DoS protection, same policy as envelope decoding).
const (
	maxWireArrayLen  = 100000
	maxWireStringLen = 100000
	maxWireDepth     = 64
)

// PackedValue adapts a single Packed value for embedding in msgpack
// structures such as Envelope.
type PackedValue struct {
	Value Packed
}

var (
	_ msgpack.CustomEncoder = (*PackedValue)(nil)
	_ msgpack.CustomDecoder = (*PackedValue)(nil)
)

// EncodeMsgpack implements msgpack.CustomEncoder.
func (p *PackedValue) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodePacked(enc, p.Value)
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (p *PackedValue) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := decodePacked(dec, 0)
	if err != nil {
		return err
	}
	p.Value = v
	return nil
}

// EncodeMsgpack implements msgpack.CustomEncoder. A PackedMap is
// encoded as an array of [key, value] pairs so entry order survives
// transmission, which a msgpack map would not guarantee.
func (m PackedMap) EncodeMsgpack(enc *msgpack.Encoder) error {
	if err := enc.EncodeArrayLen(len(m)); err != nil {
		return err
	}
	for _, entry := range m {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeString(entry.Key); err != nil {
			return err
		}
		if err := encodePacked(enc, entry.Value); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMsgpack implements msgpack.CustomDecoder.
func (m *PackedMap) DecodeMsgpack(dec *msgpack.Decoder) error {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return err
	}
	if n < 0 {
		*m = nil
		return nil
	}
	if n > maxWireArrayLen {
		return fmt.Errorf("packed map length %d exceeds limit %d", n, maxWireArrayLen)
	}
	out := make(PackedMap, 0, n)
	for i := 0; i < n; i++ {
		pairLen, err := dec.DecodeArrayLen()
		if err != nil {
			return err
		}
		if pairLen != 2 {
			return fmt.Errorf("packed map entry %d: expected [key, value] pair, got %d elements", i, pairLen)
		}
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		if len(key) > maxWireStringLen {
			return fmt.Errorf("packed map key length %d exceeds limit %d", len(key), maxWireStringLen)
		}
		value, err := decodePacked(dec, 0)
		if err != nil {
			return fmt.Errorf("packed map key '%s': %w", key, err)
		}
		out = append(out, PackedEntry{Key: key, Value: value})
	}
	*m = out
	return nil
}

// MarshalPacked encodes a single Packed value in the tagged wire form.
func MarshalPacked(p Packed) ([]byte, error) {
	return msgpack.Marshal(&PackedValue{Value: p})
}

// UnmarshalPacked decodes a single tagged Packed value.
func UnmarshalPacked(data []byte) (Packed, error) {
	var pv PackedValue
	if err := msgpack.Unmarshal(data, &pv); err != nil {
		return nil, err
	}
	return pv.Value, nil
}

func encodePacked(enc *msgpack.Encoder, p Packed) error {
	writeTag := func(t wireTag) error {
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		return enc.EncodeUint8(uint8(t))
	}

	switch v := p.(type) {
	case nil:
		return fmt.Errorf("cannot encode nil packed value")
	case None:
		if err := writeTag(tagNone); err != nil {
			return err
		}
		return enc.EncodeNil()
	case Bool:
		if err := writeTag(tagBool); err != nil {
			return err
		}
		return enc.EncodeBool(bool(v))
	case Int:
		if err := writeTag(tagInt); err != nil {
			return err
		}
		return enc.EncodeInt(int64(v))
	case Float:
		if err := writeTag(tagFloat); err != nil {
			return err
		}
		return enc.EncodeFloat64(float64(v))
	case Str:
		if err := writeTag(tagStr); err != nil {
			return err
		}
		return enc.EncodeString(string(v))
	case IntVector:
		if err := writeTag(tagIntVector); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, n := range v {
			if err := enc.EncodeInt(int64(n)); err != nil {
				return err
			}
		}
		return nil
	case FloatVector:
		if err := writeTag(tagFloatVector); err != nil {
			return err
		}
		return encodeFloats(enc, v)
	case Vec2:
		if err := writeTag(tagVec2); err != nil {
			return err
		}
		return encodeFloats(enc, v[:])
	case Vec3:
		if err := writeTag(tagVec3); err != nil {
			return err
		}
		return encodeFloats(enc, v[:])
	case Vec4:
		if err := writeTag(tagVec4); err != nil {
			return err
		}
		return encodeFloats(enc, v[:])
	case ObjectId:
		if err := writeTag(tagObject); err != nil {
			return err
		}
		return enc.EncodeUint64(uint64(v))
	case PackedList:
		if err := writeTag(tagList); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, el := range v {
			if err := encodePacked(enc, el); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode packed value of type %T", p)
	}
}

func decodePacked(dec *msgpack.Decoder, depth int) (Packed, error) {
	if depth > maxWireDepth {
		return nil, fmt.Errorf("packed value nesting exceeds limit %d", maxWireDepth)
	}

	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("expected [tag, payload] pair, got %d elements", n)
	}

	tag, err := dec.DecodeUint8()
	if err != nil {
		return nil, err
	}

	switch wireTag(tag) {
	case tagNone:
		if err := dec.DecodeNil(); err != nil {
			return nil, err
		}
		return None{}, nil
	case tagBool:
		b, err := dec.DecodeBool()
		if err != nil {
			return nil, err
		}
		return Bool(b), nil
	case tagInt:
		i, err := dec.DecodeInt64()
		if err != nil {
			return nil, err
		}
		return Int(i), nil
	case tagFloat:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case tagStr:
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		if len(s) > maxWireStringLen {
			return nil, fmt.Errorf("string length %d exceeds limit %d", len(s), maxWireStringLen)
		}
		return Str(s), nil
	case tagIntVector:
		length, err := decodeLen(dec)
		if err != nil {
			return nil, err
		}
		out := make(IntVector, length)
		for i := range out {
			n, err := dec.DecodeInt()
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case tagFloatVector:
		out, err := decodeFloats(dec, -1)
		if err != nil {
			return nil, err
		}
		return FloatVector(out), nil
	case tagVec2:
		out, err := decodeFloats(dec, 2)
		if err != nil {
			return nil, err
		}
		var v Vec2
		copy(v[:], out)
		return v, nil
	case tagVec3:
		out, err := decodeFloats(dec, 3)
		if err != nil {
			return nil, err
		}
		var v Vec3
		copy(v[:], out)
		return v, nil
	case tagVec4:
		out, err := decodeFloats(dec, 4)
		if err != nil {
			return nil, err
		}
		var v Vec4
		copy(v[:], out)
		return v, nil
	case tagObject:
		id, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		return ObjectId(id), nil
	case tagList:
		length, err := decodeLen(dec)
		if err != nil {
			return nil, err
		}
		out := make(PackedList, length)
		for i := range out {
			el, err := decodePacked(dec, depth+1)
			if err != nil {
				return nil, err
			}
			out[i] = el
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown wire tag %d", tag)
	}
}

func encodeFloats(enc *msgpack.Encoder, fs []float64) error {
	if err := enc.EncodeArrayLen(len(fs)); err != nil {
		return err
	}
	for _, f := range fs {
		if err := enc.EncodeFloat64(f); err != nil {
			return err
		}
	}
	return nil
}

// decodeFloats reads a float array; want < 0 accepts any length up to
// the wire limit, otherwise the length must match exactly.
func decodeFloats(dec *msgpack.Decoder, want int) ([]float64, error) {
	length, err := decodeLen(dec)
	if err != nil {
		return nil, err
	}
	if want >= 0 && length != want {
		return nil, fmt.Errorf("expected %d-component vector, got %d", want, length)
	}
	out := make([]float64, length)
	for i := range out {
		f, err := dec.DecodeFloat64()
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func decodeLen(dec *msgpack.Decoder) (int, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	if n > maxWireArrayLen {
		return 0, fmt.Errorf("array length %d exceeds limit %d", n, maxWireArrayLen)
	}
	return n, nil
}
