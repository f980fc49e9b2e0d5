package espresso

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCodec_PackedRoundTrip(t *testing.T) {
	cases := []struct {
		name  string
		value Packed
	}{
		{"none", None{}},
		{"bool", Bool(true)},
		{"negative int", Int(-42)},
		{"float", Float(3.25)},
		{"string", Str("density_profile")},
		{"int vector", IntVector{1, -2, 3}},
		{"empty int vector", IntVector{}},
		{"float vector", FloatVector{0.5, -1.5}},
		{"vec2", Vec2{1, 2}},
		{"vec3", Vec3{1, 2, 3}},
		{"vec4", Vec4{1, 2, 3, 4}},
		{"object id", ObjectId(1234567890)},
		{"nested list", PackedList{Int(3), Str("abc"), PackedList{Bool(true), ObjectId(9)}}},
		{"empty list", PackedList{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := MarshalPacked(tc.value)
			require.NoError(t, err)

			got, err := UnmarshalPacked(data)
			require.NoError(t, err)
			assert.Equal(t, tc.value, got)
		})
	}
}

func TestCodec_PackedMapRoundTrip(t *testing.T) {
	t.Run("order and keys survive", func(t *testing.T) {
		pm := PackedMap{
			{Key: "z", Value: Int(1)},
			{Key: "a", Value: ObjectId(7)},
			{Key: "m", Value: PackedList{Str("x"), None{}}},
		}

		data, err := msgpack.Marshal(pm)
		require.NoError(t, err)

		var got PackedMap
		require.NoError(t, msgpack.Unmarshal(data, &got))
		assert.Equal(t, pm, got)
	})

	t.Run("empty map", func(t *testing.T) {
		data, err := msgpack.Marshal(PackedMap{})
		require.NoError(t, err)

		var got PackedMap
		require.NoError(t, msgpack.Unmarshal(data, &got))
		assert.Len(t, got, 0)
	})
}

func TestCodec_Errors(t *testing.T) {
	t.Run("nil packed value cannot be encoded", func(t *testing.T) {
		_, err := MarshalPacked(nil)
		assert.Error(t, err)
	})

	t.Run("unknown tag is rejected", func(t *testing.T) {
		var buf []byte
		buf = append(buf, 0x92)       // 2-element array
		buf = append(buf, 0xcc, 0xff) // uint8 tag 255
		buf = append(buf, 0xc0)       // nil payload

		_, err := UnmarshalPacked(buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown wire tag")
	})

	t.Run("truncated data is rejected", func(t *testing.T) {
		data, err := MarshalPacked(PackedList{Int(1), Int(2)})
		require.NoError(t, err)

		_, err = UnmarshalPacked(data[:len(data)-1])
		assert.Error(t, err)
	})

	t.Run("wrong vector arity is rejected", func(t *testing.T) {
		// A Vec3 payload under the Vec2 tag
		var buf []byte
		buf = append(buf, 0x92)                // [tag, payload]
		buf = append(buf, 0xcc, byte(tagVec2)) // tag
		buf = append(buf, 0x93)                // 3-element payload
		for i := 0; i < 3; i++ {
			data, err := msgpack.Marshal(float64(i))
			require.NoError(t, err)
			buf = append(buf, data...)
		}

		_, err := UnmarshalPacked(buf)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2-component")
	})
}
