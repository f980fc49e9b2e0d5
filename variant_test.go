package espresso

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariantMap_OrderAndUniqueness(t *testing.T) {
	t.Run("preserves insertion order", func(t *testing.T) {
		m := NewVariantMap()
		m.Set("z", Int(1))
		m.Set("a", Int(2))
		m.Set("m", Int(3))

		assert.Equal(t, []string{"z", "a", "m"}, m.Keys())
		assert.Equal(t, 3, m.Len())
	})

	t.Run("replacing a key keeps its position", func(t *testing.T) {
		m := NewVariantMap()
		m.Set("z", Int(1))
		m.Set("a", Int(2))
		m.Set("z", Str("updated"))

		assert.Equal(t, []string{"z", "a"}, m.Keys())
		assert.Equal(t, 2, m.Len())

		v, ok := m.Get("z")
		assert.True(t, ok)
		assert.Equal(t, Str("updated"), v)
	})

	t.Run("get on missing key", func(t *testing.T) {
		m := NewVariantMap()
		v, ok := m.Get("missing")
		assert.False(t, ok)
		assert.Nil(t, v)
	})

	t.Run("keys returns a copy", func(t *testing.T) {
		m := NewVariantMap()
		m.Set("a", Int(1))

		keys := m.Keys()
		keys[0] = "mutated"
		assert.Equal(t, []string{"a"}, m.Keys())
	})
}

func TestVariant_Alternatives(t *testing.T) {
	t.Run("every live alternative satisfies Variant", func(t *testing.T) {
		obj := NewObject("test", newStubInstance())
		defer obj.Release()

		alternatives := []Variant{
			None{},
			Bool(true),
			Int(42),
			Float(1.5),
			Str("abc"),
			IntVector{1, 2, 3},
			FloatVector{0.5, 1.5},
			Vec2{1, 2},
			Vec3{1, 2, 3},
			Vec4{1, 2, 3, 4},
			Ref{Object: obj},
			List{Int(1), Str("two")},
		}
		assert.Len(t, alternatives, 12)
	})

	t.Run("every wire alternative satisfies Packed", func(t *testing.T) {
		alternatives := []Packed{
			None{},
			Bool(true),
			Int(42),
			Float(1.5),
			Str("abc"),
			IntVector{1, 2, 3},
			FloatVector{0.5, 1.5},
			Vec2{1, 2},
			Vec3{1, 2, 3},
			Vec4{1, 2, 3, 4},
			ObjectId(7),
			PackedList{Int(1), Str("two")},
		}
		assert.Len(t, alternatives, 12)
	})
}
