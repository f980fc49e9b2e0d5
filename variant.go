package espresso

// Variant is the live form of a parameter value: an open tagged union
// whose alternatives cover the scalar and vector types the scripting
// front-end passes around, plus live object references (Ref) and
// heterogeneous nested lists (List).
//
// The union is sealed: every alternative implements the unexported pack
// fold, so the compiler rejects any alternative that the pack engine
// does not handle. Recursion must be well-founded — a Variant must not
// contain itself, directly or transitively; violating that is a caller
// error, not a representable state.
type Variant interface {
	// pack folds one alternative into its transmittable form, recording
	// every distinct referenced object in objects.
	pack(objects ObjectTable) Packed
}

// Packed is the transmittable twin of Variant: structurally identical,
// except that the object-reference alternative is replaced by ObjectId.
// It is the only form that may be copied, transmitted or stored
// verbatim. Like Variant it is sealed, through the unexported unpack
// fold.
type Packed interface {
	// unpack folds one alternative back into live form, resolving
	// identifiers against objects.
	unpack(objects ObjectTable) (Variant, error)
}

// None is the absent value.
type None struct{}

// Bool is the boolean alternative.
type Bool bool

// Int is the integer alternative.
type Int int

// Float is the floating-point alternative.
type Float float64

// Str is the text alternative.
type Str string

// IntVector is an ordered sequence of integers.
type IntVector []int

// FloatVector is an ordered sequence of floating-point numbers.
type FloatVector []float64

// Vec2 is a 2-component numeric vector.
type Vec2 [2]float64

// Vec3 is a 3-component numeric vector.
type Vec3 [3]float64

// Vec4 is a 4-component numeric vector.
type Vec4 [4]float64

// Ref is a live reference to a stateful object. It exists only in the
// live form; packing turns it into the object's ObjectId.
type Ref struct {
	Object *Object
}

// List is an ordered sequence of Variants. Elements need not share a
// type, and lists may nest arbitrarily deep.
type List []Variant

// PackedList is the transmittable counterpart of List.
type PackedList []Packed

// VariantMap is an insertion-ordered, key-unique set of named Variants,
// used to pass parameter sets between processes. Order is significant:
// it is preserved through pack/unpack so argument lists are reproduced
// identically on every process.
type VariantMap struct {
	keys   []string
	values map[string]Variant
}

// NewVariantMap creates an empty VariantMap.
func NewVariantMap() *VariantMap {
	return &VariantMap{values: make(map[string]Variant)}
}

// Set inserts or replaces the value under key. A replaced key keeps its
// original position, so keys can never duplicate and order is stable.
func (m *VariantMap) Set(key string, v Variant) {
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = v
}

// Get returns the value under key.
func (m *VariantMap) Get(key string) (Variant, bool) {
	v, ok := m.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (m *VariantMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *VariantMap) Len() int {
	return len(m.keys)
}

// PackedEntry is one named transmittable value.
type PackedEntry struct {
	Key   string
	Value Packed
}

// PackedMap is the transmittable counterpart of VariantMap: an ordered
// sequence of key/value pairs with unique keys.
type PackedMap []PackedEntry
