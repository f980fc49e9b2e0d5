package espresso

import "fmt"

// Pack converts a live value into its transmittable form. Every
// distinct object referenced anywhere in v ends up exactly once in the
// returned table, which holds shared ownership of it; the caller must
// keep the table alive (and eventually Release it) at least until the
// receiving side has resolved the transmitted identifiers. Pack never
// fails: a self-referential value is a precondition violation, not a
// runtime error.
func Pack(v Variant) (Packed, ObjectTable) {
	objects := make(ObjectTable)
	return v.pack(objects), objects
}

// PackMap packs every entry of m independently, preserving key order,
// and merges all discoveries into one table. An object referenced under
// several keys still occupies a single table entry.
func PackMap(m *VariantMap) (PackedMap, ObjectTable) {
	objects := make(ObjectTable)
	out := make(PackedMap, 0, m.Len())
	for _, key := range m.keys {
		out = append(out, PackedEntry{Key: key, Value: m.values[key].pack(objects)})
	}
	return out, objects
}

// Unpack converts a transmitted value back into live form, resolving
// identifiers against objects. Two occurrences of the same identifier
// resolve to the same object, so aliasing present in the packed value
// is reproduced exactly. Each resolved occurrence acquires shared
// ownership for the output value. The sole error condition is
// *UnknownReferenceError; on failure no caller-visible ownership is
// retained.
func Unpack(p Packed, objects ObjectTable) (Variant, error) {
	return p.unpack(objects)
}

// UnpackMap is the map-level counterpart of Unpack: key order and key
// set come through unchanged.
func UnpackMap(pm PackedMap, objects ObjectTable) (*VariantMap, error) {
	out := NewVariantMap()
	for _, entry := range pm {
		v, err := entry.Value.unpack(objects)
		if err != nil {
			for _, key := range out.keys {
				releaseValue(out.values[key])
			}
			return nil, err
		}
		out.Set(entry.Key, v)
	}
	return out, nil
}

// UnknownReferenceError is returned when a transmitted identifier has
// no entry in the supplied table. It always indicates an inconsistency
// between what the sender packed and what the receiver was given to
// resolve it against, so it must propagate rather than be defaulted.
type UnknownReferenceError struct {
	ID ObjectId
}

func (e *UnknownReferenceError) Error() string {
	return fmt.Sprintf("unknown object reference %d", uint64(e.ID))
}

// Scalar alternatives fold to themselves in both directions; only the
// reference and list alternatives carry real work. A new scalar needs
// exactly these two one-liners and nothing else.

func (v None) pack(ObjectTable) Packed        { return v }
func (v Bool) pack(ObjectTable) Packed        { return v }
func (v Int) pack(ObjectTable) Packed         { return v }
func (v Float) pack(ObjectTable) Packed       { return v }
func (v Str) pack(ObjectTable) Packed         { return v }
func (v IntVector) pack(ObjectTable) Packed   { return v }
func (v FloatVector) pack(ObjectTable) Packed { return v }
func (v Vec2) pack(ObjectTable) Packed        { return v }
func (v Vec3) pack(ObjectTable) Packed        { return v }
func (v Vec4) pack(ObjectTable) Packed        { return v }

func (r Ref) pack(objects ObjectTable) Packed {
	return objects.Insert(r.Object)
}

func (l List) pack(objects ObjectTable) Packed {
	out := make(PackedList, len(l))
	for i, el := range l {
		out[i] = el.pack(objects)
	}
	return out
}

func (v None) unpack(ObjectTable) (Variant, error)        { return v, nil }
func (v Bool) unpack(ObjectTable) (Variant, error)        { return v, nil }
func (v Int) unpack(ObjectTable) (Variant, error)         { return v, nil }
func (v Float) unpack(ObjectTable) (Variant, error)       { return v, nil }
func (v Str) unpack(ObjectTable) (Variant, error)         { return v, nil }
func (v IntVector) unpack(ObjectTable) (Variant, error)   { return v, nil }
func (v FloatVector) unpack(ObjectTable) (Variant, error) { return v, nil }
func (v Vec2) unpack(ObjectTable) (Variant, error)        { return v, nil }
func (v Vec3) unpack(ObjectTable) (Variant, error)        { return v, nil }
func (v Vec4) unpack(ObjectTable) (Variant, error)        { return v, nil }

func (id ObjectId) unpack(objects ObjectTable) (Variant, error) {
	obj, err := objects.Lookup(id)
	if err != nil {
		return nil, err
	}
	return Ref{Object: obj.Acquire()}, nil
}

func (l PackedList) unpack(objects ObjectTable) (Variant, error) {
	out := make(List, len(l))
	for i, el := range l {
		v, err := el.unpack(objects)
		if err != nil {
			releaseValue(out[:i])
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// releaseValue undoes the ownership acquired while building a partial
// result, so a failed unpack leaves nothing behind.
func releaseValue(v Variant) {
	switch v := v.(type) {
	case Ref:
		v.Object.Release()
	case List:
		for _, el := range v {
			releaseValue(el)
		}
	}
}
