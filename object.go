package espresso

import (
	"io"
	"sync/atomic"
)

// ObjectId identifies a live object within one process's lifetime. Ids
// come from a process-wide monotonic counter assigned at creation, so
// two handles to the same object always carry the same id and distinct
// objects can never collide. Ids are not portable across process
// restarts: a transmitted id is only meaningful together with a
// receiver-side ObjectTable that resolves it.
type ObjectId uint64

// Instance is the stateful behavior behind an Object: whatever a
// concrete solver, observable or boundary condition actually does.
// Implementations that also implement io.Closer are closed when the
// last shared owner releases the object.
type Instance interface {
	SetParameter(name string, value Variant) error
	GetParameter(name string) (Variant, error)
	CallMethod(name string, params *VariantMap) (Variant, error)
}

var nextObjectId atomic.Uint64

// Object is a shared-ownership handle to an Instance. Any number of
// Variants, ObjectTables and the component that created the object may
// hold it at once; the instance lives until the last holder releases.
// An Object is never serialized by value, only by its id.
type Object struct {
	id   ObjectId
	name string
	refs atomic.Int64

	Instance
}

// NewObject wraps inst in a fresh handle with the next process-local
// id. The caller holds the initial reference.
func NewObject(name string, inst Instance) *Object {
	return adoptObject(ObjectId(nextObjectId.Add(1)), name, inst)
}

// adoptObject wraps inst under a caller-chosen id. Compute nodes use
// this to install replicas under the coordinator-assigned id, which is
// what keeps tables consistent across processes.
func adoptObject(id ObjectId, name string, inst Instance) *Object {
	o := &Object{id: id, name: name, Instance: inst}
	o.refs.Store(1)
	return o
}

// ID returns the object's process-local identifier.
func (o *Object) ID() ObjectId { return o.id }

// Name returns the factory name the object was created under.
func (o *Object) Name() string { return o.name }

// Acquire adds one shared owner and returns o for chaining.
func (o *Object) Acquire() *Object {
	o.refs.Add(1)
	return o
}

// Release drops one shared owner. When the last owner releases, the
// underlying instance is closed if it implements io.Closer.
func (o *Object) Release() {
	if o.refs.Add(-1) == 0 {
		if c, ok := o.Instance.(io.Closer); ok {
			c.Close()
		}
	}
}

// RefCount returns the current number of shared owners.
func (o *Object) RefCount() int64 {
	return o.refs.Load()
}

// ObjectTable maps identifiers to the objects they stand for, holding
// shared ownership of each. Pack builds one incrementally on the
// sending side; Unpack consumes one read-only on the receiving side.
// Tables are per-call state, never cached by this package, and must not
// be mutated concurrently with a pack or unpack that uses them.
type ObjectTable map[ObjectId]*Object

// Insert records obj under its id, acquiring shared ownership the first
// time the object is seen. Inserting an object that is already present
// leaves the existing entry intact, so the table holds exactly one
// entry per distinct object no matter how many positions reference it.
func (t ObjectTable) Insert(obj *Object) ObjectId {
	id := obj.ID()
	if _, ok := t[id]; !ok {
		t[id] = obj.Acquire()
	}
	return id
}

// Lookup resolves id to its object, or fails with
// *UnknownReferenceError if the table has no entry for it.
func (t ObjectTable) Lookup(id ObjectId) (*Object, error) {
	obj, ok := t[id]
	if !ok {
		return nil, &UnknownReferenceError{ID: id}
	}
	return obj, nil
}

// Release drops the table's ownership of every object it holds and
// empties it. Callers do this once the transport step that needed the
// table has completed.
func (t ObjectTable) Release() {
	for id, obj := range t {
		obj.Release()
		delete(t, id)
	}
}
