// Package espresso implements the parameter-passing layer of a parallel
// simulation front-end: a coordinating process drives stateful objects
// (solvers, observables, boundary conditions) that are replicated on one
// or more compute processes, and every operation on them crosses the
// process boundary as a set of named variant values.
//
// # Architecture
//
// The package has three layers:
//
//   - Value model and pack engine: Variant is an open tagged union that
//     may embed live object references (Ref); Packed is its transmittable
//     twin with references replaced by process-local ObjectIds. Pack and
//     Unpack convert between the two, deduplicating references into an
//     ObjectTable so that aliasing survives the round trip.
//   - Wire codec: Packed values and PackedMaps ride inside msgpack
//     envelopes (Envelope) with uuid correlation ids.
//   - Transport: a Coordinator (ZeroMQ ROUTER, bind) broadcasts create /
//     set / call / delete envelopes to every attached Node (DEALER,
//     dial) and gathers one reply per node. Nodes resolve ObjectIds
//     against their own replica table.
//
// # Quick Start
//
// Coordinator side:
//
//	factory := espresso.NewFactory()
//	factory.Register("Observables::DensityProfile", newDensityProfile)
//
//	coord := espresso.NewCoordinator(factory)
//	if err := coord.Listen(fmt.Sprintf("tcp://*:%d", port)); err != nil {
//	    log.Fatal(err)
//	}
//	defer coord.Close()
//
//	params := espresso.NewVariantMap()
//	params.Set("n_bins", espresso.Int(128))
//	obj, err := coord.CreateObject(ctx, "Observables::DensityProfile", params)
//	result, err := coord.CallMethod(ctx, obj, "calculate", nil)
//
// Compute side:
//
//	node := espresso.NewNode("node-0", factory)
//	node.Run("tcp://localhost:5555")
//
// Pack and Unpack are also usable standalone, for any transport that can
// carry a PackedMap and keep per-process ObjectTables consistent.
package espresso

// Version is the current library version
const Version = "1.0.0"
