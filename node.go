package espresso

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	zmq "github.com/go-zeromq/zmq4"
)

// Node is one compute process of a simulation. It mirrors the
// coordinator's objects in its own ObjectTable, installing each replica
// under the coordinator-assigned id, and replays every broadcast
// operation against them.
type Node struct {
	name    string
	factory *Factory

	socket   zmq.Socket
	objects  ObjectTable
	running  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewNode creates a compute node that builds replicas with factory.
// The factory must register the same names as the coordinator's.
func NewNode(name string, factory *Factory) *Node {
	return &Node{
		name:    name,
		factory: factory,
		objects: make(ObjectTable),
		done:    make(chan struct{}),
	}
}

// Start connects to the coordinator, announces the node and begins the
// message loop. An empty endpoint falls back to the ESPRESSO_ENDPOINT
// environment variable.
func (nd *Node) Start(endpoint string) error {
	if endpoint == "" {
		endpoint = os.Getenv("ESPRESSO_ENDPOINT")
	}
	if endpoint == "" {
		return fmt.Errorf("need endpoint argument or ESPRESSO_ENDPOINT env")
	}

	nd.socket = zmq.NewDealer(context.Background())
	if err := nd.socket.Dial(endpoint); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	if err := nd.send(CreateAttach(nd.name)); err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}

	nd.running = true
	go nd.messageLoop()

	return nil
}

// StartService discovers the coordinator endpoint by simulation name
// and connects to it.
func (nd *Node) StartService(simulation string, timeout ...time.Duration) error {
	t := DiscoveryTimeout
	if len(timeout) > 0 {
		t = timeout[0]
	}

	endpoint, err := Discover(simulation, t)
	if err != nil {
		return fmt.Errorf("failed to discover simulation '%s': %w", simulation, err)
	}

	return nd.Start(endpoint)
}

// send packs msg and sends it with the DEALER envelope
func (nd *Node) send(msg *Envelope) error {
	data, err := msg.Pack()
	if err != nil {
		return err
	}

	// DEALER envelope: [empty_frame, message_data]
	return nd.socket.Send(zmq.NewMsgFrom([]byte{}, data))
}

// messageLoop handles incoming messages
func (nd *Node) messageLoop() {
	for nd.running {
		// DEALER socket receives: [empty_frame, message_data]
		msg, err := nd.socket.Recv()
		if err != nil {
			if nd.running {
				fmt.Fprintf(os.Stderr, "ERROR: Receive error: %v\n", err)
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		frames := msg.Frames
		if len(frames) >= 2 {
			nd.handleMessage(frames[1])
		}
	}
}

// handleMessage processes an incoming message
func (nd *Node) handleMessage(data []byte) {
	msg, err := UnpackEnvelope(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to unpack message: %v\n", err)
		return
	}

	// Validate app
	if msg.App != AppName {
		return
	}

	switch msg.Type {
	case string(MessageTypeCreate):
		nd.handleCreate(msg)
	case string(MessageTypeSet):
		nd.handleSet(msg)
	case string(MessageTypeCall):
		nd.handleCall(msg)
	case string(MessageTypeDelete):
		nd.handleDelete(msg)
	case string(MessageTypeShutdown):
		nd.running = false
		nd.stopOnce.Do(func() { close(nd.done) })
	}
}

// handleCreate installs a replica under the coordinator-assigned id
func (nd *Node) handleCreate(msg *Envelope) {
	id := ObjectId(msg.Object)
	if _, exists := nd.objects[id]; exists {
		nd.reply(CreateError(fmt.Sprintf("object %d already exists", msg.Object), msg.ID, nd.name))
		return
	}

	inst, err := nd.factory.Make(msg.Name)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	params, err := UnpackMap(msg.Params, nd.objects)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	obj := adoptObject(id, msg.Name, inst)
	if err := applyParameters(obj, params); err != nil {
		obj.Release()
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	// The table takes over the initial reference
	nd.objects[id] = obj
	nd.reply(CreateResponse(nil, msg.ID, nd.name))
}

// handleSet replays a parameter update on the replica
func (nd *Node) handleSet(msg *Envelope) {
	obj, err := nd.objects.Lookup(ObjectId(msg.Object))
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	params, err := UnpackMap(msg.Params, nd.objects)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	if err := applyParameters(obj, params); err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	nd.reply(CreateResponse(nil, msg.ID, nd.name))
}

// handleCall replays a method call on the replica
func (nd *Node) handleCall(msg *Envelope) {
	obj, err := nd.objects.Lookup(ObjectId(msg.Object))
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	params, err := UnpackMap(msg.Params, nd.objects)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	result, err := obj.CallMethod(msg.Name, params)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	var packed Packed
	if result != nil {
		var table ObjectTable
		packed, table = Pack(result)
		table.Release()
	}
	nd.reply(CreateResponse(packed, msg.ID, nd.name))
}

// handleDelete drops the replica
func (nd *Node) handleDelete(msg *Envelope) {
	id := ObjectId(msg.Object)
	obj, err := nd.objects.Lookup(id)
	if err != nil {
		nd.reply(CreateError(err.Error(), msg.ID, nd.name))
		return
	}

	delete(nd.objects, id)
	obj.Release()
	nd.reply(CreateResponse(nil, msg.ID, nd.name))
}

// reply sends a response back to the coordinator
func (nd *Node) reply(msg *Envelope) {
	if err := nd.send(msg); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to send reply: %v\n", err)
	}
}

// Stop stops the node and cleans up resources
func (nd *Node) Stop() {
	nd.running = false
	nd.stopOnce.Do(func() { close(nd.done) })

	if nd.socket != nil {
		nd.socket.Close()
	}

	nd.objects.Release()
}

// Run starts the node with signal handling (blocking)
func (nd *Node) Run(endpoint string) {
	// Setup signal handlers
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "Received signal, shutting down...")
		nd.Stop()
	}()

	// Start the node
	if err := nd.Start(endpoint); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	// Wait for shutdown
	<-nd.done
	nd.Stop()
}

// Name returns the node's name
func (nd *Node) Name() string {
	return nd.name
}

// IsRunning returns whether the node is running
func (nd *Node) IsRunning() bool {
	return nd.running
}

// Done returns a channel that closes when the node stops
func (nd *Node) Done() <-chan struct{} {
	return nd.done
}

// ObjectCount returns the number of live replicas (for debugging)
func (nd *Node) ObjectCount() int {
	return len(nd.objects)
}
