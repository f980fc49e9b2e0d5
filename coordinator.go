package espresso

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	zmq "github.com/go-zeromq/zmq4"
)

// Coordinator drives a simulation from the controlling process. It owns
// the master copy of every object, assigns object ids, and turns each
// operation into a broadcast: the arguments are packed once and the
// identical bytes go to every attached compute node, which resolves
// them against its own replica table. An operation completes when every
// node has replied.
type Coordinator struct {
	factory *Factory

	socket     zmq.Socket
	endpoint   string
	simulation string

	mu      sync.RWMutex
	nodes   map[string][]byte // node name -> ROUTER identity
	objects ObjectTable       // master objects, keyed by the ids the nodes mirror
	running bool
	closed  bool

	pmu     sync.Mutex
	pending map[string]*broadcastPending

	metrics  *Metrics
	stopChan chan struct{}
}

// broadcastPending gathers one reply per node for an in-flight
// broadcast. errs is only written before done is closed.
type broadcastPending struct {
	remaining int
	errs      []error
	done      chan struct{}
}

// NewCoordinator creates a coordinator that builds master instances
// with factory.
func NewCoordinator(factory *Factory) *Coordinator {
	return &Coordinator{
		factory:  factory,
		nodes:    make(map[string][]byte),
		objects:  make(ObjectTable),
		pending:  make(map[string]*broadcastPending),
		metrics:  NewMetrics(0, 0),
		stopChan: make(chan struct{}),
	}
}

// Listen binds the ROUTER socket and starts the message loop.
func (c *Coordinator) Listen(endpoint string) error {
	c.socket = zmq.NewRouter(context.Background())
	if err := c.socket.Listen(endpoint); err != nil {
		return fmt.Errorf("failed to bind to %s: %w", endpoint, err)
	}
	c.endpoint = endpoint

	c.mu.Lock()
	c.running = true
	c.mu.Unlock()

	go c.messageLoop()
	return nil
}

// ListenService binds a free port and registers the endpoint under the
// simulation name so independently started nodes can discover it.
func (c *Coordinator) ListenService(simulation string) (string, error) {
	port, err := findFreePort()
	if err != nil {
		return "", err
	}
	if err := c.Listen(fmt.Sprintf("tcp://*:%d", port)); err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("tcp://localhost:%d", port)
	if err := Register(simulation, endpoint); err != nil {
		return "", fmt.Errorf("failed to register simulation: %w", err)
	}
	c.simulation = simulation

	return endpoint, nil
}

// messageLoop handles incoming ZMQ messages
func (c *Coordinator) messageLoop() {
	for c.isRunning() {
		select {
		case <-c.stopChan:
			return
		default:
		}

		// ROUTER socket receives: [sender_id, empty_frame, message_data]
		msg, err := c.socket.Recv()
		if err != nil {
			if c.isRunning() {
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}

		frames := msg.Frames
		if len(frames) >= 3 {
			c.handleMessage(frames[0], frames[2])
		}
	}
}

// handleMessage processes an incoming message
func (c *Coordinator) handleMessage(ident []byte, data []byte) {
	msg, err := UnpackEnvelope(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to unpack message: %v\n", err)
		return
	}

	// Validate app
	if msg.App != AppName || msg.ID == "" {
		return
	}

	switch msg.Type {
	case string(MessageTypeAttach):
		c.attachNode(msg.Node, ident)
	case string(MessageTypeResponse), string(MessageTypeError):
		c.handleReply(msg)
	}
}

// attachNode records a compute node's ROUTER identity under its name.
// Re-attaching under a known name replaces the identity (node restart).
func (c *Coordinator) attachNode(name string, ident []byte) {
	if name == "" {
		name = fmt.Sprintf("node-%x", ident)
	}

	c.mu.Lock()
	_, known := c.nodes[name]
	c.nodes[name] = append([]byte(nil), ident...)
	c.mu.Unlock()

	if !known {
		c.metrics.RecordNodeAttached()
	}
}

// handleReply resolves one node's reply against the pending broadcast
func (c *Coordinator) handleReply(msg *Envelope) {
	c.pmu.Lock()
	defer c.pmu.Unlock()

	p, ok := c.pending[msg.ID]
	if !ok {
		return
	}

	if msg.Type == string(MessageTypeError) {
		p.errs = append(p.errs, &RemoteCallError{Node: msg.Node, Message: msg.Error})
	}
	p.remaining--
	if p.remaining <= 0 {
		delete(c.pending, msg.ID)
		close(p.done)
	}
}

// broadcast packs env once and sends the identical bytes to every
// attached node, then blocks until each has replied or ctx expires.
// With no nodes attached it is a no-op: the coordinator alone is a
// valid single-process simulation.
func (c *Coordinator) broadcast(ctx context.Context, env *Envelope) error {
	c.mu.RLock()
	if !c.running {
		c.mu.RUnlock()
		return fmt.Errorf("coordinator is not running")
	}
	idents := make([][]byte, 0, len(c.nodes))
	for _, ident := range c.nodes {
		idents = append(idents, ident)
	}
	c.mu.RUnlock()

	if len(idents) == 0 {
		return nil
	}

	data, err := env.Pack()
	if err != nil {
		return fmt.Errorf("failed to pack envelope: %w", err)
	}

	p := &broadcastPending{remaining: len(idents), done: make(chan struct{})}
	c.pmu.Lock()
	c.pending[env.ID] = p
	c.pmu.Unlock()

	// Cleanup on exit (timeout path; the reply path removes it itself)
	defer func() {
		c.pmu.Lock()
		delete(c.pending, env.ID)
		c.pmu.Unlock()
	}()

	start := c.metrics.StartBroadcast()

	for _, ident := range idents {
		// ROUTER envelope: [node_id, empty_frame, message_data]
		zmqMsg := zmq.NewMsgFrom(ident, []byte{}, data)
		if err := c.socket.Send(zmqMsg); err != nil {
			c.metrics.EndBroadcast(start, false)
			return fmt.Errorf("failed to send broadcast: %w", err)
		}
	}

	select {
	case <-ctx.Done():
		c.metrics.EndBroadcast(start, false)
		return ctx.Err()
	case <-p.done:
	}

	if len(p.errs) > 0 {
		c.metrics.EndBroadcast(start, false)
		return errors.Join(p.errs...)
	}

	c.metrics.EndBroadcast(start, true)
	return nil
}

// CreateObject builds a master instance locally, applies the
// parameters, and broadcasts the creation together with the assigned id
// so every node installs its replica under the same identifier. The
// returned object is owned by both the caller and the coordinator.
func (c *Coordinator) CreateObject(ctx context.Context, name string, params *VariantMap) (*Object, error) {
	if params == nil {
		params = NewVariantMap()
	}

	inst, err := c.factory.Make(name)
	if err != nil {
		return nil, err
	}

	obj := NewObject(name, inst)
	if err := applyParameters(obj, params); err != nil {
		obj.Release()
		return nil, err
	}

	packed, table := PackMap(params)
	defer table.Release()

	if err := c.broadcast(ctx, CreateCreation(name, obj.ID(), packed)); err != nil {
		obj.Release()
		return nil, err
	}

	c.mu.Lock()
	c.objects.Insert(obj)
	c.mu.Unlock()
	c.metrics.RecordObjectCreated()

	return obj, nil
}

// SetParameter updates one parameter on the master instance and
// broadcasts the same update to every replica.
func (c *Coordinator) SetParameter(ctx context.Context, obj *Object, name string, value Variant) error {
	if err := obj.SetParameter(name, value); err != nil {
		return err
	}

	params := NewVariantMap()
	params.Set(name, value)
	packed, table := PackMap(params)
	defer table.Release()

	return c.broadcast(ctx, CreateSet(obj.ID(), packed))
}

// CallMethod packs the arguments once, broadcasts the call, then runs
// the same method on the local master instance and returns its result.
// Replica failures surface as the call's error; replica results are
// acknowledgements only, since every process computes the same thing.
func (c *Coordinator) CallMethod(ctx context.Context, obj *Object, method string, params *VariantMap) (Variant, error) {
	if params == nil {
		params = NewVariantMap()
	}

	packed, table := PackMap(params)
	defer table.Release()

	if err := c.broadcast(ctx, CreateCall(obj.ID(), method, packed)); err != nil {
		return nil, err
	}

	return obj.CallMethod(method, params)
}

// DeleteObject broadcasts the deletion and drops the coordinator's
// ownership of the master object. References the caller still holds
// stay valid until released.
func (c *Coordinator) DeleteObject(ctx context.Context, obj *Object) error {
	if err := c.broadcast(ctx, CreateDeletion(obj.ID())); err != nil {
		return err
	}

	c.mu.Lock()
	if _, ok := c.objects[obj.ID()]; ok {
		delete(c.objects, obj.ID())
		obj.Release()
	}
	c.mu.Unlock()
	c.metrics.RecordObjectDeleted()

	return nil
}

// NodeCount returns the number of attached compute nodes
func (c *Coordinator) NodeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nodes)
}

// WaitForNodes blocks until at least n nodes have attached or ctx
// expires.
func (c *Coordinator) WaitForNodes(ctx context.Context, n int) error {
	for {
		if c.NodeCount() >= n {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Metrics returns the coordinator's metrics collector
func (c *Coordinator) Metrics() *Metrics {
	return c.metrics
}

// Endpoint returns the bound endpoint
func (c *Coordinator) Endpoint() string {
	return c.endpoint
}

// IsRunning returns whether the coordinator is running
func (c *Coordinator) IsRunning() bool {
	return c.isRunning()
}

func (c *Coordinator) isRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Close stops the coordinator: nodes get a best-effort shutdown notice,
// in-flight broadcasts fail, the registry entry is removed and the
// master objects are released.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.running = false
	idents := make([][]byte, 0, len(c.nodes))
	for _, ident := range c.nodes {
		idents = append(idents, ident)
	}
	c.mu.Unlock()

	// Best-effort shutdown notice
	if data, err := CreateShutdown().Pack(); err == nil {
		for _, ident := range idents {
			_ = c.socket.Send(zmq.NewMsgFrom(ident, []byte{}, data))
		}
	}

	close(c.stopChan)

	// Fail anything still in flight
	c.pmu.Lock()
	for id, p := range c.pending {
		p.errs = append(p.errs, fmt.Errorf("coordinator shutting down"))
		delete(c.pending, id)
		close(p.done)
	}
	c.pmu.Unlock()

	// Cleanup registry entry
	if c.simulation != "" {
		if err := Unregister(c.simulation); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to unregister simulation: %v\n", err)
		}
	}

	if c.socket != nil {
		c.socket.Close()
	}

	c.mu.Lock()
	c.objects.Release()
	c.mu.Unlock()

	return nil
}

// applyParameters feeds every entry of params into obj in map order.
func applyParameters(obj *Object, params *VariantMap) error {
	for _, key := range params.Keys() {
		value, _ := params.Get(key)
		if err := obj.SetParameter(key, value); err != nil {
			return fmt.Errorf("parameter '%s': %w", key, err)
		}
	}
	return nil
}
