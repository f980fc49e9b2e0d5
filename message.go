package espresso

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

const AppName = "espresso_ipc_v1"

// MessageType represents the type of a protocol envelope
type MessageType string

const (
	MessageTypeAttach   MessageType = "attach"
	MessageTypeCreate   MessageType = "create"
	MessageTypeSet      MessageType = "set"
	MessageTypeCall     MessageType = "call"
	MessageTypeDelete   MessageType = "delete"
	MessageTypeResponse MessageType = "response"
	MessageTypeError    MessageType = "error"
	MessageTypeShutdown MessageType = "shutdown"
)

// Envelope is one protocol message between the coordinator and its
// compute nodes. Payload fields carry only transmittable forms:
// parameter sets as PackedMap, single values as PackedValue, objects by
// id.
type Envelope struct {
	App       string       `msgpack:"app"`
	ID        string       `msgpack:"id"`
	Type      string       `msgpack:"type"`
	Timestamp float64      `msgpack:"timestamp"`
	Name      string       `msgpack:"name,omitempty"`
	Object    uint64       `msgpack:"object,omitempty"`
	Params    PackedMap    `msgpack:"params,omitempty"`
	Value     *PackedValue `msgpack:"value,omitempty"`
	Error     string       `msgpack:"error,omitempty"`
	Node      string       `msgpack:"node,omitempty"`
}

// NewEnvelope creates a new envelope with defaults
func NewEnvelope() *Envelope {
	return &Envelope{
		App:       AppName,
		ID:        uuid.New().String(),
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
	}
}

// CreateAttach creates the message a node sends on connecting
func CreateAttach(node string) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeAttach)
	msg.Node = node
	return msg
}

// CreateCreation creates an object-creation broadcast. The coordinator
// assigns the id; every node installs its replica under it, which is
// what keeps object tables consistent across processes.
func CreateCreation(name string, id ObjectId, params PackedMap) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeCreate)
	msg.Name = name
	msg.Object = uint64(id)
	msg.Params = params
	return msg
}

// CreateSet creates a parameter-update broadcast
func CreateSet(id ObjectId, params PackedMap) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeSet)
	msg.Object = uint64(id)
	msg.Params = params
	return msg
}

// CreateCall creates a method-call broadcast
func CreateCall(id ObjectId, method string, params PackedMap) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeCall)
	msg.Object = uint64(id)
	msg.Name = method
	msg.Params = params
	return msg
}

// CreateDeletion creates an object-deletion broadcast
func CreateDeletion(id ObjectId) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeDelete)
	msg.Object = uint64(id)
	return msg
}

// CreateResponse creates a node's reply to a broadcast
func CreateResponse(result Packed, msgID string, node string) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeResponse)
	msg.ID = msgID
	msg.Node = node
	if result != nil {
		msg.Value = &PackedValue{Value: result}
	}
	return msg
}

// CreateError creates a node's failure reply
func CreateError(err string, msgID string, node string) *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeError)
	msg.Error = err
	msg.ID = msgID
	msg.Node = node
	return msg
}

// CreateShutdown creates a shutdown broadcast
func CreateShutdown() *Envelope {
	msg := NewEnvelope()
	msg.Type = string(MessageTypeShutdown)
	return msg
}

// Pack serializes the envelope to msgpack
func (m *Envelope) Pack() ([]byte, error) {
	return msgpack.Marshal(m)
}

const maxMessageSize = 10 * 1024 * 1024 // 10MB

// UnpackEnvelope deserializes an envelope from msgpack with safety
// validations. Payload limits (array lengths, string sizes, nesting
// depth) are enforced by the Packed decoder itself.
func UnpackEnvelope(data []byte) (*Envelope, error) {
	// Check message size limit (DoS protection)
	if len(data) > maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds limit %d", len(data), maxMessageSize)
	}

	var msg Envelope
	err := msgpack.Unmarshal(data, &msg)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	// Validate timestamp for NaN/Infinity
	if math.IsNaN(msg.Timestamp) || math.IsInf(msg.Timestamp, 0) {
		msg.Timestamp = 0.0
	}

	return &msg, nil
}

// RemoteCallError represents a failure reported by a compute node
type RemoteCallError struct {
	Node    string
	Message string
	Err     error
}

func (e *RemoteCallError) Error() string {
	msg := e.Message
	if e.Node != "" {
		msg = fmt.Sprintf("node '%s': %s", e.Node, e.Message)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support
func (e *RemoteCallError) Unwrap() error {
	return e.Err
}
