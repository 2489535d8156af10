// Package network carries typed messages over ARQ links and implements the
// discovery handshake between routers and the designated router.
//
// This package implements:
//   - Message: the typed envelope exchanged over links
//   - LinkOutput/LinkInput: asynchronous message queues over one Channel
//   - Router: the HELLO and neighbor/topology handshake every node performs
//   - DesignatedRouter: the coordinator that assembles and distributes topology
//   - RelayRouter: shortest-path forwarding for the point-to-point scenario
package network

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// MessageType determines the payload shape of a Message.
type MessageType string

const (
	Hello        MessageType = "HELLO"
	GetNeighbors MessageType = "GET_NEIGHBORS"
	SetNeighbors MessageType = "SET_NEIGHBORS"
	SetTopology  MessageType = "SET_TOPOLOGY"
	Data         MessageType = "DATA"
	Disconnect   MessageType = "DISCONNECT"
)

// ErrUnexpectedPayload is returned when a payload does not decode into the
// shape its type promises.
var ErrUnexpectedPayload = errors.New("unexpected message payload")

// Message is an application-level datagram.
type Message struct {
	Src  int             `json:"src"`
	Dst  *int            `json:"dst,omitempty"`
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage builds a message, encoding payload when it is non-nil.
func NewMessage(src int, dst *int, typ MessageType, payload any) (*Message, error) {
	msg := &Message{Src: src, Dst: dst, Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "encode %s payload", typ)
		}
		msg.Data = raw
	}
	return msg, nil
}

// To returns a destination pointer for id.
func To(id int) *int {
	return &id
}

// HasDst reports whether the message is addressed to id.
func (m *Message) HasDst(id int) bool {
	return m.Dst != nil && *m.Dst == id
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return errors.Wrapf(ErrUnexpectedPayload, "%s from %d has no payload", m.Type, m.Src)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return errors.Wrapf(ErrUnexpectedPayload, "%s from %d: %v", m.Type, m.Src, err)
	}
	return nil
}

// Marshal encodes the whole message for transmission.
func (m *Message) Marshal() ([]byte, error) {
	b, err := json.Marshal(m)
	return b, errors.Wrap(err, "encode message")
}

// UnmarshalMessage decodes bytes produced by Marshal.
func UnmarshalMessage(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, errors.Wrap(err, "decode message")
	}
	return &m, nil
}

// HelloData is the HELLO payload: the sender's output link index and send time.
type HelloData struct {
	LinkID    int       `json:"id"`
	StartTime time.Time `json:"start_time"`
}

// NeighborLink describes how a neighbor reaches this node.
type NeighborLink struct {
	LinkID int     `json:"link_id"`
	Weight float64 `json:"weight"`
}

// InputNeighbors maps a neighbor id to the link it uses to reach this node.
// Routers report it to the designated router in SET_NEIGHBORS.
type InputNeighbors map[int]NeighborLink

// Neighbors maps a neighbor id to this node's output link index. The
// designated router assigns it in SET_NEIGHBORS.
type Neighbors map[int]int
