package linklayer

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
)

// SentinelID marks the packet that closes a stream.
const SentinelID = -1

// Common errors for channel operations
var (
	ErrChannelClosed = errors.New("channel is closed")
)

// Packet is one transport-layer unit: a sequence id and exactly one byte of
// payload, or the sentinel with an empty payload.
type Packet struct {
	Stream uint64 `json:"stream"`
	ID     int    `json:"id"`
	Data   []byte `json:"data,omitempty"`
}

// IsSentinel reports whether the packet closes its stream.
func (p Packet) IsSentinel() bool {
	return p.ID == SentinelID
}

// Ack acknowledges one packet id of one stream.
type Ack struct {
	Stream uint64 `json:"stream"`
	ID     int    `json:"id"`
}

// Channel is a bidirectional medium between exactly two ARQ endpoints.
// Packets travel forward, acks travel back; each direction is FIFO.
type Channel interface {
	Send(p Packet) error
	SendBatch(packets []Packet) error
	Ack(a Ack) error
	HasPending() bool
	HasPendingAck() bool
	Receive(ctx context.Context) (Packet, error)
	ReceiveAck(ctx context.Context) (Ack, error)
	Close() error
}

// MemoryChannel is an in-process Channel backed by two unbounded queues.
type MemoryChannel struct {
	packets *Queue[Packet]
	acks    *Queue[Ack]
	closed  atomic.Bool
}

// NewMemoryChannel creates an empty in-memory channel.
func NewMemoryChannel() *MemoryChannel {
	return &MemoryChannel{
		packets: NewQueue[Packet](),
		acks:    NewQueue[Ack](),
	}
}

// Send enqueues a packet on the forward queue.
func (c *MemoryChannel) Send(p Packet) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.packets.Push(p)
	return nil
}

// SendBatch enqueues packets in order; no other packet interleaves them.
func (c *MemoryChannel) SendBatch(packets []Packet) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.packets.Push(packets...)
	return nil
}

// Ack enqueues an acknowledgment on the reverse queue.
func (c *MemoryChannel) Ack(a Ack) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.acks.Push(a)
	return nil
}

// HasPending reports whether a packet is waiting to be received.
func (c *MemoryChannel) HasPending() bool {
	return !c.packets.Empty()
}

// HasPendingAck reports whether an acknowledgment is waiting.
func (c *MemoryChannel) HasPendingAck() bool {
	return !c.acks.Empty()
}

// Receive blocks until a packet is available.
func (c *MemoryChannel) Receive(ctx context.Context) (Packet, error) {
	return c.packets.Pop(ctx)
}

// ReceiveAck blocks until an acknowledgment is available.
func (c *MemoryChannel) ReceiveAck(ctx context.Context) (Ack, error) {
	return c.acks.Pop(ctx)
}

// Close rejects further sends. Queued items stay receivable.
func (c *MemoryChannel) Close() error {
	c.closed.Store(true)
	return nil
}
