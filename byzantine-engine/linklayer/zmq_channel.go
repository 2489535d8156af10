package linklayer

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// ZmqChannel is a Channel whose two directions travel over in-process
// ZeroMQ PAIR sockets. Background pumps drain the sockets into local queues
// so HasPending and HasPendingAck stay non-blocking.
type ZmqChannel struct {
	name string

	ctx    context.Context
	cancel context.CancelFunc

	dataTx zmq4.Socket // sender side, dials
	dataRx zmq4.Socket // receiver side, listens
	ackTx  zmq4.Socket // receiver side, dials
	ackRx  zmq4.Socket // sender side, listens

	packets *Queue[Packet]
	acks    *Queue[Ack]

	dataMu sync.Mutex
	ackMu  sync.Mutex

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewZmqChannel creates a channel bound to inproc endpoints derived from name.
// Start must be called before use.
func NewZmqChannel(name string) *ZmqChannel {
	ctx, cancel := context.WithCancel(context.Background())
	return &ZmqChannel{
		name:    name,
		ctx:     ctx,
		cancel:  cancel,
		packets: NewQueue[Packet](),
		acks:    NewQueue[Ack](),
	}
}

// Endpoint returns the inproc endpoint for one direction ("data" or "ack").
func (c *ZmqChannel) Endpoint(direction string) string {
	return fmt.Sprintf("inproc://%s-%s", c.name, direction)
}

// Start binds and connects both socket pairs and launches the pumps.
func (c *ZmqChannel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("zmq channel already running")
	}

	c.dataRx = zmq4.NewPair(c.ctx)
	if err := c.dataRx.Listen(c.Endpoint("data")); err != nil {
		return errors.Wrap(err, "listen data endpoint")
	}
	c.dataTx = zmq4.NewPair(c.ctx)
	if err := c.dataTx.Dial(c.Endpoint("data")); err != nil {
		c.closeSockets()
		return errors.Wrap(err, "dial data endpoint")
	}
	c.ackRx = zmq4.NewPair(c.ctx)
	if err := c.ackRx.Listen(c.Endpoint("ack")); err != nil {
		c.closeSockets()
		return errors.Wrap(err, "listen ack endpoint")
	}
	c.ackTx = zmq4.NewPair(c.ctx)
	if err := c.ackTx.Dial(c.Endpoint("ack")); err != nil {
		c.closeSockets()
		return errors.Wrap(err, "dial ack endpoint")
	}

	c.running = true

	c.wg.Add(2)
	go c.pumpPackets()
	go c.pumpAcks()

	return nil
}

// Close stops the pumps and releases the sockets.
func (c *ZmqChannel) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()
	c.closeSockets()
	c.wg.Wait()
	return nil
}

func (c *ZmqChannel) closeSockets() {
	for _, s := range []zmq4.Socket{c.dataTx, c.dataRx, c.ackTx, c.ackRx} {
		if s != nil {
			_ = s.Close()
		}
	}
}

func (c *ZmqChannel) isRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Send writes one packet to the data socket.
func (c *ZmqChannel) Send(p Packet) error {
	return c.SendBatch([]Packet{p})
}

// SendBatch writes packets in order while holding the data socket.
func (c *ZmqChannel) SendBatch(packets []Packet) error {
	if !c.isRunning() {
		return ErrChannelClosed
	}
	c.dataMu.Lock()
	defer c.dataMu.Unlock()

	for _, p := range packets {
		frame, err := json.Marshal(p)
		if err != nil {
			return errors.Wrapf(err, "marshal packet %d", p.ID)
		}
		if err := c.dataTx.Send(zmq4.NewMsg(frame)); err != nil {
			return errors.Wrapf(err, "send packet %d", p.ID)
		}
	}
	return nil
}

// Ack writes one acknowledgment to the ack socket.
func (c *ZmqChannel) Ack(a Ack) error {
	if !c.isRunning() {
		return ErrChannelClosed
	}
	frame, err := json.Marshal(a)
	if err != nil {
		return errors.Wrapf(err, "marshal ack %d", a.ID)
	}

	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if err := c.ackTx.Send(zmq4.NewMsg(frame)); err != nil {
		return errors.Wrapf(err, "send ack %d", a.ID)
	}
	return nil
}

// HasPending reports whether a packet has been pumped and awaits Receive.
func (c *ZmqChannel) HasPending() bool {
	return !c.packets.Empty()
}

// HasPendingAck reports whether an acknowledgment awaits ReceiveAck.
func (c *ZmqChannel) HasPendingAck() bool {
	return !c.acks.Empty()
}

// Receive blocks until a packet is available.
func (c *ZmqChannel) Receive(ctx context.Context) (Packet, error) {
	return c.packets.Pop(ctx)
}

// ReceiveAck blocks until an acknowledgment is available.
func (c *ZmqChannel) ReceiveAck(ctx context.Context) (Ack, error) {
	return c.acks.Pop(ctx)
}

// pumpPackets moves frames from the data socket into the packet queue.
func (c *ZmqChannel) pumpPackets() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := c.dataRx.Recv()
			if err != nil {
				select {
				case <-c.ctx.Done():
					return
				default:
					continue
				}
			}

			var p Packet
			if err := json.Unmarshal(msg.Bytes(), &p); err != nil {
				continue
			}
			c.packets.Push(p)
		}
	}
}

// pumpAcks moves frames from the ack socket into the ack queue.
func (c *ZmqChannel) pumpAcks() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			msg, err := c.ackRx.Recv()
			if err != nil {
				select {
				case <-c.ctx.Done():
					return
				default:
					continue
				}
			}

			var a Ack
			if err := json.Unmarshal(msg.Bytes(), &a); err != nil {
				continue
			}
			c.acks.Push(a)
		}
	}
}
