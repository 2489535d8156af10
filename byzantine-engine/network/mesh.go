package network

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/VanDung-dev/byzantine-arq/byzantine-engine/linklayer"
)

// Medium selects the Channel implementation links are carried over.
type Medium string

const (
	// MediumMemory carries packets through in-process queues.
	MediumMemory Medium = "memory"
	// MediumZmq carries packets through ZeroMQ PAIR sockets on inproc endpoints.
	MediumZmq Medium = "zmq"
)

// ErrUnknownMedium is returned for an unrecognized medium name.
var ErrUnknownMedium = errors.New("unknown medium")

// ParseMedium converts a configuration string to a Medium.
func ParseMedium(name string) (Medium, error) {
	switch Medium(name) {
	case MediumMemory, MediumZmq:
		return Medium(name), nil
	}
	return "", errors.Wrapf(ErrUnknownMedium, "%q", name)
}

// MeshStatus summarizes the links a Mesh has created.
type MeshStatus struct {
	ID     string `json:"id"`
	Medium Medium `json:"medium"`
	Links  int    `json:"links"`
	Closed bool   `json:"closed"`
}

// MeshOption customizes a Mesh.
type MeshOption func(*Mesh)

// WithMedium selects the channel medium.
func WithMedium(medium Medium) MeshOption {
	return func(m *Mesh) { m.medium = medium }
}

// WithMeshLogger sets the logger handed to every link.
func WithMeshLogger(l *zap.SugaredLogger) MeshOption {
	return func(m *Mesh) { m.logger = l }
}

// WithMeshObserver reports message traffic of every link to obs.
func WithMeshObserver(obs MessageObserver) MeshOption {
	return func(m *Mesh) { m.observer = obs }
}

// Mesh creates links sharing one configuration and medium and owns the
// underlying channels until Close.
type Mesh struct {
	id       string
	cfg      LinkConfig
	medium   Medium
	logger   *zap.SugaredLogger
	observer MessageObserver

	mu       sync.Mutex
	channels []linklayer.Channel
	closed   bool
}

// NewMesh creates an empty mesh.
func NewMesh(cfg LinkConfig, opts ...MeshOption) *Mesh {
	m := &Mesh{
		id:     uuid.NewString(),
		cfg:    cfg,
		medium: MediumMemory,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewLink creates a connected output/input pair on a fresh channel.
func (m *Mesh) NewLink() (*LinkOutput, *LinkInput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil, linklayer.ErrChannelClosed
	}

	conn, err := m.newChannel(len(m.channels))
	if err != nil {
		return nil, nil, err
	}

	opts := []LinkOption{WithChannel(conn), WithLogger(m.logger)}
	if m.observer != nil {
		opts = append(opts, WithMessageObserver(m.observer))
	}
	out, in, err := NewLink(m.cfg, opts...)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	m.channels = append(m.channels, conn)
	return out, in, nil
}

func (m *Mesh) newChannel(index int) (linklayer.Channel, error) {
	switch m.medium {
	case MediumMemory:
		return linklayer.NewMemoryChannel(), nil
	case MediumZmq:
		zc := linklayer.NewZmqChannel(fmt.Sprintf("%s-%d", m.id, index))
		if err := zc.Start(); err != nil {
			return nil, errors.Wrapf(err, "start link %d", index)
		}
		return zc, nil
	}
	return nil, errors.Wrapf(ErrUnknownMedium, "%q", m.medium)
}

// Wiring holds the links of a network of routers plus a designated router.
// DRInputs[i] and DROutputs[i] connect the designated router to router i.
type Wiring struct {
	Ports     []Ports
	DRInputs  []*LinkInput
	DROutputs []*LinkOutput
}

// Wire creates the links for adjacency, where adjacency[i] lists the routers
// node i has output links to. Each router's inputs are appended in the order
// the links are created, so a node's inputs follow ascending sender id.
func (m *Mesh) Wire(adjacency [][]int) (*Wiring, error) {
	n := len(adjacency)
	w := &Wiring{
		Ports:     make([]Ports, n),
		DRInputs:  make([]*LinkInput, n),
		DROutputs: make([]*LinkOutput, n),
	}

	for i := range adjacency {
		out, in, err := m.NewLink()
		if err != nil {
			return nil, err
		}
		w.DROutputs[i], w.Ports[i].DRInput = out, in

		out, in, err = m.NewLink()
		if err != nil {
			return nil, err
		}
		w.Ports[i].DROutput, w.DRInputs[i] = out, in
	}

	for i, peers := range adjacency {
		for _, peer := range peers {
			if peer < 0 || peer >= n || peer == i {
				return nil, errors.Errorf("node %d has invalid neighbor %d", i, peer)
			}
			out, in, err := m.NewLink()
			if err != nil {
				return nil, err
			}
			w.Ports[i].Outputs = append(w.Ports[i].Outputs, out)
			w.Ports[peer].Inputs = append(w.Ports[peer].Inputs, in)
		}
	}
	return w, nil
}

// Status returns a snapshot of the mesh.
func (m *Mesh) Status() MeshStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MeshStatus{
		ID:     m.id,
		Medium: m.medium,
		Links:  len(m.channels),
		Closed: m.closed,
	}
}

// Close closes every channel the mesh created. Link loops must be stopped
// first.
func (m *Mesh) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for _, conn := range m.channels {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
