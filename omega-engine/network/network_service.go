package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/data"
)

// ErrServiceClosed is returned by ReceiveNext after Stop.
var ErrServiceClosed = errors.New("network service stopped")

// NetworkConfig defines configuration for the network service.
type NetworkConfig struct {
	NodeID string `toml:"node_id" json:"node_id"`
	Host   string `toml:"host" json:"host"`
	Port   int    `toml:"port" json:"port"`
	// Advertise is the address announced to peers, e.g. tcp://10.0.0.1:5555.
	// Required when Host is a wildcard; defaults to tcp://Host:Port.
	Advertise     string   `toml:"advertise" json:"advertise,omitempty"`
	SeedNodes     []string `toml:"seed_nodes" json:"seed_nodes"`
	InboundBuffer int      `toml:"inbound_buffer" json:"inbound_buffer"`
}

// DefaultNetworkConfig returns a configuration with sensible defaults.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		NodeID:        "node-1",
		Host:          "127.0.0.1",
		Port:          5555,
		SeedNodes:     []string{},
		InboundBuffer: 1024,
	}
}

// NetworkStatus represents the current status of the network service.
type NetworkStatus struct {
	NodeID         string    `json:"node_id"`
	Address        string    `json:"address"`
	Advertise      string    `json:"advertise"`
	IsRunning      bool      `json:"is_running"`
	PeerCount      int       `json:"peer_count"`
	HealthyPeers   int       `json:"healthy_peers"`
	FramesSent     uint64    `json:"frames_sent"`
	VectorsIn      uint64    `json:"vectors_in"`
	VectorsDropped uint64    `json:"vectors_dropped"`
	BadFrames      uint64    `json:"bad_frames"`
	NodeStats      NodeStats `json:"node_stats"`
}

// NetworkService is the ZeroMQ broadcast medium. Every vector handed to
// Broadcast is framed with Arrow IPC and sent to every known peer; vector
// frames from peers are queued for ReceiveNext.
type NetworkService struct {
	config    NetworkConfig
	node      *ZmqNode
	p2p       *P2PManager
	converter *data.Converter
	logger    zerolog.Logger

	inbound chan core.Vector
	stopped chan struct{}

	mu      sync.RWMutex
	running bool

	framesSent     atomic.Uint64
	vectorsIn      atomic.Uint64
	vectorsDropped atomic.Uint64
	badFrames      atomic.Uint64
}

// NewNetworkService creates a new network service with the given configuration.
func NewNetworkService(config NetworkConfig, logger zerolog.Logger) *NetworkService {
	if config.InboundBuffer <= 0 {
		config.InboundBuffer = DefaultNetworkConfig().InboundBuffer
	}
	logger = logger.With().Str("node", config.NodeID).Logger()
	node := NewZmqNode(config.NodeID, config.Host, config.Port, logger)
	node.SetAdvertiseAddress(config.Advertise)

	ns := &NetworkService{
		config:    config,
		node:      node,
		p2p:       NewP2PManager(node, logger),
		converter: data.NewConverter(),
		logger:    logger,
		inbound:   make(chan core.Vector, config.InboundBuffer),
		stopped:   make(chan struct{}),
	}
	node.SetHandler(ns.dispatch)
	return ns
}

// Start binds the node, discovers seed peers and announces itself.
func (ns *NetworkService) Start() error {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.running {
		return nil
	}
	select {
	case <-ns.stopped:
		return ErrServiceClosed
	default:
	}

	if err := ns.node.Start(); err != nil {
		return fmt.Errorf("failed to start ZMQ node: %w", err)
	}
	ns.p2p.Start()

	if len(ns.config.SeedNodes) > 0 {
		ns.p2p.DiscoverPeers(ns.config.SeedNodes)
	}
	if err := ns.p2p.AnnounceSelf(); err != nil {
		ns.logger.Warn().Err(err).Msg("self-announce failed")
	}

	ns.running = true
	ns.logger.Info().Str("address", ns.node.Address()).Int("seeds", len(ns.config.SeedNodes)).Msg("network service started")
	return nil
}

// Stop shuts the service down. Pending ReceiveNext calls return
// ErrServiceClosed.
func (ns *NetworkService) Stop() {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if !ns.running {
		return
	}

	ns.p2p.Stop()
	ns.node.Stop()
	close(ns.stopped)

	ns.running = false
	ns.logger.Info().Msg("network service stopped")
}

// Broadcast frames v and sends it to every known peer. With no peers the
// vector goes nowhere and Broadcast succeeds.
func (ns *NetworkService) Broadcast(ctx context.Context, v core.Vector) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !ns.IsRunning() {
		return ErrNodeNotRunning
	}

	frame, err := ns.converter.EncodeFrames([]core.Vector{v})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if err := ns.node.Broadcast(Message{Type: TypeVector, Frame: frame}, nil); err != nil {
		return err
	}
	ns.framesSent.Add(1)
	return nil
}

// ReceiveNext blocks until a vector from a peer is available.
func (ns *NetworkService) ReceiveNext(ctx context.Context) (core.Vector, error) {
	select {
	case v := <-ns.inbound:
		return v, nil
	case <-ctx.Done():
		return core.Vector{}, ctx.Err()
	case <-ns.stopped:
		return core.Vector{}, ErrServiceClosed
	}
}

// dispatch routes vector frames to the inbound queue and everything else to
// the peer manager.
func (ns *NetworkService) dispatch(msg *Message) error {
	ns.p2p.Touch(msg.From)

	if msg.Type != TypeVector {
		handled, err := ns.p2p.HandleMessage(msg)
		if !handled {
			return fmt.Errorf("unknown message type %q", msg.Type)
		}
		return err
	}

	vectors, err := ns.converter.DecodeFrames(msg.Frame)
	if err != nil {
		ns.badFrames.Add(1)
		return err
	}
	for _, v := range vectors {
		select {
		case ns.inbound <- v:
			ns.vectorsIn.Add(1)
		default:
			ns.vectorsDropped.Add(1)
		}
	}
	return nil
}

// GetStatus returns the current status of the network service.
func (ns *NetworkService) GetStatus() NetworkStatus {
	return NetworkStatus{
		NodeID:         ns.config.NodeID,
		Address:        ns.node.Address(),
		Advertise:      ns.node.AdvertiseAddress(),
		IsRunning:      ns.IsRunning(),
		PeerCount:      ns.p2p.PeerCount(),
		HealthyPeers:   len(ns.p2p.GetHealthyPeers()),
		FramesSent:     ns.framesSent.Load(),
		VectorsIn:      ns.vectorsIn.Load(),
		VectorsDropped: ns.vectorsDropped.Load(),
		BadFrames:      ns.badFrames.Load(),
		NodeStats:      ns.node.GetStats(),
	}
}

// RegisterPeer adds a peer to the network.
func (ns *NetworkService) RegisterPeer(peerID, address string) {
	ns.p2p.addPeer(peerID, address)
}

// UnregisterPeer removes a peer from the network.
func (ns *NetworkService) UnregisterPeer(peerID string) {
	ns.p2p.mu.Lock()
	delete(ns.p2p.knownPeers, peerID)
	ns.p2p.mu.Unlock()
	ns.node.UnregisterPeer(peerID)
}

// GetPeers returns all known peers.
func (ns *NetworkService) GetPeers() map[string]*PeerInfo {
	return ns.node.GetPeers()
}

// GetHealthyPeers returns all healthy (active) peers.
func (ns *NetworkService) GetHealthyPeers() []PeerInfo {
	return ns.p2p.GetHealthyPeers()
}

// IsRunning returns whether the service is currently running.
func (ns *NetworkService) IsRunning() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.running
}
