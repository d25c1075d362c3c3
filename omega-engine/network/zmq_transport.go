// Package network carries OMEGA vector frames between nodes over ZeroMQ.
//
// This package implements:
//   - ZmqNode: ZeroMQ transport with ROUTER/DEALER pattern
//   - P2PManager: peer discovery and management
//   - NetworkService: a broadcast medium that satisfies node.Transport
package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxNetworkMessageSize is the largest wire message the receiver accepts.
const MaxNetworkMessageSize = 128 * 1024

// Message types.
const (
	TypeVector               = "vector"
	TypePeerExchangeRequest  = "peer_exchange_request"
	TypePeerExchangeResponse = "peer_exchange_response"
	TypePeerAnnounce         = "peer_announce"
)

// Common errors for network operations
var (
	ErrNodeNotRunning  = errors.New("node is not running")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrSendFailed      = errors.New("failed to send message")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// PeerInfo contains information about a network peer.
type PeerInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Message is the envelope exchanged between nodes. Vector messages carry
// an Arrow IPC frame; peer management messages carry Address and Peers.
type Message struct {
	Type      string     `json:"type"`
	From      string     `json:"from"`
	To        string     `json:"to,omitempty"`
	Address   string     `json:"address,omitempty"`
	Peers     []PeerInfo `json:"peers,omitempty"`
	Frame     []byte     `json:"frame,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Nonce     string     `json:"nonce,omitempty"`
}

// MessageHandler is a callback for processing received messages.
type MessageHandler func(msg *Message) error

// ZmqNode is a ZeroMQ-based network node.
type ZmqNode struct {
	nodeID    string
	address   string
	advertise string
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket
	dealers map[string]zmq4.Socket

	peers map[string]*PeerInfo
	mu    sync.RWMutex

	handler MessageHandler
	msgChan chan *Message

	// Replay protection: xxhash(from, nonce) to entry expiry.
	replayCache     map[uint64]time.Time
	replayCacheMu   sync.Mutex
	replayTolerance time.Duration

	received atomic.Uint64
	rejected atomic.Uint64

	running bool
	wg      sync.WaitGroup
}

// NewZmqNode creates a new ZeroMQ node.
func NewZmqNode(nodeID string, host string, port int, logger zerolog.Logger) *ZmqNode {
	ctx, cancel := context.WithCancel(context.Background())

	return &ZmqNode{
		nodeID:          nodeID,
		address:         fmt.Sprintf("tcp://%s:%d", host, port),
		advertise:       fmt.Sprintf("tcp://%s:%d", host, port),
		logger:          logger.With().Str("component", "zmq").Logger(),
		ctx:             ctx,
		cancel:          cancel,
		dealers:         make(map[string]zmq4.Socket),
		peers:           make(map[string]*PeerInfo),
		msgChan:         make(chan *Message, 1000),
		replayCache:     make(map[uint64]time.Time),
		replayTolerance: 60 * time.Second,
	}
}

// ID returns the node identifier used as the ZeroMQ socket identity.
func (n *ZmqNode) ID() string {
	return n.nodeID
}

// Address returns the ROUTER bind address.
func (n *ZmqNode) Address() string {
	return n.address
}

// AdvertiseAddress returns the address peers should dial. It is the bind
// address unless SetAdvertiseAddress overrode it.
func (n *ZmqNode) AdvertiseAddress() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.advertise
}

// SetAdvertiseAddress sets the dial address announced to peers, for nodes
// bound to a wildcard host such as 0.0.0.0. An empty addr is ignored.
func (n *ZmqNode) SetAdvertiseAddress(addr string) {
	if addr == "" {
		return
	}
	n.mu.Lock()
	n.advertise = addr
	n.mu.Unlock()
}

// Start binds the ROUTER socket and starts the receive goroutines.
func (n *ZmqNode) Start() error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return errors.New("node already running")
	}

	n.router = zmq4.NewRouter(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.nodeID)))
	if err := n.router.Listen(n.address); err != nil {
		n.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	n.running = true
	n.mu.Unlock()

	n.wg.Add(3)
	go n.receiverLoop()
	go n.messageProcessor()
	go n.replayCacheCleaner()

	n.logger.Info().Str("address", n.address).Msg("router listening")
	return nil
}

// Stop closes every socket and waits for the goroutines to exit.
func (n *ZmqNode) Stop() {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return
	}
	n.running = false
	dealers := n.dealers
	n.dealers = make(map[string]zmq4.Socket)
	n.mu.Unlock()

	n.cancel()

	if err := n.router.Close(); err != nil {
		n.logger.Debug().Err(err).Msg("router close")
	}
	for id, dealer := range dealers {
		if err := dealer.Close(); err != nil {
			n.logger.Debug().Err(err).Str("peer", id).Msg("dealer close")
		}
	}

	n.wg.Wait()
	n.logger.Info().Msg("router stopped")
}

// IsRunning reports whether Start succeeded and Stop has not been called.
func (n *ZmqNode) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// RegisterPeer adds or refreshes a peer.
func (n *ZmqNode) RegisterPeer(peerID, address string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if peer, ok := n.peers[peerID]; ok && peer.Address == address {
		peer.LastSeen = time.Now()
		return
	}
	n.peers[peerID] = &PeerInfo{ID: peerID, Address: address, LastSeen: time.Now()}
	n.closeDealerLocked(peerID)
}

// UnregisterPeer removes a peer and closes its dealer socket.
func (n *ZmqNode) UnregisterPeer(peerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.peers, peerID)
	n.closeDealerLocked(peerID)
}

func (n *ZmqNode) closeDealerLocked(peerID string) {
	if dealer, ok := n.dealers[peerID]; ok {
		if err := dealer.Close(); err != nil {
			n.logger.Debug().Err(err).Str("peer", peerID).Msg("dealer close")
		}
		delete(n.dealers, peerID)
	}
}

// SetHandler sets the message handler callback.
func (n *ZmqNode) SetHandler(handler MessageHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handler = handler
}

// SendDirect stamps msg with this node's identity and a fresh nonce and
// sends it to one peer.
func (n *ZmqNode) SendDirect(peerID string, msg Message) error {
	n.mu.RLock()
	if !n.running {
		n.mu.RUnlock()
		return ErrNodeNotRunning
	}
	peer, ok := n.peers[peerID]
	if !ok {
		n.mu.RUnlock()
		return ErrPeerNotFound
	}
	address := peer.Address
	n.mu.RUnlock()

	dealer, err := n.getOrCreateDealer(peerID, address)
	if err != nil {
		return err
	}

	msg.From = n.nodeID
	msg.To = peerID
	msg.Timestamp = time.Now()
	msg.Nonce = uuid.NewString()

	data, err := json.Marshal(&msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if len(data) > MaxNetworkMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}

	if err := dealer.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Broadcast sends msg to every registered peer not in exclude. Every
// per-peer failure is returned, joined.
func (n *ZmqNode) Broadcast(msg Message, exclude []string) error {
	if !n.IsRunning() {
		return ErrNodeNotRunning
	}

	excludeSet := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excludeSet[id] = struct{}{}
	}

	var errs []error
	for peerID := range n.GetPeers() {
		if _, skip := excludeSet[peerID]; skip {
			continue
		}
		if err := n.SendDirect(peerID, msg); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", peerID, err))
		}
	}
	return errors.Join(errs...)
}

// GetPeers returns a copy of all registered peers.
func (n *ZmqNode) GetPeers() map[string]*PeerInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()

	peers := make(map[string]*PeerInfo, len(n.peers))
	for id, peer := range n.peers {
		p := *peer
		peers[id] = &p
	}
	return peers
}

func (n *ZmqNode) getOrCreateDealer(peerID, address string) (zmq4.Socket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if dealer, ok := n.dealers[peerID]; ok {
		return dealer, nil
	}

	dealer := zmq4.NewDealer(n.ctx, zmq4.WithID(zmq4.SocketIdentity(n.nodeID)))
	if err := dealer.Dial(address); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	n.dealers[peerID] = dealer
	return dealer, nil
}

func (n *ZmqNode) receiverLoop() {
	defer n.wg.Done()

	for {
		msg, err := n.router.Recv()
		if err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.logger.Debug().Err(err).Msg("recv")
			continue
		}
		// ROUTER prepends the sender identity; the body is the last frame.
		if len(msg.Frames) == 0 {
			continue
		}
		body := msg.Frames[len(msg.Frames)-1]

		netMsg, err := parseMessage(body)
		if err != nil {
			n.rejected.Add(1)
			n.logger.Debug().Err(err).Int("bytes", len(body)).Msg("dropped message")
			continue
		}
		if !n.isValidReplay(netMsg) {
			n.rejected.Add(1)
			n.logger.Debug().Str("from", netMsg.From).Msg("replayed message")
			continue
		}
		n.received.Add(1)

		n.mu.Lock()
		if peer, ok := n.peers[netMsg.From]; ok {
			peer.LastSeen = time.Now()
		}
		n.mu.Unlock()

		select {
		case n.msgChan <- netMsg:
		default:
			n.rejected.Add(1)
			n.logger.Warn().Str("from", netMsg.From).Msg("message queue full")
		}
	}
}

// parseMessage decodes one wire message, enforcing the size limit.
func parseMessage(data []byte) (*Message, error) {
	if len(data) > MaxNetworkMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" || msg.From == "" {
		return nil, errors.New("message without type or sender")
	}
	return &msg, nil
}

func (n *ZmqNode) messageProcessor() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case msg := <-n.msgChan:
			n.mu.RLock()
			handler := n.handler
			n.mu.RUnlock()

			if handler == nil {
				continue
			}
			if err := handler(msg); err != nil {
				n.logger.Debug().Err(err).Str("type", msg.Type).Str("from", msg.From).Msg("handler failed")
			}
		}
	}
}

// isValidReplay accepts a message once. Messages without a nonce, or
// stamped further than the replay tolerance from the local clock in either
// direction, are rejected.
func (n *ZmqNode) isValidReplay(msg *Message) bool {
	if msg.Nonce == "" {
		return false
	}
	now := time.Now()
	skew := now.Sub(msg.Timestamp)
	if skew > n.replayTolerance || skew < -n.replayTolerance {
		return false
	}

	key := replayKey(msg.From, msg.Nonce)

	n.replayCacheMu.Lock()
	defer n.replayCacheMu.Unlock()

	if _, seen := n.replayCache[key]; seen {
		return false
	}
	// Keep the entry until the message itself would be stale.
	expiry := now
	if msg.Timestamp.After(expiry) {
		expiry = msg.Timestamp
	}
	n.replayCache[key] = expiry.Add(n.replayTolerance)
	return true
}

func replayKey(from, nonce string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(from)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(nonce)
	return d.Sum64()
}

func (n *ZmqNode) replayCacheCleaner() {
	defer n.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case now := <-ticker.C:
			n.cleanReplayCache(now)
		}
	}
}

// cleanReplayCache drops entries that expired before now.
func (n *ZmqNode) cleanReplayCache(now time.Time) {
	n.replayCacheMu.Lock()
	defer n.replayCacheMu.Unlock()

	for key, expiry := range n.replayCache {
		if expiry.Before(now) {
			delete(n.replayCache, key)
		}
	}
}

// NodeStats contains node statistics.
type NodeStats struct {
	NodeID    string `json:"node_id"`
	Address   string `json:"address"`
	PeerCount int    `json:"peer_count"`
	IsRunning bool   `json:"is_running"`
	QueueSize int    `json:"queue_size"`
	Received  uint64 `json:"received"`
	Rejected  uint64 `json:"rejected"`
}

// GetStats returns current node statistics.
func (n *ZmqNode) GetStats() NodeStats {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return NodeStats{
		NodeID:    n.nodeID,
		Address:   n.address,
		PeerCount: len(n.peers),
		IsRunning: n.running,
		QueueSize: len(n.msgChan),
		Received:  n.received.Load(),
		Rejected:  n.rejected.Load(),
	}
}
