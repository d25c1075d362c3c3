package network

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// P2PManager handles peer discovery and connection management. Seed peers
// are registered under their address until they answer with their real id.
type P2PManager struct {
	node       *ZmqNode
	logger     zerolog.Logger
	knownPeers map[string]*PeerInfo
	mu         sync.RWMutex

	pruneInterval time.Duration
	staleTimeout  time.Duration

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// NewP2PManager creates a new P2P manager.
func NewP2PManager(node *ZmqNode, logger zerolog.Logger) *P2PManager {
	return &P2PManager{
		node:          node,
		logger:        logger.With().Str("component", "p2p").Logger(),
		knownPeers:    make(map[string]*PeerInfo),
		pruneInterval: 30 * time.Second,
		staleTimeout:  5 * time.Minute,
		stopChan:      make(chan struct{}),
	}
}

// Start begins pruning stale peers.
func (p *P2PManager) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.pruneStalePeers()
}

// Stop stops P2P management.
func (p *P2PManager) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopChan)
	p.wg.Wait()
}

// DiscoverPeers registers the seed addresses and asks each for its peers.
func (p *P2PManager) DiscoverPeers(seeds []string) {
	for _, addr := range seeds {
		if addr == p.node.Address() || addr == p.node.AdvertiseAddress() {
			continue
		}
		p.addPeer(addr, addr)

		err := p.node.SendDirect(addr, Message{
			Type:    TypePeerExchangeRequest,
			Address: p.node.AdvertiseAddress(),
		})
		if err != nil {
			p.logger.Warn().Err(err).Str("seed", addr).Msg("peer exchange request failed")
		}
	}
}

// Touch refreshes the last-seen time of a known peer.
func (p *P2PManager) Touch(peerID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peer, ok := p.knownPeers[peerID]; ok {
		peer.LastSeen = time.Now()
	}
}

// HandleMessage processes peer management messages. It reports false for
// message types it does not own.
func (p *P2PManager) HandleMessage(msg *Message) (bool, error) {
	switch msg.Type {
	case TypePeerExchangeRequest:
		return true, p.handlePeerExchangeRequest(msg)
	case TypePeerExchangeResponse:
		p.handlePeerExchangeResponse(msg)
		return true, nil
	case TypePeerAnnounce:
		p.handlePeerAnnounce(msg)
		return true, nil
	}
	return false, nil
}

// handlePeerExchangeRequest registers the requester and answers with the
// known peer list.
func (p *P2PManager) handlePeerExchangeRequest(msg *Message) error {
	if msg.Address != "" {
		p.addPeer(msg.From, msg.Address)
	}

	p.mu.RLock()
	peers := make([]PeerInfo, 0, len(p.knownPeers))
	for _, peer := range p.knownPeers {
		if peer.ID != msg.From {
			peers = append(peers, *peer)
		}
	}
	p.mu.RUnlock()

	return p.node.SendDirect(msg.From, Message{
		Type:    TypePeerExchangeResponse,
		Address: p.node.AdvertiseAddress(),
		Peers:   peers,
	})
}

// handlePeerExchangeResponse adopts the responder under its real id and
// registers the peers it knows.
func (p *P2PManager) handlePeerExchangeResponse(msg *Message) {
	if msg.Address != "" {
		p.addPeer(msg.From, msg.Address)
	}
	for _, peer := range msg.Peers {
		if peer.ID == "" || peer.Address == "" || peer.ID == p.node.ID() {
			continue
		}
		p.addPeer(peer.ID, peer.Address)
	}
}

func (p *P2PManager) handlePeerAnnounce(msg *Message) {
	if msg.Address == "" {
		return
	}
	p.addPeer(msg.From, msg.Address)
}

// addPeer records a peer. A placeholder registered under the same address
// (a seed) is replaced by the real id.
func (p *P2PManager) addPeer(peerID, address string) {
	p.mu.Lock()
	if placeholder, ok := p.knownPeers[address]; ok && address != peerID && placeholder.Address == address {
		delete(p.knownPeers, address)
		p.node.UnregisterPeer(address)
	}
	peer, exists := p.knownPeers[peerID]
	if exists {
		peer.Address = address
		peer.LastSeen = time.Now()
	} else {
		p.knownPeers[peerID] = &PeerInfo{ID: peerID, Address: address, LastSeen: time.Now()}
	}
	p.mu.Unlock()

	p.node.RegisterPeer(peerID, address)
	if !exists {
		p.logger.Info().Str("peer", peerID).Str("address", address).Msg("peer added")
	}
}

// AnnounceSelf broadcasts this node's presence to the network.
func (p *P2PManager) AnnounceSelf() error {
	return p.node.Broadcast(Message{
		Type:    TypePeerAnnounce,
		Address: p.node.AdvertiseAddress(),
	}, nil)
}

func (p *P2PManager) pruneStalePeers() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.prune()
		}
	}
}

// prune removes peers that haven't been seen recently.
func (p *P2PManager) prune() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.staleTimeout)
	for peerID, peer := range p.knownPeers {
		if peer.LastSeen.Before(cutoff) {
			delete(p.knownPeers, peerID)
			p.node.UnregisterPeer(peerID)
			p.logger.Info().Str("peer", peerID).Msg("stale peer pruned")
		}
	}
}

// GetHealthyPeers returns peers seen within the stale timeout.
func (p *P2PManager) GetHealthyPeers() []PeerInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := time.Now().Add(-p.staleTimeout)
	healthy := make([]PeerInfo, 0, len(p.knownPeers))
	for _, peer := range p.knownPeers {
		if peer.LastSeen.After(cutoff) {
			healthy = append(healthy, *peer)
		}
	}
	return healthy
}

// PeerCount returns the number of known peers.
func (p *P2PManager) PeerCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.knownPeers)
}
