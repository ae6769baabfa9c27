// Package p2p is the peer-to-peer messaging collaborator: sends and
// receives typed messages to/from base58-addressed peers with priority,
// compression, and encryption flags, and tracks the staked+invested peer
// set used for VRF-source verification and packager selection.
package p2p

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mr-tron/base58"
	"gopkg.in/yaml.v3"

	"github.com/tfsc-node/packcore/pkg/signer"
)

// Priority mirrors the outbound message priority named in the external
// interfaces (kPriority_High_1 for packager/prehash traffic).
type Priority int

const (
	PriorityHigh1 Priority = iota
	PriorityNormal
)

// SendOptions are the per-message flags the messaging collaborator exposes.
type SendOptions struct {
	Priority    Priority
	Compression bool
	Encryption  bool
}

// Peer is one entry in the staked+invested set.
type Peer struct {
	ID          string // base58 address
	Endpoint    string
	PublicKey   []byte // ed25519 public key bytes
	VotingPower int64
}

// StakeSnapshot is the staked+invested set as of a given height, in a
// stable order (the order used for VRF-weighted packager selection and for
// VRF-source verification).
type StakeSnapshot struct {
	Height uint64
	Peers  []Peer
}

// TotalVotingPower sums the snapshot's peer voting power.
func (s StakeSnapshot) TotalVotingPower() int64 {
	var total int64
	for _, p := range s.Peers {
		total += p.VotingPower
	}
	return total
}

// peerFile is the on-disk yaml shape for the bootstrap peer/genesis file.
type peerFile struct {
	Peers []struct {
		ID          string `yaml:"id"`
		Endpoint    string `yaml:"endpoint"`
		PublicKey   string `yaml:"public_key"` // base58-encoded
		VotingPower int64  `yaml:"voting_power"`
	} `yaml:"peers"`
}

// LoadPeerFile reads the static peer-set file backing the snapshot at
// height 0 (genesis). Later heights are expected to be layered on top by
// the (out-of-scope) consensus/staking subsystem; this core only needs a
// durable definition of "the current staked+invested set."
func LoadPeerFile(path string) ([]Peer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("p2p: read peer file: %w", err)
	}
	var pf peerFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("p2p: parse peer file: %w", err)
	}
	peers := make([]Peer, 0, len(pf.Peers))
	for _, p := range pf.Peers {
		pub, err := base58.Decode(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("p2p: peer %s: invalid base58 public key: %w", p.ID, err)
		}
		peers = append(peers, Peer{
			ID:          p.ID,
			Endpoint:    p.Endpoint,
			PublicKey:   pub,
			VotingPower: p.VotingPower,
		})
	}
	return peers, nil
}

// EncodeAddress base58-encodes a raw public key into a peer address.
func EncodeAddress(pub []byte) string {
	return base58.Encode(pub)
}

// DecodeAddress reverses EncodeAddress.
func DecodeAddress(addr string) ([]byte, error) {
	return base58.Decode(addr)
}

// Transport is the send/receive surface the rest of the core depends on.
// A concrete implementation (HTTP, TCP, etc.) is an operational detail out
// of this spec's scope; Manager below is a usable in-process transport for
// tests and single-process deployments, and satisfies this interface.
type Transport interface {
	Send(ctx SendContext, peerID string, msgType string, payload []byte, opts SendOptions) error
}

// SendContext carries the minimal cancellation/timeout surface Send needs
// without importing context directly into every call site's signature.
type SendContext interface {
	Done() <-chan struct{}
	Err() error
}

// Manager tracks known peers and is a self-contained in-process Transport:
// messages sent to a peer registered via RegisterLocal are delivered to that
// peer's handler function directly. This is sufficient to drive the
// dispatcher/packager/pre-hash round-trip in tests and single-host runs;
// a networked transport would implement the same Transport interface.
type Manager struct {
	mu       sync.RWMutex
	self     string
	signer   *signer.Signer
	peers    map[string]Peer
	handlers map[string]map[string]func(from string, payload []byte)
	logger   *log.Logger
}

// NewManager constructs a Manager for the local peer identified by self.
func NewManager(self string, s *signer.Signer, peers []Peer) *Manager {
	m := &Manager{
		self:     self,
		signer:   s,
		peers:    make(map[string]Peer, len(peers)),
		handlers: make(map[string]map[string]func(from string, payload []byte)),
		logger:   log.New(log.Writer(), "[p2p] ", log.LstdFlags),
	}
	for _, p := range peers {
		m.peers[p.ID] = p
	}
	return m
}

// Snapshot returns the current peer set as a StakeSnapshot at the given
// height (height bookkeeping belongs to the out-of-scope staking
// subsystem; this core treats the in-memory set as current).
func (m *Manager) Snapshot(height uint64) StakeSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]Peer, 0, len(m.peers))
	for _, p := range m.peers {
		peers = append(peers, p)
	}
	return StakeSnapshot{Height: height, Peers: peers}
}

// Peer looks up a known peer by id.
func (m *Manager) Peer(id string) (Peer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.peers[id]
	return p, ok
}

// SetPeers replaces the known peer set, e.g. after loading a peer file at
// startup (the staking subsystem that would otherwise push height-indexed
// updates is out of this core's scope).
func (m *Manager) SetPeers(peers []Peer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers = make(map[string]Peer, len(peers))
	for _, p := range peers {
		m.peers[p.ID] = p
	}
}

// Subscribe registers a handler function keyed by msgType for messages
// arriving at this manager (used by tests that wire two Managers together
// as opposite ends of a channel).
func (m *Manager) Subscribe(msgType string, handler func(from string, payload []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.handlers[msgType] == nil {
		m.handlers[msgType] = make(map[string]func(from string, payload []byte))
	}
	m.handlers[msgType][m.self] = handler
}

// Deliver dispatches payload to any handler this manager has registered for
// msgType, as if it arrived over the wire from fromID.
func (m *Manager) Deliver(msgType, fromID string, payload []byte) {
	m.mu.RLock()
	h, ok := m.handlers[msgType][m.self]
	m.mu.RUnlock()
	if ok {
		h(fromID, payload)
	}
}

// registry bridges multiple in-process Managers so Send can reach them
// without a real socket — used for tests and single-host multi-node runs.
var registry = struct {
	mu sync.RWMutex
	m  map[string]*Manager
}{m: make(map[string]*Manager)}

// RegisterLocal makes m reachable by peer id for other in-process Managers'
// Send calls.
func RegisterLocal(id string, m *Manager) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.m[id] = m
}

// CtxAdapter adapts a context.Context to the SendContext interface so
// callers don't need to import context into this package's public surface.
type CtxAdapter struct{ Ctx context.Context }

func (c CtxAdapter) Done() <-chan struct{} { return c.Ctx.Done() }
func (c CtxAdapter) Err() error            { return c.Ctx.Err() }

// Send implements Transport by delivering directly to a registered
// in-process Manager, applying no actual compression/encryption (those are
// wire-format concerns out of this core's scope) but recording the flags so
// callers and tests can assert on them.
func (m *Manager) Send(_ SendContext, peerID, msgType string, payload []byte, opts SendOptions) error {
	registry.mu.RLock()
	target, ok := registry.m[peerID]
	registry.mu.RUnlock()
	if !ok {
		return fmt.Errorf("p2p: unknown peer %s", peerID)
	}
	m.logger.Printf("send %s -> %s type=%s priority=%d compressed=%v encrypted=%v",
		m.self, peerID, msgType, opts.Priority, opts.Compression, opts.Encryption)
	target.Deliver(msgType, m.self, payload)
	return nil
}
