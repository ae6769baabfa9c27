// Package dispatch is the contract dispatcher (component E): a
// background timer that snapshots and drains the pending contract
// transaction pool, clusters it by dependency, elects a packager per
// cluster via VRF-weighted selection, and hands each cluster off for
// parallel execution.
package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/partition"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txcache"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// ContractPackagerMsg is the message sent to the elected packager for a
// dependency cluster or an independent singleton. Sign and VrfDataSource
// let the receiver verify both that this message genuinely came from
// SenderID and that the elected packager named by VRFProof was computed
// against the same stake snapshot the sender used — without them, a
// receiver has no data to verify its own election against (§4.F steps
// 1, 3, 4).
//
// The field set and order here are deliberately mirrored by
// pkg/packager.DispatchMsg: both packages need the exact same JSON
// encoding to re-derive the signed payload bytes without importing each
// other.
type ContractPackagerMsg struct {
	RoundID       string // correlation id for this dispatch round, for log tracing
	ClusterID     int    // 0 for an independent singleton
	Txs           []txtypes.Transaction
	VRFInput      []byte
	VRFProof      signer.VRFProof
	Height        uint64
	SenderID      string     // base58 address of the dispatching node
	SenderPubKey  []byte     // ed25519 public key backing SenderID and Sign
	Sign          []byte     // ed25519 signature over this message with Sign cleared
	VrfDataSource []p2p.Peer // exact stake snapshot SelectPackager was run against
}

// signingPayload returns the canonical bytes a ContractPackagerMsg is
// signed over: itself, JSON-encoded, with Sign cleared.
func signingPayload(msg ContractPackagerMsg) []byte {
	msg.Sign = nil
	b, _ := json.Marshal(msg)
	return b
}

// MsgTypeContractPackager is the p2p message type carrying a
// ContractPackagerMsg; exported so the node entrypoint can subscribe the
// packager handler to it on the same Manager this dispatcher sends through.
const MsgTypeContractPackager = "contract.packager"

// Dispatcher runs the periodic dispatch round.
type Dispatcher struct {
	pool      *txcache.Cache
	dirty     *dirtycontract.Registry
	signer    *signer.Signer
	peers     *p2p.Manager
	transport p2p.Transport
	self      string
	logger    *log.Logger
}

// New constructs a Dispatcher.
func New(pool *txcache.Cache, dirty *dirtycontract.Registry, s *signer.Signer, peers *p2p.Manager, transport p2p.Transport) *Dispatcher {
	return &Dispatcher{
		pool:      pool,
		dirty:     dirty,
		signer:    s,
		peers:     peers,
		transport: transport,
		self:      p2p.EncodeAddress(s.PublicKey()),
		logger:    log.New(log.Writer(), "[dispatch] ", log.LstdFlags),
	}
}

// Run ticks every interval until ctx is cancelled, firing one dispatch
// round per tick.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.round(ctx)
		}
	}
}

// round executes one dispatch round (§4.E steps 1-6). A round that cannot
// find any addressable peer, or whose send fails, is silently abandoned —
// there is no retry counter; the next tick's contract pool will include
// whatever the caller resubmits.
func (d *Dispatcher) round(ctx context.Context) {
	txs := d.pool.DrainContract()
	if len(txs) == 0 {
		return
	}

	items := make([]partition.Item, 0, len(txs))
	for _, tx := range txs {
		hash := tx.Hash.HashHex()
		declared, _ := d.dirty.Get(hash) // missing declaration -> empty set, treated as independent
		addrs := make([]txtypes.Address, 0, len(declared))
		for a := range declared {
			addrs = append(addrs, a)
		}
		items = append(items, partition.Item{TxHash: hash, DirtyAddrs: addrs, Tx: tx})
	}

	res := partition.Partition(items)

	roundID := uuid.NewString()
	for id, cluster := range res.Dependent {
		d.dispatchCluster(ctx, roundID, id, cluster)
	}
	for hash, tx := range res.Independent {
		d.dispatchSingleton(ctx, roundID, hash, tx)
	}
}

func (d *Dispatcher) dispatchCluster(ctx context.Context, roundID string, id int, cluster *txtypes.Cluster) {
	hashes := partition.SortedTxHashes(cluster)
	txs := make([]txtypes.Transaction, 0, len(hashes))
	for _, h := range hashes {
		txs = append(txs, cluster.Txs[h])
	}
	d.send(ctx, roundID, id, hashes, txs)
}

func (d *Dispatcher) dispatchSingleton(ctx context.Context, roundID, hash string, tx txtypes.Transaction) {
	d.send(ctx, roundID, 0, []string{hash}, []txtypes.Transaction{tx})
}

// vrfInput computes the VRF input for a cluster: SHA-256 of the
// concatenated, sorted member tx hashes — deterministic regardless of map
// iteration order (§4.E step 3, Testable Property P7).
func vrfInput(sortedHashes []string) []byte {
	h := sha256.New()
	for _, hash := range sortedHashes {
		h.Write([]byte(hash))
	}
	return h.Sum(nil)
}

func (d *Dispatcher) send(ctx context.Context, roundID string, clusterID int, sortedHashes []string, txs []txtypes.Transaction) {
	snap := d.peers.Snapshot(0)
	if len(snap.Peers) == 0 {
		d.logger.Printf("round=%s dispatch abandoned: no peers in snapshot", roundID)
		return
	}

	input := vrfInput(sortedHashes)
	proof := d.signer.Prove(input)
	r := signer.OutputToUnitInterval(proof.Output)

	packager, ok := p2p.SelectPackager(snap, r)
	if !ok {
		d.logger.Printf("round=%s dispatch abandoned: packager selection failed", roundID)
		return
	}

	msg := ContractPackagerMsg{
		RoundID:       roundID,
		ClusterID:     clusterID,
		Txs:           txs,
		VRFInput:      input,
		VRFProof:      proof,
		SenderID:      d.self,
		SenderPubKey:  []byte(d.signer.PublicKey()),
		VrfDataSource: snap.Peers,
	}
	msg.Sign = d.signer.Sign(signingPayload(msg))

	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Printf("round=%s dispatch abandoned: encode failed: %v", roundID, err)
		return
	}

	opts := p2p.SendOptions{Priority: p2p.PriorityHigh1}
	if err := d.transport.Send(p2p.CtxAdapter{Ctx: ctx}, packager.ID, MsgTypeContractPackager, payload, opts); err != nil {
		d.logger.Printf("round=%s dispatch abandoned: send to packager %s failed: %v", roundID, packager.ID, err)
		return
	}
}
