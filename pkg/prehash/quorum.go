// Package prehash is the pre-hash quorum reconciler (component H):
// before a contract block seals, confirms with a quorum of staked peers
// that this node's view of each touched contract's previous root hash
// agrees with the network's, fetching and persisting divergent blocks
// when it doesn't.
package prehash

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tfsc-node/packcore/pkg/blockstore"
	"github.com/tfsc-node/packcore/pkg/blssig"
	"github.com/tfsc-node/packcore/pkg/corerr"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// Message types for the seek-request/seek-ack round trip, carried over
// the same in-process p2p.Manager the dispatcher and packager use.
const (
	MsgTypeSeekReq = "prehash.seekreq"
	MsgTypeSeekAck = "prehash.seekack"
)

// Edge is a declared (contract address, previous root hash) pair
// extracted from one contract transaction's contract-info payload.
type Edge struct {
	ContractAddr txtypes.Address
	PrevRootHash txtypes.Hash
	SourceTxHash string // the tx hash this edge was declared by
}

// DB is the subset of the KV store this reconciler reads.
type DB interface {
	GetLatestUtxoByContractAddr(addr txtypes.Address) (txtypes.Hash, error)
	GetBlockByBlockHash(hash txtypes.Hash) ([]byte, error)
}

// SeekReq is the wire shape for newSeekContractPreHashReq.
type SeekReq struct {
	MsgID  string
	Edges  []Edge
}

// SeekBlockEntry is one (contract_addr, root_hash, block_raw) tuple a peer
// returns in its newSeekContractPreHashAck.
type SeekBlockEntry struct {
	ContractAddr txtypes.Address
	RootHash     txtypes.Hash
	BlockRaw     []byte
}

// SeekAck is the wire shape for newSeekContractPreHashAck.
type SeekAck struct {
	MsgID   string
	Entries []SeekBlockEntry
}

// Quorum runs the pre-hash reconciliation algorithm (§4.H).
type Quorum struct {
	db         DB
	peers      *p2p.Manager
	store      *blockstore.Store
	logger     *log.Logger
	bls        *blssig.PrivateKey // optional; nil disables signature enrichment
	quorumWait time.Duration

	mu      sync.Mutex
	pending map[string]chan SeekAck // in-flight quorumPoll rounds, by SeekReq.MsgID
}

// Config bundles the reconciler's tunables (pulled from node config).
type Config struct {
	QuorumWait      time.Duration // time allotted to collect replies before falling back to 50%
	BlockPersistTimeout time.Duration
	PollInterval    time.Duration
}

// New constructs a Quorum and subscribes it to its own peer manager for
// the seek-request/seek-ack round trip — the same Subscribe/Deliver
// pattern pkg/dispatch uses to reach pkg/packager. bls may be nil to skip
// the optional aggregate-signature enrichment.
func New(db DB, peers *p2p.Manager, store *blockstore.Store, bls *blssig.PrivateKey) *Quorum {
	q := &Quorum{
		db:         db,
		peers:      peers,
		store:      store,
		bls:        bls,
		logger:     log.New(log.Writer(), "[prehash] ", log.LstdFlags),
		quorumWait: 3 * time.Second,
		pending:    make(map[string]chan SeekAck),
	}
	peers.Subscribe(MsgTypeSeekReq, q.handleSeekReq)
	peers.Subscribe(MsgTypeSeekAck, q.handleSeekAck)
	return q
}

// Reconcile executes the full algorithm over edges extracted from one
// contract block's transactions (deploys contribute no edges). intraBatch
// is the set of tx hashes present in the same block, used to skip
// intra-batch chain links (step 1).
func (q *Quorum) Reconcile(ctx context.Context, edges []Edge, intraBatch map[string]struct{}) error {
	surviving := dedupeAndFilter(edges, intraBatch)
	if len(surviving) == 0 {
		return nil
	}

	if err := q.checkLocalDB(surviving); err != nil {
		return err
	}

	return q.quorumPoll(ctx, surviving)
}

// dedupeAndFilter removes duplicate edges and drops any whose prev-root
// hash is itself a tx hash present in the same batch (step 1).
func dedupeAndFilter(edges []Edge, intraBatch map[string]struct{}) []Edge {
	seen := make(map[txtypes.Address]struct{}, len(edges))
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if _, skip := intraBatch[e.PrevRootHash.HashHex()]; skip {
			continue
		}
		if _, dup := seen[e.ContractAddr]; dup {
			continue
		}
		seen[e.ContractAddr] = struct{}{}
		out = append(out, e)
	}
	return out
}

// checkLocalDB asserts local agreement for every surviving edge (step 2).
func (q *Quorum) checkLocalDB(edges []Edge) error {
	for _, e := range edges {
		got, err := q.db.GetLatestUtxoByContractAddr(e.ContractAddr)
		if err != nil {
			return corerr.Wrap(corerr.KindInvariantViolation, "prehash", err)
		}
		if got != e.PrevRootHash {
			return corerr.New(corerr.KindInvariantViolation, "prehash",
				fmt.Sprintf("local root hash for %s diverges from declared edge", e.ContractAddr))
		}
	}
	return nil
}

// quorumPoll sends newSeekContractPreHashReq to every staked peer, waits
// for 80% of replies (falling back to 50% on timeout), and reconciles any
// divergent block that reaches 66% occurrence (steps 3-5).
func (q *Quorum) quorumPoll(ctx context.Context, edges []Edge) error {
	snap := q.peers.Snapshot(0)
	n := len(snap.Peers)
	if n == 0 {
		return corerr.New(corerr.KindTransientPeer, "prehash", "no staked peers available for quorum poll")
	}

	req := SeekReq{MsgID: uuid.NewString(), Edges: edges}
	replies := q.registerPending(req.MsgID, n)
	defer q.clearPending(req.MsgID)

	for _, peer := range snap.Peers {
		go func(peerID string) {
			if err := q.sendSeekReq(ctx, peerID, req); err != nil {
				q.logger.Printf("seek-req to %s failed: %v", peerID, err)
			}
		}(peer.ID)
	}

	required := (n*80 + 99) / 100
	fallback := (n*50 + 99) / 100

	collected := make([]SeekAck, 0, n)
	timeout := time.After(q.quorumWait)
collect:
	for {
		select {
		case ack := <-replies:
			collected = append(collected, ack)
			if len(collected) >= required {
				break collect
			}
		case <-timeout:
			break collect
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if len(collected) < fallback {
		return corerr.New(corerr.KindTransientPeer, "prehash",
			fmt.Sprintf("insufficient quorum replies: got %d of %d peers, need >= %d", len(collected), n, fallback))
	}

	return q.reconcileReplies(ctx, collected, len(collected))
}

// registerPending opens a buffered reply channel for one seek-request
// round, keyed by its correlation id, so handleSeekAck can route a reply
// back to the quorumPoll call awaiting it regardless of which peer
// answers first.
func (q *Quorum) registerPending(msgID string, n int) chan SeekAck {
	ch := make(chan SeekAck, n)
	q.mu.Lock()
	q.pending[msgID] = ch
	q.mu.Unlock()
	return ch
}

func (q *Quorum) clearPending(msgID string) {
	q.mu.Lock()
	delete(q.pending, msgID)
	q.mu.Unlock()
}

// sendSeekReq delivers a seek request to peerID over the shared p2p
// Manager; the reply arrives asynchronously via handleSeekAck, same as
// pkg/dispatch's fire-and-forget send to the elected packager.
func (q *Quorum) sendSeekReq(ctx context.Context, peerID string, req SeekReq) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return q.peers.Send(p2p.CtxAdapter{Ctx: ctx}, peerID, MsgTypeSeekReq, payload, p2p.SendOptions{Priority: p2p.PriorityHigh1})
}

// handleSeekReq answers an inbound seek request with every edge where this
// node's local view diverges from the requester's declared prev-root,
// attaching the raw block bytes behind its own root hash so the requester
// can persist it once a quorum of peers agree.
func (q *Quorum) handleSeekReq(from string, payload []byte) {
	var req SeekReq
	if err := json.Unmarshal(payload, &req); err != nil {
		q.logger.Printf("malformed seek-req from %s: %v", from, err)
		return
	}
	entries := make([]SeekBlockEntry, 0, len(req.Edges))
	for _, e := range req.Edges {
		got, err := q.db.GetLatestUtxoByContractAddr(e.ContractAddr)
		if err != nil || got == e.PrevRootHash {
			continue
		}
		raw, err := q.db.GetBlockByBlockHash(got)
		if err != nil {
			continue
		}
		entries = append(entries, SeekBlockEntry{ContractAddr: e.ContractAddr, RootHash: got, BlockRaw: raw})
	}

	ack := SeekAck{MsgID: req.MsgID, Entries: entries}
	out, err := json.Marshal(ack)
	if err != nil {
		q.logger.Printf("encode seek-ack for %s failed: %v", from, err)
		return
	}
	if err := q.peers.Send(p2p.CtxAdapter{Ctx: context.Background()}, from, MsgTypeSeekAck, out, p2p.SendOptions{Priority: p2p.PriorityHigh1}); err != nil {
		q.logger.Printf("send seek-ack to %s failed: %v", from, err)
	}
}

// handleSeekAck routes an inbound seek-ack to the quorumPoll call awaiting
// it, if any; a reply for an already-completed or unknown round is
// dropped.
func (q *Quorum) handleSeekAck(from string, payload []byte) {
	var ack SeekAck
	if err := json.Unmarshal(payload, &ack); err != nil {
		q.logger.Printf("malformed seek-ack from %s: %v", from, err)
		return
	}
	q.mu.Lock()
	ch, ok := q.pending[ack.MsgID]
	q.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- ack:
	default:
	}
}

// reconcileReplies groups replies by raw block bytes, accepts any block at
// or above a 66% occurrence rate among the replies actually collected, and
// persists each accepted block not already stored, polling until
// persisted or timing out.
func (q *Quorum) reconcileReplies(ctx context.Context, acks []SeekAck, totalReplies int) error {
	type group struct {
		entry SeekBlockEntry
		count int
	}
	groups := make(map[string]*group)
	for _, ack := range acks {
		for _, e := range ack.Entries {
			key := string(e.BlockRaw)
			if g, ok := groups[key]; ok {
				g.count++
			} else {
				groups[key] = &group{entry: e, count: 1}
			}
		}
	}

	for raw, g := range groups {
		rate := float64(g.count) / float64(totalReplies)
		if rate < 0.66 {
			continue
		}
		if err := q.store.AddSeekBlock(g.entry.RootHash, []byte(raw)); err != nil {
			return corerr.Wrap(corerr.KindTransientPeer, "prehash", err)
		}
		if err := q.store.AwaitPersisted(ctx, g.entry.RootHash, time.Second, 2*time.Second); err != nil {
			return corerr.Wrap(corerr.KindTransientPeer, "prehash", err)
		}
	}
	return nil
}

// SignQuorumResult optionally attaches a BLS signature over the accepted
// block set to the node's reply, enriching (not replacing) the primary
// Ed25519 channel. Returns nil if no BLS key is configured.
func (q *Quorum) SignQuorumResult(blockHashes [][]byte) *blssig.Signature {
	if q.bls == nil {
		return nil
	}
	joined := make([]byte, 0)
	for _, h := range blockHashes {
		joined = append(joined, h...)
	}
	return q.bls.Sign(joined)
}
