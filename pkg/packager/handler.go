// Package packager is the packager handler (component F): the node
// elected for a dependency cluster or independent singleton verifies
// the inbound dispatch, re-validates every member transaction, executes
// clusters internally-serial/externally-parallel, and hands the
// surviving set off for pre-hash reconciliation and block assembly.
package packager

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"log"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tfsc-node/packcore/pkg/contractinfo"
	"github.com/tfsc-node/packcore/pkg/corerr"
	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/evmexec"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// DispatchMsg is the subset of dispatch.ContractPackagerMsg this handler
// needs; duplicated here (rather than imported) to avoid a dispatch <->
// packager import cycle — both packages depend on shared wire shapes, not
// on each other. The field set and order must stay identical to
// dispatch.ContractPackagerMsg: verifyDispatch re-derives the signed
// payload bytes by re-marshaling this struct, which only reproduces the
// sender's signing input if the JSON encoding matches field-for-field.
type DispatchMsg struct {
	RoundID       string
	ClusterID     int
	Txs           []txtypes.Transaction
	VRFInput      []byte
	VRFProof      signer.VRFProof
	Height        uint64
	SenderID      string
	SenderPubKey  []byte
	Sign          []byte
	VrfDataSource []p2p.Peer
}

// Sealer is the collaborator that turns a surviving transaction set into a
// sealed block: pre-hash reconciliation (§4.H) followed by block assembly
// (§4.I). Kept as an interface so the handler's concurrency and
// verification logic can be tested without a full block-building stack.
type Sealer interface {
	ProcessContract(ctx context.Context, txs []txtypes.Transaction) error
}

// Handler is the per-node packager handler. A single mutex serializes
// concurrent inbound dispatch messages, matching the source's one-handler-
// at-a-time rule for this node's packager role.
type Handler struct {
	mu sync.Mutex

	self   string
	signer *signer.Signer
	peers  *p2p.Manager
	dirty  *dirtycontract.Registry
	info   *contractinfo.Cache
	vm     evmexec.VM
	sealer Sealer
	logger *log.Logger
}

// New constructs a Handler.
func New(self string, s *signer.Signer, peers *p2p.Manager, dirty *dirtycontract.Registry, info *contractinfo.Cache, vm evmexec.VM, sealer Sealer) *Handler {
	return &Handler{
		self:   self,
		signer: s,
		peers:  peers,
		dirty:  dirty,
		info:   info,
		vm:     vm,
		sealer: sealer,
		logger: log.New(log.Writer(), "[packager] ", log.LstdFlags),
	}
}

// validated is one transaction's stage-1 outcome.
type validated struct {
	tx      txtypes.Transaction
	declare []txtypes.Address
	err     error
}

// Handle processes one inbound dispatch message end to end (§4.F). from
// is the peer id the message was actually delivered from, per the
// transport. It verifies the dispatch is genuine and that this node is
// the legitimate packager, fans out per-tx stage-1 validation, partitions
// survivors, fans out stage-2 execution, prunes failures at each join
// point, and finally asks the sealer to reconcile and seal whatever
// transactions survived both stages.
func (h *Handler) Handle(ctx context.Context, msg DispatchMsg, from string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.verifyDispatch(msg, from); err != nil {
		return err
	}

	survivors := h.stage1(ctx, msg.Txs)
	if len(survivors) == 0 {
		return nil
	}

	items := make([]clusterItem, 0, len(survivors))
	for _, v := range survivors {
		items = append(items, clusterItem{tx: v.tx, declared: v.declare})
	}
	clusters, independents := partitionByAddress(items)

	final := h.stage2(ctx, clusters, independents)
	if len(final) == 0 {
		return nil
	}

	return h.sealer.ProcessContract(ctx, final)
}

// verifyDispatch re-derives the legitimate packager for this dispatch and
// rejects anything that doesn't check out: the claimed sender id binds to
// its embedded public key, the message carries that sender's signature
// over its full content, the VRF input matches the transaction set it
// claims to cover, the VRF proof verifies against the sender's key (not
// this node's own peer-table lookup), the VRF-source snapshot agrees with
// what this node knows of the same peers, and replaying SelectPackager
// against that snapshot actually elects this node (§4.F steps 1, 3, 4).
func (h *Handler) verifyDispatch(msg DispatchMsg, from string) error {
	if msg.SenderID == "" || len(msg.SenderPubKey) == 0 {
		return corerr.New(corerr.KindInputInvalid, "packager", "dispatch missing sender identity")
	}
	if p2p.EncodeAddress(msg.SenderPubKey) != msg.SenderID {
		return corerr.New(corerr.KindInputInvalid, "packager", "sender id does not match its embedded public key")
	}
	if from != "" && from != msg.SenderID {
		return corerr.New(corerr.KindInputInvalid, "packager", "dispatch delivered from an address other than its claimed sender")
	}

	signed := msg
	signed.Sign = nil
	payload, err := json.Marshal(signed)
	if err != nil {
		return corerr.Wrap(corerr.KindInputInvalid, "packager", err)
	}
	if !signer.Verify(ed25519.PublicKey(msg.SenderPubKey), payload, msg.Sign) {
		return corerr.New(corerr.KindInputInvalid, "packager", "dispatch signature verification failed")
	}

	if !bytes.Equal(msg.VRFInput, recomputeVRFInput(msg.Txs)) {
		return corerr.New(corerr.KindInputInvalid, "packager", "VRF input does not match the declared transaction set")
	}
	if !signer.VerifyVRF(msg.SenderPubKey, msg.VRFInput, msg.VRFProof) {
		return corerr.New(corerr.KindInputInvalid, "packager", "VRF verification failed")
	}

	for _, p := range msg.VrfDataSource {
		if local, ok := h.peers.Peer(p.ID); ok && local.VotingPower != p.VotingPower {
			return corerr.New(corerr.KindInputInvalid, "packager", "VRF-source snapshot diverges from this node's known peer set")
		}
	}

	r := signer.OutputToUnitInterval(msg.VRFProof.Output)
	elected, ok := p2p.SelectPackager(p2p.StakeSnapshot{Peers: msg.VrfDataSource}, r)
	if !ok || elected.ID != h.self {
		return corerr.New(corerr.KindInputInvalid, "packager", "this node was not the legitimate packager for this dispatch")
	}
	return nil
}

// recomputeVRFInput independently derives the VRF input a dispatch should
// carry for txs, mirroring pkg/dispatch's vrfInput: SHA-256 of the
// concatenated, hash-sorted member tx hashes.
func recomputeVRFInput(txs []txtypes.Transaction) []byte {
	hashes := make([]string, len(txs))
	for i, tx := range txs {
		hashes[i] = tx.Hash.HashHex()
	}
	sort.Strings(hashes)
	h := sha256.New()
	for _, hash := range hashes {
		h.Write([]byte(hash))
	}
	return h.Sum(nil)
}

// stage1 runs one goroutine per transaction to re-validate it
// independently (content hash, declared-dirty lookup), via a manual
// WaitGroup/channel fan-out/join rather than an errgroup. Transaction
// signatures are not checked here, and dirty-contract declarations are
// only read from the registry, not registered: a transaction with no
// declaration already in the registry is dropped.
func (h *Handler) stage1(ctx context.Context, txs []txtypes.Transaction) []validated {
	results := make(chan validated, len(txs))
	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func(tx txtypes.Transaction) {
			defer wg.Done()
			results <- h.doHandleTx(tx)
		}(tx)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]validated, 0, len(txs))
	for v := range results {
		if v.err != nil {
			h.logger.Printf("stage-1 validation failed for %s: %v", v.tx.Hash.HashHex(), v.err)
			continue
		}
		out = append(out, v)
	}
	return out
}

// doHandleTx re-validates a single transaction (the DoHandleTx analogue):
// recomputes the content hash and loads its declared dirty-contract set.
// Every transaction reaching the packager is a contract transaction, so a
// missing declaration is an Invariant-violation, not a permissive
// default — execution MUST fail it rather than silently treat it as
// touching nothing.
func (h *Handler) doHandleTx(tx txtypes.Transaction) validated {
	want := tx.ComputeHash()
	if want != tx.Hash {
		return validated{tx: tx, err: corerr.New(corerr.KindInputInvalid, "packager", "hash mismatch on re-validation")}
	}

	hash := tx.Hash.HashHex()
	declared, ok := h.dirty.Get(hash)
	if !ok {
		return validated{tx: tx, err: corerr.New(corerr.KindInvariantViolation, "packager", "no dirty-contract declaration for transaction "+hash)}
	}
	addrs := make([]txtypes.Address, 0, len(declared))
	for a := range declared {
		addrs = append(addrs, a)
	}
	return validated{tx: tx, declare: addrs}
}

type clusterItem struct {
	tx       txtypes.Transaction
	declared []txtypes.Address
}

// partitionByAddress groups items sharing at least one declared address
// into clusters (members execute in tx-hash order within the cluster, but
// clusters themselves run in parallel) and everything else as independent.
func partitionByAddress(items []clusterItem) (clusters [][]clusterItem, independents []clusterItem) {
	addrOwner := make(map[txtypes.Address]int)
	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		for parent[x] != x {
			parent[x] = parent[parent[x]]
			x = parent[x]
		}
		return x
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[rb] = ra
		}
	}

	for i, it := range items {
		for _, addr := range it.declared {
			if j, ok := addrOwner[addr]; ok {
				union(i, j)
			} else {
				addrOwner[addr] = i
			}
		}
	}

	groups := make(map[int][]int)
	for i := range items {
		root := find(i)
		groups[root] = append(groups[root], i)
	}
	for _, members := range groups {
		if len(members) == 1 {
			independents = append(independents, items[members[0]])
			continue
		}
		cluster := make([]clusterItem, len(members))
		for i, m := range members {
			cluster[i] = items[m]
		}
		clusters = append(clusters, cluster)
	}
	return clusters, independents
}

// stage2 executes every dependent cluster (internally serial, by tx hash
// order) and every independent singleton concurrently, fanning out with a
// manual WaitGroup/channel pair, then joins by discarding any cluster or
// singleton whose execution failed.
func (h *Handler) stage2(ctx context.Context, clusters [][]clusterItem, independents []clusterItem) []txtypes.Transaction {
	type outcome struct {
		txs []txtypes.Transaction
		err error
	}
	results := make(chan outcome, len(clusters)+len(independents))
	var wg sync.WaitGroup

	for _, cluster := range clusters {
		wg.Add(1)
		go func(cluster []clusterItem) {
			defer wg.Done()
			txs, err := h.executeCluster(ctx, cluster)
			results <- outcome{txs: txs, err: err}
		}(cluster)
	}
	for _, item := range independents {
		wg.Add(1)
		go func(item clusterItem) {
			defer wg.Done()
			txs, err := h.executeOne(ctx, item)
			results <- outcome{txs: txs, err: err}
		}(item)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var final []txtypes.Transaction
	for o := range results {
		if o.err != nil {
			h.logger.Printf("stage-2 execution failed, dropping: %v", o.err)
			continue
		}
		final = append(final, o.txs...)
	}
	return final
}

// executeCluster runs a dependent cluster's members strictly in sorted
// tx-hash order within the same goroutine, so later members are executed
// only after earlier members have staged their contract-info (§4.F's
// ordering guarantee, P3).
func (h *Handler) executeCluster(ctx context.Context, cluster []clusterItem) ([]txtypes.Transaction, error) {
	sortItemsByHash(cluster)

	out := make([]txtypes.Transaction, 0, len(cluster))
	for _, item := range cluster {
		if _, err := h.runOne(ctx, item); err != nil {
			return nil, err
		}
		out = append(out, item.tx)
	}
	return out, nil
}

func (h *Handler) executeOne(ctx context.Context, item clusterItem) ([]txtypes.Transaction, error) {
	if _, err := h.runOne(ctx, item); err != nil {
		return nil, err
	}
	return []txtypes.Transaction{item.tx}, nil
}

// runOne parses and executes a single transaction through the executor
// adaptor (§4.G steps 1-3), reconciles its touched-address set against its
// dirty-contract declaration unconditionally — an empty declaration
// correctly rejects any non-empty touched set on its own (step 4) — and
// stages the result for block assembly (steps 5-6).
func (h *Handler) runOne(ctx context.Context, item clusterItem) (evmexec.CallResult, error) {
	res, err := evmexec.Execute(ctx, h.vm, item.tx)
	if err != nil {
		return res, err
	}

	declared := make(map[txtypes.Address]struct{}, len(item.declared))
	for _, a := range item.declared {
		declared[a] = struct{}{}
	}
	if err := evmexec.ReconcileDirty(res.Touched, declared); err != nil {
		return res, err
	}

	storage := make(map[string]string, len(res.StorageDelta))
	prevRootsOut := make(map[txtypes.Address]txtypes.Hash, len(res.StorageDelta))
	for addr, delta := range res.StorageDelta {
		storage[addr.Hex()] = string(delta)
		prevRootsOut[txtypes.Address(addr.Hex())] = txtypes.Hash(crypto.Keccak256Hash(delta))
	}
	h.info.Put(item.tx.Hash.HashHex(), contractinfo.Payload{
		Storage:   storage,
		PrevRoots: prevRootsOut,
		TxTimeUs:  item.tx.TimeUs,
		TxType:    item.tx.Type,
		Version:   item.tx.Version,
	})
	h.dirty.Remove(item.tx.Hash.HashHex())

	return res, nil
}

func sortItemsByHash(items []clusterItem) {
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j-1].tx.Hash.HashHex() > items[j].tx.Hash.HashHex(); j-- {
			items[j-1], items[j] = items[j], items[j-1]
		}
	}
}
