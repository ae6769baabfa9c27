// Package blockbuilder is the block builder (component I): seals an
// assembled transaction set into a block, resolving the previous hash,
// Merkle root, contract-storage blob, and VRF attachments before handing
// the result to the consensus collaborator.
package blockbuilder

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tfsc-node/packcore/pkg/blockstore"
	"github.com/tfsc-node/packcore/pkg/consensus"
	"github.com/tfsc-node/packcore/pkg/contractinfo"
	"github.com/tfsc-node/packcore/pkg/corerr"
	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/merkle"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// CurrentBlockVersion mirrors kCurrentBlockVersion.
const CurrentBlockVersion uint32 = 1

// PrevHashTimeout is the suspension-point budget named in §4.I step 4.
const PrevHashTimeout = 6 * time.Second

// Resolver is the subset of the block-storage collaborator the builder
// needs: a prev-hash future and the force-seek side effect.
type Resolver interface {
	PrevHash(ctx context.Context, height uint64) (txtypes.Hash, error)
	ForceSeek(height uint64)
}

// Builder assembles and seals blocks.
type Builder struct {
	info      *contractinfo.Cache
	dirty     *dirtycontract.Registry
	resolver  Resolver
	signer    *signer.Signer
	sink      consensus.BlockSink
	logger    *log.Logger
}

// New constructs a Builder. resolver is typically a *blockstore.Store but
// is accepted as an interface so tests can substitute a fake without a
// real KV-backed store.
func New(info *contractinfo.Cache, dirty *dirtycontract.Registry, resolver Resolver, s *signer.Signer, sink consensus.BlockSink) *Builder {
	return &Builder{
		info:     info,
		dirty:    dirty,
		resolver: resolver,
		signer:   s,
		sink:     sink,
		logger:   log.New(log.Writer(), "[blockbuilder] ", log.LstdFlags),
	}
}

// ensure *blockstore.Store satisfies Resolver at compile time.
var _ Resolver = (*blockstore.Store)(nil)

// Build seals txs into a block at height (§4.I steps 1-6).
func (b *Builder) Build(ctx context.Context, height uint64, txs []txtypes.Transaction) error {
	blk := txtypes.Block{
		Version: CurrentBlockVersion,
		Time:    time.Now().UTC(),
		Height:  height,
		Txs:     txs,
	}

	storage, err := b.assembleStorage(txs)
	if err != nil {
		return err
	}
	blk.Storage = storage

	prevHashCtx, cancel := context.WithTimeout(ctx, PrevHashTimeout)
	defer cancel()
	prev, err := b.resolver.PrevHash(prevHashCtx, height-1)
	if err != nil {
		b.resolver.ForceSeek(height - 1)
		return corerr.Wrap(corerr.KindTransientPeer, "blockbuilder", fmt.Errorf("resolve prev hash at height %d: %w", height-1, err))
	}
	blk.PrevHash = prev

	root, err := merkleRoot(txs)
	if err != nil {
		return corerr.Wrap(corerr.KindInputInvalid, "blockbuilder", err)
	}
	blk.Merkle = root
	blk.Hash = computeBlockHash(blk)

	msg, err := b.attachAndSign(blk)
	if err != nil {
		return corerr.Wrap(corerr.KindInputInvalid, "blockbuilder", err)
	}

	if err := b.sink.DoHandleBlock(ctx, msg); err != nil {
		msg.VRFProofs = nil
		return corerr.Wrap(corerr.KindTransientPeer, "blockbuilder", err)
	}
	b.logger.Printf("sealed block height=%d txs=%d", height, len(txs))
	return nil
}

// assembleStorage attaches each contract transaction's contract-info and
// dirty-contract records into the top-level storage map (step 2). A
// missing entry for a contract tx is a hard fail.
func (b *Builder) assembleStorage(txs []txtypes.Transaction) (map[string]txtypes.StorageEntry, error) {
	storage := make(map[string]txtypes.StorageEntry)
	for _, tx := range txs {
		if tx.Type == txtypes.TxOrdinary {
			continue
		}
		hash := tx.Hash.HashHex()
		payload, ok := b.info.Get(hash)
		if !ok {
			return nil, corerr.New(corerr.KindInvariantViolation, "blockbuilder",
				fmt.Sprintf("missing contract-info entry for tx %s at block seal", hash))
		}
		declared, _ := b.dirty.Get(hash)
		depends := make([]txtypes.Address, 0, len(declared))
		for a := range declared {
			depends = append(depends, a)
		}
		storage[hash] = txtypes.StorageEntry{
			StorageDelta: payload.Storage,
			DependentCTx: depends,
			PrevRoots:    payload.PrevRoots,
		}
	}
	if len(storage) == 0 {
		return nil, nil
	}
	return storage, nil
}

func merkleRoot(txs []txtypes.Transaction) (txtypes.Hash, error) {
	leaves := make([][]byte, len(txs))
	for i, tx := range txs {
		h := tx.Hash
		leaves[i] = h[:]
	}
	tree, err := merkle.BuildTree(leaves)
	if err != nil {
		return txtypes.Hash{}, err
	}
	var out txtypes.Hash
	copy(out[:], tree.Root())
	return out, nil
}

func computeBlockHash(blk txtypes.Block) txtypes.Hash {
	cleared := blk
	cleared.Hash = txtypes.Hash{}
	b, _ := json.Marshal(cleared)
	return sha256.Sum256(b)
}

// attachAndSign builds the BlockMsg: per-tx VRF proofs for dispatched
// transactions only (step 6), signed with the node's default key.
func (b *Builder) attachAndSign(blk txtypes.Block) (consensus.BlockMsg, error) {
	proofs := make(map[string][]byte)
	for _, tx := range blk.Txs {
		if tx.VRFAgent == txtypes.VRFAgentDefault || tx.VRFAgent == txtypes.VRFAgentLocal {
			continue
		}
		proof := b.signer.Prove(tx.Hash[:])
		proofs[tx.Hash.HashHex()] = proof.Proof
	}

	raw, err := json.Marshal(blk)
	if err != nil {
		return consensus.BlockMsg{}, err
	}
	sig := b.signer.Sign(raw)

	return consensus.BlockMsg{Block: blk, VRFProofs: proofs, Signature: sig}, nil
}
