// Package runtime bundles the node's long-lived collaborators into a
// single context constructed once at startup and passed by reference
// into every component constructor, instead of relying on package-level
// singletons.
package runtime

import (
	"fmt"

	"github.com/tfsc-node/packcore/pkg/blockstore"
	"github.com/tfsc-node/packcore/pkg/blssig"
	"github.com/tfsc-node/packcore/pkg/config"
	"github.com/tfsc-node/packcore/pkg/consensus"
	"github.com/tfsc-node/packcore/pkg/contractinfo"
	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/evmexec"
	"github.com/tfsc-node/packcore/pkg/kv"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txcache"
)

// Context bundles every collaborator the node's background loops and
// message handlers need. Constructed once by Boot and threaded through
// by reference.
type Context struct {
	Config *config.Config

	Signer *signer.Signer
	Peers  *p2p.Manager
	KV     kv.Store
	Store  *blockstore.Store

	TxCache      *txcache.Cache
	Dirty        *dirtycontract.Registry
	ContractInfo *contractinfo.Cache
	VM           evmexec.VM
	Sink         consensus.BlockSink

	BLS *blssig.PrivateKey // nil unless bls_enabled
}

// Boot wires the full collaborator graph from cfg. The caller is
// responsible for loading peers (via p2p.LoadPeerFile) into the returned
// Context.Peers before starting any background loop.
func Boot(cfg *config.Config) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("runtime: invalid config: %w", err)
	}

	s, err := signer.LoadOrGenerate(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("runtime: load signer key: %w", err)
	}

	store, err := kv.Open(cfg.NodeID, cfg.DBDir)
	if err != nil {
		return nil, fmt.Errorf("runtime: open kv store: %w", err)
	}

	self := p2p.EncodeAddress(s.PublicKey())
	peers := p2p.NewManager(self, s, nil)
	p2p.RegisterLocal(self, peers)

	bs := blockstore.New(store)

	ctx := &Context{
		Config:       cfg,
		Signer:       s,
		Peers:        peers,
		KV:           store,
		Store:        bs,
		TxCache:      txcache.New(cfg.BuildThreshold),
		Dirty:        dirtycontract.New(cfg.DirtyContractExpiryUs),
		ContractInfo: contractinfo.New(),
		VM:           evmexec.NewReferenceVM(),
		Sink:         consensus.NewLoggingSink(),
	}

	if cfg.BLSEnabled {
		sk, _, err := blssig.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("runtime: generate BLS key: %w", err)
		}
		ctx.BLS = sk
	}

	return ctx, nil
}
