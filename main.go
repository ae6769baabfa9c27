package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tfsc-node/packcore/pkg/blockbuilder"
	"github.com/tfsc-node/packcore/pkg/config"
	"github.com/tfsc-node/packcore/pkg/contractinfo"
	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/dispatch"
	"github.com/tfsc-node/packcore/pkg/kv"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/packager"
	"github.com/tfsc-node/packcore/pkg/prehash"
	"github.com/tfsc-node/packcore/pkg/runtime"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

func main() {
	var (
		nodeID   = flag.String("node-id", "", "node ID (overrides NODE_ID env var)")
		peerFile = flag.String("peer-file", "", "peer/genesis yaml file (overrides PEER_FILE env var)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *peerFile != "" {
		cfg.PeerFile = *peerFile
	}

	rc, err := runtime.Boot(cfg)
	if err != nil {
		log.Fatalf("boot runtime: %v", err)
	}

	self := p2p.EncodeAddress(rc.Signer.PublicKey())
	log.Printf("node %s address %s listening on %s", cfg.NodeID, self, cfg.ListenAddr)

	peers, err := p2p.LoadPeerFile(cfg.PeerFile)
	if err != nil {
		log.Printf("peer file %s unavailable, running with no known peers: %v", cfg.PeerFile, err)
	} else {
		rc.Peers.SetPeers(peers)
		log.Printf("loaded %d peers from %s", len(peers), cfg.PeerFile)
	}

	quorum := prehash.New(rc.KV, rc.Peers, rc.Store, rc.BLS)
	builder := blockbuilder.New(rc.ContractInfo, rc.Dirty, rc.Store, rc.Signer, rc.Sink)
	sealer := &sealer{quorum: quorum, builder: builder, info: rc.ContractInfo, dirty: rc.Dirty, kv: rc.KV}

	handler := packager.New(self, rc.Signer, rc.Peers, rc.Dirty, rc.ContractInfo, rc.VM, sealer)
	rc.Peers.Subscribe(dispatch.MsgTypeContractPackager, func(from string, payload []byte) {
		var msg packager.DispatchMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Printf("packager: malformed message from %s: %v", from, err)
			return
		}
		if err := handler.Handle(context.Background(), msg, from); err != nil {
			log.Printf("packager: handle failed: %v", err)
		}
	})

	disp := dispatch.New(rc.TxCache, rc.Dirty, rc.Signer, rc.Peers, rc.Peers)

	ctx, cancel := context.WithCancel(context.Background())
	go rc.TxCache.RunBuilderLoop(ctx, time.Duration(cfg.BuildIntervalMs)*time.Millisecond, builder)
	go disp.Run(ctx, time.Duration(cfg.ContractWaitingTimeUs)*time.Microsecond)

	log.Printf("node ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()
}

// sealer bridges the packager handler's stage-2 survivors to pre-hash
// quorum reconciliation and then block assembly (§4.F's handoff into
// §4.H/§4.I). The next height is simply the KV store's current top plus
// one; height negotiation beyond that belongs to the external consensus
// collaborator.
type sealer struct {
	quorum  *prehash.Quorum
	builder *blockbuilder.Builder
	info    *contractinfo.Cache
	dirty   *dirtycontract.Registry
	kv      kv.Store
}

// ProcessContract reconciles and seals txs. On every exit path — success
// or failure — the dirty-contract registry is swept of expired entries
// and the contract-info cache is cleared, so neither grows unbounded
// across dispatch rounds (§5).
func (s *sealer) ProcessContract(ctx context.Context, txs []txtypes.Transaction) error {
	defer func() {
		s.dirty.RemoveExpired(time.Now())
		s.info.Clear()
	}()

	var edges []prehash.Edge
	for _, tx := range txs {
		hash := tx.Hash.HashHex()
		payload, ok := s.info.Get(hash)
		if !ok {
			continue
		}
		for addr, root := range payload.PrevRoots {
			edges = append(edges, prehash.Edge{ContractAddr: addr, PrevRootHash: root, SourceTxHash: hash})
		}
	}
	if err := s.quorum.Reconcile(ctx, edges, nil); err != nil {
		return fmt.Errorf("pre-hash reconciliation: %w", err)
	}

	top, err := s.kv.GetBlockTop()
	if err != nil {
		return fmt.Errorf("resolve next height: %w", err)
	}
	return s.builder.Build(ctx, top+1, txs)
}
