package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txcache"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

func mkTx(data string) txtypes.Transaction {
	tx := txtypes.Transaction{Data: []byte(data)}
	tx.SetHash()
	return tx
}

func TestDispatchIndependentSingleton(t *testing.T) {
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	self := p2p.EncodeAddress(s.PublicKey())
	pkr, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	packagerID := p2p.EncodeAddress(pkr.PublicKey())

	peers := []p2p.Peer{
		{ID: self, VotingPower: 1},
		{ID: packagerID, VotingPower: 999},
	}
	mgr := p2p.NewManager(self, s, peers)
	p2p.RegisterLocal(self, mgr)

	received := make(chan []byte, 4)
	packagerMgr := p2p.NewManager(packagerID, pkr, peers)
	p2p.RegisterLocal(packagerID, packagerMgr)
	packagerMgr.Subscribe(MsgTypeContractPackager, func(from string, payload []byte) {
		received <- payload
	})

	pool := txcache.New(1_000_000)
	dirty := dirtycontract.New(60_000_000)
	d := New(pool, dirty, s, mgr, mgr)

	tx := mkTx("contract-call-1")
	if err := pool.InsertContract(tx, 10, nil); err != nil {
		t.Fatalf("insert contract: %v", err)
	}

	d.round(context.Background())

	select {
	case payload := <-received:
		var msg ContractPackagerMsg
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.ClusterID != 0 {
			t.Errorf("expected singleton cluster id 0, got %d", msg.ClusterID)
		}
		if len(msg.Txs) != 1 {
			t.Fatalf("expected 1 tx, got %d", len(msg.Txs))
		}
	case <-time.After(time.Second):
		t.Fatal("packager never received dispatch message")
	}

	if more := pool.DrainContract(); more != nil {
		t.Error("expected contract pool drained after round")
	}
}

func TestDispatchAbandonsOnEmptyPeerSet(t *testing.T) {
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	self := p2p.EncodeAddress(s.PublicKey())
	mgr := p2p.NewManager(self, s, nil)
	p2p.RegisterLocal(self, mgr)

	pool := txcache.New(1_000_000)
	dirty := dirtycontract.New(60_000_000)
	d := New(pool, dirty, s, mgr, mgr)

	if err := pool.InsertContract(mkTx("lonely"), 1, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Must not panic or block; the round is simply abandoned.
	d.round(context.Background())
}

func TestVRFInputDeterministic(t *testing.T) {
	a := vrfInput([]string{"h1", "h2"})
	b := vrfInput([]string{"h1", "h2"})
	if string(a) != string(b) {
		t.Error("expected identical VRF input for identical sorted hash sets")
	}
	c := vrfInput([]string{"h2", "h1"})
	if string(a) == string(c) {
		t.Error("VRF input must be order-sensitive on its sorted input (ordering is the caller's responsibility)")
	}
}
