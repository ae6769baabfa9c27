package blockbuilder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tfsc-node/packcore/pkg/consensus"
	"github.com/tfsc-node/packcore/pkg/contractinfo"
	"github.com/tfsc-node/packcore/pkg/dirtycontract"
	"github.com/tfsc-node/packcore/pkg/signer"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

type fakeResolver struct {
	hash       txtypes.Hash
	fail       bool
	forceSeeks []uint64
	mu         sync.Mutex
}

func (f *fakeResolver) PrevHash(ctx context.Context, height uint64) (txtypes.Hash, error) {
	if f.fail {
		return txtypes.Hash{}, context.DeadlineExceeded
	}
	return f.hash, nil
}

func (f *fakeResolver) ForceSeek(height uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forceSeeks = append(f.forceSeeks, height)
}

type fakeSink struct {
	mu  sync.Mutex
	got []consensus.BlockMsg
}

func (s *fakeSink) DoHandleBlock(ctx context.Context, msg consensus.BlockMsg) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, msg)
	return nil
}

func mkOrdinary(data string) txtypes.Transaction {
	tx := txtypes.Transaction{Type: txtypes.TxOrdinary, Data: []byte(data)}
	tx.SetHash()
	return tx
}

func TestBuildOrdinaryBlock(t *testing.T) {
	s, err := signer.Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	info := contractinfo.New()
	dirty := dirtycontract.New(60_000_000)
	resolver := &fakeResolver{hash: txtypes.Hash{1, 2, 3}}
	sink := &fakeSink{}
	b := New(info, dirty, resolver, s, sink)

	txs := []txtypes.Transaction{mkOrdinary("a"), mkOrdinary("b")}
	if err := b.Build(context.Background(), 101, txs); err != nil {
		t.Fatalf("build: %v", err)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.got) != 1 {
		t.Fatalf("expected 1 sealed block, got %d", len(sink.got))
	}
	blk := sink.got[0].Block
	if blk.Height != 101 {
		t.Errorf("height = %d, want 101", blk.Height)
	}
	if blk.PrevHash != resolver.hash {
		t.Error("expected prev hash from resolver")
	}
	if blk.Storage != nil {
		t.Error("expected nil storage map for an all-ordinary block")
	}
}

func TestBuildFailsWhenContractInfoMissing(t *testing.T) {
	s, _ := signer.Generate()
	info := contractinfo.New()
	dirty := dirtycontract.New(60_000_000)
	resolver := &fakeResolver{hash: txtypes.Hash{9}}
	sink := &fakeSink{}
	b := New(info, dirty, resolver, s, sink)

	tx := txtypes.Transaction{Type: txtypes.TxCallContract, Data: []byte("call")}
	tx.SetHash()

	err := b.Build(context.Background(), 5, []txtypes.Transaction{tx})
	if err == nil {
		t.Fatal("expected hard fail for missing contract-info entry")
	}
}

func TestBuildForceSeeksOnPrevHashTimeout(t *testing.T) {
	s, _ := signer.Generate()
	info := contractinfo.New()
	dirty := dirtycontract.New(60_000_000)
	resolver := &fakeResolver{fail: true}
	sink := &fakeSink{}
	b := New(info, dirty, resolver, s, sink)

	err := b.Build(context.Background(), 42, []txtypes.Transaction{mkOrdinary("x")})
	if err == nil {
		t.Fatal("expected error when prev hash resolution fails")
	}

	resolver.mu.Lock()
	defer resolver.mu.Unlock()
	if len(resolver.forceSeeks) != 1 || resolver.forceSeeks[0] != 41 {
		t.Errorf("expected a force-seek for height 41, got %v", resolver.forceSeeks)
	}
}

func TestPrevHashTimeoutConstant(t *testing.T) {
	if PrevHashTimeout != 6*time.Second {
		t.Errorf("expected 6s prev-hash timeout, got %s", PrevHashTimeout)
	}
}
