package txcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

type fakeBuilder struct {
	mu     sync.Mutex
	calls  int
	heighs []uint64
	txns   [][]txtypes.Transaction
	fail   bool
}

func (f *fakeBuilder) Build(ctx context.Context, height uint64, txs []txtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.heighs = append(f.heighs, height)
	cp := make([]txtypes.Transaction, len(txs))
	copy(cp, txs)
	f.txns = append(f.txns, cp)
	if f.fail {
		return errConflictStub{}
	}
	return nil
}

type errConflictStub struct{}

func (errConflictStub) Error() string { return "stub build failure" }

func mkTx(data string) txtypes.Transaction {
	tx := txtypes.Transaction{Data: []byte(data)}
	tx.SetHash()
	return tx
}

func TestInsertOrdinaryConflict(t *testing.T) {
	c := New(1_000_000)
	tx1 := mkTx("shared-input")
	tx2 := mkTx("shared-input")

	if err := c.InsertOrdinary(tx1, 100); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := c.InsertOrdinary(tx2, 100); err == nil {
		t.Fatal("expected conflict error for overlapping inputs")
	}
}

// TestScenario1OrdinaryBatchBelowThreshold implements spec scenario 1:
// insert three transactions at height 100, fire the tick, expect one block
// at height 101 with exactly those three transactions, pool empty after.
func TestScenario1OrdinaryBatchBelowThreshold(t *testing.T) {
	c := New(1_000_000)
	txA := mkTx("a")
	txB := mkTx("b")
	txC := mkTx("c")

	for _, tx := range []txtypes.Transaction{txA, txB, txC} {
		if err := c.InsertOrdinary(tx, 100); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	fb := &fakeBuilder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go c.RunBuilderLoop(ctx, 20*time.Millisecond, fb)
	time.Sleep(60 * time.Millisecond)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.calls == 0 {
		t.Fatal("expected at least one build call")
	}
	if fb.heighs[0] != 101 {
		t.Errorf("target height = %d, want 101", fb.heighs[0])
	}
	if len(fb.txns[0]) != 3 {
		t.Fatalf("expected 3 txs in first build, got %d", len(fb.txns[0]))
	}

	// Pool should be empty after the build.
	if _, _, ok := c.drainOrdinary(); ok {
		t.Error("expected ordinary pool to be empty after build")
	}
}

// TestBuildClearedOnFailure checks the liveness-over-retry rule:
// the pool clears even when Build fails.
func TestBuildClearedOnFailure(t *testing.T) {
	c := New(1_000_000)
	if err := c.InsertOrdinary(mkTx("x"), 5); err != nil {
		t.Fatalf("insert: %v", err)
	}

	fb := &fakeBuilder{fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.tick(ctx, fb)

	if _, _, ok := c.drainOrdinary(); ok {
		t.Error("expected pool to be cleared even on build failure")
	}
}

// TestP6EmptyTickNeverBuilds checks Testable Property P6.
func TestP6EmptyTickNeverBuilds(t *testing.T) {
	c := New(1_000_000)
	fb := &fakeBuilder{}
	c.tick(context.Background(), fb)
	if fb.calls != 0 {
		t.Errorf("expected no build call on empty pool, got %d", fb.calls)
	}
}

func TestDrainContract(t *testing.T) {
	c := New(1_000_000)
	if err := c.InsertContract(mkTx("c1"), 10, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := c.InsertContract(mkTx("c2"), 10, nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	txs := c.DrainContract()
	if len(txs) != 2 {
		t.Fatalf("expected 2 drained txs, got %d", len(txs))
	}
	if more := c.DrainContract(); more != nil {
		t.Error("expected contract pool empty after drain")
	}
}
