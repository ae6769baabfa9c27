package partition

import (
	"testing"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

func TestPartitionClustersDependents(t *testing.T) {
	items := []Item{
		{TxHash: "txA", DirtyAddrs: []txtypes.Address{"C1", "C2"}},
		{TxHash: "txB", DirtyAddrs: []txtypes.Address{"C2", "C3"}},
		{TxHash: "txC", DirtyAddrs: []txtypes.Address{"C9"}},
	}

	res := Partition(items)

	if len(res.Dependent) != 1 {
		t.Fatalf("expected exactly 1 dependent cluster, got %d", len(res.Dependent))
	}
	cluster := res.Dependent[1]
	if len(cluster.Txs) != 2 {
		t.Fatalf("expected cluster of 2, got %d", len(cluster.Txs))
	}
	if _, ok := cluster.Txs["txA"]; !ok {
		t.Error("expected txA in cluster")
	}
	if _, ok := cluster.Txs["txB"]; !ok {
		t.Error("expected txB in cluster")
	}

	if len(res.Independent) != 1 {
		t.Fatalf("expected exactly 1 independent tx, got %d", len(res.Independent))
	}
	if _, ok := res.Independent["txC"]; !ok {
		t.Error("expected txC to be independent")
	}
}

func TestPartitionAllIndependentWhenNoOverlap(t *testing.T) {
	items := []Item{
		{TxHash: "tx1", DirtyAddrs: []txtypes.Address{"A"}},
		{TxHash: "tx2", DirtyAddrs: []txtypes.Address{"B"}},
	}
	res := Partition(items)
	if len(res.Dependent) != 0 {
		t.Errorf("expected no dependent clusters, got %d", len(res.Dependent))
	}
	if len(res.Independent) != 2 {
		t.Errorf("expected 2 independent txs, got %d", len(res.Independent))
	}
}

func TestPartitionDeterministicClusterIDs(t *testing.T) {
	items := []Item{
		{TxHash: "zzz", DirtyAddrs: []txtypes.Address{"X"}},
		{TxHash: "yyy", DirtyAddrs: []txtypes.Address{"X"}},
		{TxHash: "bbb", DirtyAddrs: []txtypes.Address{"Y"}},
		{TxHash: "aaa", DirtyAddrs: []txtypes.Address{"Y"}},
	}
	res1 := Partition(items)
	res2 := Partition(items)

	for id, c1 := range res1.Dependent {
		c2, ok := res2.Dependent[id]
		if !ok {
			t.Fatalf("cluster id %d missing on second run", id)
		}
		if len(c1.Txs) != len(c2.Txs) {
			t.Errorf("cluster %d member count differs across runs", id)
		}
	}
	// The component containing "aaa"/"bbb" sorts before "yyy"/"zzz" lexically,
	// so it must receive cluster id 1.
	if _, ok := res1.Dependent[1].Txs["aaa"]; !ok {
		t.Error("expected the lexicographically smallest component to get cluster id 1")
	}
}

func TestSortedTxHashes(t *testing.T) {
	c := &txtypes.Cluster{Txs: map[string]txtypes.Transaction{
		"c": {}, "a": {}, "b": {},
	}}
	got := SortedTxHashes(c)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
