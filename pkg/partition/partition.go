// Package partition is the dependency partitioner (component D, the
// source's packDispatch): groups contract transactions by shared
// dirty-address footprint into dependency clusters plus a set of
// independent singletons.
package partition

import (
	"sort"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// Item is one transaction's partitioning input.
type Item struct {
	TxHash     string
	DirtyAddrs []txtypes.Address
	Tx         txtypes.Transaction
}

// Result is the partitioner's output.
type Result struct {
	Dependent   map[int]*txtypes.Cluster      // cluster id -> cluster, ids >= 1
	Independent map[string]txtypes.Transaction // tx hash -> transaction, singletons
}

// union-find over transaction indices.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}

// Partition builds an undirected graph over items (an edge whenever two
// transactions' dirty-address sets share at least one address), computes
// connected components via union-find, and assigns cluster ids
// deterministically: components are ordered by their smallest member tx
// hash, and ids 1..k are handed out in that order. Singleton components
// (size 1) go to Independent instead.
func Partition(items []Item) Result {
	n := len(items)
	uf := newUnionFind(n)

	addrFirstSeen := make(map[txtypes.Address]int, n)
	for i, it := range items {
		for _, addr := range it.DirtyAddrs {
			if j, ok := addrFirstSeen[addr]; ok {
				uf.union(i, j)
			} else {
				addrFirstSeen[addr] = i
			}
		}
	}

	componentMembers := make(map[int][]int) // root -> member indices
	for i := 0; i < n; i++ {
		root := uf.find(i)
		componentMembers[root] = append(componentMembers[root], i)
	}

	type component struct {
		minHash string
		members []int
	}
	components := make([]component, 0, len(componentMembers))
	for _, members := range componentMembers {
		minHash := items[members[0]].TxHash
		for _, m := range members[1:] {
			if items[m].TxHash < minHash {
				minHash = items[m].TxHash
			}
		}
		components = append(components, component{minHash: minHash, members: members})
	}
	sort.Slice(components, func(i, j int) bool { return components[i].minHash < components[j].minHash })

	res := Result{
		Dependent:   make(map[int]*txtypes.Cluster),
		Independent: make(map[string]txtypes.Transaction),
	}

	clusterID := 1
	for _, comp := range components {
		if len(comp.members) == 1 {
			it := items[comp.members[0]]
			res.Independent[it.TxHash] = it.Tx
			continue
		}
		txs := make(map[string]txtypes.Transaction, len(comp.members))
		for _, m := range comp.members {
			txs[items[m].TxHash] = items[m].Tx
		}
		res.Dependent[clusterID] = &txtypes.Cluster{ID: clusterID, Txs: txs}
		clusterID++
	}

	return res
}

// SortedTxHashes returns a cluster's member tx hashes in sorted order — the
// execution order dependent-cluster tasks MUST use (per §4.F's ordering
// guarantee and Testable Property P3).
func SortedTxHashes(c *txtypes.Cluster) []string {
	hashes := make([]string, 0, len(c.Txs))
	for h := range c.Txs {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	return hashes
}
