package txtypes

import "time"

// StorageEntry is one transaction's slot in a contract block's "storage"
// side-blob: the post-execution storage delta plus the declared dirty set.
type StorageEntry struct {
	StorageDelta map[string]string `json:"storage"`
	DependentCTx []Address         `json:"dependentCTx"`
	PrevRoots    map[Address]Hash  `json:"prevRoots"`
}

// Block is the sealed unit handed to the consensus collaborator.
type Block struct {
	Version  uint32
	Time     time.Time
	Height   uint64
	PrevHash Hash
	Merkle   Hash
	Hash     Hash
	Txs      []Transaction

	// Storage is nil for blocks with no contract transactions.
	Storage map[string]StorageEntry
}

// Cluster is a dependency cluster produced by the partitioner: a small
// positive integer id mapping to its member transactions. Id 0 is reserved
// for unclustered singletons.
type Cluster struct {
	ID  int
	Txs map[string]Transaction // keyed by tx hash hex; iteration order is unspecified, partition.SortedTxHashes gives the sorted order
}
