// Package contractinfo is the contract-info cache (component B): per-
// transaction JSON payload of VM-produced storage deltas and pre-hash
// links, awaiting block inclusion.
package contractinfo

import (
	"sync"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// Payload is the per-transaction staging record produced by the executor
// adaptor and consumed by the block builder.
type Payload struct {
	Storage   map[string]string
	PrevRoots map[txtypes.Address]txtypes.Hash
	TxTimeUs  int64
	TxType    txtypes.TxType
	Version   uint32
}

type entry struct {
	payload Payload
}

// Cache is the contract-info cache. Readers (the block builder, and the
// executor's per-batch pre-hash chaining) outnumber writers (only the
// executor adaptor writes), so this is a sync.RWMutex per the concurrency
// model's explicit guidance.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry // keyed by tx hash hex
}

// New constructs an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[string]entry)}
}

// Put is written only by the executor adaptor.
func (c *Cache) Put(txHash string, p Payload) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[txHash] = entry{payload: p}
}

// Get is read by the block builder; a missing entry for a contract
// transaction at block seal time is a hard (Invariant-violation) fail.
func (c *Cache) Get(txHash string) (Payload, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[txHash]
	return e.payload, ok
}

// Remove evicts a single transaction's staging payload, used on stage-1 and
// stage-2 join failure.
func (c *Cache) Remove(txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, txHash)
}

// RemoveAll evicts several transactions at once (a failed cluster's full
// membership, for instance).
func (c *Cache) RemoveAll(txHashes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range txHashes {
		delete(c.entries, h)
	}
}

// Clear drops every entry — called after block seal.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

// Len reports the current number of staged payloads.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
