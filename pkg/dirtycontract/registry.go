// Package dirtycontract is the dirty-contract registry (component A): the
// per-transaction set of contract addresses the submitter claims its call
// will dirty, with a 60-second expiry.
package dirtycontract

import (
	"sync"
	"time"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

type record struct {
	insertedAtUs int64
	addrs        map[txtypes.Address]struct{}
}

// Registry is the dirty-contract registry. One mutex guards the single map;
// this is the innermost lock in the contract_cache -> contract_info_cache ->
// dirty_contract lock order.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]record // keyed by tx hash hex
	expiryUs int64
}

// New constructs a Registry with the given expiry window in microseconds
// (60_000_000 per the spec's DirtyContractExpiryUs default).
func New(expiryUs int64) *Registry {
	return &Registry{
		entries:  make(map[string]record),
		expiryUs: expiryUs,
	}
}

// Set records the dirty-contract declaration for txHash, timestamped now.
func (r *Registry) Set(txHash string, addrs []txtypes.Address) {
	set := make(map[txtypes.Address]struct{}, len(addrs))
	for _, a := range addrs {
		set[a] = struct{}{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[txHash] = record{
		insertedAtUs: time.Now().UnixMicro(),
		addrs:        set,
	}
}

// Get returns the declared dirty-address set for txHash. ok is false if no
// record exists — per the data model, execution MUST fail the transaction
// in that case (Invariant-violation).
func (r *Registry) Get(txHash string) (map[txtypes.Address]struct{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.entries[txHash]
	if !ok {
		return nil, false
	}
	out := make(map[txtypes.Address]struct{}, len(rec.addrs))
	for a := range rec.addrs {
		out[a] = struct{}{}
	}
	return out, true
}

// Remove evicts a single transaction's declaration, used when a transaction
// is pruned from a cluster during the packager handler's join steps.
func (r *Registry) Remove(txHash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, txHash)
}

// RemoveExpired sweeps every entry older than the configured expiry window,
// as of now. Invoked on every exit path of ProcessContract (P8).
func (r *Registry) RemoveExpired(now time.Time) int {
	cutoff := now.UnixMicro() - r.expiryUs
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, rec := range r.entries {
		if rec.insertedAtUs < cutoff {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked declarations (test/metrics use).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
