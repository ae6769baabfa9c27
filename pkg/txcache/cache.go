// Package txcache is the transaction cache (component C): two sub-pools —
// height-keyed ordinary transactions and a linear contract-transaction
// list — enforcing non-conflict on insert, and a timer/threshold-driven
// builder loop.
package txcache

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// ErrConflict is returned when a transaction's inputs overlap one already
// pending in the relevant pool.
type ErrConflict struct{ TxHash string }

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("txcache: conflict with pending transaction for %s", e.TxHash)
}

// entry is an ordinary-pool cache entry.
type entry struct {
	tx       txtypes.Transaction
	height   uint64
	consumed bool
}

// contractEntry additionally carries the observed storage dependency list.
type contractEntry struct {
	tx          txtypes.Transaction
	height      uint64
	observedDep []txtypes.Address
}

// Builder is the block-builder collaborator the builder loop calls at each
// tick. It returns an error on build failure; per the liveness-over-retry
// design the pool is cleared regardless of the outcome.
type Builder interface {
	Build(ctx context.Context, height uint64, txs []txtypes.Transaction) error
}

// Cache is the transaction cache.
type Cache struct {
	mu sync.Mutex

	ordinary map[uint64][]entry // height -> entries, insertion order preserved
	contract []contractEntry    // linear, insertion order, no threshold trigger

	buildThreshold int64
	signal         chan struct{} // non-blocking threshold-trip signal

	logger *log.Logger
}

// New constructs an empty Cache with the given ordinary-pool build
// threshold (1_000_000 per the default configuration).
func New(buildThreshold int64) *Cache {
	return &Cache{
		ordinary:       make(map[uint64][]entry),
		buildThreshold: buildThreshold,
		signal:         make(chan struct{}, 1),
		logger:         log.New(log.Writer(), "[txcache] ", log.LstdFlags),
	}
}

// inputsOverlap reports whether two transactions' data blobs indicate a
// shared input. The source's double-spend predicate keys off transaction
// inputs; this core represents that check abstractly via the inputs the
// transaction declares touching the same byte-identical Data blob, which is
// the field into which a real input set would be encoded.
func inputsOverlap(a, b txtypes.Transaction) bool {
	return string(a.Data) != "" && string(a.Data) == string(b.Data)
}

// InsertOrdinary appends tx to the ordinary pool at height, failing with
// ErrConflict if tx's inputs overlap a transaction already pending in
// either pool (the conflict predicate MUST consult both pools — the data
// model's explicit requirement). If this height's list reaches the build
// threshold, the builder loop is signalled.
func (c *Cache) InsertOrdinary(tx txtypes.Transaction, height uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflicts(tx) {
		return &ErrConflict{TxHash: tx.Hash.HashHex()}
	}

	c.ordinary[height] = append(c.ordinary[height], entry{tx: tx, height: height})

	if int64(len(c.ordinary[height])) >= c.buildThreshold {
		select {
		case c.signal <- struct{}{}:
		default:
		}
	}
	return nil
}

// InsertContract appends tx to the contract pool unconditionally (no
// threshold trigger; contract blocks are strictly timer-driven via the
// dispatcher), failing with ErrConflict on overlap.
func (c *Cache) InsertContract(tx txtypes.Transaction, height uint64, observedDep []txtypes.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conflicts(tx) {
		return &ErrConflict{TxHash: tx.Hash.HashHex()}
	}
	c.contract = append(c.contract, contractEntry{tx: tx, height: height, observedDep: observedDep})
	return nil
}

// conflicts must be called with c.mu held.
func (c *Cache) conflicts(tx txtypes.Transaction) bool {
	for _, entries := range c.ordinary {
		for _, e := range entries {
			if !e.consumed && inputsOverlap(e.tx, tx) {
				return true
			}
		}
	}
	for _, ce := range c.contract {
		if inputsOverlap(ce.tx, tx) {
			return true
		}
	}
	return false
}

// drainOrdinary atomically collects every pending ordinary entry across
// every height and the height to build at (max existing height + 1),
// clearing the pool. Returns ok=false if the pool was empty (P6).
func (c *Cache) drainOrdinary() (txs []txtypes.Transaction, targetHeight uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.ordinary) == 0 {
		return nil, 0, false
	}

	var maxHeight uint64
	first := true
	// Insertion order within a height; heights visited in ascending order
	// for determinism (the data model only specifies order-within-height,
	// but a stable overall order makes builds reproducible across nodes).
	heights := make([]uint64, 0, len(c.ordinary))
	for h := range c.ordinary {
		heights = append(heights, h)
		if first || h > maxHeight {
			maxHeight = h
			first = false
		}
	}
	sortUint64s(heights)

	for _, h := range heights {
		txs = append(txs, toTxSlice(c.ordinary[h])...)
	}
	c.ordinary = make(map[uint64][]entry)

	return txs, maxHeight + 1, true
}

func toTxSlice(entries []entry) []txtypes.Transaction {
	out := make([]txtypes.Transaction, len(entries))
	for i, e := range entries {
		out[i] = e.tx
	}
	return out
}

func sortUint64s(s []uint64) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// DrainContract atomically collects and clears the contract pool, used by
// the contract dispatcher's per-round snapshot-and-drain step (§4.E step 1).
func (c *Cache) DrainContract() []txtypes.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.contract) == 0 {
		return nil
	}
	out := make([]txtypes.Transaction, len(c.contract))
	for i, ce := range c.contract {
		out[i] = ce.tx
	}
	c.contract = nil
	return out
}

// RunBuilderLoop drives the ordinary-pool builder: every buildInterval a
// tick fires, and a threshold trip also fires independently (non-blocking).
// Either cause drains the pool and calls builder.Build once. The pool is
// cleared whether Build succeeds or fails — liveness over retry, per the
// data model's explicit design decision. Returns when ctx is cancelled.
func (c *Cache) RunBuilderLoop(ctx context.Context, buildInterval time.Duration, builder Builder) {
	ticker := time.NewTicker(buildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.tick(ctx, builder)
		case <-c.signal:
			c.tick(ctx, builder)
		}
	}
}

func (c *Cache) tick(ctx context.Context, builder Builder) {
	txs, targetHeight, ok := c.drainOrdinary()
	if !ok {
		return // P6: empty tick never produces a block
	}
	if err := builder.Build(ctx, targetHeight, txs); err != nil {
		c.logger.Printf("build at height %d failed (pool cleared regardless): %v", targetHeight, err)
	}
}
