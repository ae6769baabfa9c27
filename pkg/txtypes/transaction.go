// Package txtypes holds the data-model types shared by every component of
// the transaction batching and contract execution core.
package txtypes

import (
	"crypto/sha256"
	"encoding/json"
)

// TxType tags the kind of a transaction.
type TxType int

const (
	TxOrdinary TxType = iota
	TxDeployContract
	TxCallContract
)

// VRFAgentType distinguishes how a transaction's VRF info was sourced.
// Transactions tagged VRFAgentDefault or VRFAgentLocal never get a VRF
// attached to the sealed block (see block builder step 6).
type VRFAgentType int

const (
	VRFAgentDefault VRFAgentType = iota
	VRFAgentLocal
	VRFAgentDispatched
)

// Hash is a 32-byte content hash.
type Hash [32]byte

// Address is a contract storage address.
type Address string

// Transaction is the opaque serializable record the rest of the core passes
// around. Hash is derived from the canonical serialization with Signature
// cleared, so constructing one always goes through SetHash or
// ComputeHash after the payload is final.
type Transaction struct {
	Hash      Hash
	Type      TxType
	Submitter string // base58 peer/account id
	TimeUs    int64  // microseconds UTC
	Version   uint32
	Data      []byte // typed data blob (owner addr, vm type, code/input, ...)
	Signature []byte
	VRFAgent  VRFAgentType
}

// ComputeHash returns the stable content hash for tx with Signature cleared,
// independent of the Signature field's current value.
func (tx *Transaction) ComputeHash() Hash {
	cleared := *tx
	cleared.Signature = nil
	cleared.Hash = Hash{}
	b, _ := json.Marshal(cleared)
	return sha256.Sum256(b)
}

// SetHash recomputes and stores tx.Hash.
func (tx *Transaction) SetHash() {
	tx.Hash = tx.ComputeHash()
}

// HashHex is a convenience hex accessor, used pervasively as a map key by
// the dispatcher, packager, and block builder.
func (h Hash) HashHex() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// TxMsgReq is the verified incoming request shape held by the dispatcher
// tables, indexed by its content hash.
type TxMsgReq struct {
	Tx Transaction
}
