// Package evmexec is the execution-engine collaborator (component G):
// parses a transaction's contract payload, verifies the declared owner
// against the submitter, deploys or calls through the VM, and reconciles
// the touched-address set against the transaction's declared dirty-
// contract set.
package evmexec

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/tfsc-node/packcore/pkg/corerr"
	"github.com/tfsc-node/packcore/pkg/txtypes"
)

// ContractData is the typed payload packed into a transaction's opaque
// Data blob: the owner EVM address every touched contract must answer to,
// plus either deploy parameters (Code, Transient) or call parameters
// (DeployerAddr, DeployHash, Input, Transfer).
type ContractData struct {
	Owner        common.Address
	VMType       string
	Code         []byte
	Transient    common.Address
	DeployerAddr common.Address
	DeployHash   [32]byte
	Input        []byte
	Transfer     *big.Int
}

// ParseData decodes a transaction's Data blob into its typed contract
// payload (step 1 of the executor adaptor).
func ParseData(data []byte) (ContractData, error) {
	var cd ContractData
	if err := json.Unmarshal(data, &cd); err != nil {
		return ContractData{}, corerr.Wrap(corerr.KindInputInvalid, "evmexec", fmt.Errorf("parse transaction data: %w", err))
	}
	return cd, nil
}

// VerifyOwner checks that from_addr — the base58 translation of the
// declared EVM owner address — equals the transaction's submitter, i.e.
// that whoever signed the transaction actually owns the contract it
// claims to deploy or call into (step 2).
func VerifyOwner(submitter string, owner common.Address) error {
	if base58.Encode(owner.Bytes()) != submitter {
		return corerr.New(corerr.KindInputInvalid, "evmexec", "from-address mismatch: submitter does not own declared EVM owner address")
	}
	return nil
}

// VM is the execution-engine interface. A production implementation would
// run real bytecode; ReferenceVM below is a deterministic stand-in
// sufficient to exercise the dispatch/reconciliation pipeline.
type VM interface {
	Deploy(ctx context.Context, owner common.Address, code []byte, transient common.Address) ([]common.Address, error)
	Call(ctx context.Context, owner, deployer common.Address, deployHash [32]byte, input []byte, transfer *big.Int) ([]common.Address, error)
}

// CallResult is the executor adaptor's per-transaction outcome: the VM's
// touched-address set plus the storage delta derived from whichever
// payload bytes (deploy code or call input) drove the invocation.
type CallResult struct {
	ContractAddr common.Address
	Touched      []common.Address
	StorageDelta map[common.Address][]byte
}

// Execute runs the executor adaptor over tx: parse, verify owner, invoke
// the VM in deploy or call mode, and build the per-address storage delta
// (steps 1-3). Reconciliation (step 4) and contract-info staging (step 6)
// are the caller's responsibility, since they also touch the dirty-
// contract registry and contract-info cache this package doesn't own.
func Execute(ctx context.Context, vm VM, tx txtypes.Transaction) (CallResult, error) {
	cd, err := ParseData(tx.Data)
	if err != nil {
		return CallResult{}, err
	}
	if err := VerifyOwner(tx.Submitter, cd.Owner); err != nil {
		return CallResult{}, err
	}

	var touched []common.Address
	var payload []byte
	switch tx.Type {
	case txtypes.TxDeployContract:
		touched, err = vm.Deploy(ctx, cd.Owner, cd.Code, cd.Transient)
		payload = cd.Code
	default:
		touched, err = vm.Call(ctx, cd.Owner, cd.DeployerAddr, cd.DeployHash, cd.Input, cd.Transfer)
		payload = cd.Input
	}
	if err != nil {
		return CallResult{}, corerr.Wrap(corerr.KindExecutor, "evmexec", err)
	}

	contractAddr := cd.Owner
	delta := make(map[common.Address][]byte, len(touched))
	for i, addr := range touched {
		delta[addr] = payload
		if i == 0 {
			contractAddr = addr
		}
	}
	return CallResult{ContractAddr: contractAddr, Touched: touched, StorageDelta: delta}, nil
}

// ReferenceVM derives a deterministic touched-address set from its input
// rather than executing real bytecode: the transient/deployer address
// itself, plus any 20-byte address-shaped word found in the code/input.
// This is enough to drive dirty-contract reconciliation and the pre-hash
// chain in tests and in a permissioned deployment that plugs a real VM in
// behind the same interface later.
type ReferenceVM struct{}

// NewReferenceVM constructs a ReferenceVM.
func NewReferenceVM() *ReferenceVM { return &ReferenceVM{} }

func (v *ReferenceVM) Deploy(ctx context.Context, owner common.Address, code []byte, transient common.Address) ([]common.Address, error) {
	touched := append([]common.Address{transient}, scanAddresses(code)...)
	return dedupeAddresses(touched), nil
}

func (v *ReferenceVM) Call(ctx context.Context, owner, deployer common.Address, deployHash [32]byte, input []byte, transfer *big.Int) ([]common.Address, error) {
	touched := append([]common.Address{deployer}, scanAddresses(input)...)
	return dedupeAddresses(touched), nil
}

// scanAddresses walks data in 20-byte strides, treating every stride as a
// candidate address word.
func scanAddresses(data []byte) []common.Address {
	var out []common.Address
	for i := 0; i+common.AddressLength <= len(data); i += common.AddressLength {
		out = append(out, common.BytesToAddress(data[i:i+common.AddressLength]))
	}
	return out
}

func dedupeAddresses(addrs []common.Address) []common.Address {
	seen := make(map[common.Address]struct{}, len(addrs))
	out := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// ReconcileDirty enforces the invariant that a call's actually-touched
// address set must be a subset of the transaction's declared dirty
// set — any touched address outside the declaration is a hard
// verification failure (the superset case the data model forbids).
func ReconcileDirty(touched []common.Address, declared map[txtypes.Address]struct{}) error {
	for _, addr := range touched {
		key := txtypes.Address(addr.Hex())
		if _, ok := declared[key]; !ok {
			return corerr.New(corerr.KindInvariantViolation, "evmexec",
				fmt.Sprintf("contract call touched undeclared address %s", key))
		}
	}
	return nil
}
