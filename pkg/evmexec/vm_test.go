package evmexec

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"

	"github.com/tfsc-node/packcore/pkg/txtypes"
)

func mkContractTx(owner common.Address, input []byte) txtypes.Transaction {
	cd := ContractData{Owner: owner, VMType: "reference", DeployerAddr: owner, Input: input, Transfer: big.NewInt(0)}
	data, _ := json.Marshal(cd)
	tx := txtypes.Transaction{
		Type:      txtypes.TxCallContract,
		Submitter: base58.Encode(owner.Bytes()),
		Data:      data,
	}
	tx.SetHash()
	return tx
}

func TestExecuteDeterministic(t *testing.T) {
	vm := NewReferenceVM()
	owner := common.BytesToAddress([]byte("owner-address-000001"))
	tx := mkContractTx(owner, []byte("call-data"))

	r1, err := Execute(context.Background(), vm, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	r2, err := Execute(context.Background(), vm, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if r1.ContractAddr != r2.ContractAddr {
		t.Error("expected deterministic contract address for identical input")
	}
	if len(r1.Touched) != 1 || r1.Touched[0] != owner {
		t.Errorf("expected call to touch exactly the deployer address, got %v", r1.Touched)
	}
}

func TestExecuteRejectsOwnerMismatch(t *testing.T) {
	vm := NewReferenceVM()
	owner := common.BytesToAddress([]byte("owner-address-000002"))
	tx := mkContractTx(owner, []byte("call-data"))
	tx.Submitter = "someone-else"

	if _, err := Execute(context.Background(), vm, tx); err == nil {
		t.Error("expected from-address mismatch to fail execution")
	}
}

func TestExecuteScansEmbeddedAddresses(t *testing.T) {
	vm := NewReferenceVM()
	owner := common.BytesToAddress([]byte("owner-address-000003"))
	embedded := common.BytesToAddress([]byte("embedded-address-0001"))
	tx := mkContractTx(owner, embedded.Bytes())

	res, err := Execute(context.Background(), vm, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	found := false
	for _, a := range res.Touched {
		if a == embedded {
			found = true
		}
	}
	if !found {
		t.Errorf("expected embedded address %s to be scanned from input, got %v", embedded, res.Touched)
	}
}

func TestReconcileDirtyAcceptsSubset(t *testing.T) {
	vm := NewReferenceVM()
	owner := common.BytesToAddress([]byte("owner-address-000004"))
	tx := mkContractTx(owner, []byte("call-data"))

	res, err := Execute(context.Background(), vm, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	declared := map[txtypes.Address]struct{}{
		txtypes.Address(res.ContractAddr.Hex()): {},
	}
	if err := ReconcileDirty(res.Touched, declared); err != nil {
		t.Errorf("expected subset touch to reconcile cleanly, got %v", err)
	}
}

func TestReconcileDirtyRejectsSuperset(t *testing.T) {
	vm := NewReferenceVM()
	owner := common.BytesToAddress([]byte("owner-address-000005"))
	tx := mkContractTx(owner, []byte("call-data-2"))

	res, err := Execute(context.Background(), vm, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Declared set does not include the address actually touched.
	declared := map[txtypes.Address]struct{}{"some-other-address": {}}
	if err := ReconcileDirty(res.Touched, declared); err == nil {
		t.Error("expected reconciliation to fail for an undeclared touched address")
	}
}
