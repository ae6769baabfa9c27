// BLS ZK Setup CLI
// Generates verification keys for the BLSZKVerifier Solidity contract

package main

import (
	"fmt"
	"os"

	bls_zkp "github.com/tfsc-node/packcore/pkg/crypto/bls_zkp"
)

func main() {
	prover := bls_zkp.NewBLSZKProver()
	if err := prover.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	vk, err := prover.ExportVerificationKeyJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(vk))
}
