// keygen generates a fresh Ed25519/VRF node key and writes it to the path
// named by KEY_PATH (or the first CLI argument), refusing to overwrite an
// existing file.
package main

import (
	"fmt"
	"os"

	"github.com/tfsc-node/packcore/pkg/p2p"
	"github.com/tfsc-node/packcore/pkg/signer"
)

func main() {
	path := os.Getenv("KEY_PATH")
	if len(os.Args) > 1 {
		path = os.Args[1]
	}
	if path == "" {
		path = "node.key"
	}

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "keygen: %s already exists, refusing to overwrite\n", path)
		os.Exit(1)
	}

	s, err := signer.Generate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "keygen: generate key: %v\n", err)
		os.Exit(1)
	}
	if err := s.Save(path); err != nil {
		fmt.Fprintf(os.Stderr, "keygen: save key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("wrote key to %s\n", path)
	fmt.Printf("node address: %s\n", p2p.EncodeAddress(s.PublicKey()))
}
