package signer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSignVerify(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	msg := []byte("hello")
	sig := s.Sign(msg)
	if !Verify(s.PublicKey(), msg, sig) {
		t.Error("expected signature to verify")
	}
	if Verify(s.PublicKey(), []byte("tampered"), sig) {
		t.Error("expected signature over different message to fail")
	}
}

func TestVRFDeterminism(t *testing.T) {
	s, err := Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	input := []byte("cluster-1-tx-hashes")
	p1 := s.Prove(input)
	p2 := s.Prove(input)
	if p1.Output != p2.Output {
		t.Error("expected VRF output to be deterministic for the same input/key")
	}
	if !VerifyVRF(s.PublicKey(), input, p1) {
		t.Error("expected VRF proof to verify")
	}
}

func TestVRFVerifyRejectsWrongInput(t *testing.T) {
	s, _ := Generate()
	p := s.Prove([]byte("input-a"))
	if VerifyVRF(s.PublicKey(), []byte("input-b"), p) {
		t.Error("expected VRF verification to fail for mismatched input")
	}
}

func TestOutputToUnitInterval(t *testing.T) {
	s, _ := Generate()
	p := s.Prove([]byte("x"))
	r := OutputToUnitInterval(p.Output)
	if r < 0 || r >= 1 {
		t.Errorf("OutputToUnitInterval = %v, want in [0,1)", r)
	}
}

func TestLoadOrGenerateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.key")

	s1, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (create): %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected key file to be persisted: %v", err)
	}

	s2, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate (reload): %v", err)
	}
	if string(s1.PublicKey()) != string(s2.PublicKey()) {
		t.Error("expected reloaded key to match the persisted one")
	}
}
