// Package signer is the signing/crypto collaborator: Ed25519 sign/verify
// plus a VRF prove/verify primitive built on the same keypair.
package signer

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"os"
)

var (
	ErrKeyNotFound    = errors.New("signer: key file not found")
	ErrInvalidKeyFile = errors.New("signer: invalid key file")
	ErrVerifyFailed   = errors.New("signer: verification failed")
)

// Signer wraps an Ed25519 keypair and exposes both plain sign/verify and the
// VRF prove/verify primitive used by the dispatcher and packager handler.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New constructs a Signer from an existing keypair.
func New(priv ed25519.PrivateKey) *Signer {
	return &Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
}

// Generate creates a fresh random keypair.
func Generate() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Signer{priv: priv, pub: pub}, nil
}

// LoadOrGenerate loads the key at path, generating and persisting a new one
// if it doesn't exist yet. Mirrors the load-or-generate pattern used for the
// node's other key material.
func LoadOrGenerate(path string) (*Signer, error) {
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	s, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := s.Save(path); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reads a hex-free raw Ed25519 private key (64 bytes) from path.
func Load(path string) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrKeyNotFound
	}
	if len(data) != ed25519.PrivateKeySize {
		return nil, ErrInvalidKeyFile
	}
	return New(ed25519.PrivateKey(data)), nil
}

// Save persists the raw private key to path with owner-only permissions.
func (s *Signer) Save(path string) error {
	return os.WriteFile(path, s.priv, 0o600)
}

// PublicKey returns the signer's public key bytes.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.pub }

// Sign produces a detached Ed25519 signature over msg.
func (s *Signer) Sign(msg []byte) []byte {
	return ed25519.Sign(s.priv, msg)
}

// Verify checks sig over msg against pub.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// VRFOutputSize is the byte length of Output.
const VRFOutputSize = 64

// VRFProof is the prove-side output: a deterministic pseudorandom Output
// plus a Proof that any holder of the public key can use to verify it was
// derived honestly from Input under the prover's private key.
type VRFProof struct {
	Output [VRFOutputSize]byte
	Proof  []byte
}

// Prove computes a VRF output for input deterministically under s's private
// key. Ed25519 has no native VRF primitive, so this follows the construction
// the dispatcher needs: Proof is an Ed25519 signature over input (which,
// given a fixed keypair, is itself deterministic — RFC 8032 Ed25519 is not
// randomized), and Output is SHA-512(Proof), giving any holder of the public
// key a way to recompute Output from Proof without knowing the private key.
func (s *Signer) Prove(input []byte) VRFProof {
	proof := ed25519.Sign(s.priv, input)
	out := sha512.Sum512(proof)
	return VRFProof{Output: out, Proof: proof}
}

// VerifyVRF checks that proof.Output is consistent with proof.Proof and that
// proof.Proof is a valid Ed25519 signature over input under pub — i.e. that
// the output was honestly derived from input by the holder of pub.
func VerifyVRF(pub ed25519.PublicKey, input []byte, proof VRFProof) bool {
	if !ed25519.Verify(pub, input, proof.Proof) {
		return false
	}
	want := sha512.Sum512(proof.Proof)
	return want == proof.Output
}

// OutputToUnitInterval maps a VRF output to a deterministic value in [0,1),
// used by the dispatcher and packager handler to select a packager from a
// weighted peer set.
func OutputToUnitInterval(out [VRFOutputSize]byte) float64 {
	// Use the first 8 bytes as a big-endian uint64 and normalize, keeping
	// the top 53 bits so the float64 quotient is exact and stays below 1.
	var n uint64
	for i := 0; i < 8; i++ {
		n = n<<8 | uint64(out[i])
	}
	const twoTo53 = float64(1 << 53)
	return float64(n>>11) / twoTo53
}
