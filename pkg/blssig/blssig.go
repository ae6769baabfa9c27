// Package blssig provides BLS12-381 signature aggregation used to
// optionally enrich pre-hash quorum replies with a single combined
// signature, on top of (not instead of) each peer's primary Ed25519
// signature.
package blssig

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"sync"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fr"
)

var (
	initOnce sync.Once
	g1Gen    bls12381.G1Affine
	g2Gen    bls12381.G2Affine
)

func ensureInit() {
	initOnce.Do(func() {
		_, _, g1Gen, g2Gen = bls12381.Generators()
	})
}

const (
	PrivateKeySize = 32
	PublicKeySize  = 96
	SignatureSize  = 48
)

// quorumDomain separates pre-hash quorum signatures from any other use of
// this package's curve, per standard BLS domain-separation practice.
const quorumDomain = "packcore-prehash-quorum-v1"

// PrivateKey is a BLS12-381 scalar in Fr.
type PrivateKey struct{ scalar fr.Element }

// PublicKey is a point on G2.
type PublicKey struct{ point bls12381.G2Affine }

// Signature is a point on G1.
type Signature struct{ point bls12381.G1Affine }

// GenerateKeyPair creates a fresh random BLS keypair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	ensureInit()
	var sk fr.Element
	if _, err := sk.SetRandom(); err != nil {
		return nil, nil, fmt.Errorf("blssig: generate scalar: %w", err)
	}
	priv := &PrivateKey{scalar: sk}
	return priv, priv.PublicKey(), nil
}

// PublicKeyFromBytes deserializes a G2 point in its compressed
// PublicKeySize-byte form.
func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	ensureInit()
	var pt bls12381.G2Affine
	if _, err := pt.SetBytes(data); err != nil {
		return nil, fmt.Errorf("blssig: decode public key: %w", err)
	}
	return &PublicKey{point: pt}, nil
}

// Bytes serializes the private key's scalar.
func (sk *PrivateKey) Bytes() []byte {
	b := sk.scalar.Bytes()
	return b[:]
}

// PublicKey derives pk = sk * G2.
func (sk *PrivateKey) PublicKey() *PublicKey {
	var pk bls12381.G2Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	pk.ScalarMultiplication(&g2Gen, &skBig)
	return &PublicKey{point: pk}
}

// Sign produces sig = sk * H(quorumDomain || message) on G1.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	h := hashToG1(domainMessage(message))
	var sig bls12381.G1Affine
	var skBig big.Int
	sk.scalar.BigInt(&skBig)
	sig.ScalarMultiplication(&h, &skBig)
	return &Signature{point: sig}
}

// Bytes serializes a compressed G1 point.
func (sig *Signature) Bytes() []byte {
	b := sig.point.Bytes()
	return b[:]
}

// Verify checks e(sig, G2) == e(H(message), pk).
func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	h := hashToG1(domainMessage(message))
	var negPk bls12381.G2Affine
	negPk.Neg(&pk.point)
	ok, err := bls12381.PairingCheck(
		[]bls12381.G1Affine{sig.point, h},
		[]bls12381.G2Affine{g2Gen, negPk},
	)
	return err == nil && ok
}

// AggregateSignatures combines several G1 signatures by point addition.
// Callers MUST ensure every signer signed the same message — this is
// enforced by the pre-hash quorum round's grouping-by-raw-block-bytes
// step, not by this function.
func AggregateSignatures(sigs []*Signature) (*Signature, error) {
	ensureInit()
	if len(sigs) == 0 {
		return nil, errors.New("blssig: no signatures to aggregate")
	}
	var agg bls12381.G1Jac
	agg.FromAffine(&sigs[0].point)
	for _, s := range sigs[1:] {
		var jac bls12381.G1Jac
		jac.FromAffine(&s.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G1Affine
	result.FromJacobian(&agg)
	return &Signature{point: result}, nil
}

// AggregatePublicKeys combines several G2 public keys by point addition.
func AggregatePublicKeys(pks []*PublicKey) (*PublicKey, error) {
	ensureInit()
	if len(pks) == 0 {
		return nil, errors.New("blssig: no public keys to aggregate")
	}
	var agg bls12381.G2Jac
	agg.FromAffine(&pks[0].point)
	for _, p := range pks[1:] {
		var jac bls12381.G2Jac
		jac.FromAffine(&p.point)
		agg.AddAssign(&jac)
	}
	var result bls12381.G2Affine
	result.FromJacobian(&agg)
	return &PublicKey{point: result}, nil
}

// VerifyAggregate verifies an aggregate signature against the aggregate of
// the given public keys over one shared message.
func VerifyAggregate(aggSig *Signature, pks []*PublicKey, message []byte) bool {
	aggPk, err := AggregatePublicKeys(pks)
	if err != nil {
		return false
	}
	return aggPk.Verify(aggSig, message)
}

func domainMessage(message []byte) []byte {
	h := sha256.New()
	h.Write([]byte(quorumDomain))
	h.Write(message)
	return h.Sum(nil)
}

// hashToG1 hashes a message onto a G1 point with the curve library's
// hash-to-curve map under a package-specific domain separation tag.
func hashToG1(message []byte) bls12381.G1Affine {
	ensureInit()
	pt, err := bls12381.HashToG1(message, []byte("packcore-prehash-g1-hash"))
	if err != nil {
		return g1Gen
	}
	return pt
}
