// Package crypto provides GodCoin's signing and digest primitives:
// Ed25519 keypairs/signatures and SHA-256-family digests. Built on the
// standard library (crypto/ed25519, crypto/sha256) the same way the wider
// example pack leans on golang.org/x/crypto/stdlib primitives rather than
// a bespoke curve implementation.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/pkg/errors"

	"github.com/godcoin-go/godcoin/serializer"
)

// PublicKeySize is the byte length of an Ed25519 public key.
const PublicKeySize = ed25519.PublicKeySize

// SignatureSize is the byte length of an Ed25519 signature.
const SignatureSize = ed25519.SignatureSize

// DigestSize is the byte length of a SHA-256 digest.
const DigestSize = sha256.Size

// PublicKey is a fixed-width Ed25519 public key.
type PublicKey [PublicKeySize]byte

// Signature is a fixed-width Ed25519 signature.
type Signature [SignatureSize]byte

// Digest is a fixed-width SHA-256 digest.
type Digest [DigestSize]byte

// KeyPair is a public/private Ed25519 key pair able to sign messages.
type KeyPair struct {
	Public  PublicKey
	private ed25519.PrivateKey
}

// GenKeyPair generates a new random Ed25519 key pair.
func GenKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, errors.Wrap(err, "crypto: generate keypair")
	}
	var kp KeyPair
	copy(kp.Public[:], pub)
	kp.private = priv
	return kp, nil
}

// KeyPairFromSeed deterministically derives a key pair from a 32-byte seed,
// matching how the minter key is loaded from an on-disk file.
func KeyPairFromSeed(seed []byte) (KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return KeyPair{}, errors.Errorf("crypto: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var kp KeyPair
	copy(kp.Public[:], priv.Public().(ed25519.PublicKey))
	kp.private = priv
	return kp, nil
}

// Sign produces a signature over msg using the private half of the pair.
func (kp KeyPair) Sign(msg []byte) Signature {
	sig := ed25519.Sign(kp.private, msg)
	var s Signature
	copy(s[:], sig)
	return s
}

// Verify reports whether sig is a valid signature over msg under pub.
func (pub PublicKey) Verify(msg []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// PublicKeyFromBytes copies a byte slice into a fixed-width PublicKey.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	var pub PublicKey
	if len(b) != PublicKeySize {
		return pub, errors.Errorf("crypto: invalid public key length %d", len(b))
	}
	copy(pub[:], b)
	return pub, nil
}

// String returns a hex encoding of the public key for logging.
func (pub PublicKey) String() string { return hex.EncodeToString(pub[:]) }

// String returns a hex encoding of the digest for logging.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Sha256 hashes data with a single round of SHA-256.
func Sha256(data []byte) Digest {
	return Digest(sha256.Sum256(data))
}

// DoubleSha256 hashes data with two rounds of SHA-256, used to derive
// TxIds from a transaction's canonical encoding.
func DoubleSha256(data []byte) Digest {
	first := sha256.Sum256(data)
	return Digest(sha256.Sum256(first[:]))
}

// SigPair couples a public key with the signature it produced over a
// transaction body.
type SigPair struct {
	PubKey    PublicKey
	Signature Signature
}

// Encode appends the fixed-width public key to w.
func (pub PublicKey) Encode(w *serializer.Writer) { w.PushRaw(pub[:]) }

// DecodePublicKey reads a fixed-width public key from r.
func DecodePublicKey(r *serializer.Reader) (PublicKey, error) {
	b, err := r.TakeRaw(PublicKeySize)
	if err != nil {
		return PublicKey{}, err
	}
	return PublicKeyFromBytes(b)
}

// Encode appends the fixed-width signature to w.
func (sig Signature) Encode(w *serializer.Writer) { w.PushRaw(sig[:]) }

// DecodeSignature reads a fixed-width signature from r.
func DecodeSignature(r *serializer.Reader) (Signature, error) {
	b, err := r.TakeRaw(SignatureSize)
	if err != nil {
		return Signature{}, err
	}
	var sig Signature
	copy(sig[:], b)
	return sig, nil
}

// Encode appends the SigPair's public key then signature to w.
func (sp SigPair) Encode(w *serializer.Writer) {
	sp.PubKey.Encode(w)
	sp.Signature.Encode(w)
}

// DecodeSigPair reads a SigPair from r.
func DecodeSigPair(r *serializer.Reader) (SigPair, error) {
	pub, err := DecodePublicKey(r)
	if err != nil {
		return SigPair{}, err
	}
	sig, err := DecodeSignature(r)
	if err != nil {
		return SigPair{}, err
	}
	return SigPair{PubKey: pub, Signature: sig}, nil
}
