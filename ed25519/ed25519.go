package ed25519

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"io"

	"github.com/colorfulnotion/nsroll/common"
	consensus "github.com/hdevalence/ed25519consensus"
)

const (
	SeedSize       = stded25519.SeedSize
	PublicKeySize  = stded25519.PublicKeySize
	PrivateKeySize = stded25519.PrivateKeySize
	SignatureSize  = stded25519.SignatureSize
)

// Aliases keep the stdlib concrete types so keys pass through unchanged.
type (
	PublicKey  = stded25519.PublicKey
	PrivateKey = stded25519.PrivateKey
)

type Signature [SignatureSize]byte

func (s Signature) MarshalJSON() ([]byte, error) {
	return json.Marshal(common.Bytes2Hex(s[:]))
}

func (s *Signature) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	copy(s[:], common.FromHex(hexStr))
	return nil
}

func NewKeyFromSeed(seed []byte) PrivateKey {
	return stded25519.NewKeyFromSeed(seed)
}

// DeriveKey returns the key whose seed is BLAKE2b(label). Used for dev
// validators and the dev prover key.
func DeriveKey(label string) PrivateKey {
	return NewKeyFromSeed(common.ComputeHash([]byte(label)))
}

func GenerateKey(r io.Reader) (PublicKey, PrivateKey, error) {
	if r == nil {
		r = rand.Reader
	}
	return stded25519.GenerateKey(r)
}

func Public(priv PrivateKey) PublicKey {
	return priv.Public().(PublicKey)
}

func Sign(privateKey PrivateKey, message []byte) Signature {
	var sig Signature
	copy(sig[:], stded25519.Sign(privateKey, message))
	return sig
}

// Verify applies the ZIP-215 rules, so every node agrees on edge-case
// signatures.
func Verify(publicKey PublicKey, message []byte, sig Signature) bool {
	if len(publicKey) != PublicKeySize {
		return false
	}
	return consensus.Verify(publicKey, message, sig[:])
}

// KeyHash packs a public key into a Hash for encodings.
func KeyHash(pub PublicKey) common.Hash {
	return common.BytesToHash(pub)
}

func KeyFromHash(h common.Hash) PublicKey {
	return PublicKey(append([]byte(nil), h[:]...))
}
