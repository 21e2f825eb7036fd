package prover

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/log"
)

const AttestorName = "attest-ed25519"

// Attestor is a System that evaluates the circuit relation directly and
// attests to satisfied statements with an ed25519 signature over
// BLAKE2b(vkDigest || public). Signing is deterministic, so proving the same
// statement twice yields the same proof.
type Attestor struct {
	key ed25519.PrivateKey
	pub ed25519.PublicKey
}

func NewAttestor(key ed25519.PrivateKey) *Attestor {
	return &Attestor{key: key, pub: ed25519.Public(key)}
}

// NewDevAttestor derives the prover key from a label.
func NewDevAttestor(label string) *Attestor {
	return NewAttestor(ed25519.DeriveKey(label))
}

func (a *Attestor) Name() string {
	return AttestorName
}

func (a *Attestor) PublicKey() ed25519.PublicKey {
	return a.pub
}

func (a *Attestor) Compile(c Circuit) (*VerificationKey, error) {
	if c.ID() == "" {
		return nil, fmt.Errorf("circuit without id")
	}
	return &VerificationKey{
		Circuit: c.ID(),
		System:  AttestorName,
		Data:    append([]byte(nil), a.pub...),
	}, nil
}

func attestationMessage(vk *VerificationKey, public []byte) []byte {
	return common.Blake2HashConcat(vk.Digest().Bytes(), public).Bytes()
}

func (a *Attestor) Prove(ctx context.Context, c Circuit, public []byte, witness any, rec Recursion) (*Proof, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Check(rec, public, witness); err != nil {
		log.Trace(log.ProverModule, "relation unsatisfied", "circuit", c.ID(), "err", err)
		return nil, err
	}
	vk, err := a.Compile(c)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(a.key, attestationMessage(vk, public))
	return &Proof{
		Circuit: c.ID(),
		Public:  append([]byte(nil), public...),
		Data:    sig[:],
	}, nil
}

func (a *Attestor) Verify(p *Proof, vk *VerificationKey) (bool, error) {
	if vk.System != AttestorName {
		return false, fmt.Errorf("verification key for system %q", vk.System)
	}
	if p.Circuit != vk.Circuit || len(p.Data) != ed25519.SignatureSize || len(vk.Data) != ed25519.PublicKeySize {
		return false, nil
	}
	var sig ed25519.Signature
	copy(sig[:], p.Data)
	return ed25519.Verify(ed25519.PublicKey(vk.Data), attestationMessage(vk, p.Public), sig), nil
}
