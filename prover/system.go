// Package prover defines the proof-system capability the rollup consumes and
// the registry of compiled circuits shared by every prover and verifier.
package prover

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Proof binds a public input to a circuit. Data is opaque to everything but
// the System that produced it.
type Proof struct {
	Circuit string        `json:"circuit"`
	Public  hexutil.Bytes `json:"public"`
	Data    hexutil.Bytes `json:"data"`
}

func (p *Proof) Digest() common.Hash {
	return common.Blake2HashConcat([]byte(p.Circuit), p.Public, p.Data)
}

func (p *Proof) String() string {
	return fmt.Sprintf("Proof{%s public=%d bytes digest=%s}", p.Circuit, len(p.Public), p.Digest().String_short())
}

type VerificationKey struct {
	Circuit string        `json:"circuit"`
	System  string        `json:"system"`
	Data    hexutil.Bytes `json:"data"`
}

func (vk *VerificationKey) Digest() common.Hash {
	return common.Blake2HashConcat([]byte(vk.System), []byte(vk.Circuit), vk.Data)
}

// Circuit is a relation between a public input and a private witness.
// Check returns nil exactly when the witness satisfies the relation. Circuits
// that compose other proofs verify them through rec.
type Circuit interface {
	ID() string
	Check(rec Recursion, public []byte, witness any) error
}

// Recursion verifies a proof from inside another circuit. allowed restricts
// the circuits the inner proof may belong to; empty means any registered one.
type Recursion interface {
	VerifyInner(p *Proof, allowed ...string) error
}

// System is the opaque proving backend.
type System interface {
	Name() string
	Compile(c Circuit) (*VerificationKey, error)
	Prove(ctx context.Context, c Circuit, public []byte, witness any, rec Recursion) (*Proof, error)
	Verify(p *Proof, vk *VerificationKey) (bool, error)
}
