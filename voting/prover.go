package voting

import (
	"context"
	"fmt"
	"slices"

	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
)

// Proven is a decision state together with the proof of it.
type Proven struct {
	Statement *types.DecisionState
	Proof     *prover.Proof
}

type Prover struct {
	reg *prover.Registry
}

// NewProver needs a registry holding the voting Circuits.
func NewProver(reg *prover.Registry) *Prover {
	return &Prover{reg: reg}
}

func (p *Prover) prove(ctx context.Context, w Witness) (*Proven, error) {
	st, err := w.Statement()
	if err != nil {
		return nil, err
	}
	proof, err := p.reg.Prove(ctx, w.CircuitID(), st.Bytes(), w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.CircuitID(), err)
	}
	log.Trace(log.VotingModule, "proved", "circuit", w.CircuitID(), "statement", st.String())
	return &Proven{Statement: st, Proof: proof}, nil
}

func (p *Prover) Vote(ctx context.Context, w *VoteWitness) (*Proven, error) {
	return p.prove(ctx, w)
}

// Merge combines two vote proofs on the same decision after verifying both.
func (p *Prover) Merge(ctx context.Context, left, right *Proven) (*Proven, error) {
	return p.prove(ctx, &MergeWitness{Left: left.Proof, Right: right.Proof})
}

func (p *Prover) Verify(pr *Proven) error {
	if pr == nil || pr.Proof == nil || pr.Statement == nil {
		return fmt.Errorf("incomplete proof: %w", rollerrors.ErrProofVerification)
	}
	return VerifyProof(p.reg, pr.Proof, pr.Statement)
}

// VerifyProof checks that proof is a valid voting proof of st.
func VerifyProof(reg *prover.Registry, proof *prover.Proof, st *types.DecisionState) error {
	if !slices.Contains(Family, proof.Circuit) {
		return fmt.Errorf("%s: %w", proof.Circuit, rollerrors.ErrCircuitNotAllowed)
	}
	got, err := types.DecisionStateFromBytes(proof.Public)
	if err != nil {
		return err
	}
	if *got != *st {
		return rollerrors.ErrStatementMismatch
	}
	return reg.Verify(proof)
}
