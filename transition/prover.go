package transition

import (
	"context"
	"fmt"
	"slices"

	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
)

// Proven is a transition together with the proof of it.
type Proven struct {
	Statement *types.Transition
	Proof     *prover.Proof
}

// Prover produces transition proofs against one registry.
type Prover struct {
	reg *prover.Registry
}

func NewProver(reg *prover.Registry) *Prover {
	return &Prover{reg: reg}
}

func (p *Prover) Registry() *prover.Registry {
	return p.reg
}

// Prove derives the statement of w and proves it with w's circuit.
func (p *Prover) Prove(ctx context.Context, w Witness) (*Proven, error) {
	st, err := w.Statement()
	if err != nil {
		return nil, err
	}
	proof, err := p.reg.Prove(ctx, w.CircuitID(), st.Bytes(), w)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", w.CircuitID(), err)
	}
	log.Trace(log.TransitionModule, "proved", "circuit", w.CircuitID(), "statement", st.String())
	return &Proven{Statement: st, Proof: proof}, nil
}

func (p *Prover) Add(ctx context.Context, w *AddWitness) (*Proven, error) {
	return p.Prove(ctx, w)
}

func (p *Prover) Update(ctx context.Context, w *UpdateWitness) (*Proven, error) {
	return p.Prove(ctx, w)
}

func (p *Prover) Extend(ctx context.Context, w *ExtendWitness) (*Proven, error) {
	return p.Prove(ctx, w)
}

func (p *Prover) Remove(ctx context.Context, w *RemoveWitness) (*Proven, error) {
	return p.Prove(ctx, w)
}

func (p *Prover) Reject(ctx context.Context, w *RejectWitness) (*Proven, error) {
	return p.Prove(ctx, w)
}

// Merge proves left followed by right. Both proofs are verified inside the
// merge circuit; roots must chain and timestamps must agree.
func (p *Prover) Merge(ctx context.Context, left, right *Proven) (*Proven, error) {
	return p.Prove(ctx, &MergeWitness{Left: left.Proof, Right: right.Proof})
}

// Verify checks pr's proof and that it proves exactly pr.Statement.
func (p *Prover) Verify(pr *Proven) error {
	if pr == nil || pr.Proof == nil || pr.Statement == nil {
		return fmt.Errorf("incomplete proof: %w", rollerrors.ErrProofVerification)
	}
	if !slices.Contains(Family, pr.Proof.Circuit) {
		return fmt.Errorf("%s: %w", pr.Proof.Circuit, rollerrors.ErrCircuitNotAllowed)
	}
	st, err := types.TransitionFromBytes(pr.Proof.Public)
	if err != nil {
		return err
	}
	if *st != *pr.Statement {
		return rollerrors.ErrStatementMismatch
	}
	return p.reg.Verify(pr.Proof)
}
