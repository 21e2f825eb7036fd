// Package transition proves registry state transitions: one circuit per
// operation kind, a reject circuit for refused operations, and a merge
// circuit that composes two proven transitions.
package transition

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
)

const (
	CircuitAdd    = "ns/add"
	CircuitUpdate = "ns/update"
	CircuitExtend = "ns/extend"
	CircuitRemove = "ns/remove"
	CircuitReject = "ns/reject"
	CircuitMerge  = "ns/merge"
)

// Family is every circuit whose public input is a Transition. Merge accepts
// inner proofs from these only.
var Family = []string{CircuitAdd, CircuitUpdate, CircuitExtend, CircuitRemove, CircuitReject, CircuitMerge}

// elementaryCircuit checks a single-operation witness.
type elementaryCircuit struct {
	id string
}

func (c elementaryCircuit) ID() string {
	return c.id
}

func (c elementaryCircuit) Check(_ prover.Recursion, public []byte, witness any) error {
	w, ok := witness.(Witness)
	if !ok || w.CircuitID() != c.id {
		return fmt.Errorf("%s given %T: %w", c.id, witness, rollerrors.ErrWrongWitnessType)
	}
	return checkStatement(public, w)
}

// mergeCircuit verifies both inner proofs before combining their statements.
type mergeCircuit struct{}

func (mergeCircuit) ID() string {
	return CircuitMerge
}

func (mergeCircuit) Check(rec prover.Recursion, public []byte, witness any) error {
	w, ok := witness.(*MergeWitness)
	if !ok {
		return fmt.Errorf("%s given %T: %w", CircuitMerge, witness, rollerrors.ErrWrongWitnessType)
	}
	if w.Left == nil || w.Right == nil {
		return fmt.Errorf("merge needs two proofs: %w", rollerrors.ErrWrongWitnessType)
	}
	if err := rec.VerifyInner(w.Left, Family...); err != nil {
		return fmt.Errorf("left: %w", err)
	}
	if err := rec.VerifyInner(w.Right, Family...); err != nil {
		return fmt.Errorf("right: %w", err)
	}
	return checkStatement(public, w)
}

func checkStatement(public []byte, w Witness) error {
	claimed, err := types.TransitionFromBytes(public)
	if err != nil {
		return err
	}
	derived, err := w.Statement()
	if err != nil {
		return err
	}
	if !bytes.Equal(claimed.Bytes(), derived.Bytes()) {
		return fmt.Errorf("claimed %s, derived %s: %w", claimed, derived, rollerrors.ErrStatementMismatch)
	}
	return nil
}

// Circuits returns every transition circuit, ready for prover.NewRegistry.
func Circuits() []prover.Circuit {
	return []prover.Circuit{
		elementaryCircuit{id: CircuitAdd},
		elementaryCircuit{id: CircuitUpdate},
		elementaryCircuit{id: CircuitExtend},
		elementaryCircuit{id: CircuitRemove},
		elementaryCircuit{id: CircuitReject},
		mergeCircuit{},
	}
}
