package voting

import (
	"bytes"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
)

const (
	CircuitVote  = "gov/vote"
	CircuitMerge = "gov/merge"
)

var Family = []string{CircuitVote, CircuitMerge}

// VoteMessage is the payload a validator signs to vote for d.
func VoteMessage(d *types.Decision) []byte {
	return append([]byte("nsroll/vote:"), d.Hash().Bytes()...)
}

// Witness is the private input of a voting circuit.
type Witness interface {
	CircuitID() string
	Statement() (*types.DecisionState, error)
}

// VoteWitness is one validator's vote: membership of Voter at position
// Index under the decision's committee root and a signature over the
// decision.
type VoteWitness struct {
	Decision  types.Decision
	Voter     ed25519.PublicKey
	Index     uint64
	Path      *trie.Witness
	Signature ed25519.Signature
}

type MergeWitness struct {
	Left  *prover.Proof
	Right *prover.Proof
}

func (*VoteWitness) CircuitID() string {
	return CircuitVote
}

func (*MergeWitness) CircuitID() string {
	return CircuitMerge
}

func (w *VoteWitness) Statement() (*types.DecisionState, error) {
	if len(w.Voter) != ed25519.PublicKeySize || w.Path == nil {
		return nil, rollerrors.ErrNotCommitteeMember
	}
	id := IdentityHash(w.Voter)
	root, err := w.Path.Open(w.Path.Depth(), indexKey(w.Index), id)
	if err != nil {
		return nil, fmt.Errorf("voter %x at %d: %w", []byte(w.Voter[:4]), w.Index, err)
	}
	if root != w.Decision.DecisionRoot {
		return nil, fmt.Errorf("voter %x: %w", []byte(w.Voter[:4]), rollerrors.ErrNotCommitteeMember)
	}
	if !ed25519.Verify(w.Voter, VoteMessage(&w.Decision), w.Signature) {
		return nil, fmt.Errorf("voter %x: %w", []byte(w.Voter[:4]), rollerrors.ErrBadVoteSignature)
	}
	return &types.DecisionState{Decision: w.Decision, First: w.Index, Last: w.Index, Count: 1, HashAcc: id}, nil
}

func (w *MergeWitness) Statement() (*types.DecisionState, error) {
	if w.Left == nil || w.Right == nil {
		return nil, fmt.Errorf("merge needs two proofs: %w", rollerrors.ErrWrongWitnessType)
	}
	left, err := types.DecisionStateFromBytes(w.Left.Public)
	if err != nil {
		return nil, err
	}
	right, err := types.DecisionStateFromBytes(w.Right.Public)
	if err != nil {
		return nil, err
	}
	return left.Combine(right)
}

type voteCircuit struct{}

func (voteCircuit) ID() string {
	return CircuitVote
}

func (voteCircuit) Check(_ prover.Recursion, public []byte, witness any) error {
	w, ok := witness.(*VoteWitness)
	if !ok {
		return fmt.Errorf("%s given %T: %w", CircuitVote, witness, rollerrors.ErrWrongWitnessType)
	}
	return checkStatement(public, w)
}

type mergeCircuit struct{}

func (mergeCircuit) ID() string {
	return CircuitMerge
}

func (mergeCircuit) Check(rec prover.Recursion, public []byte, witness any) error {
	w, ok := witness.(*MergeWitness)
	if !ok || w.Left == nil || w.Right == nil {
		return fmt.Errorf("%s given %T: %w", CircuitMerge, witness, rollerrors.ErrWrongWitnessType)
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
	claimed, err := types.DecisionStateFromBytes(public)
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

func Circuits() []prover.Circuit {
	return []prover.Circuit{voteCircuit{}, mergeCircuit{}}
}

// ThresholdPayload encodes a threshold as a decision payload scalar.
func ThresholdPayload(threshold uint64) common.Hash {
	return common.BytesToHash(common.Uint64ToBytes(threshold))
}

// SetValidatorsDecision proposes replacing the committee current by next
// with the given threshold.
func SetValidatorsDecision(registry common.Hash, current, next *Committee, threshold, expiry uint64) types.Decision {
	return types.Decision{
		RegistryID:   registry,
		DecisionRoot: current.Root(),
		Kind:         types.KindSetValidators,
		Payload:      [2]common.Hash{next.Root(), ThresholdPayload(threshold)},
		Expiry:       expiry,
	}
}
