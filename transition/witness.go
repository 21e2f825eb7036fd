package transition

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
)

// Witness is the private input of one transition circuit. Statement derives
// the public Transition the witness proves, or the reason it proves nothing.
type Witness interface {
	CircuitID() string
	Statement() (*types.Transition, error)
}

// AddWitness inserts Record under an absent Key. Path opens Key under Root.
// Seq is the operation's position in its batch.
type AddWitness struct {
	Root      common.Hash
	Key       common.Hash
	Record    types.Record
	Path      *trie.Witness
	Seq       uint64
	Timestamp uint64
}

type UpdateWitness struct {
	Root      common.Hash
	Key       common.Hash
	Record    types.Record
	OldRecord *types.Record
	Signature []byte
	Path      *trie.Witness
	Seq       uint64
	Timestamp uint64
}

type ExtendWitness struct {
	Root      common.Hash
	Key       common.Hash
	Record    types.Record
	OldRecord *types.Record
	Path      *trie.Witness
	Seq       uint64
	Timestamp uint64
}

type RemoveWitness struct {
	Root      common.Hash
	Key       common.Hash
	OldRecord *types.Record
	Signature []byte
	Path      *trie.Witness
	Seq       uint64
	Timestamp uint64
}

// RejectWitness records an operation that was refused at Root. Reason is
// carried for the audit trail only.
type RejectWitness struct {
	Root      common.Hash
	Op        types.Operation
	Reason    string
	Seq       uint64
	Timestamp uint64
}

// MergeWitness combines two proven transitions, Left applied first.
type MergeWitness struct {
	Left  *prover.Proof
	Right *prover.Proof
}

func (*AddWitness) CircuitID() string { return CircuitAdd }
func (*UpdateWitness) CircuitID() string { return CircuitUpdate }
func (*ExtendWitness) CircuitID() string { return CircuitExtend }
func (*RemoveWitness) CircuitID() string { return CircuitRemove }
func (*RejectWitness) CircuitID() string { return CircuitReject }
func (*MergeWitness) CircuitID() string { return CircuitMerge }

// open folds value up path and checks the path addresses key.
func open(path *trie.Witness, key, value common.Hash) (common.Hash, error) {
	return path.Open(path.Depth(), key, value)
}

// openOld checks that old is the record stored under key at root and returns
// its value.
func openOld(root, key common.Hash, old *types.Record, path *trie.Witness) (common.Hash, error) {
	if old == nil {
		return common.Hash{}, rollerrors.ErrVMissingOldRecord
	}
	oldValue := old.Hash()
	got, err := open(path, key, oldValue)
	if err != nil {
		return common.Hash{}, err
	}
	if got != root {
		return common.Hash{}, fmt.Errorf("old record %s: %w", oldValue.String_short(), rollerrors.ErrVOldRecordMismatch)
	}
	return oldValue, nil
}

func elementary(root, newRoot common.Hash, op types.Operation, seq, ts uint64) *types.Transition {
	return &types.Transition{
		OldRoot:   root,
		NewRoot:   newRoot,
		HashAcc:   types.OpHash(op),
		Seq:       seq,
		Count:     1,
		Timestamp: ts,
	}
}

func (w *AddWitness) Statement() (*types.Transition, error) {
	if err := w.Record.Validate(); err != nil {
		return nil, err
	}
	got, err := open(w.Path, w.Key, common.Hash{})
	if err != nil {
		return nil, err
	}
	if got != w.Root {
		return nil, rollerrors.ErrVKeyExists
	}
	if w.Record.ExpiredAt(w.Timestamp) {
		return nil, fmt.Errorf("expiry %d at %d: %w", w.Record.Expiry, w.Timestamp, rollerrors.ErrVRecordExpired)
	}
	newRoot, err := open(w.Path, w.Key, w.Record.Hash())
	if err != nil {
		return nil, err
	}
	return elementary(w.Root, newRoot, &types.AddOp{Key: w.Key, Record: w.Record}, w.Seq, w.Timestamp), nil
}

func (w *UpdateWitness) Statement() (*types.Transition, error) {
	if err := w.Record.Validate(); err != nil {
		return nil, err
	}
	oldValue, err := openOld(w.Root, w.Key, w.OldRecord, w.Path)
	if err != nil {
		return nil, err
	}
	if w.OldRecord.ExpiredAt(w.Timestamp) || w.Record.ExpiredAt(w.Timestamp) {
		return nil, rollerrors.ErrVRecordExpired
	}
	if err := common.VerifyOwnerSignature(w.OldRecord.Owner, types.UpdateDigest(w.Key, oldValue, &w.Record), w.Signature); err != nil {
		return nil, err
	}
	newRoot, err := open(w.Path, w.Key, w.Record.Hash())
	if err != nil {
		return nil, err
	}
	return elementary(w.Root, newRoot, &types.UpdateOp{Key: w.Key, Record: w.Record}, w.Seq, w.Timestamp), nil
}

func (w *ExtendWitness) Statement() (*types.Transition, error) {
	if err := w.Record.Validate(); err != nil {
		return nil, err
	}
	if _, err := openOld(w.Root, w.Key, w.OldRecord, w.Path); err != nil {
		return nil, err
	}
	if w.OldRecord.ExpiredAt(w.Timestamp) {
		return nil, rollerrors.ErrVRecordExpired
	}
	if w.Record.Expiry <= w.OldRecord.Expiry {
		return nil, fmt.Errorf("expiry %d after %d: %w", w.Record.Expiry, w.OldRecord.Expiry, rollerrors.ErrVExpiryNotExtended)
	}
	if !w.Record.SameFields(w.OldRecord) {
		return nil, rollerrors.ErrVFieldsChanged
	}
	newRoot, err := open(w.Path, w.Key, w.Record.Hash())
	if err != nil {
		return nil, err
	}
	return elementary(w.Root, newRoot, &types.ExtendOp{Key: w.Key, Record: w.Record}, w.Seq, w.Timestamp), nil
}

func (w *RemoveWitness) Statement() (*types.Transition, error) {
	oldValue, err := openOld(w.Root, w.Key, w.OldRecord, w.Path)
	if err != nil {
		return nil, err
	}
	// expired records can be cleared by anyone
	if !w.OldRecord.ExpiredAt(w.Timestamp) {
		if len(w.Signature) == 0 {
			return nil, rollerrors.ErrVUnauthorized
		}
		if err := common.VerifyOwnerSignature(w.OldRecord.Owner, types.RemoveDigest(w.Key, oldValue), w.Signature); err != nil {
			return nil, err
		}
	}
	newRoot, err := open(w.Path, w.Key, common.Hash{})
	if err != nil {
		return nil, err
	}
	return elementary(w.Root, newRoot, &types.RemoveOp{Key: w.Key}, w.Seq, w.Timestamp), nil
}

func (w *RejectWitness) Statement() (*types.Transition, error) {
	if w.Op == nil {
		return nil, fmt.Errorf("reject without operation: %w", rollerrors.ErrWrongWitnessType)
	}
	return elementary(w.Root, w.Root, w.Op, w.Seq, w.Timestamp), nil
}

// Statement of a merge is the combination of the two inner statements. It
// does not verify the inner proofs; the merge circuit does.
func (w *MergeWitness) Statement() (*types.Transition, error) {
	if w.Left == nil || w.Right == nil {
		return nil, fmt.Errorf("merge needs two proofs: %w", rollerrors.ErrWrongWitnessType)
	}
	left, err := types.TransitionFromBytes(w.Left.Public)
	if err != nil {
		return nil, err
	}
	right, err := types.TransitionFromBytes(w.Right.Public)
	if err != nil {
		return nil, err
	}
	return left.Combine(right)
}

// ForOperation builds the elementary witness of op, the seq-th operation of
// its batch, applied at root with path opening op's key. The operation must
// carry its old record, if it has one.
func ForOperation(op types.Operation, seq uint64, root common.Hash, path *trie.Witness, ts uint64) Witness {
	switch o := op.(type) {
	case *types.AddOp:
		return &AddWitness{Root: root, Key: o.Key, Record: o.Record, Path: path, Seq: seq, Timestamp: ts}
	case *types.UpdateOp:
		return &UpdateWitness{Root: root, Key: o.Key, Record: o.Record, OldRecord: o.OldRecord, Signature: o.Signature, Path: path, Seq: seq, Timestamp: ts}
	case *types.ExtendOp:
		return &ExtendWitness{Root: root, Key: o.Key, Record: o.Record, OldRecord: o.OldRecord, Path: path, Seq: seq, Timestamp: ts}
	case *types.RemoveOp:
		return &RemoveWitness{Root: root, Key: o.Key, OldRecord: o.OldRecord, Signature: o.Signature, Path: path, Seq: seq, Timestamp: ts}
	}
	panic(fmt.Sprintf("unhandled operation %T", op))
}
