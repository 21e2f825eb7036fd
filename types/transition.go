package types

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
)

const (
	transitionTag = byte('T')
	// TransitionEncodedSize is tag + three hashes + seq + count + timestamp.
	TransitionEncodedSize = 1 + 3*common.HashLength + 8 + 8 + 8
)

// Transition is the public statement of one or more operations applied in a
// fixed order: the root moved from OldRoot to NewRoot, the Count operations
// at batch positions [Seq, Seq+Count) were processed and HashAcc is the sum
// of their operation hashes.
type Transition struct {
	OldRoot   common.Hash `json:"old_root"`
	NewRoot   common.Hash `json:"new_root"`
	HashAcc   common.Hash `json:"hash_acc"`
	Seq       uint64      `json:"seq"`
	Count     uint64      `json:"count"`
	Timestamp uint64      `json:"timestamp"`
}

// Bytes is the canonical encoding used as proof public input.
func (t *Transition) Bytes() []byte {
	out := make([]byte, 0, TransitionEncodedSize)
	out = append(out, transitionTag)
	out = append(out, t.OldRoot[:]...)
	out = append(out, t.NewRoot[:]...)
	out = append(out, t.HashAcc[:]...)
	out = append(out, common.Uint64ToBytes(t.Seq)...)
	out = append(out, common.Uint64ToBytes(t.Count)...)
	return append(out, common.Uint64ToBytes(t.Timestamp)...)
}

func TransitionFromBytes(b []byte) (*Transition, error) {
	if len(b) != TransitionEncodedSize || b[0] != transitionTag {
		return nil, fmt.Errorf("transition of %d bytes: %w", len(b), rollerrors.ErrMalformedStatement)
	}
	t := &Transition{
		OldRoot:   common.BytesToHash(b[1:33]),
		NewRoot:   common.BytesToHash(b[33:65]),
		HashAcc:   common.BytesToHash(b[65:97]),
		Seq:       common.BytesToUint64(b[97:105]),
		Count:     common.BytesToUint64(b[105:113]),
		Timestamp: common.BytesToUint64(b[113:121]),
	}
	return t, nil
}

// Digest identifies a statement, e.g. for settlement replay protection.
func (t *Transition) Digest() common.Hash {
	return common.Blake2Hash(t.Bytes())
}

// Combine returns the transition of t followed by next. The roots must chain,
// next must start at the position where t ends and both sides must carry the
// batch timestamp.
func (t *Transition) Combine(next *Transition) (*Transition, error) {
	if t.NewRoot != next.OldRoot {
		return nil, fmt.Errorf("left new root %s, right old root %s: %w",
			t.NewRoot.String_short(), next.OldRoot.String_short(), rollerrors.ErrChainContinuity)
	}
	if t.Seq+t.Count != next.Seq {
		return nil, fmt.Errorf("left ends at %d, right starts at %d: %w", t.Seq+t.Count, next.Seq, rollerrors.ErrSequenceGap)
	}
	if t.Timestamp != next.Timestamp {
		return nil, fmt.Errorf("timestamps %d and %d: %w", t.Timestamp, next.Timestamp, rollerrors.ErrTimestampMismatch)
	}
	return &Transition{
		OldRoot:   t.OldRoot,
		NewRoot:   next.NewRoot,
		HashAcc:   common.AddHash(t.HashAcc, next.HashAcc),
		Seq:       t.Seq,
		Count:     t.Count + next.Count,
		Timestamp: t.Timestamp,
	}, nil
}

func (t *Transition) String() string {
	return fmt.Sprintf("Transition{%s->%s seq=%d count=%d acc=%s ts=%d}",
		t.OldRoot.String_short(), t.NewRoot.String_short(), t.Seq, t.Count, t.HashAcc.String_short(), t.Timestamp)
}
