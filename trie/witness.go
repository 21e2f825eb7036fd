package trie

import (
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/holiman/uint256"
)

// Witness is the authentication path of one leaf. Siblings and IsLeft are
// ordered bottom-up; IsLeft[h] is true when the path node at height h is the
// left child of its parent.
type Witness struct {
	Siblings []common.Hash `json:"siblings"`
	IsLeft   []bool        `json:"is_left"`
}

func (w *Witness) Depth() int {
	if w == nil {
		return 0
	}
	return len(w.Siblings)
}

// ComputeRootAndKey folds value up the path and returns the implied root
// together with the key the path addresses.
func (w *Witness) ComputeRootAndKey(value common.Hash) (root common.Hash, key common.Hash) {
	cur := value
	idx := new(uint256.Int)
	for h, sibling := range w.Siblings {
		cur = hashChildren(cur, sibling, w.IsLeft[h])
		if !w.IsLeft[h] {
			bit := new(uint256.Int).Lsh(uint256.NewInt(1), uint(h))
			idx.Or(idx, bit)
		}
	}
	return cur, common.Hash(idx.Bytes32())
}

// Open folds value up a path of exactly depth levels that addresses key and
// returns the implied root.
func (w *Witness) Open(depth int, key, value common.Hash) (common.Hash, error) {
	if w == nil {
		return common.Hash{}, fmt.Errorf("no path: %w", rollerrors.ErrWitnessMismatch)
	}
	if err := checkDepth(depth); err != nil {
		return common.Hash{}, err
	}
	if len(w.Siblings) != depth || len(w.IsLeft) != depth {
		return common.Hash{}, fmt.Errorf("%d siblings, %d directions at depth %d: %w", len(w.Siblings), len(w.IsLeft), depth, rollerrors.ErrWitnessDepth)
	}
	if !KeyFits(depth, key) {
		return common.Hash{}, fmt.Errorf("key %s at depth %d: %w", key.String_short(), depth, rollerrors.ErrKeyOutOfRange)
	}
	root, got := w.ComputeRootAndKey(value)
	if got != key {
		return common.Hash{}, fmt.Errorf("key %s, path addresses %s: %w", key.String_short(), got.String_short(), rollerrors.ErrWitnessMismatch)
	}
	return root, nil
}

// Verify checks that the witness opens value at key under root.
func (w *Witness) Verify(root, key, value common.Hash) error {
	gotRoot, err := w.Open(w.Depth(), key, value)
	if err != nil {
		return err
	}
	if gotRoot != root {
		return fmt.Errorf("root %s, path yields %s: %w", root.String_short(), gotRoot.String_short(), rollerrors.ErrWitnessMismatch)
	}
	return nil
}

// Clone returns a deep copy.
func (w *Witness) Clone() *Witness {
	return &Witness{
		Siblings: append([]common.Hash(nil), w.Siblings...),
		IsLeft:   append([]bool(nil), w.IsLeft...),
	}
}
