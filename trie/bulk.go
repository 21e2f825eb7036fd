package trie

import (
	"runtime"
	"sort"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/holiman/uint256"
	"golang.org/x/sync/errgroup"
)

// parallelLevelThreshold is the number of parents at one level above which
// hashing is split across goroutines.
const parallelLevelThreshold = 2048

// Leaf is one key/value assignment fed to BulkBuild.
type Leaf struct {
	Key   common.Hash
	Value common.Hash
}

// Snapshot is a fully built tree held in memory, one map of non-empty nodes
// per height.
type Snapshot struct {
	depth  int
	levels []map[uint256.Int]common.Hash
}

type parentNode struct {
	index uint256.Int
	hash  common.Hash
}

// BulkBuild builds the tree for leaves in one pass, hashing only nodes with a
// non-empty subtree. When a key repeats the last assignment wins, and zero
// values are absences, so the result equals applying Set in order.
func BulkBuild(depth int, leaves []Leaf) (*Snapshot, error) {
	if err := checkDepth(depth); err != nil {
		return nil, err
	}
	level := make(map[uint256.Int]common.Hash, len(leaves))
	for _, l := range leaves {
		idx, err := keyIndex(depth, l.Key)
		if err != nil {
			return nil, err
		}
		if !l.Value.IsCanonical() {
			return nil, rollerrors.ErrNonCanonicalHash
		}
		if l.Value.IsZero() {
			delete(level, *idx)
			continue
		}
		level[*idx] = l.Value
	}

	s := &Snapshot{depth: depth, levels: make([]map[uint256.Int]common.Hash, depth+1)}
	s.levels[0] = level
	for h := 0; h < depth; h++ {
		s.levels[h+1] = buildParents(h, s.levels[h])
	}
	log.Debug(log.TrieModule, "BulkBuild", "depth", depth, "leaves", len(s.levels[0]), "root", s.Root().String_short())
	return s, nil
}

func buildParents(h int, children map[uint256.Int]common.Hash) map[uint256.Int]common.Hash {
	parentSet := make(map[uint256.Int]struct{}, len(children)/2+1)
	for idx := range children {
		var p uint256.Int
		p.Rsh(&idx, 1)
		parentSet[p] = struct{}{}
	}
	parents := make([]parentNode, 0, len(parentSet))
	for p := range parentSet {
		parents = append(parents, parentNode{index: p})
	}

	hashRange := func(nodes []parentNode) {
		for i := range nodes {
			var left, right uint256.Int
			left.Lsh(&nodes[i].index, 1)
			right.Or(&left, uint256.NewInt(1))
			l, ok := children[left]
			if !ok {
				l = zeroHashes[h]
			}
			r, ok := children[right]
			if !ok {
				r = zeroHashes[h]
			}
			nodes[i].hash = common.HashPair(l, r)
		}
	}

	if len(parents) < parallelLevelThreshold {
		hashRange(parents)
	} else {
		var g errgroup.Group
		workers := runtime.GOMAXPROCS(0)
		chunk := (len(parents) + workers - 1) / workers
		for start := 0; start < len(parents); start += chunk {
			end := min(start+chunk, len(parents))
			part := parents[start:end]
			g.Go(func() error {
				hashRange(part)
				return nil
			})
		}
		_ = g.Wait()
	}

	out := make(map[uint256.Int]common.Hash, len(parents))
	for _, p := range parents {
		if p.hash != zeroHashes[h+1] {
			out[p.index] = p.hash
		}
	}
	return out
}

func (s *Snapshot) Depth() int {
	return s.depth
}

// Len returns the number of non-empty leaves.
func (s *Snapshot) Len() int {
	return len(s.levels[0])
}

func (s *Snapshot) Root() common.Hash {
	if r, ok := s.levels[s.depth][uint256.Int{}]; ok {
		return r
	}
	return zeroHashes[s.depth]
}

func (s *Snapshot) node(h int, idx *uint256.Int) common.Hash {
	if v, ok := s.levels[h][*idx]; ok {
		return v
	}
	return zeroHashes[h]
}

// Get returns the value at key, zero if absent.
func (s *Snapshot) Get(key common.Hash) (common.Hash, error) {
	idx, err := keyIndex(s.depth, key)
	if err != nil {
		return common.Hash{}, err
	}
	return s.node(0, idx), nil
}

func (s *Snapshot) Witness(key common.Hash) (*Witness, error) {
	idx, err := keyIndex(s.depth, key)
	if err != nil {
		return nil, err
	}
	w := &Witness{
		Siblings: make([]common.Hash, s.depth),
		IsLeft:   make([]bool, s.depth),
	}
	one := uint256.NewInt(1)
	for h := 0; h < s.depth; h++ {
		w.Siblings[h] = s.node(h, new(uint256.Int).Xor(idx, one))
		w.IsLeft[h] = idx.Uint64()&1 == 0
		idx.Rsh(idx, 1)
	}
	return w, nil
}

// Keys returns the non-empty leaf keys in ascending order.
func (s *Snapshot) Keys() []common.Hash {
	keys := make([]common.Hash, 0, len(s.levels[0]))
	for idx := range s.levels[0] {
		keys = append(keys, common.Hash(idx.Bytes32()))
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(keys[i][:]) < string(keys[j][:])
	})
	return keys
}

// WriteTo stores every node of the snapshot in store.
func (s *Snapshot) WriteTo(store NodeStore) error {
	if bw, ok := store.(batchWriter); ok {
		puts := make(map[string]common.Hash)
		for h, level := range s.levels {
			for idx, v := range level {
				puts[string(nodeKey(h, &idx))] = v
			}
		}
		return bw.writeNodes(puts, nil)
	}
	for h, level := range s.levels {
		for idx, v := range level {
			if err := store.PutNode(nodeKey(h, &idx), v); err != nil {
				return err
			}
		}
	}
	return nil
}

// NewCommitmentMapFromSnapshot writes snap into an empty store and opens a
// map over it.
func NewCommitmentMapFromSnapshot(snap *Snapshot, store NodeStore) (*CommitmentMap, error) {
	if err := snap.WriteTo(store); err != nil {
		return nil, err
	}
	return NewCommitmentMap(snap.depth, store)
}
