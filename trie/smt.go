package trie

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/holiman/uint256"
)

// CommitmentMap is a sparse binary Merkle tree of fixed depth. The leaf at
// index k holds the value committed under key k; absent keys hold zero.
// Only nodes that differ from the empty-subtree hash are stored.
type CommitmentMap struct {
	mu    sync.RWMutex
	depth int
	store NodeStore
	root  common.Hash
}

// NewCommitmentMap opens a map of the given depth over store. A store that
// already holds nodes for this depth resumes at its stored root.
func NewCommitmentMap(depth int, store NodeStore) (*CommitmentMap, error) {
	if err := checkDepth(depth); err != nil {
		return nil, err
	}
	m := &CommitmentMap{depth: depth, store: store}
	if err := m.Refresh(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMemoryCommitmentMap is a convenience constructor backed by a MemoryNodeStore.
func NewMemoryCommitmentMap(depth int) (*CommitmentMap, error) {
	return NewCommitmentMap(depth, NewMemoryNodeStore())
}

// Refresh reloads the root from the node store, picking up writes made
// through another view of the same store (an Overlay commit, for example).
func (m *CommitmentMap) Refresh() error {
	root, err := m.node(m.depth, new(uint256.Int))
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.root = root
	m.mu.Unlock()
	return nil
}

func (m *CommitmentMap) Depth() int {
	return m.depth
}

func (m *CommitmentMap) Store() NodeStore {
	return m.store
}

func (m *CommitmentMap) Root() common.Hash {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.root
}

// WithStore returns a map of the same depth reading and writing through store.
// Used to stage changes in an Overlay of the current store.
func (m *CommitmentMap) WithStore(store NodeStore) (*CommitmentMap, error) {
	return NewCommitmentMap(m.depth, store)
}

func (m *CommitmentMap) node(height int, index *uint256.Int) (common.Hash, error) {
	h, ok, err := m.store.GetNode(nodeKey(height, index))
	if err != nil {
		return common.Hash{}, err
	}
	if !ok {
		return zeroHashes[height], nil
	}
	return h, nil
}

func (m *CommitmentMap) putNode(height int, index *uint256.Int, h common.Hash) error {
	if h == zeroHashes[height] {
		return m.store.DeleteNode(nodeKey(height, index))
	}
	return m.store.PutNode(nodeKey(height, index), h)
}

// Get returns the value committed under key, zero if absent.
func (m *CommitmentMap) Get(key common.Hash) (common.Hash, error) {
	idx, err := keyIndex(m.depth, key)
	if err != nil {
		return common.Hash{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.node(0, idx)
}

// Set commits value under key and returns the new root. A zero value removes
// the key.
func (m *CommitmentMap) Set(key, value common.Hash) (common.Hash, error) {
	idx, err := keyIndex(m.depth, key)
	if err != nil {
		return common.Hash{}, err
	}
	if !value.IsCanonical() {
		return common.Hash{}, rollerrors.ErrNonCanonicalHash
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := value
	if err := m.putNode(0, idx, cur); err != nil {
		return common.Hash{}, err
	}
	one := uint256.NewInt(1)
	for h := 0; h < m.depth; h++ {
		sibIdx := new(uint256.Int).Xor(idx, one)
		sibling, err := m.node(h, sibIdx)
		if err != nil {
			return common.Hash{}, err
		}
		cur = hashChildren(cur, sibling, idx.Uint64()&1 == 0)
		idx.Rsh(idx, 1)
		if err := m.putNode(h+1, idx, cur); err != nil {
			return common.Hash{}, err
		}
	}
	log.Trace(log.TrieModule, "Set", "key", key.String_short(), "value", value.String_short(), "root", cur.String_short())
	m.root = cur
	return cur, nil
}

// GetWitness returns the sibling path of key against the current root.
func (m *CommitmentMap) GetWitness(key common.Hash) (*Witness, error) {
	idx, err := keyIndex(m.depth, key)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	w := &Witness{
		Siblings: make([]common.Hash, m.depth),
		IsLeft:   make([]bool, m.depth),
	}
	one := uint256.NewInt(1)
	for h := 0; h < m.depth; h++ {
		sibling, err := m.node(h, new(uint256.Int).Xor(idx, one))
		if err != nil {
			return nil, fmt.Errorf("witness height %d: %w", h, err)
		}
		w.Siblings[h] = sibling
		w.IsLeft[h] = idx.Uint64()&1 == 0
		idx.Rsh(idx, 1)
	}
	return w, nil
}
