package aggregator

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
)

// State is the aggregator's view of the registry: the commitment map plus an
// index of record preimages, needed to open stored values.
type State struct {
	mu      sync.RWMutex
	m       *trie.CommitmentMap
	records map[common.Hash]types.Record
}

func NewState(m *trie.CommitmentMap) *State {
	return &State{m: m, records: make(map[common.Hash]types.Record)}
}

// NewGenesisState bulk-loads records into store and returns the state over
// it. The store must be empty.
func NewGenesisState(depth int, store trie.NodeStore, records map[common.Hash]types.Record) (*State, error) {
	leaves := make([]trie.Leaf, 0, len(records))
	for key, rec := range records {
		leaves = append(leaves, trie.Leaf{Key: key, Value: rec.Hash()})
	}
	snap, err := trie.BulkBuild(depth, leaves)
	if err != nil {
		return nil, err
	}
	m, err := trie.NewCommitmentMapFromSnapshot(snap, store)
	if err != nil {
		return nil, err
	}
	s := NewState(m)
	for key, rec := range records {
		s.records[key] = rec
	}
	log.Info(log.AggregatorModule, "genesis state", "records", len(records), "root", m.Root().String_short())
	return s, nil
}

func (s *State) Root() common.Hash {
	return s.m.Root()
}

func (s *State) Depth() int {
	return s.m.Depth()
}

func (s *State) Map() *trie.CommitmentMap {
	return s.m
}

// Record returns the preimage of the value stored under key.
func (s *State) Record(key common.Hash) (*types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.Copy(), true
}

func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Begin opens a staged view over the state. Writes go to an overlay and
// reach the state only on Commit.
func (s *State) Begin() (*Staged, error) {
	ov := trie.NewOverlay(s.m.Store())
	view, err := s.m.WithStore(ov)
	if err != nil {
		return nil, err
	}
	return &Staged{
		state:   s,
		overlay: ov,
		view:    view,
		records: make(map[common.Hash]*types.Record),
	}, nil
}

// Staged is a pending set of changes on top of a State. A nil entry in
// records marks a removed key.
type Staged struct {
	state   *State
	overlay *trie.Overlay
	view    *trie.CommitmentMap
	records map[common.Hash]*types.Record
}

func (st *Staged) Root() common.Hash {
	return st.view.Root()
}

func (st *Staged) BaseRoot() common.Hash {
	return st.state.Root()
}

func (st *Staged) Get(key common.Hash) (common.Hash, error) {
	return st.view.Get(key)
}

func (st *Staged) Witness(key common.Hash) (*trie.Witness, error) {
	return st.view.GetWitness(key)
}

func (st *Staged) Record(key common.Hash) (*types.Record, bool) {
	if rec, ok := st.records[key]; ok {
		if rec == nil {
			return nil, false
		}
		return rec.Copy(), true
	}
	return st.state.Record(key)
}

// Put stores rec under key (nil removes it) and checks the resulting root
// against the root the transition proof claims.
func (st *Staged) Put(key common.Hash, rec *types.Record, expectRoot common.Hash) error {
	var value common.Hash
	if rec != nil {
		value = rec.Hash()
	}
	root, err := st.view.Set(key, value)
	if err != nil {
		return err
	}
	if root != expectRoot {
		return fmt.Errorf("map root %s, proven %s: %w", root.String_short(), expectRoot.String_short(), rollerrors.ErrRootMismatch)
	}
	if rec != nil {
		rec = rec.Copy()
	}
	st.records[key] = rec
	return nil
}

// Commit applies the staged changes to the state.
func (st *Staged) Commit() error {
	s := st.state
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := st.overlay.Commit(); err != nil {
		return err
	}
	if err := s.m.Refresh(); err != nil {
		return err
	}
	for key, rec := range st.records {
		if rec == nil {
			delete(s.records, key)
			continue
		}
		s.records[key] = *rec
	}
	st.records = make(map[common.Hash]*types.Record)
	return nil
}

func (st *Staged) Discard() {
	st.overlay.Discard()
	st.records = make(map[common.Hash]*types.Record)
}
