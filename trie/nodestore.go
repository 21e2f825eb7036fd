package trie

import (
	"fmt"
	"sync"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/storage"
)

// NodeStore holds the non-empty nodes of a commitment map. Empty subtrees are
// implied by ZeroHash and never stored.
type NodeStore interface {
	GetNode(key []byte) (common.Hash, bool, error)
	PutNode(key []byte, h common.Hash) error
	DeleteNode(key []byte) error
}

// batchWriter is implemented by stores that can apply many node writes atomically.
type batchWriter interface {
	writeNodes(puts map[string]common.Hash, deletes []string) error
}

// MemoryNodeStore keeps nodes in a map.
type MemoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[string]common.Hash
}

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{nodes: make(map[string]common.Hash)}
}

func (m *MemoryNodeStore) GetNode(key []byte) (common.Hash, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.nodes[string(key)]
	return h, ok, nil
}

func (m *MemoryNodeStore) PutNode(key []byte, h common.Hash) error {
	m.mu.Lock()
	m.nodes[string(key)] = h
	m.mu.Unlock()
	return nil
}

func (m *MemoryNodeStore) DeleteNode(key []byte) error {
	m.mu.Lock()
	delete(m.nodes, string(key))
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored (non-empty) nodes.
func (m *MemoryNodeStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.nodes)
}

func (m *MemoryNodeStore) writeNodes(puts map[string]common.Hash, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, h := range puts {
		m.nodes[k] = h
	}
	for _, k := range deletes {
		delete(m.nodes, k)
	}
	return nil
}

// PersistentNodeStore keeps nodes in LevelDB under a namespace prefix, so
// several maps can share one database.
type PersistentNodeStore struct {
	db     *storage.PersistenceStore
	prefix []byte
}

func NewPersistentNodeStore(db *storage.PersistenceStore, namespace string) *PersistentNodeStore {
	return &PersistentNodeStore{db: db, prefix: []byte(namespace + "/")}
}

func (p *PersistentNodeStore) dbKey(key []byte) []byte {
	return append(append([]byte(nil), p.prefix...), key...)
}

func (p *PersistentNodeStore) GetNode(key []byte) (common.Hash, bool, error) {
	data, ok, err := p.db.Get(p.dbKey(key))
	if err != nil || !ok {
		return common.Hash{}, false, err
	}
	if len(data) != common.HashLength {
		return common.Hash{}, false, fmt.Errorf("node %x has %d bytes: %w", key, len(data), rollerrors.ErrCorruptNode)
	}
	return common.BytesToHash(data), true, nil
}

func (p *PersistentNodeStore) PutNode(key []byte, h common.Hash) error {
	return p.db.Put(p.dbKey(key), h.Bytes())
}

func (p *PersistentNodeStore) DeleteNode(key []byte) error {
	return p.db.Delete(p.dbKey(key))
}

func (p *PersistentNodeStore) writeNodes(puts map[string]common.Hash, deletes []string) error {
	kvs := make([][2][]byte, 0, len(puts))
	for k, h := range puts {
		kvs = append(kvs, [2][]byte{p.dbKey([]byte(k)), h.Bytes()})
	}
	dels := make([][]byte, 0, len(deletes))
	for _, k := range deletes {
		dels = append(dels, p.dbKey([]byte(k)))
	}
	return p.db.WriteBatch(kvs, dels)
}

// Overlay buffers node writes on top of a base store. Reads fall through to
// the base for untouched nodes; nothing reaches the base until Commit.
type Overlay struct {
	mu      sync.RWMutex
	base    NodeStore
	puts    map[string]common.Hash
	deletes map[string]struct{}
}

func NewOverlay(base NodeStore) *Overlay {
	return &Overlay{
		base:    base,
		puts:    make(map[string]common.Hash),
		deletes: make(map[string]struct{}),
	}
}

func (o *Overlay) GetNode(key []byte) (common.Hash, bool, error) {
	o.mu.RLock()
	if h, ok := o.puts[string(key)]; ok {
		o.mu.RUnlock()
		return h, true, nil
	}
	if _, ok := o.deletes[string(key)]; ok {
		o.mu.RUnlock()
		return common.Hash{}, false, nil
	}
	o.mu.RUnlock()
	return o.base.GetNode(key)
}

func (o *Overlay) PutNode(key []byte, h common.Hash) error {
	o.mu.Lock()
	o.puts[string(key)] = h
	delete(o.deletes, string(key))
	o.mu.Unlock()
	return nil
}

func (o *Overlay) DeleteNode(key []byte) error {
	o.mu.Lock()
	delete(o.puts, string(key))
	o.deletes[string(key)] = struct{}{}
	o.mu.Unlock()
	return nil
}

// Dirty returns the number of buffered writes.
func (o *Overlay) Dirty() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.puts) + len(o.deletes)
}

// Commit flushes buffered writes into the base store and resets the overlay.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	deletes := make([]string, 0, len(o.deletes))
	for k := range o.deletes {
		deletes = append(deletes, k)
	}
	if bw, ok := o.base.(batchWriter); ok {
		if err := bw.writeNodes(o.puts, deletes); err != nil {
			return err
		}
	} else {
		for k, h := range o.puts {
			if err := o.base.PutNode([]byte(k), h); err != nil {
				return err
			}
		}
		for _, k := range deletes {
			if err := o.base.DeleteNode([]byte(k)); err != nil {
				return err
			}
		}
	}
	o.puts = make(map[string]common.Hash)
	o.deletes = make(map[string]struct{})
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.mu.Lock()
	o.puts = make(map[string]common.Hash)
	o.deletes = make(map[string]struct{})
	o.mu.Unlock()
}

func (o *Overlay) writeNodes(puts map[string]common.Hash, deletes []string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	for k, h := range puts {
		o.puts[k] = h
		delete(o.deletes, k)
	}
	for _, k := range deletes {
		delete(o.puts, k)
		o.deletes[k] = struct{}{}
	}
	return nil
}
