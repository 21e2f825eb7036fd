package trie

import (
	"testing"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

func testKey(idx uint64) common.Hash {
	return common.BytesToHash(common.Uint64ToBytes(idx))
}

func testValue(v uint64) common.Hash {
	return common.HashFields(common.Uint64Element(v))
}

func TestZeroHashes(t *testing.T) {
	assert.True(t, ZeroHash(0).IsZero())
	assert.Equal(t, common.HashPair(ZeroHash(3), ZeroHash(3)), ZeroHash(4))

	m, err := NewMemoryCommitmentMap(16)
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot(16), m.Root())
}

func TestInvalidDepth(t *testing.T) {
	_, err := NewMemoryCommitmentMap(0)
	require.ErrorIs(t, err, rollerrors.ErrInvalidDepth)
	_, err = NewMemoryCommitmentMap(MaxDepth + 1)
	require.ErrorIs(t, err, rollerrors.ErrInvalidDepth)
	_, err = NewMemoryCommitmentMap(MaxDepth)
	require.NoError(t, err)
}

func TestKeyOutOfRange(t *testing.T) {
	m, err := NewMemoryCommitmentMap(8)
	require.NoError(t, err)
	_, err = m.Set(testKey(256), testValue(1))
	require.ErrorIs(t, err, rollerrors.ErrKeyOutOfRange)
	_, err = m.Get(testKey(256))
	require.ErrorIs(t, err, rollerrors.ErrKeyOutOfRange)
	_, err = m.Set(testKey(255), testValue(1))
	require.NoError(t, err)
	assert.False(t, KeyFits(8, testKey(256)))
}

func TestNonCanonicalValue(t *testing.T) {
	m, err := NewMemoryCommitmentMap(8)
	require.NoError(t, err)
	var over common.Hash
	for i := range over {
		over[i] = 0xff
	}
	_, err = m.Set(testKey(1), over)
	require.ErrorIs(t, err, rollerrors.ErrNonCanonicalHash)
}

func TestSetGetDelete(t *testing.T) {
	m, err := NewMemoryCommitmentMap(16)
	require.NoError(t, err)
	store := m.Store().(*MemoryNodeStore)

	root1, err := m.Set(testKey(7), testValue(1))
	require.NoError(t, err)
	assert.NotEqual(t, EmptyRoot(16), root1)
	assert.Equal(t, 17, store.Len())

	got, err := m.Get(testKey(7))
	require.NoError(t, err)
	assert.Equal(t, testValue(1), got)

	absent, err := m.Get(testKey(8))
	require.NoError(t, err)
	assert.True(t, absent.IsZero())

	root0, err := m.Set(testKey(7), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot(16), root0)
	assert.Equal(t, 0, store.Len())
}

func TestOrderIndependence(t *testing.T) {
	a, _ := NewMemoryCommitmentMap(20)
	b, _ := NewMemoryCommitmentMap(20)
	keys := []uint64{3, 1 << 19, 77, 12345}
	for i, k := range keys {
		_, err := a.Set(testKey(k), testValue(uint64(i)))
		require.NoError(t, err)
	}
	for i := len(keys) - 1; i >= 0; i-- {
		_, err := b.Set(testKey(keys[i]), testValue(uint64(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, a.Root(), b.Root())
}

// every present and absent key opens against the root to its committed value
func TestWitnessCorrectness(t *testing.T) {
	const depth = 16
	r := rand.New(rand.NewSource(42))
	m, err := NewMemoryCommitmentMap(depth)
	require.NoError(t, err)

	present := make(map[uint64]common.Hash)
	for i := 0; i < 200; i++ {
		k := r.Uint64() & (1<<depth - 1)
		v := testValue(r.Uint64())
		_, err := m.Set(testKey(k), v)
		require.NoError(t, err)
		present[k] = v
	}
	for k, v := range present {
		w, err := m.GetWitness(testKey(k))
		require.NoError(t, err)
		require.Equal(t, depth, w.Depth())
		root, key := w.ComputeRootAndKey(v)
		require.Equal(t, m.Root(), root)
		require.Equal(t, testKey(k), key)
		require.NoError(t, w.Verify(m.Root(), testKey(k), v))
		require.ErrorIs(t, w.Verify(m.Root(), testKey(k), testValue(999999)), rollerrors.ErrWitnessMismatch)
	}
	for i := 0; i < 50; i++ {
		k := r.Uint64() & (1<<depth - 1)
		if _, ok := present[k]; ok {
			continue
		}
		w, err := m.GetWitness(testKey(k))
		require.NoError(t, err)
		require.NoError(t, w.Verify(m.Root(), testKey(k), common.Hash{}))
	}
}

func TestWitnessPredictsSet(t *testing.T) {
	m, _ := NewMemoryCommitmentMap(12)
	_, err := m.Set(testKey(5), testValue(5))
	require.NoError(t, err)
	w, err := m.GetWitness(testKey(9))
	require.NoError(t, err)
	predicted, _ := w.ComputeRootAndKey(testValue(9))
	newRoot, err := m.Set(testKey(9), testValue(9))
	require.NoError(t, err)
	assert.Equal(t, predicted, newRoot)
}

func TestWitnessOpenChecksShape(t *testing.T) {
	m, _ := NewMemoryCommitmentMap(8)
	_, err := m.Set(testKey(3), testValue(3))
	require.NoError(t, err)
	w, err := m.GetWitness(testKey(3))
	require.NoError(t, err)

	root, err := w.Open(8, testKey(3), testValue(3))
	require.NoError(t, err)
	assert.Equal(t, m.Root(), root)

	_, err = w.Open(9, testKey(3), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrWitnessDepth)
	_, err = w.Open(0, testKey(3), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrInvalidDepth)
	_, err = w.Open(8, testKey(4), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrWitnessMismatch)
	_, err = w.Open(8, testKey(1<<8), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrKeyOutOfRange)

	short := w.Clone()
	short.IsLeft = short.IsLeft[:3]
	_, err = short.Open(8, testKey(3), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrWitnessDepth)
	assert.ErrorIs(t, short.Verify(m.Root(), testKey(3), testValue(3)), rollerrors.ErrWitnessDepth)

	var none *Witness
	_, err = none.Open(8, testKey(3), testValue(3))
	assert.ErrorIs(t, err, rollerrors.ErrWitnessMismatch)
}

func TestOverlayCommitDiscard(t *testing.T) {
	base, _ := NewMemoryCommitmentMap(10)
	_, err := base.Set(testKey(1), testValue(1))
	require.NoError(t, err)
	before := base.Root()

	ov := NewOverlay(base.Store())
	staged, err := base.WithStore(ov)
	require.NoError(t, err)
	assert.Equal(t, before, staged.Root())
	_, err = staged.Set(testKey(2), testValue(2))
	require.NoError(t, err)
	_, err = staged.Set(testKey(1), common.Hash{})
	require.NoError(t, err)
	assert.Equal(t, before, base.Root())
	assert.Greater(t, ov.Dirty(), 0)

	ov.Discard()
	reread, _ := base.WithStore(ov)
	assert.Equal(t, before, reread.Root())

	_, err = reread.Set(testKey(3), testValue(3))
	require.NoError(t, err)
	require.NoError(t, ov.Commit())
	require.NoError(t, base.Refresh())
	assert.Equal(t, reread.Root(), base.Root())
	v, err := base.Get(testKey(3))
	require.NoError(t, err)
	assert.Equal(t, testValue(3), v)
}

func TestPersistentNodeStoreReopen(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewPersistenceStore(dir)
	require.NoError(t, err)
	m, err := NewCommitmentMap(24, NewPersistentNodeStore(db, "names"))
	require.NoError(t, err)
	for i := uint64(0); i < 20; i++ {
		_, err := m.Set(testKey(i*31), testValue(i))
		require.NoError(t, err)
	}
	root := m.Root()
	require.NoError(t, db.Close())

	db, err = storage.NewPersistenceStore(dir)
	require.NoError(t, err)
	defer db.Close()
	reopened, err := NewCommitmentMap(24, NewPersistentNodeStore(db, "names"))
	require.NoError(t, err)
	assert.Equal(t, root, reopened.Root())

	other, err := NewCommitmentMap(24, NewPersistentNodeStore(db, "committee"))
	require.NoError(t, err)
	assert.Equal(t, EmptyRoot(24), other.Root())
}
