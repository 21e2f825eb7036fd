package aggregator

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSettler accepts statements that chain onto the last one.
type recordingSettler struct {
	statements []*types.Transition
	failNext   error
}

func (s *recordingSettler) SubmitBatch(_ context.Context, _ *prover.Proof, st *types.Transition) error {
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	if n := len(s.statements); n > 0 && s.statements[n-1].NewRoot != st.OldRoot {
		return rollerrors.ErrStaleRoot
	}
	s.statements = append(s.statements, st)
	return nil
}

func addOps(t *testing.T, n int) []types.Operation {
	ops := make([]types.Operation, n)
	for i := range ops {
		name := fmt.Sprintf("name-%d.ns", i)
		ops[i] = &types.AddOp{Key: key(name), Record: newRecord(t, i%5, name, testTime+100)}
	}
	return ops
}

// the batch size changes the number of rounds, never the final root
func TestSequencerRounds(t *testing.T) {
	ctx := context.Background()
	ops := addOps(t, 5)

	oneShot, err := newTestPipeline(t, 2).Aggregate(ctx, newTestState(t), ops, testTime)
	require.NoError(t, err)

	st := newTestState(t)
	settler := &recordingSettler{}
	seq, err := NewSequencer(newTestPipeline(t, 2), st, settler, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, seq.Submit(ops...))

	results, err := seq.Flush(ctx, testTime)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, []uint64{2, 2, 1}, []uint64{results[0].Statement.Count, results[1].Statement.Count, results[2].Statement.Count})
	assert.Equal(t, 0, seq.Pending())
	assert.Len(t, settler.statements, 3)
	assert.Equal(t, oneShot.Statement.NewRoot, st.Root())
	assert.Equal(t, 5, st.Len())

	for _, b := range seq.Settled() {
		assert.Equal(t, StatusSettled, b.Status())
	}
}

func TestSequencerKeepsQueueOnSettlementFailure(t *testing.T) {
	ctx := context.Background()
	st := newTestState(t)
	settler := &recordingSettler{failNext: errors.New("ledger unavailable")}
	seq, err := NewSequencer(newTestPipeline(t, 1), st, settler, 10)
	require.NoError(t, err)
	seq.Submit(addOps(t, 3)...)

	_, err = seq.Flush(ctx, testTime)
	require.Error(t, err)
	assert.Equal(t, 3, seq.Pending())
	assert.Equal(t, newTestState(t).Root(), st.Root())
	assert.Empty(t, seq.Settled())

	results, err := seq.Flush(ctx, testTime)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, results[0].Statement.NewRoot, st.Root())
}

// failingStore refuses writes while failWrites is set.
type failingStore struct {
	inner      *trie.MemoryNodeStore
	failWrites bool
}

func (f *failingStore) GetNode(key []byte) (common.Hash, bool, error) {
	return f.inner.GetNode(key)
}

func (f *failingStore) PutNode(key []byte, h common.Hash) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.inner.PutNode(key, h)
}

func (f *failingStore) DeleteNode(key []byte) error {
	if f.failWrites {
		return errors.New("disk full")
	}
	return f.inner.DeleteNode(key)
}

// a round the ledger accepted leaves the queue even when the local commit fails
func TestSequencerDequeuesSettledRoundOnCommitFailure(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{inner: trie.NewMemoryNodeStore()}
	m, err := trie.NewCommitmentMap(testDepth, store)
	require.NoError(t, err)
	st := NewState(m)
	empty := st.Root()
	settler := &recordingSettler{}
	seq, err := NewSequencer(newTestPipeline(t, 1), st, settler, 2)
	require.NoError(t, err)
	seq.Submit(addOps(t, 3)...)

	store.failWrites = true
	results, err := seq.Flush(ctx, testTime)
	require.ErrorIs(t, err, rollerrors.ErrStateResync)
	require.Len(t, results, 1)
	assert.Equal(t, 1, seq.Pending())
	require.Len(t, settler.statements, 1)
	require.Len(t, seq.Settled(), 1)
	assert.Equal(t, StatusSettled, seq.Settled()[0].Status())
	assert.Equal(t, empty, st.Root())
}

func TestSequencerRejectsBadBatchSize(t *testing.T) {
	_, err := NewSequencer(newTestPipeline(t, 1), newTestState(t), &recordingSettler{}, 0)
	require.Error(t, err)
}
