package aggregator

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strings"
	"testing"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/transition"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"
)

const (
	testDepth = 40
	testTime  = uint64(5_000)
)

func newTestPipeline(t *testing.T, workers int) *Pipeline {
	reg, err := transition.NewRegistry(prover.NewDevAttestor("aggregator-test"), 0)
	require.NoError(t, err)
	return NewPipeline(transition.NewProver(reg), workers)
}

func newTestState(t *testing.T) *State {
	m, err := trie.NewMemoryCommitmentMap(testDepth)
	require.NoError(t, err)
	return NewState(m)
}

func owner(t *testing.T, account int) (common.Address, *ecdsa.PrivateKey) {
	addr, hexKey := common.GetDevAccount(account)
	priv, err := common.HexToOwnerKey(hexKey)
	require.NoError(t, err)
	return addr, priv
}

func newRecord(t *testing.T, account int, tag string, expiry uint64) types.Record {
	addr, _ := owner(t, account)
	return types.Record{
		Owner:    addr,
		Metadata: common.Blake2Hash([]byte(tag)),
		Storage:  common.Blake2Hash([]byte("storage/" + tag)),
		Expiry:   expiry,
	}
}

func key(name string) common.Hash {
	return types.KeyFromName(name, testDepth)
}

// modelRoot is the root of a map holding exactly records.
func modelRoot(t *testing.T, records map[common.Hash]types.Record) common.Hash {
	m, err := trie.NewMemoryCommitmentMap(testDepth)
	require.NoError(t, err)
	for k, r := range records {
		_, err := m.Set(k, r.Hash())
		require.NoError(t, err)
	}
	return m.Root()
}

// three adds on an empty map
func TestThreeAdds(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, 4)
	st := newTestState(t)

	ops := []types.Operation{
		&types.AddOp{Key: key("k1.ns"), Record: newRecord(t, 0, "one", testTime+10)},
		&types.AddOp{Key: key("k2.ns"), Record: newRecord(t, 1, "two", testTime+20)},
		&types.AddOp{Key: key("k3.ns"), Record: newRecord(t, 2, "three", testTime+30)},
	}
	res, err := p.Aggregate(ctx, st, ops, testTime)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), res.Statement.Count)
	assert.Empty(t, res.Rejections)
	assert.Equal(t, st.Root(), res.Statement.OldRoot)
	assert.Equal(t, testTime, res.Statement.Timestamp)
	assert.Equal(t, ExpectedHashAcc(ops), res.Statement.HashAcc)

	fresh, err := trie.NewMemoryCommitmentMap(testDepth)
	require.NoError(t, err)
	for _, op := range ops {
		_, err := fresh.Set(op.OpKey(), op.NewValue())
		require.NoError(t, err)
	}
	assert.Equal(t, fresh.Root(), res.Statement.NewRoot)
	require.NoError(t, p.Prover().Verify(&transition.Proven{Statement: res.Statement, Proof: res.Proof}))

	// nothing reaches the state before commit
	assert.Equal(t, trie.EmptyRoot(testDepth), st.Root())
	require.NoError(t, res.Staged.Commit())
	assert.Equal(t, res.Statement.NewRoot, st.Root())
	assert.Equal(t, 3, st.Len())

	tree := res.RenderTree()
	assert.Contains(t, tree, "[0,3) ns/merge")
	assert.Contains(t, tree, "ns/add")
}

// randomOps builds a random mix of valid and invalid operations and returns
// the records a plain map model holds after applying the valid ones.
func randomOps(t *testing.T, r *rand.Rand, n int) ([]types.Operation, map[common.Hash]types.Record, int) {
	names := []string{"a.ns", "b.ns", "c.ns", "d.ns", "e.ns", "f.ns"}
	model := make(map[common.Hash]types.Record)
	owners := make(map[common.Hash]int)
	var ops []types.Operation
	invalid := 0
	for i := 0; i < n; i++ {
		k := key(names[r.Intn(len(names))])
		cur, present := model[k]
		if !present {
			if r.Intn(5) == 0 {
				// already expired at the batch time
				ops = append(ops, &types.AddOp{Key: k, Record: newRecord(t, 0, "late", testTime)})
				invalid++
				continue
			}
			acct := r.Intn(5)
			rec := newRecord(t, acct, names[r.Intn(len(names))], testTime+uint64(1+r.Intn(100)))
			ops = append(ops, &types.AddOp{Key: k, Record: rec})
			model[k], owners[k] = rec, acct
			continue
		}
		_, priv := owner(t, owners[k])
		switch r.Intn(5) {
		case 0:
			acct := r.Intn(5)
			next := newRecord(t, acct, "upd", cur.Expiry)
			op, err := types.SignUpdate(priv, k, &cur, &next)
			require.NoError(t, err)
			op.OldRecord = nil // resolved from the record index
			ops = append(ops, op)
			model[k], owners[k] = next, acct
		case 1:
			next := cur
			next.Expiry += uint64(1 + r.Intn(50))
			ops = append(ops, &types.ExtendOp{Key: k, Record: next})
			model[k] = next
		case 2:
			op, err := types.SignRemove(priv, k, &cur)
			require.NoError(t, err)
			ops = append(ops, op)
			delete(model, k)
			delete(owners, k)
		case 3:
			_, wrong := owner(t, (owners[k]+1)%5)
			next := newRecord(t, 0, "stolen", cur.Expiry)
			op, err := types.SignUpdate(wrong, k, &cur, &next)
			require.NoError(t, err)
			ops = append(ops, op)
			invalid++
		default:
			shorter := cur
			shorter.Expiry--
			ops = append(ops, &types.ExtendOp{Key: k, Record: shorter})
			invalid++
		}
	}
	return ops, model, invalid
}

// the aggregate root matches a plain map model applying the same operations
func TestReferenceEquivalence(t *testing.T) {
	ctx := context.Background()
	for seed := uint64(1); seed <= 3; seed++ {
		r := rand.New(rand.NewSource(seed))
		ops, model, invalid := randomOps(t, r, 30)

		st := newTestState(t)
		res, err := newTestPipeline(t, 3).Aggregate(ctx, st, ops, testTime)
		require.NoError(t, err)
		assert.Equal(t, uint64(len(ops)), res.Statement.Count)
		assert.Len(t, res.Rejections, invalid)
		assert.Equal(t, modelRoot(t, model), res.Statement.NewRoot)
		assert.Equal(t, ExpectedHashAcc(ops), res.Statement.HashAcc)
		for _, rej := range res.Rejections {
			assert.True(t, rollerrors.IsValidation(rej.Reason), rej.Reason)
		}
	}
}

func TestRejectionsAreAccounted(t *testing.T) {
	ctx := context.Background()
	st := newTestState(t)
	rec := newRecord(t, 0, "x", testTime+10)
	ops := []types.Operation{
		&types.AddOp{Key: key("x.ns"), Record: rec},
		&types.AddOp{Key: key("x.ns"), Record: rec},
		&types.RemoveOp{Key: key("ghost.ns")},
		&types.RemoveOp{Key: key("x.ns")},
		&types.AddOp{Key: common.HexToHash("0xff00000000000000000000000000000000"), Record: rec},
	}
	res, err := newTestPipeline(t, 2).Aggregate(ctx, st, ops, testTime)
	require.NoError(t, err)
	require.Len(t, res.Rejections, 4)
	assert.ErrorIs(t, res.Rejections[0].Reason, rollerrors.ErrVKeyExists)
	assert.Equal(t, 1, res.Rejections[0].Index)
	assert.ErrorIs(t, res.Rejections[1].Reason, rollerrors.ErrVKeyAbsent)
	assert.ErrorIs(t, res.Rejections[2].Reason, rollerrors.ErrVUnauthorized)
	assert.ErrorIs(t, res.Rejections[3].Reason, rollerrors.ErrVKeyOutOfRange)
	assert.Equal(t, uint64(0), res.Statement.Seq)
	assert.Equal(t, uint64(5), res.Statement.Count)
	assert.Equal(t, modelRoot(t, map[common.Hash]types.Record{key("x.ns"): rec}), res.Statement.NewRoot)
}

func TestEmptyBatch(t *testing.T) {
	_, err := newTestPipeline(t, 1).Aggregate(context.Background(), newTestState(t), nil, testTime)
	require.ErrorIs(t, err, rollerrors.ErrEmptyBatch)
}

func TestSingleOperation(t *testing.T) {
	res, err := newTestPipeline(t, 1).Aggregate(context.Background(), newTestState(t),
		[]types.Operation{&types.AddOp{Key: key("solo.ns"), Record: newRecord(t, 1, "solo", testTime+1)}}, testTime)
	require.NoError(t, err)
	assert.Equal(t, transition.CircuitAdd, res.Proof.Circuit)
	assert.True(t, res.Tree.IsLeaf())
}

func TestBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	p := newTestPipeline(t, 2)
	st := newTestState(t)
	b := NewBatch(7, []types.Operation{&types.AddOp{Key: key("a.ns"), Record: newRecord(t, 0, "a", testTime+1)}}, testTime)
	assert.Equal(t, StatusPending, b.Status())

	_, err := p.Process(ctx, b, st)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, b.Status())
	assert.Equal(t, []Status{StatusProving, StatusMerging, StatusVerified}, b.History())
	require.NotNil(t, b.Result())

	require.NoError(t, b.Advance(StatusSettled))
	require.ErrorIs(t, b.Advance(StatusProving), rollerrors.ErrBatchAlreadyFinal)
	_, err = p.Process(ctx, b, st)
	require.ErrorIs(t, err, rollerrors.ErrBatchAlreadyFinal)
	b.Fail()
	assert.Equal(t, StatusSettled, b.Status())

	var l Lifecycle
	require.ErrorIs(t, l.Advance(StatusMerging), rollerrors.ErrInvalidStatus)
}

func TestCanceledBatchReturnsToPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st := newTestState(t)
	b := NewBatch(1, []types.Operation{&types.AddOp{Key: key("a.ns"), Record: newRecord(t, 0, "a", testTime+1)}}, testTime)
	_, err := newTestPipeline(t, 1).Process(ctx, b, st)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusPending, b.Status())
	assert.Equal(t, trie.EmptyRoot(testDepth), st.Root())

	// retrying from the original operations succeeds
	_, err = newTestPipeline(t, 1).Process(context.Background(), b, st)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Attempts())
}

func TestGenesisState(t *testing.T) {
	records := map[common.Hash]types.Record{
		key("a.ns"): newRecord(t, 0, "a", testTime+10),
		key("b.ns"): newRecord(t, 1, "b", testTime+10),
	}
	st, err := NewGenesisState(testDepth, trie.NewMemoryNodeStore(), records)
	require.NoError(t, err)
	assert.Equal(t, modelRoot(t, records), st.Root())

	// preimages come from the genesis index
	next := records[key("a.ns")]
	next.Expiry += 100
	res, err := newTestPipeline(t, 1).Aggregate(context.Background(), st,
		[]types.Operation{&types.ExtendOp{Key: key("a.ns"), Record: next}}, testTime)
	require.NoError(t, err)
	assert.Empty(t, res.Rejections)
}

func TestReducePreservesOrder(t *testing.T) {
	ctx := context.Background()
	items := strings.Split("abcdefghijk", "")
	concat := func(_ context.Context, l, r string) (string, error) { return l + r, nil }
	for _, workers := range []int{1, 3, 8} {
		tree, err := Reduce(ctx, items, workers, concat)
		require.NoError(t, err)
		assert.Equal(t, "abcdefghijk", tree.Value)
		assert.Equal(t, 0, tree.Lo)
		assert.Equal(t, len(items), tree.Hi)
	}

	_, err := Reduce[string](ctx, nil, 1, concat)
	require.ErrorIs(t, err, rollerrors.ErrNothingToReduce)

	boom := errors.New("boom")
	_, err = Reduce(ctx, items, 2, func(_ context.Context, l, r string) (string, error) {
		if strings.Contains(l+r, "e") {
			return "", boom
		}
		return l + r, nil
	})
	require.ErrorIs(t, err, boom)

	tree, err := Reduce(ctx, []string{"x", "y", "z"}, 1, concat)
	require.NoError(t, err)
	out := tree.Render(func(lo, hi int, v string) string { return v })
	assert.Contains(t, out, "xyz")
	assert.Contains(t, out, "xy")
}
