package transition

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDepth = 32
	testTime  = uint64(1_000)
)

// fixture proves a sequence of operations; seq is the position of the next.
type fixture struct {
	t   *testing.T
	ctx context.Context
	m   *trie.CommitmentMap
	p   *Prover
	seq uint64
}

func newFixture(t *testing.T) *fixture {
	reg, err := NewRegistry(prover.NewDevAttestor("transition-test"), 0)
	require.NoError(t, err)
	m, err := trie.NewMemoryCommitmentMap(testDepth)
	require.NoError(t, err)
	return &fixture{t: t, ctx: context.Background(), m: m, p: NewProver(reg)}
}

func ownerKey(t *testing.T, account int) *ecdsa.PrivateKey {
	_, hexKey := common.GetDevAccount(account)
	priv, err := common.HexToOwnerKey(hexKey)
	require.NoError(t, err)
	return priv
}

func record(account int, expiry uint64) types.Record {
	owner, _ := common.GetDevAccount(account)
	return types.Record{
		Owner:    owner,
		Metadata: common.Blake2Hash([]byte{byte(account)}),
		Storage:  common.Blake2Hash([]byte("blob")),
		Expiry:   expiry,
	}
}

func (f *fixture) path(key common.Hash) *trie.Witness {
	w, err := f.m.GetWitness(key)
	require.NoError(f.t, err)
	return w
}

// prove proves w and applies the matching write to the fixture map.
func (f *fixture) prove(w Witness, key, value common.Hash) *Proven {
	pr, err := f.p.Prove(f.ctx, w)
	require.NoError(f.t, err)
	root, err := f.m.Set(key, value)
	require.NoError(f.t, err)
	require.Equal(f.t, root, pr.Statement.NewRoot)
	require.Equal(f.t, f.seq, pr.Statement.Seq)
	require.NoError(f.t, f.p.Verify(pr))
	f.seq++
	return pr
}

func (f *fixture) add(name string, rec types.Record) (*Proven, common.Hash) {
	key := types.KeyFromName(name, testDepth)
	w := &AddWitness{Root: f.m.Root(), Key: key, Record: rec, Path: f.path(key), Seq: f.seq, Timestamp: testTime}
	return f.prove(w, key, rec.Hash()), key
}

func TestAddStatement(t *testing.T) {
	f := newFixture(t)
	empty := f.m.Root()
	rec := record(0, testTime+100)
	pr, key := f.add("alice.ns", rec)

	assert.Equal(t, empty, pr.Statement.OldRoot)
	assert.Equal(t, uint64(1), pr.Statement.Count)
	assert.Equal(t, types.OpHash(&types.AddOp{Key: key, Record: rec}), pr.Statement.HashAcc)
	assert.Equal(t, CircuitAdd, pr.Proof.Circuit)

	// adding the same key again is refused
	w := &AddWitness{Root: f.m.Root(), Key: key, Record: rec, Path: f.path(key), Seq: f.seq, Timestamp: testTime}
	_, err := f.p.Add(f.ctx, w)
	require.ErrorIs(t, err, rollerrors.ErrVKeyExists)

	expired := &AddWitness{Root: f.m.Root(), Key: types.KeyFromName("bob.ns", testDepth), Record: record(1, testTime), Seq: f.seq, Timestamp: testTime}
	expired.Path = f.path(expired.Key)
	_, err = f.p.Add(f.ctx, expired)
	require.ErrorIs(t, err, rollerrors.ErrVRecordExpired)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	old := record(0, testTime+100)
	_, key := f.add("alice.ns", old)
	next := record(1, testTime+100)

	op, err := types.SignUpdate(ownerKey(t, 0), key, &old, &next)
	require.NoError(t, err)
	w := ForOperation(op, f.seq, f.m.Root(), f.path(key), testTime)
	pr := f.prove(w, key, next.Hash())
	assert.Equal(t, CircuitUpdate, pr.Proof.Circuit)

	// the new owner's key cannot be used to sign for the previous owner
	third := record(2, testTime+100)
	forged, err := types.SignUpdate(ownerKey(t, 0), key, &next, &third)
	require.NoError(t, err)
	_, err = f.p.Prove(f.ctx, ForOperation(forged, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVBadSignature)

	// a stale old record does not open under the current root
	stale, err := types.SignUpdate(ownerKey(t, 0), key, &old, &third)
	require.NoError(t, err)
	_, err = f.p.Prove(f.ctx, ForOperation(stale, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVOldRecordMismatch)

	missing := &types.UpdateOp{Key: key, Record: third}
	_, err = f.p.Prove(f.ctx, ForOperation(missing, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVMissingOldRecord)
}

func TestExtend(t *testing.T) {
	f := newFixture(t)
	old := record(0, testTime+100)
	_, key := f.add("alice.ns", old)

	longer := old
	longer.Expiry = testTime + 500
	pr := f.prove(ForOperation(&types.ExtendOp{Key: key, Record: longer, OldRecord: &old}, f.seq, f.m.Root(), f.path(key), testTime), key, longer.Hash())
	assert.Equal(t, CircuitExtend, pr.Proof.Circuit)

	shorter := longer
	shorter.Expiry = testTime + 200
	_, err := f.p.Prove(f.ctx, ForOperation(&types.ExtendOp{Key: key, Record: shorter, OldRecord: &longer}, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVExpiryNotExtended)

	moved := longer
	moved.Expiry = testTime + 900
	moved.Storage = common.Blake2Hash([]byte("elsewhere"))
	_, err = f.p.Prove(f.ctx, ForOperation(&types.ExtendOp{Key: key, Record: moved, OldRecord: &longer}, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVFieldsChanged)
}

func TestRemoveAuthorization(t *testing.T) {
	f := newFixture(t)
	live := record(0, testTime+100)
	_, liveKey := f.add("alice.ns", live)

	unsigned := &types.RemoveOp{Key: liveKey, OldRecord: &live}
	_, err := f.p.Prove(f.ctx, ForOperation(unsigned, f.seq, f.m.Root(), f.path(liveKey), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVUnauthorized)

	signed, err := types.SignRemove(ownerKey(t, 0), liveKey, &live)
	require.NoError(t, err)
	f.prove(ForOperation(signed, f.seq, f.m.Root(), f.path(liveKey), testTime), liveKey, common.Hash{})

	// a lapsed record is cleared without a signature, at a later batch time
	lapsed := record(1, testTime+100)
	lapsedKey := types.KeyFromName("bob.ns", testDepth)
	f.prove(&AddWitness{Root: f.m.Root(), Key: lapsedKey, Record: lapsed, Path: f.path(lapsedKey), Seq: f.seq, Timestamp: testTime}, lapsedKey, lapsed.Hash())
	later := testTime + 100
	pr, err := f.p.Prove(f.ctx, ForOperation(&types.RemoveOp{Key: lapsedKey, OldRecord: &lapsed}, f.seq, f.m.Root(), f.path(lapsedKey), later))
	require.NoError(t, err)
	assert.Equal(t, later, pr.Statement.Timestamp)
}

// reject leaves the root alone and still counts once
func TestRejectIsNoOp(t *testing.T) {
	f := newFixture(t)
	rec := record(0, testTime+100)
	f.add("alice.ns", rec)
	root := f.m.Root()

	op := &types.AddOp{Key: types.KeyFromName("alice.ns", testDepth), Record: rec}
	pr, err := f.p.Reject(f.ctx, &RejectWitness{Root: root, Op: op, Reason: rollerrors.GetErrorName(rollerrors.ErrVKeyExists), Seq: f.seq, Timestamp: testTime})
	require.NoError(t, err)
	require.NoError(t, f.p.Verify(pr))
	assert.Equal(t, pr.Statement.OldRoot, pr.Statement.NewRoot)
	assert.Equal(t, root, pr.Statement.NewRoot)
	assert.Equal(t, uint64(1), pr.Statement.Count)
	assert.Equal(t, types.OpHash(op), pr.Statement.HashAcc)
}

// merge(add(k), remove(k)) returns the key to its empty root
func TestAddRemoveRoundTrip(t *testing.T) {
	f := newFixture(t)
	before := f.m.Root()
	rec := record(0, testTime+100)
	add, key := f.add("fresh.ns", rec)

	rm, err := types.SignRemove(ownerKey(t, 0), key, &rec)
	require.NoError(t, err)
	remove := f.prove(ForOperation(rm, f.seq, f.m.Root(), f.path(key), testTime), key, common.Hash{})

	merged, err := f.p.Merge(f.ctx, add, remove)
	require.NoError(t, err)
	require.NoError(t, f.p.Verify(merged))
	assert.Equal(t, before, merged.Statement.OldRoot)
	assert.Equal(t, before, merged.Statement.NewRoot)
	assert.Equal(t, uint64(2), merged.Statement.Count)
	assert.Equal(t, common.AddHash(types.OpHash(&types.AddOp{Key: key, Record: rec}), types.OpHash(rm)), merged.Statement.HashAcc)
}

func threeAdds(f *fixture) (a, b, c *Proven) {
	a, _ = f.add("a.ns", record(0, testTime+10))
	b, _ = f.add("b.ns", record(1, testTime+20))
	c, _ = f.add("c.ns", record(2, testTime+30))
	return a, b, c
}

func TestMergeAssociativity(t *testing.T) {
	f := newFixture(t)
	a, b, c := threeAdds(f)

	ab, err := f.p.Merge(f.ctx, a, b)
	require.NoError(t, err)
	abC, err := f.p.Merge(f.ctx, ab, c)
	require.NoError(t, err)

	bc, err := f.p.Merge(f.ctx, b, c)
	require.NoError(t, err)
	aBC, err := f.p.Merge(f.ctx, a, bc)
	require.NoError(t, err)

	assert.Equal(t, abC.Statement, aBC.Statement)
	assert.Equal(t, uint64(3), abC.Statement.Count)
	assert.Equal(t, f.m.Root(), abC.Statement.NewRoot)
	require.NoError(t, f.p.Verify(abC))
	require.NoError(t, f.p.Verify(aBC))
}

func TestMergeContinuity(t *testing.T) {
	f := newFixture(t)
	a, b, _ := threeAdds(f)
	_, err := f.p.Merge(f.ctx, b, a)
	require.ErrorIs(t, err, rollerrors.ErrChainContinuity)
}

func TestMergeTimestampPolicy(t *testing.T) {
	f := newFixture(t)
	a, _ := f.add("a.ns", record(0, testTime+10))
	key := types.KeyFromName("b.ns", testDepth)
	rec := record(1, testTime+20)
	late := f.prove(&AddWitness{Root: f.m.Root(), Key: key, Record: rec, Path: f.path(key), Seq: f.seq, Timestamp: testTime + 1}, key, rec.Hash())

	_, err := f.p.Merge(f.ctx, a, late)
	require.ErrorIs(t, err, rollerrors.ErrTimestampMismatch)
}

// a corrupted component can never be hidden inside a merged proof
func TestMergeRejectsCorruptedInput(t *testing.T) {
	f := newFixture(t)
	a, b, _ := threeAdds(f)

	bad := &Proven{Statement: b.Statement, Proof: &prover.Proof{Circuit: b.Proof.Circuit, Public: b.Proof.Public}}
	bad.Proof.Data = append([]byte(nil), b.Proof.Data...)
	bad.Proof.Data[10] ^= 0xff
	require.ErrorIs(t, f.p.Verify(bad), rollerrors.ErrProofVerification)

	_, err := f.p.Merge(f.ctx, a, bad)
	require.ErrorIs(t, err, rollerrors.ErrProofVerification)

	// the merge circuit also refuses to run on a forged statement
	reg := f.p.Registry()
	forged := *a.Statement
	forged.Count = 2
	_, err = reg.Prove(f.ctx, CircuitMerge, forged.Bytes(), &MergeWitness{Left: a.Proof, Right: b.Proof})
	require.ErrorIs(t, err, rollerrors.ErrStatementMismatch)

	_, err = reg.Prove(f.ctx, CircuitAdd, a.Statement.Bytes(), &MergeWitness{Left: a.Proof, Right: b.Proof})
	require.ErrorIs(t, err, rollerrors.ErrWrongWitnessType)
}

func TestProvingIsDeterministic(t *testing.T) {
	f := newFixture(t)
	key := types.KeyFromName("a.ns", testDepth)
	w := &AddWitness{Root: f.m.Root(), Key: key, Record: record(0, testTime+1), Path: f.path(key), Seq: f.seq, Timestamp: testTime}
	p1, err := f.p.Add(f.ctx, w)
	require.NoError(t, err)
	p2, err := f.p.Add(f.ctx, w)
	require.NoError(t, err)
	assert.Equal(t, p1.Proof, p2.Proof)
}

// one refused operation proves a single position and cannot be merged twice
func TestRejectCountsOnce(t *testing.T) {
	f := newFixture(t)
	root := f.m.Root()
	op := &types.RemoveOp{Key: types.KeyFromName("ghost.ns", testDepth)}
	reject := func(seq uint64) *Proven {
		pr, err := f.p.Reject(f.ctx, &RejectWitness{Root: root, Op: op, Reason: rollerrors.GetErrorName(rollerrors.ErrVKeyAbsent), Seq: seq, Timestamp: testTime})
		require.NoError(t, err)
		return pr
	}
	first, second, fourth := reject(0), reject(1), reject(3)

	_, err := f.p.Merge(f.ctx, first, first)
	require.ErrorIs(t, err, rollerrors.ErrSequenceGap)
	_, err = f.p.Merge(f.ctx, second, first)
	require.ErrorIs(t, err, rollerrors.ErrSequenceGap)
	_, err = f.p.Merge(f.ctx, second, fourth)
	require.ErrorIs(t, err, rollerrors.ErrSequenceGap)

	both, err := f.p.Merge(f.ctx, first, second)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), both.Statement.Count)
	_, err = f.p.Merge(f.ctx, both, second)
	require.ErrorIs(t, err, rollerrors.ErrSequenceGap)
}

func TestMalformedPathIsRefused(t *testing.T) {
	f := newFixture(t)
	key := types.KeyFromName("alice.ns", testDepth)
	rec := record(0, testTime+100)

	short := f.path(key)
	short.IsLeft = short.IsLeft[:testDepth/2]
	_, err := f.p.Add(f.ctx, &AddWitness{Root: f.m.Root(), Key: key, Record: rec, Path: short, Seq: f.seq, Timestamp: testTime})
	require.ErrorIs(t, err, rollerrors.ErrWitnessDepth)

	_, err = f.p.Add(f.ctx, &AddWitness{Root: f.m.Root(), Key: key, Record: rec, Seq: f.seq, Timestamp: testTime})
	require.ErrorIs(t, err, rollerrors.ErrWitnessMismatch)
}

// an unsigned extend cannot swap the stored bytes for a field-equivalent value
func TestExtendKeepsStoredBytes(t *testing.T) {
	f := newFixture(t)
	old := record(0, testTime+100)
	old.Storage = common.HexToHash("0x2a")
	_, key := f.add("alice.ns", old)

	wrapped := old
	wrapped.Storage = common.BytesToHash(new(big.Int).Add(fr.Modulus(), big.NewInt(0x2a)).Bytes())
	require.Equal(t, old.Storage.Element(), wrapped.Storage.Element())
	longer := wrapped
	longer.Expiry = testTime + 500

	_, err := f.p.Prove(f.ctx, ForOperation(&types.ExtendOp{Key: key, Record: longer, OldRecord: &wrapped}, f.seq, f.m.Root(), f.path(key), testTime))
	require.ErrorIs(t, err, rollerrors.ErrVOldRecordMismatch)
}
