// Package aggregator turns an ordered list of registry operations into one
// proven transition: admission, parallel elementary proving, ordered merge
// reduction and final verification.
package aggregator

import (
	"context"
	"fmt"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/transition"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/colorfulnotion/nsroll/aggregator"

// Rejection is an input operation that was proven through the reject circuit.
type Rejection struct {
	Index  int
	Op     types.Operation
	Reason error
}

type Result struct {
	Statement  *types.Transition
	Proof      *prover.Proof
	Rejections []Rejection
	Tree       *Tree[*transition.Proven]
	// Staged holds the map changes of the batch until they are committed.
	Staged *Staged
}

// RenderTree draws the merge tree, one line per proof.
func (r *Result) RenderTree() string {
	return r.Tree.Render(func(lo, hi int, p *transition.Proven) string {
		return fmt.Sprintf("[%d,%d) %s %s", lo, hi, p.Proof.Circuit, p.Statement)
	})
}

type Pipeline struct {
	prover  *transition.Prover
	workers int
	tracer  trace.Tracer
}

// NewPipeline returns a pipeline proving with p using at most workers
// concurrent proofs.
func NewPipeline(p *transition.Prover, workers int) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	return &Pipeline{prover: p, workers: workers, tracer: otel.Tracer(tracerName)}
}

func (p *Pipeline) Prover() *transition.Prover {
	return p.prover
}

// Aggregate proves ops in the given order against st at timestamp ts.
// The state itself is not modified; the changes are in Result.Staged.
func (p *Pipeline) Aggregate(ctx context.Context, st *State, ops []types.Operation, ts uint64) (*Result, error) {
	return p.Process(ctx, NewBatch(0, ops, ts), st)
}

// Process drives b from PENDING to VERIFIED. On failure b returns to PENDING
// and nothing is staged.
func (p *Pipeline) Process(ctx context.Context, b *Batch, st *State) (res *Result, err error) {
	ctx, span := p.tracer.Start(ctx, "aggregate", trace.WithAttributes(
		attribute.Int64("batch", int64(b.ID)),
		attribute.Int("ops", len(b.Ops)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, rollerrors.GetErrorName(err))
			b.Fail()
		}
		span.End()
	}()

	if len(b.Ops) == 0 {
		return nil, rollerrors.ErrEmptyBatch
	}
	if err := b.Advance(StatusProving); err != nil {
		return nil, err
	}
	staged, err := st.Begin()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			staged.Discard()
		}
	}()

	witnesses, rejections, err := p.admit(ctx, staged, b.Ops, b.Timestamp)
	if err != nil {
		return nil, err
	}
	leaves, err := p.proveAll(ctx, witnesses)
	if err != nil {
		return nil, err
	}

	if err := b.Advance(StatusMerging); err != nil {
		return nil, err
	}
	tree, err := p.reduce(ctx, leaves)
	if err != nil {
		return nil, err
	}

	final := tree.Value
	if err := p.check(final, staged, len(b.Ops)); err != nil {
		return nil, err
	}
	if err := b.Advance(StatusVerified); err != nil {
		return nil, err
	}

	res = &Result{
		Statement:  final.Statement,
		Proof:      final.Proof,
		Rejections: rejections,
		Tree:       tree,
		Staged:     staged,
	}
	b.setResult(res)
	log.Info(log.AggregatorModule, "batch verified", "batch", b.ID, "ops", len(b.Ops), "rejected", len(rejections), "statement", final.Statement.String())
	return res, nil
}

// admit walks ops in order over the staged map, deciding acceptance and
// capturing the witness of each operation. Validation failures become
// reject witnesses; anything else aborts the batch.
func (p *Pipeline) admit(ctx context.Context, staged *Staged, ops []types.Operation, ts uint64) ([]transition.Witness, []Rejection, error) {
	_, span := p.tracer.Start(ctx, "admit")
	defer span.End()

	depth := staged.view.Depth()
	witnesses := make([]transition.Witness, len(ops))
	var rejections []Rejection
	for i, op := range ops {
		root := staged.Root()
		reject := func(reason error) {
			witnesses[i] = &transition.RejectWitness{Root: root, Op: op, Reason: reason.Error(), Seq: uint64(i), Timestamp: ts}
			rejections = append(rejections, Rejection{Index: i, Op: op, Reason: reason})
			log.Debug(log.AggregatorModule, "operation rejected", "index", i, "kind", op.Kind(), "reason", rollerrors.GetErrorCodeWithName(reason))
		}

		w, err := p.elementary(staged, op, uint64(i), depth, ts)
		var stmt *types.Transition
		if err == nil {
			stmt, err = w.Statement()
		}
		if err != nil {
			if rollerrors.IsValidation(err) {
				reject(err)
				continue
			}
			return nil, nil, fmt.Errorf("operation %d: %w", i, err)
		}
		var rec *types.Record
		switch o := op.(type) {
		case *types.AddOp:
			rec = &o.Record
		case *types.UpdateOp:
			rec = &o.Record
		case *types.ExtendOp:
			rec = &o.Record
		case *types.RemoveOp:
		}
		if err := staged.Put(op.OpKey(), rec, stmt.NewRoot); err != nil {
			return nil, nil, fmt.Errorf("operation %d: %w", i, err)
		}
		witnesses[i] = w
	}
	span.SetAttributes(attribute.Int("rejected", len(rejections)))
	return witnesses, rejections, nil
}

// elementary builds the witness for op against the staged map. Validation
// failures known before any witness exists are returned as errors.
func (p *Pipeline) elementary(staged *Staged, op types.Operation, seq uint64, depth int, ts uint64) (transition.Witness, error) {
	key := op.OpKey()
	if !trie.KeyFits(depth, key) {
		return nil, rollerrors.ErrVKeyOutOfRange
	}
	if op.Kind() != types.KindAdd {
		cur, err := staged.Get(key)
		if err != nil {
			return nil, err
		}
		if cur.IsZero() {
			return nil, rollerrors.ErrVKeyAbsent
		}
		if types.OldRecordOf(op) == nil {
			if rec, ok := staged.Record(key); ok {
				op = types.WithOldRecord(op, rec)
			}
		}
	}
	path, err := staged.Witness(key)
	if err != nil {
		return nil, err
	}
	return transition.ForOperation(op, seq, staged.Root(), path, ts), nil
}

func (p *Pipeline) proveAll(ctx context.Context, witnesses []transition.Witness) ([]*transition.Proven, error) {
	ctx, span := p.tracer.Start(ctx, "prove")
	defer span.End()

	leaves := make([]*transition.Proven, len(witnesses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, w := range witnesses {
		g.Go(func() error {
			pr, err := p.prover.Prove(gctx, w)
			if err != nil {
				return fmt.Errorf("operation %d: %w", i, err)
			}
			leaves[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return leaves, nil
}

func (p *Pipeline) reduce(ctx context.Context, leaves []*transition.Proven) (*Tree[*transition.Proven], error) {
	ctx, span := p.tracer.Start(ctx, "merge")
	defer span.End()
	return Reduce(ctx, leaves, p.workers, p.prover.Merge)
}

// check is the local final verification of the aggregate.
func (p *Pipeline) check(final *transition.Proven, staged *Staged, n int) error {
	if err := p.prover.Verify(final); err != nil {
		return err
	}
	st := final.Statement
	if st.Seq != 0 || st.Count != uint64(n) {
		return fmt.Errorf("positions [%d,%d) for %d operations: %w", st.Seq, st.Seq+st.Count, n, rollerrors.ErrCountMismatch)
	}
	if st.OldRoot != staged.BaseRoot() || st.NewRoot != staged.Root() {
		return fmt.Errorf("%s, staged %s->%s: %w", st, staged.BaseRoot().String_short(), staged.Root().String_short(), rollerrors.ErrRootMismatch)
	}
	return nil
}

// ExpectedHashAcc is the accumulator an aggregate of ops must carry.
func ExpectedHashAcc(ops []types.Operation) common.Hash {
	hs := make([]common.Hash, len(ops))
	for i, op := range ops {
		hs[i] = types.OpHash(op)
	}
	return common.SumHashes(hs...)
}
