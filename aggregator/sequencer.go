package aggregator

import (
	"context"
	"fmt"
	"sync"

	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
)

// Settler is the settlement layer: it re-verifies an aggregate and swaps the
// canonical root iff the statement's old root is the one it holds.
type Settler interface {
	SubmitBatch(ctx context.Context, proof *prover.Proof, statement *types.Transition) error
}

// Sequencer queues operations and cuts them into rounds of at most
// batchSize. The batch size bounds work per round only; any size gives the
// same final root.
type Sequencer struct {
	mu        sync.Mutex
	pipeline  *Pipeline
	state     *State
	settler   Settler
	batchSize int
	queue     []types.Operation
	nextID    uint64
	settled   []*Batch
}

func NewSequencer(p *Pipeline, st *State, settler Settler, batchSize int) (*Sequencer, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("batch size %d", batchSize)
	}
	return &Sequencer{pipeline: p, state: st, settler: settler, batchSize: batchSize, nextID: 1}, nil
}

// Submit appends ops to the queue and returns the queue length.
func (s *Sequencer) Submit(ops ...types.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, ops...)
	return len(s.queue)
}

func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Settled lists the batches settled so far, oldest first.
func (s *Sequencer) Settled() []*Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Batch(nil), s.settled...)
}

// Flush aggregates and settles the whole queue in rounds, all at timestamp
// ts. A round is committed to the state only after the settler accepted it.
// On error the failing round and everything after it stay queued, except a
// round the settler accepted but the state failed to commit: it is dequeued
// and ErrStateResync returned, since the local state is behind the ledger.
func (s *Sequencer) Flush(ctx context.Context, ts uint64) ([]*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []*Result
	for len(s.queue) > 0 {
		n := min(s.batchSize, len(s.queue))
		b := NewBatch(s.nextID, s.queue[:n], ts)
		res, err := s.pipeline.Process(ctx, b, s.state)
		if err != nil {
			return results, fmt.Errorf("batch %d: %w", b.ID, err)
		}
		if err := s.settler.SubmitBatch(ctx, res.Proof, res.Statement); err != nil {
			res.Staged.Discard()
			b.Fail()
			return results, fmt.Errorf("settle batch %d: %w", b.ID, err)
		}
		// settled rounds leave the queue even if the local commit fails
		s.settled = append(s.settled, b)
		s.queue = s.queue[n:]
		s.nextID++
		results = append(results, res)
		if err := b.Advance(StatusSettled); err != nil {
			return results, err
		}
		if err := res.Staged.Commit(); err != nil {
			log.Error(log.AggregatorModule, "settled batch not committed locally", "batch", b.ID, "root", res.Statement.NewRoot.String_short(), "err", err)
			return results, fmt.Errorf("commit batch %d settled at %s: %v: %w", b.ID, res.Statement.NewRoot, err, rollerrors.ErrStateResync)
		}
		log.Info(log.AggregatorModule, "batch settled", "batch", b.ID, "ops", n, "root", res.Statement.NewRoot.String_short())
	}
	return results, nil
}
