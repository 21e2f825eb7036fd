package aggregator

import (
	"sync"

	"github.com/colorfulnotion/nsroll/types"
)

// Batch is one aggregation round: operations in their fixed order and the
// timestamp every transition of the round carries.
type Batch struct {
	Lifecycle
	ID        uint64
	Ops       []types.Operation
	Timestamp uint64

	resMu  sync.Mutex
	result *Result
}

func NewBatch(id uint64, ops []types.Operation, ts uint64) *Batch {
	return &Batch{ID: id, Ops: append([]types.Operation(nil), ops...), Timestamp: ts}
}

// Result returns the last verified result, nil if the batch never verified.
func (b *Batch) Result() *Result {
	b.resMu.Lock()
	defer b.resMu.Unlock()
	return b.result
}

func (b *Batch) setResult(r *Result) {
	b.resMu.Lock()
	b.result = r
	b.resMu.Unlock()
}
