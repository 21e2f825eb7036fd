// Package settlement is an in-process reference for the settlement layer:
// it owns the canonical registry root and the validator committee and
// accepts only verified aggregates that extend them.
package settlement

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/prover"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/storage"
	"github.com/colorfulnotion/nsroll/transition"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/colorfulnotion/nsroll/voting"
)

var (
	keyRoot      = []byte("ledger/root")
	keyHeight    = []byte("ledger/height")
	keyThreshold = []byte("ledger/threshold")
	keyCommittee = []byte("ledger/committee")
	prefixDone   = []byte("ledger/settled/")
)

// Ledger serialises settlement: one statement at a time, each checked
// against the current root.
type Ledger struct {
	mu        sync.Mutex
	reg       *prover.Registry
	db        *storage.PersistenceStore
	root      common.Hash
	height    uint64
	committee *voting.Committee
	threshold uint64
	settled   map[common.Hash]struct{}
}

// NewLedger starts a ledger at genesis, or resumes the one persisted in db.
// db may be nil for a memory-only ledger.
func NewLedger(reg *prover.Registry, genesis common.Hash, committee *voting.Committee, threshold uint64, db *storage.PersistenceStore) (*Ledger, error) {
	l := &Ledger{
		reg:       reg,
		db:        db,
		root:      genesis,
		committee: committee,
		threshold: threshold,
		settled:   make(map[common.Hash]struct{}),
	}
	if threshold == 0 || threshold > uint64(committee.Size()) {
		return nil, fmt.Errorf("threshold %d of %d: %w", threshold, committee.Size(), rollerrors.ErrInvalidThreshold)
	}
	if db == nil {
		return l, nil
	}
	resumed, err := l.load()
	if err != nil {
		return nil, err
	}
	if !resumed {
		if err := l.persist(nil); err != nil {
			return nil, err
		}
	}
	log.Info(log.SettlementModule, "ledger opened", "root", l.root.String_short(), "height", l.height, "resumed", resumed)
	return l, nil
}

func (l *Ledger) Root() common.Hash {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.root
}

func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

func (l *Ledger) Committee() *voting.Committee {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.committee
}

func (l *Ledger) Threshold() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.threshold
}

// SubmitBatch re-verifies the aggregate and moves the canonical root to
// statement.NewRoot iff statement.OldRoot is the current root.
func (l *Ledger) SubmitBatch(ctx context.Context, proof *prover.Proof, statement *types.Transition) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	digest := statement.Digest()
	if _, done := l.settled[digest]; done {
		return rollerrors.ErrAlreadySettled
	}
	if !slices.Contains(transition.Family, proof.Circuit) {
		return fmt.Errorf("%s: %w", proof.Circuit, rollerrors.ErrCircuitNotAllowed)
	}
	if string(proof.Public) != string(statement.Bytes()) {
		return rollerrors.ErrStatementMismatch
	}
	if err := l.reg.Verify(proof); err != nil {
		log.Warn(log.SettlementModule, "batch refused", "statement", statement.String(), "err", err)
		return err
	}
	if statement.Seq != 0 {
		return fmt.Errorf("batch starts at position %d: %w", statement.Seq, rollerrors.ErrCountMismatch)
	}
	if statement.OldRoot != l.root {
		return fmt.Errorf("statement old root %s, ledger root %s: %w", statement.OldRoot.String_short(), l.root.String_short(), rollerrors.ErrStaleRoot)
	}

	l.root = statement.NewRoot
	l.height++
	l.settled[digest] = struct{}{}
	if err := l.persist(&digest); err != nil {
		return err
	}
	log.Info(log.SettlementModule, "batch settled", "height", l.height, "root", l.root.String_short(), "count", statement.Count)
	return nil
}

// ApplyDecision enacts a verified governance decision that passes the
// ledger's threshold policy at time now. For KindSetValidators next must be
// the committee whose root the decision names.
func (l *Ledger) ApplyDecision(ctx context.Context, proof *prover.Proof, st *types.DecisionState, next *voting.Committee, now uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	digest := st.Digest()
	if _, done := l.settled[digest]; done {
		return rollerrors.ErrAlreadySettled
	}
	if err := voting.VerifyProof(l.reg, proof, st); err != nil {
		return err
	}
	policy := voting.Policy{Threshold: l.threshold}
	if err := policy.Check(l.committee, st, now); err != nil {
		return err
	}

	d := st.Decision
	switch d.Kind {
	case types.KindSetValidators:
		if next == nil || next.Root() != d.Payload[0] {
			return fmt.Errorf("committee does not match decision payload: %w", rollerrors.ErrDecisionMismatch)
		}
		threshold := common.BytesToUint64(d.Payload[1][common.HashLength-8:])
		if threshold == 0 || threshold > uint64(next.Size()) {
			return fmt.Errorf("threshold %d of %d: %w", threshold, next.Size(), rollerrors.ErrInvalidThreshold)
		}
		l.committee, l.threshold = next, threshold
	default:
		return fmt.Errorf("%s: %w", d.Kind, rollerrors.ErrUnsupportedDecision)
	}

	l.settled[digest] = struct{}{}
	if err := l.persist(&digest); err != nil {
		return err
	}
	log.Info(log.SettlementModule, "decision applied", "kind", d.Kind, "committee", l.committee.Root().String_short(), "threshold", l.threshold)
	return nil
}

func (l *Ledger) persist(settled *common.Hash) error {
	if l.db == nil {
		return nil
	}
	members := make([]byte, 0, l.committee.Size()*ed25519.PublicKeySize)
	for i := 0; i < l.committee.Size(); i++ {
		members = append(members, l.committee.Member(i)...)
	}
	puts := [][2][]byte{
		{keyRoot, l.root.Bytes()},
		{keyHeight, common.Uint64ToBytes(l.height)},
		{keyThreshold, common.Uint64ToBytes(l.threshold)},
		{keyCommittee, members},
	}
	if settled != nil {
		puts = append(puts, [2][]byte{append(append([]byte(nil), prefixDone...), settled.Bytes()...), {1}})
	}
	return l.db.WriteBatch(puts, nil)
}

func (l *Ledger) load() (bool, error) {
	root, ok, err := l.db.Get(keyRoot)
	if err != nil || !ok {
		return false, err
	}
	height, _, err := l.db.Get(keyHeight)
	if err != nil {
		return false, err
	}
	threshold, _, err := l.db.Get(keyThreshold)
	if err != nil {
		return false, err
	}
	raw, _, err := l.db.Get(keyCommittee)
	if err != nil {
		return false, err
	}
	if len(height) != 8 || len(threshold) != 8 || len(raw) == 0 || len(raw)%ed25519.PublicKeySize != 0 {
		return false, fmt.Errorf("ledger state: %w", rollerrors.ErrCorruptNode)
	}
	members := make([]ed25519.PublicKey, 0, len(raw)/ed25519.PublicKeySize)
	for i := 0; i < len(raw); i += ed25519.PublicKeySize {
		members = append(members, ed25519.PublicKey(raw[i:i+ed25519.PublicKeySize]))
	}
	committee, err := voting.NewCommittee(members)
	if err != nil {
		return false, err
	}
	done, err := l.db.GetWithPrefix(prefixDone)
	if err != nil {
		return false, err
	}
	for _, kv := range done {
		l.settled[common.BytesToHash(kv[0][len(prefixDone):])] = struct{}{}
	}
	l.root = common.BytesToHash(root)
	l.height = common.BytesToUint64(height)
	l.threshold = common.BytesToUint64(threshold)
	l.committee = committee
	return true, nil
}
