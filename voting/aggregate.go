package voting

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/colorfulnotion/nsroll/aggregator"
	"github.com/colorfulnotion/nsroll/ed25519"
	"github.com/colorfulnotion/nsroll/log"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/types"
	"golang.org/x/sync/errgroup"
)

// Ballot is one validator's signed vote.
type Ballot struct {
	Voter     ed25519.PublicKey
	Signature ed25519.Signature
}

// CastBallot signs d with priv.
func CastBallot(priv ed25519.PrivateKey, d *types.Decision) Ballot {
	return Ballot{Voter: ed25519.Public(priv), Signature: ed25519.Sign(priv, VoteMessage(d))}
}

// InvalidBallot is a ballot whose vote could not be proven.
type InvalidBallot struct {
	Ballot Ballot
	Reason error
}

// Tally is the aggregated vote on one decision.
type Tally struct {
	aggregator.Lifecycle
	Decision types.Decision
	Result   *Proven
	Tree     *aggregator.Tree[*Proven]
	Invalid  []InvalidBallot
}

// Aggregate proves every ballot in parallel and merges the valid votes, in
// committee order, into one decision state. Ballots that fail membership or signature checks are
// left out and reported in Tally.Invalid; a repeated voter aborts the tally.
func (p *Prover) Aggregate(ctx context.Context, c *Committee, d types.Decision, ballots []Ballot, workers int) (*Tally, error) {
	t := &Tally{Decision: d}
	if len(ballots) == 0 {
		return nil, rollerrors.ErrNothingToReduce
	}
	seen := make(map[string]struct{}, len(ballots))
	for _, b := range ballots {
		if _, dup := seen[string(b.Voter)]; dup {
			return nil, fmt.Errorf("voter %x: %w", []byte(b.Voter), rollerrors.ErrDuplicateVoter)
		}
		seen[string(b.Voter)] = struct{}{}
	}
	if workers < 1 {
		workers = 1
	}
	if err := t.Advance(aggregator.StatusProving); err != nil {
		return nil, err
	}

	votes := make([]*Proven, len(ballots))
	reasons := make([]error, len(ballots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, b := range ballots {
		g.Go(func() error {
			idx, ok := c.Index(b.Voter)
			if !ok {
				reasons[i] = rollerrors.ErrNotCommitteeMember
				return nil
			}
			path, err := c.Witness(idx)
			if err != nil {
				return err
			}
			pr, err := p.Vote(gctx, &VoteWitness{Decision: d, Voter: b.Voter, Index: uint64(idx), Path: path, Signature: b.Signature})
			if err != nil {
				if isBallotError(err) {
					reasons[i] = err
					return nil
				}
				return err
			}
			votes[i] = pr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fail()
		return nil, err
	}
	var valid []*Proven
	for i, v := range votes {
		if v == nil {
			t.Invalid = append(t.Invalid, InvalidBallot{Ballot: ballots[i], Reason: reasons[i]})
			log.Debug(log.VotingModule, "ballot excluded", "voter", fmt.Sprintf("%x", []byte(ballots[i].Voter)), "reason", rollerrors.GetErrorName(reasons[i]))
			continue
		}
		valid = append(valid, v)
	}
	if len(valid) == 0 {
		t.Fail()
		return nil, fmt.Errorf("no valid ballot: %w", rollerrors.ErrThresholdNotMet)
	}

	if err := t.Advance(aggregator.StatusMerging); err != nil {
		return nil, err
	}
	// merges only accept votes in committee order
	slices.SortFunc(valid, func(a, b *Proven) int {
		return cmp.Compare(a.Statement.First, b.Statement.First)
	})
	tree, err := aggregator.Reduce(ctx, valid, workers, p.Merge)
	if err != nil {
		t.Fail()
		return nil, err
	}
	if err := p.Verify(tree.Value); err != nil {
		t.Fail()
		return nil, err
	}
	if err := t.Advance(aggregator.StatusVerified); err != nil {
		return nil, err
	}
	t.Result, t.Tree = tree.Value, tree
	log.Info(log.VotingModule, "votes aggregated", "decision", d.Hash().String_short(), "count", tree.Value.Statement.Count, "excluded", len(t.Invalid))
	return t, nil
}

func isBallotError(err error) bool {
	return errors.Is(err, rollerrors.ErrBadVoteSignature) || errors.Is(err, rollerrors.ErrNotCommitteeMember)
}
