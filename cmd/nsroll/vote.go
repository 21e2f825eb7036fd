package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/settlement"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/voting"
	"github.com/spf13/cobra"
)

type voteOptions struct {
	validators int
	votes      int
	threshold  uint64
	corrupt    int
	ttl        time.Duration
	unanimous  bool
	apply      bool
	tree       bool
	now        uint64
}

func newVoteCmd(g *globalOptions) *cobra.Command {
	var opts voteOptions
	cmd := &cobra.Command{
		Use:   "vote",
		Short: "Run a set-validators vote of the dev committee",
		Long: `Proposes replacing the dev committee by a fresh one, has the first --votes
validators sign it, aggregates the vote proofs and checks the threshold.
--corrupt N damages the signature of ballot N to show it being excluded.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := openNode(ctx, g)
			if err != nil {
				return err
			}
			defer n.close(ctx)
			if opts.now == 0 {
				opts.now = uint64(time.Now().Unix())
			}
			return runVote(ctx, n, cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.validators, "validators", 4, "Committee size")
	cmd.Flags().IntVar(&opts.votes, "votes", 3, "Number of validators that vote")
	cmd.Flags().Uint64Var(&opts.threshold, "threshold", 3, "Votes needed for the decision to pass")
	cmd.Flags().IntVar(&opts.corrupt, "corrupt", -1, "Index of a ballot whose signature is damaged")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Decision lifetime")
	cmd.Flags().BoolVar(&opts.unanimous, "unanimous", false, "Require every committee member to vote")
	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Apply the passed decision to a demo ledger")
	cmd.Flags().BoolVar(&opts.tree, "tree", false, "Print the merge tree")
	return cmd
}

func runVote(ctx context.Context, n *node, w io.Writer, opts voteOptions) error {
	if opts.votes > opts.validators {
		return fmt.Errorf("%d votes from %d validators", opts.votes, opts.validators)
	}
	keys, current, err := devCommittee("genesis", opts.validators)
	if err != nil {
		return err
	}
	_, next, err := devCommittee("next", opts.validators)
	if err != nil {
		return err
	}
	registry := common.Blake2Hash([]byte(serviceName))
	d := voting.SetValidatorsDecision(registry, current, next, opts.threshold, opts.now+uint64(opts.ttl/time.Second))
	fmt.Fprintf(w, "committee %s (%d members), decision %s, next committee %s\n", current.Root(), current.Size(), d.Hash(), next.Root())

	ballots := make([]voting.Ballot, opts.votes)
	for i := range ballots {
		ballots[i] = voting.CastBallot(keys[i], &d)
	}
	if opts.corrupt >= 0 && opts.corrupt < len(ballots) {
		ballots[opts.corrupt].Signature[0] ^= 0xff
	}

	tally, err := voting.NewProver(n.reg).Aggregate(ctx, current, d, ballots, n.cfg.Workers)
	if err != nil {
		return err
	}
	for _, inv := range tally.Invalid {
		fmt.Fprintf(w, "  excluded %x: %s\n", []byte(inv.Ballot.Voter)[:8], rollerrors.GetErrorCodeWithName(inv.Reason))
	}
	fmt.Fprintf(w, "tally %s\n", tally.Result.Statement)
	if opts.tree {
		fmt.Fprint(w, tally.Tree.Render(func(lo, hi int, p *voting.Proven) string {
			return fmt.Sprintf("[%d,%d) %s count=%d", lo, hi, p.Proof.Circuit, p.Statement.Count)
		}))
	}

	policy := voting.Policy{Threshold: opts.threshold, RequireUnanimity: opts.unanimous}
	if err := policy.Check(current, tally.Result.Statement, opts.now); err != nil {
		fmt.Fprintf(w, "decision failed: %s\n", rollerrors.GetErrorCodeWithName(err))
		return err
	}
	fmt.Fprintf(w, "decision passed with %d of %d votes\n", tally.Result.Statement.Count, current.Size())
	if !opts.apply {
		return nil
	}

	// demo ledger in memory; the configured db keeps the real one
	ledger, err := settlement.NewLedger(n.reg, trie.EmptyRoot(n.cfg.Depth), current, opts.threshold, nil)
	if err != nil {
		return err
	}
	if err := ledger.ApplyDecision(ctx, tally.Result.Proof, tally.Result.Statement, next, opts.now); err != nil {
		return err
	}
	fmt.Fprintf(w, "ledger committee %s, threshold %d\n", ledger.Committee().Root(), ledger.Threshold())
	return nil
}
