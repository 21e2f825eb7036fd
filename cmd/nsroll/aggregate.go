package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/colorfulnotion/nsroll/aggregator"
	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/colorfulnotion/nsroll/settlement"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/spf13/cobra"
)

type aggregateOptions struct {
	timestamp  uint64
	tree       bool
	commit     bool
	settle     bool
	validators int
	threshold  uint64
}

func newAggregateCmd(g *globalOptions) *cobra.Command {
	var opts aggregateOptions
	cmd := &cobra.Command{
		Use:   "aggregate <ops.json>",
		Short: "Prove a JSON batch of operations and print the aggregate statement",
		Long: `Reads a JSON array of operations ({"kind":"add","name":...,"record":{...}}),
proves each one against the current name map, merges the proofs pairwise and
prints the aggregate statement. With --settle the batches are submitted to the
ledger in rounds of batch_size operations.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := openNode(ctx, g)
			if err != nil {
				return err
			}
			defer n.close(ctx)
			if opts.timestamp == 0 {
				opts.timestamp = uint64(time.Now().Unix())
			}
			return runAggregate(ctx, n, cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().Uint64Var(&opts.timestamp, "ts", 0, "Batch timestamp in unix seconds (default now)")
	cmd.Flags().BoolVar(&opts.tree, "tree", false, "Print the merge tree")
	cmd.Flags().BoolVar(&opts.commit, "commit", false, "Write the batch changes to the name map")
	cmd.Flags().BoolVar(&opts.settle, "settle", false, "Settle the batches on the ledger (implies --commit)")
	cmd.Flags().IntVar(&opts.validators, "validators", 4, "Dev committee size for the ledger")
	cmd.Flags().Uint64Var(&opts.threshold, "threshold", 3, "Ledger vote threshold")
	return cmd
}

func runAggregate(ctx context.Context, n *node, w io.Writer, path string, opts aggregateOptions) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	ops, err := types.DecodeOperations(data, n.cfg.Depth)
	if err != nil {
		return err
	}
	st, err := n.state()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "map depth %d, root %s, %d operations\n", st.Depth(), st.Root(), len(ops))

	if opts.settle {
		return settleOps(ctx, n, w, st, ops, opts)
	}
	if len(ops) > n.cfg.BatchSize {
		return fmt.Errorf("%d operations, batch size %d: %w", len(ops), n.cfg.BatchSize, rollerrors.ErrBatchTooLarge)
	}
	res, err := n.pipeline().Aggregate(ctx, st, ops, opts.timestamp)
	if err != nil {
		return err
	}
	printResult(w, res, opts.tree)
	if !opts.commit {
		res.Staged.Discard()
		return nil
	}
	if err := res.Staged.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(w, "committed root %s\n", st.Root())
	return nil
}

func settleOps(ctx context.Context, n *node, w io.Writer, st *aggregator.State, ops []types.Operation, opts aggregateOptions) error {
	_, committee, err := devCommittee("genesis", opts.validators)
	if err != nil {
		return err
	}
	ledger, err := settlement.NewLedger(n.reg, st.Root(), committee, opts.threshold, n.db)
	if err != nil {
		return err
	}
	seq, err := aggregator.NewSequencer(n.pipeline(), st, ledger, n.cfg.BatchSize)
	if err != nil {
		return err
	}
	seq.Submit(ops...)
	results, err := seq.Flush(ctx, opts.timestamp)
	for _, res := range results {
		printResult(w, res, opts.tree)
	}
	fmt.Fprintf(w, "ledger height %d, root %s, %d operations pending\n", ledger.Height(), ledger.Root(), seq.Pending())
	return err
}

func printResult(w io.Writer, res *aggregator.Result, tree bool) {
	fmt.Fprintf(w, "statement %s\n", res.Statement)
	fmt.Fprintf(w, "proof     %s\n", res.Proof)
	for _, r := range res.Rejections {
		fmt.Fprintf(w, "  rejected #%d %s %s: %s\n", r.Index, r.Op.Kind(), r.Op.OpKey().String_short(), rollerrors.GetErrorCodeWithName(r.Reason))
	}
	if tree {
		fmt.Fprint(w, res.RenderTree())
	}
}
