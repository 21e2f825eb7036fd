package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/colorfulnotion/nsroll/aggregator"
	"github.com/colorfulnotion/nsroll/common"
	"github.com/colorfulnotion/nsroll/trie"
	"github.com/colorfulnotion/nsroll/types"
	"github.com/spf13/cobra"
)

func newBulkRootCmd(g *globalOptions) *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "bulk-root <adds.json>",
		Short: "Compute the map root of a set of add operations in one pass",
		Long: `Builds the name map bottom-up from a JSON array of add operations and prints
its root. With --write the result is stored as the genesis map in the
configured db, which must not hold a map yet.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, err := openNode(ctx, g)
			if err != nil {
				return err
			}
			defer n.close(ctx)
			return runBulkRoot(n, cmd.OutOrStdout(), args[0], write)
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "Store the map as genesis state")
	return cmd
}

func readAdds(path string, depth int) (map[common.Hash]types.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ops, err := types.DecodeOperations(data, depth)
	if err != nil {
		return nil, err
	}
	records := make(map[common.Hash]types.Record, len(ops))
	for i, op := range ops {
		add, ok := op.(*types.AddOp)
		if !ok {
			return nil, fmt.Errorf("operation %d is %s, only add is allowed", i, op.Kind())
		}
		if !trie.KeyFits(depth, add.Key) {
			return nil, fmt.Errorf("operation %d key %s does not fit depth %d", i, add.Key, depth)
		}
		records[add.Key] = add.Record
	}
	return records, nil
}

func runBulkRoot(n *node, w io.Writer, path string, write bool) error {
	depth := n.cfg.Depth
	records, err := readAdds(path, depth)
	if err != nil {
		return err
	}
	start := time.Now()
	if !write {
		leaves := make([]trie.Leaf, 0, len(records))
		for key, rec := range records {
			leaves = append(leaves, trie.Leaf{Key: key, Value: rec.Hash()})
		}
		snap, err := trie.BulkBuild(depth, leaves)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "root %s (%d leaves, depth %d, %s)\n", snap.Root(), snap.Len(), depth, time.Since(start))
		return nil
	}

	if n.db == nil {
		return fmt.Errorf("--write needs a db")
	}
	current, err := n.state()
	if err != nil {
		return err
	}
	if current.Root() != trie.EmptyRoot(depth) {
		return fmt.Errorf("db already holds a map with root %s", current.Root())
	}
	st, err := aggregator.NewGenesisState(depth, trie.NewPersistentNodeStore(n.db, namesSpace), records)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "genesis root %s (%d records, depth %d, %s)\n", st.Root(), st.Len(), depth, time.Since(start))
	return nil
}
