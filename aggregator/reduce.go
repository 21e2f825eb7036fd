package aggregator

import (
	"context"

	"github.com/colorfulnotion/nsroll/rollerrors"
	"github.com/xlab/treeprint"
	"golang.org/x/sync/errgroup"
)

// Tree is one node of a reduction. A leaf covers a single input; an inner
// node holds the merge of its children and covers inputs [Lo, Hi).
type Tree[T any] struct {
	Value       T
	Lo, Hi      int
	Left, Right *Tree[T]
}

func (t *Tree[T]) IsLeaf() bool {
	return t.Left == nil
}

// Render draws the tree with label applied to every node value.
func (t *Tree[T]) Render(label func(lo, hi int, v T) string) string {
	root := treeprint.NewWithRoot(label(t.Lo, t.Hi, t.Value))
	var add func(parent treeprint.Tree, n *Tree[T])
	add = func(parent treeprint.Tree, n *Tree[T]) {
		for _, c := range []*Tree[T]{n.Left, n.Right} {
			if c.IsLeaf() {
				parent.AddNode(label(c.Lo, c.Hi, c.Value))
				continue
			}
			add(parent.AddBranch(label(c.Lo, c.Hi, c.Value)), c)
		}
	}
	if !t.IsLeaf() {
		add(root, t)
	}
	return root.String()
}

// Reduce folds items left to right with merge as a balanced binary tree.
// Input order is never changed: merge always receives a left neighbour and
// the right neighbour that follows it. Merges at one level are independent
// and run concurrently, at most workers at a time; a level starts only
// after the previous one is complete.
func Reduce[T any](ctx context.Context, items []T, workers int, merge func(ctx context.Context, left, right T) (T, error)) (*Tree[T], error) {
	if len(items) == 0 {
		return nil, rollerrors.ErrNothingToReduce
	}
	if workers < 1 {
		workers = 1
	}
	level := make([]*Tree[T], len(items))
	for i, it := range items {
		level[i] = &Tree[T]{Value: it, Lo: i, Hi: i + 1}
	}
	for len(level) > 1 {
		next := make([]*Tree[T], (len(level)+1)/2)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for i := 0; i+1 < len(level); i += 2 {
			left, right, slot := level[i], level[i+1], i/2
			g.Go(func() error {
				v, err := merge(gctx, left.Value, right.Value)
				if err != nil {
					return err
				}
				next[slot] = &Tree[T]{Value: v, Lo: left.Lo, Hi: right.Hi, Left: left, Right: right}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		// an odd element is carried up unchanged
		if len(level)%2 == 1 {
			next[len(next)-1] = level[len(level)-1]
		}
		level = next
	}
	return level[0], nil
}
