package features

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// groupIndex partitions row positions by key. Keys keep first-occurrence order.
type groupIndex struct {
	keys []string
	rows [][]int
	of   []int // row -> group ordinal
}

func buildGroups(keys []string) *groupIndex {
	g := &groupIndex{of: make([]int, len(keys))}
	ordinal := make(map[string]int)
	for row, key := range keys {
		n, ok := ordinal[key]
		if !ok {
			n = len(g.keys)
			ordinal[key] = n
			g.keys = append(g.keys, key)
			g.rows = append(g.rows, nil)
		}
		g.rows[n] = append(g.rows[n], row)
		g.of[row] = n
	}
	return g
}

func (g *groupIndex) len() int {
	return len(g.keys)
}

// forEachGroup runs fn for every group ordinal. When workers > 1 the groups are
// processed concurrently; fn must only write to its own group's slot.
func forEachGroup(ctx context.Context, n, workers int, fn func(g int) error) error {
	if workers <= 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return fn(i)
		})
	}
	return eg.Wait()
}
