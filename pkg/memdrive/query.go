package memdrive

import (
	"context"
	"fmt"

	"drivegate/pkg/drive"
	"drivegate/pkg/query"
	"drivegate/pkg/types"
)

// QueryEngine scans checkout trees. It does not descend into mounts.
type QueryEngine struct{}

var _ query.Engine = QueryEngine{}

func (QueryEngine) Query(ctx context.Context, c drive.Checkout, opts query.Options) ([]types.Match, error) {
	mc, ok := c.(*Checkout)
	if !ok {
		return nil, fmt.Errorf("checkout is not an in-memory checkout")
	}

	var out []types.Match
	for p, nd := range mc.tree() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p == "/" || !matches(p, nd, opts) {
			continue
		}
		out = append(out, types.Match{Path: p, Stat: nd.stat})
	}

	query.Sort(out, opts.Sort, opts.Reverse)
	return query.Paginate(out, opts.Offset, opts.Limit), nil
}

func matches(p string, nd *node, opts query.Options) bool {
	if opts.Type != "" && nd.stat.Type != opts.Type {
		return false
	}
	for k, v := range opts.Metadata {
		if nd.stat.Metadata[k] != v {
			return false
		}
	}
	if len(opts.Path) == 0 {
		return true
	}
	for _, pattern := range opts.Path {
		if matchPattern(pattern, p) {
			return true
		}
	}
	return false
}
