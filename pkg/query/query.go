// Package query fans a structured query out over several drive checkouts
// and merges the results into one ordered, paginated sequence.
package query

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"drivegate/pkg/drive"
	"drivegate/pkg/types"
)

type SortKey string

const (
	SortName  SortKey = "name"
	SortMtime SortKey = "mtime"
	SortCtime SortKey = "ctime"
)

// DefaultSort is used when Options.Sort is empty.
const DefaultSort = SortName

// Options is a structured query.
type Options struct {
	Drives []string `json:"drives"`
	// Path holds glob patterns; a trailing "/**" matches a whole subtree.
	Path     []string          `json:"path,omitempty"`
	Type     types.EntryType   `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Sort     SortKey           `json:"sort,omitempty"`
	Reverse  bool              `json:"reverse,omitempty"`
	Offset   int               `json:"offset,omitempty"`
	Limit    int               `json:"limit,omitempty"`
}

// Validate rejects unknown sort keys and negative pagination.
func (o Options) Validate() error {
	switch o.Sort {
	case "", SortName, SortMtime, SortCtime:
	default:
		return fmt.Errorf("unknown sort key %q", o.Sort)
	}
	if o.Offset < 0 || o.Limit < 0 {
		return fmt.Errorf("offset and limit must not be negative")
	}
	return nil
}

// Engine runs a query against a single checkout. Drive and URL of the
// returned matches are filled in by Run.
type Engine interface {
	Query(ctx context.Context, checkout drive.Checkout, opts Options) ([]types.Match, error)
}

// Source is one checkout taking part in a query.
type Source struct {
	Key      types.DriveKey
	Checkout drive.Checkout
}

// Run queries every source concurrently, then sorts the union and applies
// Offset and Limit to it. Each source is queried without pagination so the
// page is correct across drives.
func Run(ctx context.Context, engine Engine, sources []Source, opts Options) ([]types.Match, error) {
	perDrive := opts
	perDrive.Offset, perDrive.Limit = 0, 0

	results := make([][]types.Match, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			matches, err := engine.Query(gctx, src.Checkout, perDrive)
			if err != nil {
				return err
			}
			for j := range matches {
				matches[j].Drive = src.Key
				matches[j].URL = src.Key.URL() + trimSlash(matches[j].Path)
			}
			results[i] = matches
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []types.Match
	for _, r := range results {
		merged = append(merged, r...)
	}

	Sort(merged, opts.Sort, opts.Reverse)
	return Paginate(merged, opts.Offset, opts.Limit), nil
}

func trimSlash(p string) string {
	if len(p) > 0 && p[0] == '/' {
		return p[1:]
	}
	return p
}

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.Und, collate.IgnoreCase)
)

// CompareNames orders by the final path segment, case-insensitively and
// locale aware. Ties fall back to the full path so the order is total.
func CompareNames(a, b string) int {
	collatorMu.Lock()
	c := collator.CompareString(path.Base(a), path.Base(b))
	collatorMu.Unlock()
	if c != 0 {
		return c
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Sort orders matches by key; reverse flips the comparator.
func Sort(matches []types.Match, key SortKey, reverse bool) {
	if key == "" {
		key = DefaultSort
	}
	less := func(i, j int) bool {
		a, b := matches[i], matches[j]
		var c int
		switch key {
		case SortMtime:
			c = a.Stat.Mtime.Compare(b.Stat.Mtime)
		case SortCtime:
			c = a.Stat.Ctime.Compare(b.Stat.Ctime)
		default:
			c = CompareNames(a.Path, b.Path)
		}
		if reverse {
			return c > 0
		}
		return c < 0
	}
	sort.SliceStable(matches, less)
}

// Paginate applies offset then limit. limit <= 0 means no limit.
func Paginate(matches []types.Match, offset, limit int) []types.Match {
	if offset >= len(matches) {
		return []types.Match{}
	}
	if offset > 0 {
		matches = matches[offset:]
	}
	if limit > 0 && limit < len(matches) {
		matches = matches[:limit]
	}
	return matches
}
