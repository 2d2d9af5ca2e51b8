package gateway

import (
	"context"
	"errors"
	"strings"

	"drivegate/pkg/query"
	"drivegate/pkg/types"
)

var errNoQueryEngine = errors.New("gateway: no query engine configured")

// Query runs a structured query over every drive in q.Drives and returns
// one merged page.
func (g *Gateway) Query(ctx context.Context, actor types.Actor, q query.Options, opts OpOptions) ([]types.Match, error) {
	target := ""
	if len(q.Drives) > 0 {
		target = q.Drives[0]
		if len(q.Drives) > 1 {
			target += " (+more)"
		}
	}
	return run(ctx, g, call{actor: actor, action: "query", target: target, timeout: opts.Timeout},
		func(ctx context.Context) ([]types.Match, error) {
			if g.queries == nil {
				return nil, errNoQueryEngine
			}
			if err := q.Validate(); err != nil {
				return nil, err
			}

			targets, err := g.resolver.ResolveAll(ctx, actor, q.Drives)
			if err != nil {
				return nil, err
			}
			sources := make([]query.Source, 0, len(targets))
			for _, t := range targets {
				sources = append(sources, query.Source{Key: t.Key(), Checkout: t.Checkout})
			}
			g.metrics.ObserveQuery(len(sources))
			return query.Run(ctx, g.queries, sources, q)
		})
}

// Watch streams change events for paths matching pattern in the drive at
// url. The stream ends when ctx is done.
func (g *Gateway) Watch(ctx context.Context, actor types.Actor, url, pattern string, opts OpOptions) (<-chan types.Event, error) {
	return runStream(ctx, g, call{actor: actor, action: "watch", target: url, timeout: opts.Timeout},
		func(opCtx, streamCtx context.Context) (<-chan types.Event, error) {
			t, err := g.resolve(opCtx, actor, url, nil)
			if err != nil {
				return nil, err
			}
			if pattern == "" {
				pattern = strings.TrimSuffix(t.Path, "/") + "/**"
			}
			if err := step(opCtx, "watch "+pattern); err != nil {
				return nil, err
			}
			return t.Checkout.Watch(streamCtx, pattern)
		})
}

// CreateNetworkActivityStream streams peer and update events of the drive
// at url. The stream ends when ctx is done.
func (g *Gateway) CreateNetworkActivityStream(ctx context.Context, actor types.Actor, url string, opts OpOptions) (<-chan types.NetworkEvent, error) {
	return runStream(ctx, g, call{actor: actor, action: "createNetworkActivityStream", target: url, timeout: opts.Timeout},
		func(opCtx, streamCtx context.Context) (<-chan types.NetworkEvent, error) {
			t, err := g.resolve(opCtx, actor, url, nil)
			if err != nil {
				return nil, err
			}
			if err := step(opCtx, "subscribe"); err != nil {
				return nil, err
			}
			all, err := g.engine.NetworkActivity(streamCtx)
			if err != nil {
				return nil, err
			}

			key := t.Key()
			out := make(chan types.NetworkEvent, 16)
			go func() {
				defer close(out)
				for ev := range all {
					if ev.Drive != key {
						continue
					}
					select {
					case out <- ev:
					case <-streamCtx.Done():
						return
					}
				}
			}()
			return out, nil
		})
}

// runStream is run for operations whose result outlives the call. op sets
// the stream up on streamCtx, a child of ctx that is cancelled as soon as
// the operation fails or times out.
func runStream[T any](ctx context.Context, g *Gateway, c call, op func(opCtx, streamCtx context.Context) (T, error)) (T, error) {
	streamCtx, stop := context.WithCancel(ctx)
	v, err := run(ctx, g, c, func(opCtx context.Context) (T, error) {
		return op(opCtx, streamCtx)
	})
	if err != nil {
		stop()
		return v, err
	}
	context.AfterFunc(ctx, stop)
	return v, nil
}
