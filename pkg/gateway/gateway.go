// Package gateway is the public operation surface. Every operation is
// audited, runs under a deadline, resolves its target and, when it mutates,
// clears permission and quota with the deadline paused before delegating
// to the drive engine.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drivegate/pkg/audit"
	"drivegate/pkg/consent"
	"drivegate/pkg/deadline"
	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/metrics"
	"drivegate/pkg/paths"
	"drivegate/pkg/permission"
	"drivegate/pkg/query"
	"drivegate/pkg/quota"
	"drivegate/pkg/types"
)

// DefaultTimeout bounds operations that do not set their own timeout.
const DefaultTimeout = 5 * time.Second

// Config wires a Gateway to its collaborators. Engine is required; every
// other collaborator has an in-process default.
type Config struct {
	Engine  drive.Engine
	Names   drive.NameResolver
	Grants  permission.GrantStore
	Consent consent.Consent
	Configs drive.ConfigStore
	Queries query.Engine
	Audit   audit.Sink
	// HostFS is the filesystem used by the import and export operations.
	// Defaults to the host root.
	HostFS billy.Filesystem

	// DefaultTimeout applies when an operation sets none. Negative disables
	// the deadline.
	DefaultTimeout   time.Duration
	DefaultAllowance int64
	PromptRate       rate.Limit
	PromptBurst      int

	Clock   deadline.Clock
	Logger  *zap.Logger
	Metrics *metrics.GatewayMetrics
}

type Gateway struct {
	engine   drive.Engine
	resolver *drive.Resolver
	mediator *permission.Mediator
	quota    *quota.Enforcer
	recorder *audit.Recorder
	consent  consent.Consent
	configs  drive.ConfigStore
	queries  query.Engine
	hostFS   billy.Filesystem

	timeout time.Duration
	clock   deadline.Clock
	logger  *zap.Logger
	metrics *metrics.GatewayMetrics
}

// New creates a new gateway
func New(cfg Config) (*Gateway, error) {
	if cfg.Engine == nil {
		return nil, errors.New("gateway: engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Grants == nil {
		cfg.Grants = permission.NewMemoryGrants()
	}
	if cfg.Consent == nil {
		cfg.Consent = consent.NewDismissing()
	}
	if cfg.Configs == nil {
		cfg.Configs = drive.NewMemoryConfigs()
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NewLogSink(cfg.Logger)
	}
	if cfg.HostFS == nil {
		cfg.HostFS = osfs.New("/")
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.DefaultAllowance <= 0 {
		cfg.DefaultAllowance = quota.DefaultAllowance
	}
	if cfg.Clock == nil {
		cfg.Clock = deadline.RealClock()
	}

	resolver := drive.NewResolver(cfg.Engine, cfg.Names, cfg.Logger.Named("resolver"))
	return &Gateway{
		engine:   cfg.Engine,
		resolver: resolver,
		mediator: permission.NewMediator(resolver, cfg.Grants, cfg.Consent, permission.Options{
			PromptRate:  cfg.PromptRate,
			PromptBurst: cfg.PromptBurst,
		}, cfg.Logger.Named("permission"), cfg.Metrics),
		quota:    quota.NewEnforcer(cfg.Configs, cfg.DefaultAllowance, cfg.Logger.Named("quota"), cfg.Metrics),
		recorder: audit.NewRecorder(cfg.Audit, cfg.Logger.Named("audit"), cfg.Metrics),
		consent:  cfg.Consent,
		configs:  cfg.Configs,
		queries:  cfg.Queries,
		hostFS:   cfg.HostFS,
		timeout:  cfg.DefaultTimeout,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Resolver exposes the gateway's drive resolver.
func (g *Gateway) Resolver() *drive.Resolver {
	return g.resolver
}

// call describes one public operation for auditing and timing.
type call struct {
	actor   types.Actor
	action  string
	target  string
	size    *int64
	timeout time.Duration
}

// run wraps op with the audit recorder and a deadline. op finds the
// deadline with deadline.FromContext.
func run[T any](ctx context.Context, g *Gateway, c call, op func(ctx context.Context) (T, error)) (T, error) {
	timeout := c.timeout
	if timeout == 0 {
		timeout = g.timeout
	}
	return audit.Record(ctx, g.recorder, audit.Call{
		Actor:  c.actor,
		Action: c.action,
		Target: c.target,
		Size:   c.size,
	}, func(ctx context.Context) (T, error) {
		v, err := deadline.RunWithClock(ctx, g.clock, timeout, op)
		if errs.Is(err, errs.CodeTimeout) {
			g.logger.Warn("Operation timed out",
				zap.String("action", c.action),
				zap.String("origin", c.actor.Origin),
				zap.String("target", c.target),
				zap.Duration("timeout", timeout))
		}
		return v, err
	})
}

// resolve resolves identifier and marks progress on the deadline.
func (g *Gateway) resolve(ctx context.Context, actor types.Actor, identifier string, version *types.Version) (*drive.Target, error) {
	deadline.FromContext(ctx).Checkin("resolve " + identifier)
	return g.resolver.Resolve(ctx, actor, identifier, version)
}

// assertMutable rejects historic checkouts and drives this process cannot
// write.
func assertMutable(t *drive.Target) error {
	if t.Historic {
		return errs.ArchiveNotWritable("cannot modify a historic version of %s", t.Key().URL())
	}
	if !t.Drive.Writable() {
		return errs.ArchiveNotWritable("drive %s is not writable", t.Key().URL())
	}
	return nil
}

// step records a checkin on the deadline. Once ctx is done it returns the
// cause instead, and the operation must stop before its next side effect.
func step(ctx context.Context, label string) error {
	deadline.FromContext(ctx).Checkin(label)
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}

// authorize asks the mediator, with the deadline paused.
func (g *Gateway) authorize(ctx context.Context, actor types.Actor, kind types.ActionKind, d drive.Drive) error {
	if err := step(ctx, "assert "+string(kind)+" permission"); err != nil {
		return err
	}
	dl := deadline.FromContext(ctx)
	dl.Pause()
	defer dl.Resume()
	return g.mediator.Assert(ctx, actor, kind, d)
}

// authorizeGrowth asks the mediator for write permission and the quota
// enforcer for room for additional bytes, with the deadline paused.
func (g *Gateway) authorizeGrowth(ctx context.Context, actor types.Actor, d drive.Drive, additional int64) error {
	if err := step(ctx, "assert write permission"); err != nil {
		return err
	}
	dl := deadline.FromContext(ctx)
	dl.Pause()
	defer dl.Resume()
	if err := g.mediator.Assert(ctx, actor, types.ActionWrite, d); err != nil {
		return err
	}
	return g.quota.Assert(ctx, d, actor, additional)
}

// writableFilePath checks that actor may create a file at p and returns it
// cleaned.
func writableFilePath(p string, actor types.Actor) (string, error) {
	if err := paths.AssertValidFilePath(p); err != nil {
		return "", err
	}
	if err := paths.AssertUnprotected(p, actor); err != nil {
		return "", err
	}
	return paths.Clean(p), nil
}

// writableDirPath is writableFilePath for directory-like targets, where a
// trailing slash is allowed.
func writableDirPath(p string, actor types.Actor) (string, error) {
	if err := paths.AssertValid(p); err != nil {
		return "", err
	}
	if err := paths.AssertUnprotected(p, actor); err != nil {
		return "", err
	}
	return paths.Clean(p), nil
}

func sizeOf(n int) *int64 {
	v := int64(n)
	return &v
}
