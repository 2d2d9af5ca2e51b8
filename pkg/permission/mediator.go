// Package permission decides whether an actor may mutate a drive.
package permission

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"drivegate/pkg/consent"
	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/metrics"
	"drivegate/pkg/types"
)

// DefaultPromptBurst is the burst used when a prompt rate is set without
// one.
const DefaultPromptBurst = 5

// OriginResolver maps an origin to the drive key it denotes, if any.
type OriginResolver interface {
	KeyOf(ctx context.Context, identifier string) (types.DriveKey, error)
}

// Options configures a Mediator.
type Options struct {
	// PromptRate is how many prompts per second one origin may raise once
	// its burst is spent. Zero leaves prompts unthrottled.
	PromptRate  rate.Limit
	PromptBurst int
	Now         func() time.Time
}

// Mediator runs the permission decision chain: privileged actor, self
// origin (write only), stored grant, then an interactive prompt.
type Mediator struct {
	origins OriginResolver
	grants  GrantStore
	consent consent.Consent
	logger  *zap.Logger
	metrics *metrics.GatewayMetrics
	now     func() time.Time

	rate     rate.Limit
	burst    int
	idle     time.Duration
	mu       sync.Mutex
	limiters map[string]*originLimiter
	swept    time.Time
}

type originLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMediator creates a new permission mediator
func NewMediator(origins OriginResolver, grants GrantStore, c consent.Consent, opts Options, logger *zap.Logger, m *metrics.GatewayMetrics) *Mediator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PromptBurst <= 0 {
		opts.PromptBurst = DefaultPromptBurst
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Mediator{
		origins:  origins,
		grants:   grants,
		consent:  c,
		logger:   logger,
		metrics:  m,
		now:      opts.Now,
		rate:     opts.PromptRate,
		burst:    opts.PromptBurst,
		idle:     refillTime(opts.PromptRate, opts.PromptBurst),
		limiters: make(map[string]*originLimiter),
		swept:    opts.Now(),
	}
}

// Assert allows or denies kind on d for actor. Denials are UserDenied.
// The prompt may block indefinitely; callers pause their deadline.
func (m *Mediator) Assert(ctx context.Context, actor types.Actor, kind types.ActionKind, d drive.Drive) error {
	if actor.Privileged {
		m.metrics.ObserveDecision(string(kind), "privileged", true)
		return nil
	}

	key := types.GrantKey{Action: kind, Drive: d.Key()}

	if kind == types.ActionWrite && !actor.Unverified && m.isSelf(ctx, actor.Origin, key.Drive) {
		m.metrics.ObserveDecision(string(kind), "self", true)
		return nil
	}

	allowed, found, err := m.grants.QueryPermission(ctx, actor.Origin, key)
	if err != nil {
		return err
	}
	if found && allowed {
		m.metrics.ObserveDecision(string(kind), "grant", true)
		return nil
	}

	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	if !m.allowPrompt(actor.Origin) {
		m.metrics.ObserveThrottled()
		m.metrics.ObserveDecision(string(kind), "throttled", false)
		m.logger.Warn("Permission prompt throttled",
			zap.String("origin", actor.Origin),
			zap.String("resource", key.String()))
		return errs.UserDenied("too many permission requests from %s", actor.Origin)
	}

	manifest := d.Manifest()
	m.metrics.ObservePrompt()
	m.logger.Info("Requesting permission",
		zap.String("origin", actor.Origin),
		zap.String("resource", key.String()))

	ok, err := m.consent.RequestPermission(ctx, consent.PromptRequest{
		Origin:      actor.Origin,
		Action:      kind,
		Drive:       key.Drive,
		URL:         key.Drive.URL(),
		Title:       manifest.Title,
		Description: manifest.Description,
	})
	if errors.Is(err, consent.ErrDismissed) {
		m.metrics.ObserveDecision(string(kind), "prompt", false)
		m.logger.Warn("Permission prompt dismissed",
			zap.String("origin", actor.Origin),
			zap.String("resource", key.String()))
		return errs.UserDenied("permission request for %s was dismissed", key)
	}
	if err != nil {
		return err
	}
	if !ok {
		m.metrics.ObserveDecision(string(kind), "prompt", false)
		m.logger.Warn("Permission denied by user",
			zap.String("origin", actor.Origin),
			zap.String("resource", key.String()))
		return errs.UserDenied("user denied %s permission on %s", kind, key.Drive.URL())
	}

	m.metrics.ObserveDecision(string(kind), "prompt", true)
	grant := types.Grant{Origin: actor.Origin, Key: key, Allowed: true, GrantedAt: m.now()}
	if err := m.grants.PutPermission(ctx, grant); err != nil {
		m.logger.Error("Failed to store grant",
			zap.String("origin", actor.Origin),
			zap.String("resource", key.String()),
			zap.Error(err))
	}
	return nil
}

func (m *Mediator) isSelf(ctx context.Context, origin string, target types.DriveKey) bool {
	if m.origins == nil || origin == "" {
		return false
	}
	key, err := m.origins.KeyOf(ctx, origin)
	if err != nil {
		return false
	}
	return key == target
}

// allowPrompt takes a token from origin's bucket. Buckets idle long enough
// to have refilled are equivalent to new ones and are dropped.
func (m *Mediator) allowPrompt(origin string) bool {
	if m.rate <= 0 || m.rate == rate.Inf {
		return true
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if now.Sub(m.swept) >= m.idle {
		for o, l := range m.limiters {
			if now.Sub(l.lastSeen) >= m.idle {
				delete(m.limiters, o)
			}
		}
		m.swept = now
	}

	l, ok := m.limiters[origin]
	if !ok {
		l = &originLimiter{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.limiters[origin] = l
	}
	l.lastSeen = now
	return l.limiter.AllowN(now, 1)
}

// refillTime is how long an empty bucket takes to fill up again.
func refillTime(r rate.Limit, burst int) time.Duration {
	if r <= 0 || r == rate.Inf {
		return 0
	}
	secs := float64(burst) / float64(r)
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// RequirePrivileged fails with Permissions unless actor is privileged.
func RequirePrivileged(actor types.Actor, operation string) error {
	if actor.Privileged {
		return nil
	}
	return errs.Permissions("%s is only available to the host application", operation)
}
