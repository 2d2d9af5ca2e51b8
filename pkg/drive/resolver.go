package drive

import (
	"context"

	"go.uber.org/zap"

	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

// Target is a resolved operation target.
type Target struct {
	URL      *URL
	Drive    Drive
	Checkout Checkout
	// Historic is true exactly when a version was requested.
	Historic bool
	Version  *types.Version
	Path     string
}

// Key is shorthand for t.Drive.Key().
func (t *Target) Key() types.DriveKey {
	return t.Drive.Key()
}

// Resolver turns drive identifiers into checkouts.
type Resolver struct {
	engine Engine
	names  NameResolver
	logger *zap.Logger
}

// NewResolver creates a resolver. names may be nil, in which case only raw
// keys resolve.
func NewResolver(engine Engine, names NameResolver, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{engine: engine, names: names, logger: logger}
}

// Engine returns the underlying storage engine.
func (r *Resolver) Engine() Engine {
	return r.engine
}

// KeyOf returns the drive key an identifier refers to without loading it.
func (r *Resolver) KeyOf(ctx context.Context, identifier string) (types.DriveKey, error) {
	u, err := ParseURL(identifier)
	if err != nil {
		return types.DriveKey{}, err
	}
	return r.keyOf(ctx, u)
}

func (r *Resolver) keyOf(ctx context.Context, u *URL) (types.DriveKey, error) {
	if u.IsKey() {
		return u.Key, nil
	}
	if r.names == nil {
		return types.DriveKey{}, errs.InvalidURL("cannot resolve name %q", u.Host)
	}
	key, err := r.names.ResolveName(ctx, u.Host)
	if err != nil {
		if errs.Is(err, errs.CodeInvalidURL) {
			return types.DriveKey{}, err
		}
		return types.DriveKey{}, errs.InvalidURL("cannot resolve name %q: %v", u.Host, err)
	}
	return key, nil
}

// Resolve loads the drive named by identifier and checks out the requested
// version. An explicit version overrides a +version suffix in the URL.
func (r *Resolver) Resolve(ctx context.Context, actor types.Actor, identifier string, version *types.Version) (*Target, error) {
	u, err := ParseURL(identifier)
	if err != nil {
		return nil, err
	}

	key, err := r.keyOf(ctx, u)
	if err != nil {
		return nil, err
	}
	u.Key = key

	if version == nil {
		version = u.Version
	}

	d, ok := r.engine.GetDrive(key)
	if !ok {
		r.logger.Debug("Loading drive",
			zap.String("key", key.String()),
			zap.String("origin", actor.Origin))
		d, err = r.engine.LoadDrive(ctx, key)
		if err != nil {
			r.logger.Warn("Failed to load drive", zap.String("key", key.String()), zap.Error(err))
			return nil, err
		}
	}

	checkout, historic, err := r.engine.GetCheckout(ctx, d, version)
	if err != nil {
		return nil, err
	}

	return &Target{
		URL:      u,
		Drive:    d,
		Checkout: checkout,
		Historic: historic,
		Version:  version,
		Path:     u.Path,
	}, nil
}

// ResolveAll resolves every identifier in order.
func (r *Resolver) ResolveAll(ctx context.Context, actor types.Actor, identifiers []string) ([]*Target, error) {
	targets := make([]*Target, 0, len(identifiers))
	for _, id := range identifiers {
		t, err := r.Resolve(ctx, actor, id, nil)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}
