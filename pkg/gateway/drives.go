package gateway

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"drivegate/pkg/consent"
	"drivegate/pkg/deadline"
	"drivegate/pkg/drive"
	"drivegate/pkg/errs"
	"drivegate/pkg/permission"
	"drivegate/pkg/types"
)

// CreateDrive creates a new writable drive and returns its URL. The
// privileged actor creates directly; anyone else goes through the consent
// creation flow, with the deadline paused.
func (g *Gateway) CreateDrive(ctx context.Context, actor types.Actor, opts CreateOptions) (string, error) {
	return run(ctx, g, call{actor: actor, action: "createDrive", target: opts.Title, timeout: opts.Timeout},
		func(ctx context.Context) (string, error) {
			manifest := types.Manifest{
				Title:       opts.Title,
				Description: opts.Description,
				Type:        opts.Type,
				Author:      opts.Author,
				Links:       opts.Links,
			}

			if actor.Privileged {
				if err := step(ctx, "create drive"); err != nil {
					return "", err
				}
				d, err := g.engine.CreateDrive(ctx, manifest)
				if err != nil {
					return "", err
				}
				g.recordSettings(ctx, d.Key(), drive.DriveConfig{Seeding: true})
				g.logger.Info("Created drive", zap.String("url", d.Key().URL()), zap.String("title", opts.Title))
				return d.Key().URL(), nil
			}

			if err := step(ctx, "create drive modal"); err != nil {
				return "", err
			}
			dl := deadline.FromContext(ctx)
			dl.Pause()
			res, err := g.consent.CreateModal(ctx, consent.ModalRequest{
				Origin: actor.Origin,
				Kind:   consent.ModalCreateDrive,
				Fields: map[string]string{
					"title":       opts.Title,
					"description": opts.Description,
					"author":      opts.Author,
				},
			})
			dl.Resume()
			if errors.Is(err, consent.ErrDismissed) {
				return "", errs.UserDenied("drive creation was dismissed")
			}
			if err != nil {
				return "", err
			}

			t, err := g.resolve(ctx, actor, res.URL, nil)
			if err != nil {
				return "", err
			}
			return t.Key().URL(), nil
		})
}

// ForkDrive copies the latest version of a drive into a new writable drive
// and returns its URL. Non-privileged actors need a create grant on the
// source drive.
func (g *Gateway) ForkDrive(ctx context.Context, actor types.Actor, url string, opts ForkOptions) (string, error) {
	return run(ctx, g, call{actor: actor, action: "forkDrive", target: url, timeout: opts.Timeout},
		func(ctx context.Context) (string, error) {
			src, err := g.resolve(ctx, actor, url, nil)
			if err != nil {
				return "", err
			}
			if err := g.authorize(ctx, actor, types.ActionCreate, src.Drive); err != nil {
				return "", err
			}

			if err := step(ctx, "fork drive"); err != nil {
				return "", err
			}
			d, err := g.engine.ForkDrive(ctx, src.Key(), drive.ForkOptions{
				Title:       opts.Title,
				Description: opts.Description,
				Detached:    opts.Detached,
			})
			if err != nil {
				return "", err
			}

			settings := drive.DriveConfig{Seeding: true}
			if !opts.Detached {
				settings.ForkOf = src.Key().URL()
			}
			g.recordSettings(ctx, d.Key(), settings)
			g.logger.Info("Forked drive",
				zap.String("source", src.Key().URL()),
				zap.String("url", d.Key().URL()),
				zap.String("origin", actor.Origin))
			return d.Key().URL(), nil
		})
}

// LoadDrive makes sure the drive is loaded and returns its canonical URL.
func (g *Gateway) LoadDrive(ctx context.Context, actor types.Actor, url string, opts OpOptions) (string, error) {
	return run(ctx, g, call{actor: actor, action: "loadDrive", target: url, timeout: opts.Timeout},
		func(ctx context.Context) (string, error) {
			t, err := g.resolve(ctx, actor, url, nil)
			if err != nil {
				return "", err
			}
			return t.Key().URL(), nil
		})
}

// GetInfo describes a drive. Non-privileged actors only see the public
// fields.
func (g *Gateway) GetInfo(ctx context.Context, actor types.Actor, url string, opts InfoOptions) (*types.DriveInfo, error) {
	return run(ctx, g, call{actor: actor, action: "getInfo", target: url, timeout: opts.Timeout},
		func(ctx context.Context) (*types.DriveInfo, error) {
			t, err := g.resolve(ctx, actor, url, opts.Version)
			if err != nil {
				return nil, err
			}

			manifest := t.Drive.Manifest()
			info := &types.DriveInfo{
				Key:         t.Key().String(),
				URL:         t.Key().URL(),
				Writable:    t.Drive.Writable() && !t.Historic,
				Version:     t.Checkout.Version(),
				Peers:       t.Drive.Peers(),
				Title:       manifest.Title,
				Description: manifest.Description,
			}
			if !actor.Privileged {
				return info, nil
			}

			cfg, _, err := g.configs.GetDriveConfig(ctx, t.Key())
			if err != nil {
				return nil, err
			}
			info.Type = manifest.Type
			info.Author = manifest.Author
			info.Size = t.Drive.Size()
			info.Manifest = &manifest
			info.Seeding = cfg.Seeding
			info.ForkOf = cfg.ForkOf
			return info, nil
		})
}

// Configure updates manifest fields and drive settings. The manifest can
// only change on a writable live checkout.
func (g *Gateway) Configure(ctx context.Context, actor types.Actor, url string, settings Settings, opts ConfigureOptions) error {
	_, err := run(ctx, g, call{actor: actor, action: "configure", target: url, timeout: opts.Timeout},
		func(ctx context.Context) (struct{}, error) {
			t, err := g.resolve(ctx, actor, url, nil)
			if err != nil {
				return struct{}{}, err
			}
			if settings.BytesAllowed != nil {
				if err := permission.RequirePrivileged(actor, "setting the byte allowance"); err != nil {
					return struct{}{}, err
				}
			}
			if settings.touchesManifest() {
				if err := assertMutable(t); err != nil {
					return struct{}{}, err
				}
			}
			if err := g.authorize(ctx, actor, types.ActionWrite, t.Drive); err != nil {
				return struct{}{}, err
			}

			if settings.touchesManifest() {
				if err := step(ctx, "update manifest"); err != nil {
					return struct{}{}, err
				}
				manifest := applySettings(t.Drive.Manifest(), settings)
				if err := t.Checkout.UpdateManifest(ctx, manifest); err != nil {
					return struct{}{}, err
				}
			}

			if settings.Seeding != nil || settings.BytesAllowed != nil {
				if err := step(ctx, "store settings"); err != nil {
					return struct{}{}, err
				}
				cfg, _, err := g.configs.GetDriveConfig(ctx, t.Key())
				if err != nil {
					return struct{}{}, err
				}
				if settings.Seeding != nil {
					cfg.Seeding = *settings.Seeding
				}
				if settings.BytesAllowed != nil {
					cfg.BytesAllowed = *settings.BytesAllowed
				}
				if err := g.configs.ConfigDrive(ctx, t.Key(), cfg); err != nil {
					return struct{}{}, fmt.Errorf("failed to store drive settings: %w", err)
				}
			}
			return struct{}{}, nil
		})
	return err
}

func applySettings(m types.Manifest, s Settings) types.Manifest {
	if s.Title != nil {
		m.Title = *s.Title
	}
	if s.Description != nil {
		m.Description = *s.Description
	}
	if s.Type != nil {
		m.Type = s.Type
	}
	if s.Author != nil {
		m.Author = *s.Author
	}
	if s.Links != nil {
		m.Links = s.Links
	}
	if s.WebRoot != nil {
		m.WebRoot = *s.WebRoot
	}
	if s.FallbackPage != nil {
		m.FallbackPage = *s.FallbackPage
	}
	if len(s.Extra) > 0 {
		extra := make(map[string]any, len(m.Extra)+len(s.Extra))
		for k, v := range m.Extra {
			extra[k] = v
		}
		for k, v := range s.Extra {
			extra[k] = v
		}
		m.Extra = extra
	}
	return m
}

// recordSettings stores settings for a drive this gateway just created.
// Failures are logged.
func (g *Gateway) recordSettings(ctx context.Context, key types.DriveKey, cfg drive.DriveConfig) {
	if err := g.configs.ConfigDrive(ctx, key, cfg); err != nil {
		g.logger.Error("Failed to store drive settings", zap.String("url", key.URL()), zap.Error(err))
	}
}
