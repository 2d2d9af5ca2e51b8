// Package memdrive is an in-memory drive engine: versioned copy-on-write
// trees, mounts, metadata, diff/merge, watch and a simulated network.
package memdrive

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"drivegate/pkg/drive"
	"drivegate/pkg/types"
)

// ErrDriveNotFound is returned by LoadDrive for keys no peer serves.
var ErrDriveNotFound = errors.New("drive not found on the network")

// Options configures an Engine.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
	// LoadHook runs before each network load; tests use it to simulate
	// slow peers.
	LoadHook func(ctx context.Context, key types.DriveKey) error
}

// Engine implements drive.Engine in memory.
type Engine struct {
	logger   *zap.Logger
	clock    func() time.Time
	loadHook func(ctx context.Context, key types.DriveKey) error

	mu      sync.RWMutex
	loaded  map[types.DriveKey]*Drive
	network map[types.DriveKey]*Drive // reachable but not yet loaded

	loads atomic.Int64
	group singleflight.Group

	subMu sync.Mutex
	subs  map[chan types.NetworkEvent]struct{}
}

var _ drive.Engine = (*Engine)(nil)

// New creates an empty engine
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		logger:   opts.Logger,
		clock:    opts.Now,
		loadHook: opts.LoadHook,
		loaded:   make(map[types.DriveKey]*Drive),
		network:  make(map[types.DriveKey]*Drive),
		subs:     make(map[chan types.NetworkEvent]struct{}),
	}
}

func (e *Engine) newDrive(key types.DriveKey, writable bool) *Drive {
	return &Drive{
		engine:   e,
		key:      key,
		writable: writable,
		versions: []tree{newTree(e.clock())},
		watchers: make(map[*watcher]struct{}),
	}
}

func newKey() (types.DriveKey, error) {
	var key types.DriveKey
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("failed to generate drive key: %w", err)
	}
	return key, nil
}

// Loads returns how many network loads have completed.
func (e *Engine) Loads() int64 {
	return e.loads.Load()
}

func (e *Engine) GetDrive(key types.DriveKey) (drive.Drive, bool) {
	d, ok := e.lookup(key)
	if !ok {
		return nil, false
	}
	return d, true
}

func (e *Engine) lookup(key types.DriveKey) (*Drive, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	d, ok := e.loaded[key]
	return d, ok
}

// LoadDrive fetches a drive from the network. Concurrent loads of the same
// key share one fetch.
func (e *Engine) LoadDrive(ctx context.Context, key types.DriveKey) (drive.Drive, error) {
	if d, ok := e.lookup(key); ok {
		return d, nil
	}

	v, err, _ := e.group.Do(key.String(), func() (any, error) {
		if d, ok := e.lookup(key); ok {
			return d, nil
		}
		if e.loadHook != nil {
			if err := e.loadHook(ctx, key); err != nil {
				return nil, err
			}
		}

		e.mu.Lock()
		defer e.mu.Unlock()
		d, ok := e.network[key]
		if !ok {
			return nil, fmt.Errorf("load %s: %w", key, ErrDriveNotFound)
		}
		delete(e.network, key)
		e.loaded[key] = d
		e.loads.Add(1)
		e.logger.Debug("Loaded drive", zap.String("key", key.String()))
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Drive), nil
}

func (e *Engine) GetCheckout(_ context.Context, d drive.Drive, version *types.Version) (drive.Checkout, bool, error) {
	md, err := e.own(d)
	if err != nil {
		return nil, false, err
	}
	if version == nil {
		return &Checkout{drive: md}, false, nil
	}
	if _, ok := md.at(*version); !ok {
		return nil, false, fmt.Errorf("drive %s has no version %d (latest %d)", md.key, *version, md.Version())
	}
	v := *version
	return &Checkout{drive: md, version: &v}, true, nil
}

func (e *Engine) own(d drive.Drive) (*Drive, error) {
	md, ok := d.(*Drive)
	if !ok || md.engine != e {
		return nil, fmt.Errorf("drive %s does not belong to this engine", d.Key())
	}
	return md, nil
}

// CreateDrive creates a writable drive whose first version holds manifest.
func (e *Engine) CreateDrive(ctx context.Context, manifest types.Manifest) (drive.Drive, error) {
	key, err := newKey()
	if err != nil {
		return nil, err
	}
	d := e.newDrive(key, true)
	if err := (&Checkout{drive: d}).UpdateManifest(ctx, manifest); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.loaded[key] = d
	e.mu.Unlock()

	e.logger.Info("Created drive", zap.String("key", key.String()), zap.String("title", manifest.Title))
	return d, nil
}

// ForkDrive creates a writable copy of the latest version of key.
func (e *Engine) ForkDrive(ctx context.Context, key types.DriveKey, opts drive.ForkOptions) (drive.Drive, error) {
	src, err := e.LoadDrive(ctx, key)
	if err != nil {
		return nil, err
	}
	srcTree := src.(*Drive).latest()

	forkKey, err := newKey()
	if err != nil {
		return nil, err
	}
	fork := e.newDrive(forkKey, true)
	fork.versions = append(fork.versions, srcTree.clone())

	manifest := manifestOf(srcTree)
	if opts.Title != "" {
		manifest.Title = opts.Title
	}
	if opts.Description != "" {
		manifest.Description = opts.Description
	}
	if err := (&Checkout{drive: fork}).UpdateManifest(ctx, manifest); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.loaded[forkKey] = fork
	e.mu.Unlock()

	e.logger.Info("Forked drive", zap.String("source", key.String()), zap.String("key", forkKey.String()))
	return fork, nil
}

// AddRemote makes a read-only drive reachable over the simulated network.
// It is not loaded until LoadDrive is called.
func (e *Engine) AddRemote(manifest types.Manifest, files map[string][]byte) (types.DriveKey, error) {
	key, err := newKey()
	if err != nil {
		return key, err
	}
	d := e.newDrive(key, true)
	c := &Checkout{drive: d}
	if err := c.UpdateManifest(context.Background(), manifest); err != nil {
		return key, err
	}
	if err := c.seed(files); err != nil {
		return key, err
	}
	d.writable = false

	e.mu.Lock()
	e.network[key] = d
	e.mu.Unlock()
	return key, nil
}

// SetPeers changes the simulated peer count of a loaded drive.
func (e *Engine) SetPeers(key types.DriveKey, peers int) {
	d, ok := e.lookup(key)
	if !ok {
		return
	}
	d.mu.Lock()
	old := d.peers
	d.peers = peers
	d.mu.Unlock()

	kind := types.NetworkPeerAdd
	if peers < old {
		kind = types.NetworkPeerRemove
	}
	e.publish(types.NetworkEvent{Drive: key, Kind: kind, Peers: peers})
}

func (e *Engine) NetworkActivity(ctx context.Context) (<-chan types.NetworkEvent, error) {
	ch := make(chan types.NetworkEvent, 64)
	e.subMu.Lock()
	e.subs[ch] = struct{}{}
	e.subMu.Unlock()

	go func() {
		<-ctx.Done()
		e.subMu.Lock()
		delete(e.subs, ch)
		e.subMu.Unlock()
		close(ch)
	}()
	return ch, nil
}

func (e *Engine) publish(ev types.NetworkEvent) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
