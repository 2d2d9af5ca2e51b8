package memdrive

import (
	"context"
	"encoding/json"
	"path"
	"strings"
	"sync"

	"drivegate/pkg/errs"
	"drivegate/pkg/paths"
	"drivegate/pkg/types"
)

// Drive is an in-memory versioned drive. versions[v] is the tree at
// version v; version 0 is the empty root.
type Drive struct {
	engine   *Engine
	key      types.DriveKey
	writable bool

	mu       sync.RWMutex
	versions []tree
	peers    int
	watchers map[*watcher]struct{}
}

type watcher struct {
	pattern string
	ch      chan types.Event
}

func (d *Drive) Key() types.DriveKey { return d.key }
func (d *Drive) Writable() bool      { return d.writable }

func (d *Drive) Version() types.Version {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return types.Version(len(d.versions) - 1)
}

func (d *Drive) Peers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.peers
}

func (d *Drive) Size() int64 {
	return d.latest().size()
}

// Manifest parses /index.json at the latest version. A missing or invalid
// manifest reads as empty.
func (d *Drive) Manifest() types.Manifest {
	return manifestOf(d.latest())
}

func manifestOf(t tree) types.Manifest {
	var m types.Manifest
	if nd, ok := t[types.ManifestPath]; ok && nd.stat.Type == types.EntryFile {
		_ = json.Unmarshal(nd.data, &m)
	}
	return m
}

func (d *Drive) latest() tree {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.versions[len(d.versions)-1]
}

func (d *Drive) at(v types.Version) (tree, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if uint64(v) >= uint64(len(d.versions)) {
		return nil, false
	}
	return d.versions[v], true
}

// commit applies fn to a copy of the latest tree and records the result as
// a new version. fn returns the paths it changed.
func (d *Drive) commit(fn func(t tree) ([]string, error)) error {
	if !d.writable {
		return errs.ArchiveNotWritable("drive %s is not writable", d.key.URL())
	}

	d.mu.Lock()
	next := d.versions[len(d.versions)-1].clone()
	changed, err := fn(next)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.versions = append(d.versions, next)
	version := types.Version(len(d.versions) - 1)
	// Sends are non-blocking; holding mu keeps watch from closing a channel mid-send.
	for _, p := range changed {
		for w := range d.watchers {
			if matchPattern(w.pattern, p) {
				select {
				case w.ch <- types.Event{Drive: d.key, Path: p, Version: version}:
				default:
				}
			}
		}
	}
	peers := d.peers
	d.mu.Unlock()

	if d.engine != nil {
		d.engine.publish(types.NetworkEvent{Drive: d.key, Kind: types.NetworkUpdate, Peers: peers})
	}
	return nil
}

func (d *Drive) watch(ctx context.Context, pattern string) <-chan types.Event {
	w := &watcher{pattern: pattern, ch: make(chan types.Event, 64)}
	d.mu.Lock()
	d.watchers[w] = struct{}{}
	d.mu.Unlock()

	go func() {
		<-ctx.Done()
		d.mu.Lock()
		delete(d.watchers, w)
		d.mu.Unlock()
		close(w.ch)
	}()
	return w.ch
}

// matchPattern matches p against a glob. An empty pattern or "/**" matches
// everything; a trailing "/**" matches a subtree.
func matchPattern(pattern, p string) bool {
	if pattern == "" || pattern == "/**" {
		return true
	}
	if dir, ok := strings.CutSuffix(pattern, "/**"); ok {
		return paths.IsWithin(p, dir)
	}
	ok, err := path.Match(pattern, p)
	return err == nil && ok
}
